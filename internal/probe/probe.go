package probe

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/ppiankov/sniffer/internal/event"
)

// Submitter accepts a finished call. *broker.Broker satisfies it.
type Submitter interface {
	Submit(caller event.Caller, class, method string, begin, end time.Time)
}

// Gate decides whether a class/method is instrumented. A nil Gate allows
// everything.
type Gate interface {
	Allows(class, method string) bool
}

// Probe times calls and hands them to a Submitter.
type Probe struct {
	sink Submitter
	gate Gate
	now  func() time.Time
}

// New returns a probe that submits to sink for calls the gate allows.
func New(sink Submitter, gate Gate) *Probe {
	return &Probe{sink: sink, gate: gate, now: time.Now}
}

// Span is one in-flight call. The zero Span is inert.
type Span struct {
	p      *Probe
	caller event.Caller
	class  string
	method string
	begin  time.Time
}

// Enter starts timing class.method. The begin time is taken after the
// filter check so filtering cost is not charged to the call.
func (p *Probe) Enter(ctx context.Context, class, method string) Span {
	if p == nil || p.sink == nil {
		return Span{}
	}
	if p.gate != nil && !p.gate.Allows(class, method) {
		return Span{}
	}
	return Span{
		p:      p,
		caller: CallerFrom(ctx),
		class:  class,
		method: method,
		begin:  p.now(),
	}
}

// End records the call. Calling End on an inert span does nothing.
func (s Span) End() {
	if s.p == nil {
		return
	}
	s.p.sink.Submit(s.caller, s.class, s.method, s.begin, s.p.now())
}

// Active reports whether the span will be recorded.
func (s Span) Active() bool { return s.p != nil }

type callerNameKey struct{}

// WithCallerName labels calls made under ctx with name instead of the
// default goroutine-<id>.
func WithCallerName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, callerNameKey{}, name)
}

// CallerFrom identifies the calling goroutine.
func CallerFrom(ctx context.Context) event.Caller {
	id := GoroutineID()
	if ctx != nil {
		if name, ok := ctx.Value(callerNameKey{}).(string); ok && name != "" {
			return event.Caller{Name: name, ID: id}
		}
	}
	return event.Caller{Name: fmt.Sprintf("goroutine-%d", id), ID: id}
}

var goroutinePrefix = []byte("goroutine ")

// GoroutineID returns the runtime id of the calling goroutine, parsed from
// the first line of its stack trace ("goroutine 42 [running]:"). Returns 0
// if the format is not recognized.
func GoroutineID() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
