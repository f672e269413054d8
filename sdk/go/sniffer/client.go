package sniffer

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ppiankov/sniffer/internal/agent"
	"github.com/ppiankov/sniffer/internal/probe"
)

// Sniffer is a running recorder. Safe for concurrent use.
type Sniffer struct {
	agent *agent.Agent
}

// Stats reports how many calls were queued for writing, how many reached
// the trace file, and how many were dropped because the queue was full or
// the recorder was stopped.
type Stats struct {
	Accepted uint64
	Written  uint64
	Dropped  uint64
}

var (
	liveMu sync.Mutex
	live   *Sniffer
)

// Start begins recording. args uses the agent argument form
// "logfile=trace.csv,packages=github.com/acme/*"; unknown keys are logged and
// ignored. The trace file is truncated.
//
// There is one recorder per process. While it is running, Start returns it
// unchanged and ignores args and opts. After Stop, the next Start creates a
// new one. An error is returned only when the trace file cannot be created.
func Start(ctx context.Context, args string, opts ...Option) (*Sniffer, error) {
	var cfg startConfig
	for _, o := range opts {
		o(&cfg)
	}
	a, started := agent.Acquire(ctx, args, cfg.opts, cfg.logger)
	if err := a.Broker().Err(); started && err != nil {
		a.Shutdown()
		return nil, err
	}

	liveMu.Lock()
	defer liveMu.Unlock()
	if live == nil || live.agent != a {
		live = &Sniffer{agent: a}
	}
	return live, nil
}

// Trace starts timing class.method and returns the function that ends it:
//
//	defer s.Trace(ctx, "github.com/acme/store.DB", "Get")()
func (s *Sniffer) Trace(ctx context.Context, class, method string) func() {
	return s.agent.Probe().Enter(ctx, class, method).End
}

// Named labels calls made under the returned context with name in the
// thread_name column.
func Named(ctx context.Context, name string) context.Context {
	return probe.WithCallerName(ctx, name)
}

// Middleware records each request as class "http.<path>", method "<verb>".
func (s *Sniffer) Middleware(next http.Handler) http.Handler {
	return probe.Middleware(s.agent.Probe(), next)
}

// Flush waits up to timeout for every call traced so far to reach the trace
// file. Recording continues.
func (s *Sniffer) Flush(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.agent.Flush(ctx)
}

// Stop closes the trace file. Calls still queued are discarded; use Flush
// first to keep them. Stop waits at most the configured grace period and
// reports whether the writer stopped within it.
func (s *Sniffer) Stop() bool {
	return s.agent.Shutdown()
}

// Stats returns the current counters.
func (s *Sniffer) Stats() Stats {
	st := s.agent.Broker().Stats()
	return Stats{Accepted: st.Accepted, Written: st.Written, Dropped: st.Dropped}
}

// LogFile returns the trace file path.
func (s *Sniffer) LogFile() string {
	return s.agent.Broker().LogFile()
}
