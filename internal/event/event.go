package event

import (
	"strconv"
	"strings"
	"time"
)

// Header is the first line of every sniffer CSV log. Field order and names
// are part of the external format.
const Header = "thread_name,thread_id,class_name,method_name,begin_time,end_time,time_taken"

// TimestampFormat is the layout of begin_time and end_time columns. The
// offset makes rows comparable across DST changes and time zones.
const TimestampFormat = "2006-01-02T15:04:05.000000Z07:00"

// Columns is the number of fields in a row.
const Columns = 7

// Caller identifies the goroutine that ran the observed method.
type Caller struct {
	Name string
	ID   int64
}

// Event is one recorded method invocation. The zero value is not useful;
// construct with New. Fields are unexported so an Event cannot change after
// it has been handed to the queue.
type Event struct {
	caller Caller
	class  string
	method string
	begin  time.Time
	end    time.Time
}

// New builds an Event. An end before begin is clamped to begin so no event
// carries a negative duration.
func New(caller Caller, class, method string, begin, end time.Time) Event {
	if end.Before(begin) {
		end = begin
	}
	return Event{
		caller: caller,
		class:  class,
		method: method,
		begin:  begin,
		end:    end,
	}
}

func (e Event) Caller() Caller { return e.caller }

func (e Event) Class() string { return e.class }

func (e Event) Method() string { return e.method }

func (e Event) Begin() time.Time { return e.begin }

func (e Event) End() time.Time { return e.end }

// Duration returns end minus begin. It is never negative.
func (e Event) Duration() time.Duration { return e.end.Sub(e.begin) }

// Millis returns the duration in whole milliseconds, truncated.
func (e Event) Millis() int64 {
	return e.Duration().Milliseconds()
}

// Row renders the event as one CSV line without the trailing newline.
// Timestamps are formatted in loc; nil means time.Local.
func (e Event) Row(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder
	b.Grow(len(e.caller.Name) + len(e.class) + len(e.method) + 2*len(TimestampFormat) + 32)
	b.WriteString(field(e.caller.Name))
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(e.caller.ID, 10))
	b.WriteByte(',')
	b.WriteString(field(e.class))
	b.WriteByte(',')
	b.WriteString(field(e.method))
	b.WriteByte(',')
	b.WriteString(e.begin.In(loc).Format(TimestampFormat))
	b.WriteByte(',')
	b.WriteString(e.end.In(loc).Format(TimestampFormat))
	b.WriteByte(',')
	b.WriteString(strconv.FormatInt(e.Millis(), 10))
	return b.String()
}

// field keeps a text column inside its cell. Generic type names such as
// Map[string,int] would otherwise add columns.
func field(s string) string {
	if !strings.ContainsAny(s, ",\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ',':
			return ';'
		case '\r', '\n':
			return ' '
		}
		return r
	}, s)
}
