package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/sniffer/internal/csvlog"
	"github.com/ppiankov/sniffer/internal/event"
	"github.com/ppiankov/sniffer/internal/logging"
	"github.com/ppiankov/sniffer/internal/queue"
)

// DefaultGrace is how long Shutdown waits for the writer before closing the
// log file underneath it.
const DefaultGrace = 1000 * time.Millisecond

// DefaultLogFile is the destination when none is configured.
const DefaultLogFile = "./sniffer.log"

// Sink is the destination the writer goroutine owns. Write and Close are
// only called from the writer goroutine; Abort may be called concurrently.
type Sink interface {
	Write(e event.Event) error
	Close() error
	Abort()
}

// Opener creates the sink at startup.
type Opener func(path string) (Sink, error)

// Config holds broker settings. Zero fields take defaults.
type Config struct {
	LogFile  string
	Capacity int
	Grace    time.Duration
	// Sync fsyncs after every row.
	Sync bool
	// Location formats row timestamps. Nil means time.Local.
	Location *time.Location
	// Open overrides how the sink is created. Nil writes a CSV file.
	Open Opener
}

// Stats is a snapshot of the hand-off queue counters. Written counts rows
// the sink accepted.
type Stats struct {
	Accepted uint64
	Dropped  uint64
	Written  uint64
	Pending  int
}

// flushPoll is how often Flush re-checks the counters.
const flushPoll = time.Millisecond

// Broker owns the hand-off queue and the single writer goroutine.
// Submit is safe for any number of goroutines and never blocks.
type Broker struct {
	cfg    Config
	queue  *queue.Queue
	logger *zap.Logger

	state atomic.Int32

	// mu serializes lifecycle transitions.
	mu       sync.Mutex
	sink     Sink
	cancel   context.CancelFunc
	done     chan struct{} // closed when the writer goroutine exits
	stopped  chan struct{} // closed on entering Stopped
	graceful bool
	aborted  atomic.Bool
	written  atomic.Uint64

	errMu sync.Mutex
	err   error
}

// New creates a broker in the Uninitialized state. The queue is allocated
// here so its capacity is fixed before any producer runs.
func New(cfg Config, logger *zap.Logger) *Broker {
	if cfg.LogFile == "" {
		cfg.LogFile = DefaultLogFile
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = queue.DefaultCapacity
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Open == nil {
		opts := csvlog.Options{Sync: cfg.Sync, Location: cfg.Location}
		cfg.Open = func(path string) (Sink, error) {
			return csvlog.Create(path, opts)
		}
	}

	return &Broker{
		cfg:     cfg,
		queue:   queue.New(cfg.Capacity),
		logger:  logging.OrNop(logger).Named("broker"),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start opens the log file, starts the writer goroutine and arms the exit
// hook: when ctx is done, Shutdown runs. Calling Start on a broker that has
// already left Uninitialized does nothing and returns nil.
//
// If the file cannot be opened the broker goes straight to Stopped and every
// later Submit is dropped; the error is returned for reporting only.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.State() != Uninitialized {
		return nil
	}

	sink, err := b.cfg.Open(b.cfg.LogFile)
	if err != nil {
		b.setErr(err)
		b.logger.Error("cannot open log file; events will be dropped",
			zap.String("path", b.cfg.LogFile), zap.Error(err))
		b.state.Store(int32(Stopped))
		b.graceful = true
		close(b.done)
		close(b.stopped)
		return fmt.Errorf("broker: start: %w", err)
	}

	writerCtx, cancel := context.WithCancel(context.Background())
	b.sink = sink
	b.cancel = cancel
	go b.run(writerCtx, sink)

	b.state.Store(int32(Running))
	b.logger.Info("writer started",
		zap.String("path", b.cfg.LogFile),
		zap.Int("capacity", b.cfg.Capacity),
		zap.Duration("grace", b.cfg.Grace))

	if ctx != nil && ctx.Done() != nil {
		go b.awaitExit(ctx)
	}
	return nil
}

func (b *Broker) awaitExit(ctx context.Context) {
	select {
	case <-ctx.Done():
		b.Shutdown()
	case <-b.stopped:
	}
}

// Submit records one invocation. The event is dropped, silently, when the
// queue is full or the broker is not Running.
func (b *Broker) Submit(caller event.Caller, class, method string, begin, end time.Time) {
	if b.State() != Running {
		b.queue.Discard()
		return
	}
	b.queue.Offer(event.New(caller, class, method, begin, end))
}

// Shutdown stops the writer. Events still queued are discarded, not
// drained; call Flush first to wait for them. Shutdown waits up to the grace
// period for the current row and the file close; after that the file is
// closed underneath the writer and Shutdown returns false. Every call
// returns the outcome of the first.
func (b *Broker) Shutdown() bool {
	b.mu.Lock()
	switch b.State() {
	case Uninitialized:
		b.state.Store(int32(Stopped))
		b.graceful = true
		close(b.done)
		close(b.stopped)
		b.mu.Unlock()
		return true
	case Running:
		b.state.Store(int32(ShuttingDown))
		b.mu.Unlock()
		return b.stop()
	default:
		b.mu.Unlock()
		<-b.stopped
		return b.graceful
	}
}

func (b *Broker) stop() bool {
	b.cancel()

	timer := time.NewTimer(b.cfg.Grace)
	defer timer.Stop()

	select {
	case <-b.done:
		b.graceful = true
		b.logger.Info("writer stopped", zap.Uint64("dropped", b.queue.Dropped()))
	case <-timer.C:
		b.aborted.Store(true)
		b.sink.Abort()
		b.logger.Warn("writer did not stop within grace period; log file closed",
			zap.Duration("grace", b.cfg.Grace))
	}

	b.state.Store(int32(Stopped))
	close(b.stopped)
	return b.graceful
}

// Flush waits until every accepted event has been written or ctx is done.
// It does not stop the writer and does not block producers.
func (b *Broker) Flush(ctx context.Context) error {
	ticker := time.NewTicker(flushPoll)
	defer ticker.Stop()

	for {
		if b.written.Load() >= b.queue.Accepted() {
			return nil
		}
		select {
		case <-b.done:
			if b.written.Load() >= b.queue.Accepted() {
				return nil
			}
			return fmt.Errorf("broker: flush: writer stopped with %d events unwritten",
				b.queue.Accepted()-b.written.Load())
		case <-ctx.Done():
			return fmt.Errorf("broker: flush: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// State returns the current lifecycle phase.
func (b *Broker) State() State {
	return State(b.state.Load())
}

// Done is closed once the broker reaches Stopped.
func (b *Broker) Done() <-chan struct{} {
	return b.stopped
}

// Err returns the error that ended the writer, if any.
func (b *Broker) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// Stats returns the queue counters.
func (b *Broker) Stats() Stats {
	return Stats{
		Accepted: b.queue.Accepted(),
		Dropped:  b.queue.Dropped(),
		Written:  b.written.Load(),
		Pending:  b.queue.Len(),
	}
}

// LogFile is the destination path.
func (b *Broker) LogFile() string {
	return b.cfg.LogFile
}

func (b *Broker) setErr(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.err == nil {
		b.err = err
	}
}
