package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/sniffer/internal/broker"
	"github.com/ppiankov/sniffer/internal/config"
	"github.com/ppiankov/sniffer/internal/filter"
	"github.com/ppiankov/sniffer/internal/logging"
	"github.com/ppiankov/sniffer/internal/options"
	"github.com/ppiankov/sniffer/internal/probe"
)

// Agent wires the filter, the broker and the probe for one process.
type Agent struct {
	opts    options.Options
	args    options.Options
	session string
	logger  *zap.Logger

	holder *filter.Holder
	broker *broker.Broker
	probe  *probe.Probe
	opener broker.Opener

	stopReload context.CancelFunc
	reloadDone chan struct{}
	stopOnce   sync.Once
	graceful   bool
}

// Option customizes New.
type Option func(*Agent)

// WithArgs pins agent-argument values so a config reload cannot override
// them.
func WithArgs(args options.Options) Option {
	return func(a *Agent) { a.args = args }
}

// WithOpener replaces how the broker creates its sink.
func WithOpener(open broker.Opener) Option {
	return func(a *Agent) { a.opener = open }
}

// New starts an agent with fully resolved options. The broker is started
// with ctx as its exit hook: cancelling ctx shuts the pipeline down. A
// trace file that cannot be opened is logged and leaves the broker
// dropping events; it does not fail New.
func New(ctx context.Context, opts options.Options, logger *zap.Logger, opt ...Option) *Agent {
	session := uuid.NewString()
	a := &Agent{
		opts:    opts,
		session: session,
		logger:  logging.OrNop(logger).With(zap.String("session", session)),
	}
	for _, o := range opt {
		o(a)
	}

	f, err := filter.New(opts.Packages, opts.Filter)
	if err != nil {
		a.logger.Warn("invalid filter; using default exclusions only", zap.Error(err))
		f, _ = filter.New(nil, "")
	}
	a.holder = filter.NewHolder(f)

	a.broker = broker.New(broker.Config{
		LogFile:  opts.LogFile,
		Capacity: opts.Capacity,
		Grace:    opts.Grace,
		Sync:     opts.SyncEnabled(),
		Open:     a.opener,
	}, a.logger)
	a.probe = probe.New(a.broker, a.holder)

	_ = a.broker.Start(ctx)
	a.startReloader(ctx)

	a.logger.Info("agent started",
		zap.String("logfile", opts.LogFile),
		zap.Strings("packages", opts.Packages),
		zap.String("filter", opts.Filter),
		zap.Int("capacity", opts.Capacity),
		zap.Duration("grace", opts.Grace))
	return a
}

func (a *Agent) startReloader(ctx context.Context) {
	if a.opts.Config == "" {
		return
	}
	r, err := filter.NewReloader(a.opts.Config, a.holder, a.loadFilter, a.logger)
	if err != nil {
		a.logger.Warn("config hot reload disabled", zap.Error(err))
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	a.stopReload = cancel
	a.reloadDone = make(chan struct{})
	go func() {
		defer close(a.reloadDone)
		_ = r.Run(rctx)
	}()
}

// loadFilter re-reads the config file. Values given as agent arguments
// keep precedence over the file.
func (a *Agent) loadFilter() (*filter.Filter, error) {
	file, err := config.Load(a.opts.Config)
	if err != nil {
		return nil, err
	}
	for _, w := range file.Warnings {
		a.logger.Warn("ignoring config key", zap.String("path", file.Path), zap.Error(w))
	}
	src := options.Merge(file.Options, a.args)
	return filter.New(src.Packages, src.Filter)
}

// Flush waits until every event accepted so far is in the trace file, or
// ctx is done.
func (a *Agent) Flush(ctx context.Context) error {
	return a.broker.Flush(ctx)
}

// Shutdown stops the reloader and the broker. Events still queued are
// discarded; call Flush first to keep them. It returns true when the writer
// stopped and closed the trace file within the grace period. Safe to call
// more than once.
func (a *Agent) Shutdown() bool {
	defer release(a)
	a.stopOnce.Do(func() {
		if a.stopReload != nil {
			a.stopReload()
			<-a.reloadDone
		}
		a.graceful = a.broker.Shutdown()
		st := a.broker.Stats()
		a.logger.Info("agent stopped",
			zap.Bool("graceful", a.graceful),
			zap.Uint64("accepted", st.Accepted),
			zap.Uint64("dropped", st.Dropped))
		_ = a.logger.Sync()
	})
	return a.graceful
}

// Broker returns the telemetry broker.
func (a *Agent) Broker() *broker.Broker { return a.broker }

// Filter returns the active filter.
func (a *Agent) Filter() *filter.Filter { return a.holder.Load() }

// Probe returns the probe bound to this agent's broker and filter.
func (a *Agent) Probe() *probe.Probe { return a.probe }

// Session returns the random id assigned to this run.
func (a *Agent) Session() string { return a.session }

// Options returns the resolved options the agent started with.
func (a *Agent) Options() options.Options { return a.opts }

// Logger returns the agent's diagnostic logger.
func (a *Agent) Logger() *zap.Logger { return a.logger }
