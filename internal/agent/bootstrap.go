package agent

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ppiankov/sniffer/internal/broker"
	"github.com/ppiankov/sniffer/internal/config"
	"github.com/ppiankov/sniffer/internal/logging"
	"github.com/ppiankov/sniffer/internal/options"
)

// The process-wide agent. At most one is live at a time, so a trace file
// never has two writers.
var (
	procMu  sync.Mutex
	current *Agent
)

// Init starts the process-wide agent from an argument string such as
// "logfile=/tmp/trace.csv,packages=github.com/acme/*". While that agent is
// running, later calls return it and ignore args.
func Init(ctx context.Context, args string) *Agent {
	a, _ := Acquire(ctx, args, options.Options{}, nil)
	return a
}

// Acquire returns the live process-wide agent, or bootstraps one when none
// is running. started reports whether this call created it. Once the
// running agent has been shut down, the next call starts a fresh one.
func Acquire(ctx context.Context, args string, extra options.Options, logger *zap.Logger, opt ...Option) (a *Agent, started bool) {
	procMu.Lock()
	defer procMu.Unlock()

	if current != nil && current.Broker().State() != broker.Stopped {
		current.logger.Debug("agent already initialized; ignoring arguments", zap.String("args", args))
		return current, false
	}
	current = Bootstrap(ctx, args, extra, logger, opt...)
	return current, true
}

func release(a *Agent) {
	procMu.Lock()
	defer procMu.Unlock()
	if current == a {
		current = nil
	}
}

// Bootstrap resolves configuration and starts a new agent outside the
// process-wide slot. Precedence is built-in defaults, then the YAML file
// named by the config key, then args, then extra. A nil logger is built from
// the loglevel and diagnostics keys. Bad keys and an unreadable config file
// are logged and skipped.
func Bootstrap(ctx context.Context, args string, extra options.Options, logger *zap.Logger, opt ...Option) *Agent {
	argOpts, argErrs := options.Parse(args)
	argOpts = options.Merge(argOpts, extra)

	file, fileErr := config.Load(argOpts.Config)
	if fileErr != nil {
		file = &config.File{Path: argOpts.Config}
	}
	opts := options.Merge(options.Merge(options.Defaults(), file.Options), argOpts)

	var logErr error
	if logger == nil {
		logger, logErr = logging.New(logging.Config{Level: opts.LogLevel, File: opts.Diagnostics})
		if logErr != nil {
			logger, _ = logging.New(logging.Config{})
		}
	}

	a := New(ctx, opts, logger, append([]Option{WithArgs(argOpts)}, opt...)...)

	for _, err := range argErrs {
		a.logger.Warn("ignoring agent argument", zap.Error(err))
	}
	if fileErr != nil {
		a.logger.Warn("config file not loaded", zap.String("path", argOpts.Config), zap.Error(fileErr))
	}
	for _, err := range file.Warnings {
		a.logger.Warn("ignoring config key", zap.String("path", file.Path), zap.Error(err))
	}
	if logErr != nil {
		a.logger.Warn("diagnostic logger fell back to defaults", zap.Error(logErr))
	}
	if file.Found {
		a.logger.Debug("config loaded", zap.String("path", file.Path), zap.String("hash", file.Hash))
	}
	return a
}
