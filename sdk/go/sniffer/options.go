package sniffer

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/sniffer/internal/options"
)

// Option configures the recorder at Start. Options win over the argument
// string and the config file.
type Option func(*startConfig)

type startConfig struct {
	opts   options.Options
	logger *zap.Logger
}

// WithLogFile sets the CSV trace file path.
func WithLogFile(path string) Option {
	return func(c *startConfig) { c.opts.LogFile = path }
}

// WithPackages restricts recording to classes matching any of the patterns.
// '*' matches anything.
func WithPackages(patterns ...string) Option {
	return func(c *startConfig) {
		if len(patterns) > 0 {
			c.opts.Packages = []string{strings.Join(patterns, ";")}
		}
	}
}

// WithCapacity sets how many finished calls may wait for the writer.
func WithCapacity(n int) Option {
	return func(c *startConfig) { c.opts.Capacity = n }
}

// WithLogger sends diagnostics to logger instead of stderr.
func WithLogger(logger *zap.Logger) Option {
	return func(c *startConfig) { c.logger = logger }
}
