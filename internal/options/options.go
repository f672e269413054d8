package options

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/sniffer/internal/broker"
	"github.com/ppiankov/sniffer/internal/queue"
)

var (
	// ErrUnknownOption is returned for keys sniffer does not recognize.
	ErrUnknownOption = errors.New("unknown option")
	// ErrInvalidValue is returned for empty or malformed values.
	ErrInvalidValue = errors.New("invalid option")
)

// Options is the full agent configuration. Zero values mean "not set";
// Merge and Defaults fill them in.
type Options struct {
	LogFile     string
	Packages    []string
	Filter      string
	Interval    int
	Threshold   int
	Capacity    int
	Grace       time.Duration
	Sync        *bool
	Config      string
	LogLevel    string
	Diagnostics string
}

// Defaults returns the built-in configuration.
func Defaults() Options {
	sync := false
	return Options{
		LogFile:  broker.DefaultLogFile,
		Capacity: queue.DefaultCapacity,
		Grace:    broker.DefaultGrace,
		Sync:     &sync,
		LogLevel: "info",
	}
}

// Keys lists the recognized option names in documentation order.
var Keys = []string{
	"logfile", "packages", "filter", "interval", "threshold",
	"capacity", "grace", "sync", "config", "loglevel", "diagnostics",
}

// Set applies a single name=value pair. Names are case-insensitive.
// Repeated packages values accumulate; a class must satisfy all of them.
func Set(o *Options, name, value string) error {
	key := strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	if !known(key) {
		return fmt.Errorf("%s: %w", name, ErrUnknownOption)
	}
	if value == "" {
		return fmt.Errorf("%s: %w", name, ErrInvalidValue)
	}

	switch key {
	case "logfile":
		o.LogFile = value
	case "packages":
		o.Packages = append(o.Packages, value)
	case "filter":
		o.Filter = value
	case "interval", "threshold", "capacity":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%s=%q: %w", name, value, ErrInvalidValue)
		}
		switch key {
		case "interval":
			o.Interval = n
		case "threshold":
			o.Threshold = n
		default:
			o.Capacity = n
		}
	case "grace":
		d, err := parseDuration(value)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", name, value, ErrInvalidValue)
		}
		o.Grace = d
	case "sync":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", name, value, ErrInvalidValue)
		}
		o.Sync = &b
	case "config":
		o.Config = value
	case "loglevel":
		o.LogLevel = value
	case "diagnostics":
		o.Diagnostics = value
	}
	return nil
}

// Parse reads an argument string of the form "k1=v1,k2=v2". Commas inside
// quotes or brackets belong to the value, so a filter such as
// method in ["Get","Put"] survives. Bad pairs are reported and skipped; the
// rest still apply.
func Parse(args string) (Options, []error) {
	var o Options
	var errs []error
	for _, pair := range splitPairs(args) {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		if err := Set(&o, name, value); err != nil {
			errs = append(errs, err)
		}
	}
	return o, errs
}

// splitPairs splits args on top-level commas. A backslash escapes the next
// byte inside a quoted string.
func splitPairs(args string) []string {
	var (
		pairs []string
		depth int
		quote byte
		start int
	)
	for i := 0; i < len(args); i++ {
		c := args[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				pairs = append(pairs, args[start:i])
				start = i + 1
			}
		}
	}
	return append(pairs, args[start:])
}

// Merge overlays every field set in override onto base.
func Merge(base, override Options) Options {
	out := base
	if override.LogFile != "" {
		out.LogFile = override.LogFile
	}
	if len(override.Packages) > 0 {
		out.Packages = append([]string(nil), override.Packages...)
	}
	if override.Filter != "" {
		out.Filter = override.Filter
	}
	if override.Interval != 0 {
		out.Interval = override.Interval
	}
	if override.Threshold != 0 {
		out.Threshold = override.Threshold
	}
	if override.Capacity != 0 {
		out.Capacity = override.Capacity
	}
	if override.Grace != 0 {
		out.Grace = override.Grace
	}
	if override.Sync != nil {
		out.Sync = override.Sync
	}
	if override.Config != "" {
		out.Config = override.Config
	}
	if override.LogLevel != "" {
		out.LogLevel = override.LogLevel
	}
	if override.Diagnostics != "" {
		out.Diagnostics = override.Diagnostics
	}
	return out
}

// SyncEnabled reports whether per-row fsync was requested.
func (o Options) SyncEnabled() bool {
	return o.Sync != nil && *o.Sync
}

// String renders o back into argument form, skipping unset fields.
func (o Options) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("logfile", o.LogFile)
	for _, p := range o.Packages {
		add("packages", p)
	}
	add("filter", o.Filter)
	if o.Interval != 0 {
		add("interval", strconv.Itoa(o.Interval))
	}
	if o.Threshold != 0 {
		add("threshold", strconv.Itoa(o.Threshold))
	}
	if o.Capacity != 0 {
		add("capacity", strconv.Itoa(o.Capacity))
	}
	if o.Grace != 0 {
		add("grace", o.Grace.String())
	}
	if o.Sync != nil {
		add("sync", strconv.FormatBool(*o.Sync))
	}
	add("config", o.Config)
	add("loglevel", o.LogLevel)
	add("diagnostics", o.Diagnostics)
	return strings.Join(parts, ",")
}

func known(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// parseDuration accepts Go durations ("2s") or bare milliseconds ("1500").
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("non-positive duration %d", n)
		}
		return time.Duration(n) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("non-positive duration %s", d)
	}
	return d, nil
}
