package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sniffer/internal/options"
)

// DefaultPath is where `sniffer init` writes when no path is given.
const DefaultPath = "sniffer.yaml"

// File is the result of loading a YAML config file.
type File struct {
	Path string
	// Found is false when the file does not exist; Options is then empty.
	Found bool
	// Options holds only the keys present in the file, ready for options.Merge.
	Options options.Options
	// Warnings lists keys that were skipped (unknown name or bad value).
	Warnings []error
	// Hash is "sha256:<hex>" over the raw bytes, or over empty input when
	// the file is missing.
	Hash string
}

// Load reads a YAML config file. The keys are the agent argument names.
// A list value for packages is joined into one ';'-separated entry.
// Missing file returns an empty result. Invalid YAML returns an error.
func Load(path string) (*File, error) {
	f := &File{Path: path}
	if path == "" {
		f.Hash = hashOf(nil)
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			f.Hash = hashOf(nil)
			return f, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	f.Found = true
	f.Hash = hashOf(data)

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	// Deterministic order so warnings are stable.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		value, err := scalar(raw[k])
		if err != nil {
			f.Warnings = append(f.Warnings, fmt.Errorf("%s: %w", k, options.ErrInvalidValue))
			continue
		}
		if value == "" {
			// Present but empty (e.g. "filter:") means unset.
			continue
		}
		if err := options.Set(&f.Options, k, value); err != nil {
			f.Warnings = append(f.Warnings, err)
		}
	}
	return f, nil
}

func scalar(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(t), nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			s, err := scalar(item)
			if err != nil {
				return "", err
			}
			if _, nested := item.([]any); nested {
				return "", fmt.Errorf("nested list")
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ";"), nil
	default:
		return "", fmt.Errorf("unsupported value %T", v)
	}
}

func hashOf(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented config file with the built-in
// values, as written by `sniffer init`.
func DefaultConfigYAML() string {
	d := options.Defaults()
	return fmt.Sprintf(`# sniffer configuration
# Generated by: sniffer init
#
# Precedence: built-in defaults < this file < agent arguments (k=v,k=v).
# Changes to packages and filter are picked up while running; other keys
# are read once at startup.

# CSV trace file. Truncated on every start; parent directories are created.
logfile: %s

# Class name patterns to instrument. '*' matches anything. A class must
# match one of the patterns. Runtime and standard low-level packages are
# always excluded.
packages: []

# Optional CEL expression over class, method and pkg. Must return bool.
# Example: pkg.startsWith("github.com/acme/") && method != "String"
filter: ""

# Pending events held between instrumented code and the writer. Events
# arriving while the queue is full are dropped.
capacity: %d

# How long shutdown waits for the writer before closing the file under it.
grace: %s

# fsync after every row. Slower; survives power loss.
sync: %t

# Diagnostic log level (debug, info, warn, error) and optional file.
loglevel: %s
diagnostics: ""

# Reserved for sampling; accepted and ignored.
interval: 0
threshold: 0
`, d.LogFile, d.Capacity, d.Grace, d.SyncEnabled(), d.LogLevel)
}
