package csvlog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ppiankov/sniffer/internal/event"
)

// Options tune how rows are persisted.
type Options struct {
	// Sync fsyncs the file after every row in addition to flushing.
	Sync bool
	// Location formats timestamps. Nil means time.Local.
	Location *time.Location
}

// Log is a truncate-on-open CSV file of timing events. Write is meant for a
// single goroutine; Abort may be called from any goroutine.
type Log struct {
	path string
	file *os.File
	buf  *bufio.Writer
	opts Options

	closeOnce sync.Once
	closeErr  error
}

// Create opens path for writing, discarding prior contents, and writes the
// header line. Missing parent directories are created.
func Create(path string, opts Options) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("csvlog: create directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("csvlog: open file: %w", err)
	}

	l := &Log{
		path: path,
		file: file,
		buf:  bufio.NewWriter(file),
		opts: opts,
	}
	if err := l.writeLine(event.Header); err != nil {
		_ = file.Close()
		return nil, err
	}
	return l, nil
}

// Path returns the file path the log was created with.
func (l *Log) Path() string { return l.path }

// Write appends one event row and flushes it to the file.
func (l *Log) Write(e event.Event) error {
	return l.writeLine(e.Row(l.opts.Location))
}

func (l *Log) writeLine(line string) error {
	if _, err := l.buf.WriteString(line); err != nil {
		return fmt.Errorf("csvlog: write row: %w", err)
	}
	if err := l.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("csvlog: write row: %w", err)
	}
	if err := l.buf.Flush(); err != nil {
		return fmt.Errorf("csvlog: flush: %w", err)
	}
	if l.opts.Sync {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("csvlog: sync: %w", err)
		}
	}
	return nil
}

// Close flushes buffered output and closes the file. Only the writing
// goroutine may call Close. Repeated calls return the first result.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		flushErr := l.buf.Flush()
		closeErr := l.file.Close()
		switch {
		case flushErr != nil:
			l.closeErr = fmt.Errorf("csvlog: flush: %w", flushErr)
		case closeErr != nil:
			l.closeErr = fmt.Errorf("csvlog: close: %w", closeErr)
		}
	})
	return l.closeErr
}

// Abort closes the file without flushing and without waiting for the
// writing goroutine. A Write or Close in progress fails or loses its row.
func (l *Log) Abort() {
	_ = l.file.Close()
}
