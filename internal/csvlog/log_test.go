package csvlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/sniffer/internal/event"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-sniffer.log")
	l, err := Create(path, Options{})
	if err != nil {
		t.Fatalf("failed to create log: %v", err)
	}
	return l, path
}

func testEvent(method string, d time.Duration) event.Event {
	begin := time.Now()
	return event.New(event.Caller{Name: "main", ID: 1}, "com.example.Foo", method, begin, begin.Add(d))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestCreateWritesHeader(t *testing.T) {
	l, path := newTestLog(t)
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 1 || lines[0] != event.Header {
		t.Fatalf("expected header only, got %q", lines)
	}
}

func TestCreateTruncatesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.log")
	if err := os.WriteFile(path, []byte("stale,content\nmore,stale\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := Create(path, Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := l.Write(testEvent("fresh", 0)); err != nil {
		t.Fatalf("write: %v", err)
	}
	l.Close()

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 row, got %d lines: %q", len(lines), lines)
	}
	if strings.Contains(strings.Join(lines, "\n"), "stale") {
		t.Fatal("prior contents survived truncate")
	}
}

func TestCreateMakesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "sniffer.log")
	l, err := Create(path, Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	l.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}

func TestCreateFailsOnDirectory(t *testing.T) {
	if _, err := Create(t.TempDir(), Options{}); err == nil {
		t.Fatal("expected error creating log at a directory path")
	}
}

func TestWriteFlushesEachRow(t *testing.T) {
	l, path := newTestLog(t)
	defer l.Close()

	for i := 0; i < 3; i++ {
		if err := l.Write(testEvent(fmt.Sprintf("m%d", i), 15*time.Millisecond)); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		// Visible without Close: flushed per row.
		if got := len(readLines(t, path)); got != i+2 {
			t.Fatalf("after write %d: %d lines on disk, want %d", i, got, i+2)
		}
	}
}

func TestWriteWithSync(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.log")
	l, err := Create(path, Options{Sync: true, Location: time.UTC})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Write(testEvent("synced", time.Millisecond)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := len(readLines(t, path)); got != 2 {
		t.Fatalf("expected 2 lines, got %d", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	l, _ := newTestLog(t)
	if err := l.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestWriteAfterAbortFails(t *testing.T) {
	l, path := newTestLog(t)
	l.Abort()

	if err := l.Write(testEvent("late", 0)); err == nil {
		t.Fatal("expected write after abort to fail")
	}
	if lines := readLines(t, path); len(lines) != 1 {
		t.Fatalf("expected header only after abort, got %q", lines)
	}
}

func BenchmarkWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.log")
	l, err := Create(path, Options{})
	if err != nil {
		b.Fatal(err)
	}
	defer l.Close()

	e := testEvent("bench", time.Millisecond)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Write(e)
	}
}
