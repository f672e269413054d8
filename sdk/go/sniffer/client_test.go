package sniffer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ppiankov/sniffer/internal/csvlog"
)

func newTestSniffer(t *testing.T, args string, opts ...Option) (*Sniffer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.csv")
	opts = append([]Option{WithLogFile(path), WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := Start(context.Background(), args, opts...)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, path
}

// flushAndStop waits for every traced call to reach the file, then stops.
func flushAndStop(t *testing.T, s *Sniffer) {
	t.Helper()
	if err := s.Flush(2 * time.Second); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !s.Stop() {
		t.Fatal("expected graceful stop")
	}
}

func TestTraceWritesRow(t *testing.T) {
	s, path := newTestSniffer(t, "")
	ctx := Named(context.Background(), "req-1")

	func() {
		defer s.Trace(ctx, "github.com/acme/store.DB", "Get")()
	}()

	flushAndStop(t, s)
	rows, err := csvlog.Tail(path, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %v", rows)
	}
	if !strings.HasPrefix(rows[0], "req-1,") || !strings.Contains(rows[0], ",github.com/acme/store.DB,Get,") {
		t.Errorf("unexpected row %q", rows[0])
	}
	if st := s.Stats(); st.Accepted != 1 || st.Written != 1 || st.Dropped != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestWithPackagesFilters(t *testing.T) {
	s, path := newTestSniffer(t, "", WithPackages("github.com/acme/*", "main.*"))
	ctx := context.Background()
	s.Trace(ctx, "github.com/acme/store.DB", "Get")()
	s.Trace(ctx, "main.worker", "run")()
	s.Trace(ctx, "github.com/other/x.T", "M")()
	flushAndStop(t, s)

	res := csvlog.Verify(path)
	if !res.Valid || res.Rows != 2 {
		t.Fatalf("verify = %+v, want 2 valid rows", res)
	}
}

func TestOptionsOverrideArgs(t *testing.T) {
	s, path := newTestSniffer(t, "logfile=ignored.csv,capacity=2", WithCapacity(16))
	if s.LogFile() != path {
		t.Errorf("LogFile = %q, want %q", s.LogFile(), path)
	}
	if _, err := os.Stat("ignored.csv"); !os.IsNotExist(err) {
		t.Error("args logfile should not be created")
	}
}

func TestStartFailsOnUnwritablePath(t *testing.T) {
	dir := t.TempDir()
	_, err := Start(context.Background(), "", WithLogFile(dir), WithLogger(zaptest.NewLogger(t)))
	if err == nil {
		t.Fatal("expected error when logfile is a directory")
	}

	// A failed start leaves no recorder behind.
	s, path := newTestSniffer(t, "")
	if s.LogFile() != path {
		t.Fatalf("LogFile = %q, want %q", s.LogFile(), path)
	}
}

func TestStartReturnsRunningRecorder(t *testing.T) {
	first, path := newTestSniffer(t, "")
	second, err := Start(context.Background(), "logfile="+path, WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first != second {
		t.Fatal("Start while running should return the same recorder")
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		first.Trace(ctx, "github.com/acme/a.T", "M")()
	}
	for i := 0; i < 5; i++ {
		second.Trace(ctx, "github.com/acme/b.T", "M")()
	}
	flushAndStop(t, first)

	res := csvlog.Verify(path)
	if !res.Valid || res.Rows != 15 {
		t.Fatalf("verify = %+v, want 15 valid rows", res)
	}
}

func TestStartAfterStopCreatesNewRecorder(t *testing.T) {
	first, _ := newTestSniffer(t, "")
	first.Stop()

	second, path := newTestSniffer(t, "")
	if first == second {
		t.Fatal("Start after Stop should create a new recorder")
	}
	if second.LogFile() != path {
		t.Fatalf("LogFile = %q, want %q", second.LogFile(), path)
	}
}

func TestMiddleware(t *testing.T) {
	s, path := newTestSniffer(t, "")
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	flushAndStop(t, s)

	rows, _ := csvlog.Tail(path, 10)
	if len(rows) != 1 || !strings.Contains(rows[0], ",http./orders,GET,") {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestStopIdempotent(t *testing.T) {
	s, _ := newTestSniffer(t, "")
	if !s.Stop() || !s.Stop() {
		t.Fatal("Stop should stay graceful")
	}
	s.Trace(context.Background(), "a.B", "C")()
	if st := s.Stats(); st.Dropped != 1 {
		t.Fatalf("call after Stop should be dropped, stats %+v", st)
	}
}
