package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sniffer/internal/agent"
	"github.com/ppiankov/sniffer/internal/config"
	"github.com/ppiankov/sniffer/internal/csvlog"
	"github.com/ppiankov/sniffer/internal/event"
	"github.com/ppiankov/sniffer/internal/options"
)

func captured() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestRunInitWritesDefaults(t *testing.T) {
	initPath = filepath.Join(t.TempDir(), "conf", "sniffer.yaml")
	initForce = false

	cmd, out := captured()
	if err := runInit(cmd, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	if !strings.Contains(out.String(), "Created") {
		t.Errorf("unexpected output %q", out.String())
	}
	data, err := os.ReadFile(initPath)
	if err != nil {
		t.Fatalf("config not created: %v", err)
	}
	if string(data) != config.DefaultConfigYAML() {
		t.Error("config content differs from default")
	}
}

func TestRunInitNoOverwriteWithoutForce(t *testing.T) {
	initPath = filepath.Join(t.TempDir(), "sniffer.yaml")
	sentinel := "# sentinel content\n"
	if err := os.WriteFile(initPath, []byte(sentinel), 0o644); err != nil {
		t.Fatal(err)
	}

	initForce = false
	if err := runInit(nil, nil); err == nil {
		t.Fatal("expected error for existing file")
	}
	data, _ := os.ReadFile(initPath)
	if string(data) != sentinel {
		t.Fatal("existing file was overwritten")
	}

	initForce = true
	defer func() { initForce = false }()
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit --force failed: %v", err)
	}
	data, _ = os.ReadFile(initPath)
	if string(data) == sentinel {
		t.Fatal("--force did not overwrite")
	}
}

func TestRunTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")
	content := event.Header + "\n" +
		"w,1,a.B,m1,2024-01-01T00:00:00.000000Z,2024-01-01T00:00:00.001000Z,1\n" +
		"w,1,a.B,m2,2024-01-01T00:00:00.000000Z,2024-01-01T00:00:00.002000Z,2\n" +
		"w,1,a.B,m3,2024-01-01T00:00:00.000000Z,2024-01-01T00:00:00.003000Z,3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	tailLines = 2
	defer func() { tailLines = 10 }()
	cmd, out := captured()
	if err := runTail(cmd, []string{path}); err != nil {
		t.Fatalf("runTail: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], ",m2,") || !strings.Contains(lines[1], ",m3,") {
		t.Fatalf("unexpected tail output %q", out.String())
	}
}

func TestRunVerifyValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.csv")
	if err := os.WriteFile(path, []byte(event.Header+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd, out := captured()
	if err := runVerify(cmd, []string{path}); err != nil {
		t.Fatalf("runVerify: %v", err)
	}
	if !strings.Contains(out.String(), "OK: 0 rows") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func withBootstrappedAgent(t *testing.T) {
	t.Helper()
	newAgent = func(ctx context.Context, args string) *agent.Agent {
		return agent.Bootstrap(ctx, args, options.Options{}, nil)
	}
	t.Cleanup(func() { newAgent = agent.Init })
}

func TestRunRecord(t *testing.T) {
	withBootstrappedAgent(t)
	path := filepath.Join(t.TempDir(), "trace.csv")
	recordArgs = "logfile=" + path + ",loglevel=warn"
	recordWorkers = 3
	recordCalls = 6
	recordDelay = time.Millisecond

	cmd, out := captured()
	if err := runRecord(cmd, nil); err != nil {
		t.Fatalf("runRecord: %v", err)
	}
	if !strings.Contains(out.String(), "shutdown: graceful") {
		t.Errorf("unexpected output %q", out.String())
	}
	if !strings.Contains(out.String(), "dropped:  0") {
		t.Errorf("unexpected drops in %q", out.String())
	}
	if !strings.Contains(out.String(), "written:  24") {
		t.Errorf("unexpected written count in %q", out.String())
	}

	res := csvlog.Verify(path)
	if !res.Valid {
		t.Fatalf("trace invalid: %s (line %d)", res.Error, res.ErrorLine)
	}
	// 6 calls per worker, two of which are Process with a nested validate.
	if want := 3 * (6 + 2); res.Rows != want {
		t.Fatalf("rows = %d, want %d", res.Rows, want)
	}
	rows, _ := csvlog.Tail(path, 100)
	for _, r := range rows {
		if !strings.HasPrefix(r, "worker-") {
			t.Fatalf("row without worker caller name: %q", r)
		}
	}
}

func TestRunRecordRepeatable(t *testing.T) {
	withBootstrappedAgent(t)
	recordWorkers = 1
	recordCalls = 3
	recordDelay = 0

	for i := 0; i < 2; i++ {
		path := filepath.Join(t.TempDir(), "trace.csv")
		recordArgs = "logfile=" + path + ",loglevel=warn"
		cmd, _ := captured()
		if err := runRecord(cmd, nil); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		// Three calls, one of which is Process with a nested validate.
		if res := csvlog.Verify(path); !res.Valid || res.Rows != 4 {
			t.Fatalf("run %d: verify = %+v, want 4 valid rows", i, res)
		}
	}
}
