package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sniffer/internal/agent"
	"github.com/ppiankov/sniffer/internal/probe"
)

var (
	recordArgs    string
	recordWorkers int
	recordCalls   int
	recordDelay   time.Duration
)

func init() {
	recordCmd.Flags().StringVar(&recordArgs, "args", "", "Agent arguments, e.g. logfile=trace.csv,capacity=256")
	recordCmd.Flags().IntVar(&recordWorkers, "workers", 4, "Concurrent goroutines making instrumented calls")
	recordCmd.Flags().IntVar(&recordCalls, "calls", 100, "Calls per worker")
	recordCmd.Flags().DurationVar(&recordDelay, "delay", time.Millisecond, "Simulated work per call")
	rootCmd.AddCommand(recordCmd)
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run a synthetic instrumented workload and write its trace",
	Long: `Starts the agent, runs --workers goroutines that each make --calls
instrumented calls, then shuts the agent down. SIGINT or SIGTERM stops the
workload early; the trace file is still closed cleanly.`,
	RunE: runRecord,
}

// workload methods cycle in this order; store calls are nested inside process.
var workloadMethods = []string{"Fetch", "Process", "Store"}

const workloadClass = "example.com/workload.Worker"

// recordFlushTimeout bounds how long record waits for queued rows.
const recordFlushTimeout = 5 * time.Second

// newAgent starts the agent used by record.
var newAgent = agent.Init

func runRecord(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newAgent(ctx, recordArgs)
	p := a.Probe()

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < recordWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			wctx := probe.WithCallerName(ctx, fmt.Sprintf("worker-%d", id))
			runWorker(wctx, p, recordCalls, recordDelay)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	flushCtx, cancel := context.WithTimeout(context.Background(), recordFlushTimeout)
	flushErr := a.Flush(flushCtx)
	cancel()
	graceful := a.Shutdown()
	st := a.Broker().Stats()

	outcome := "graceful"
	if !graceful {
		outcome = "forced"
	}
	w := stdout(cmd)
	fmt.Fprintf(w, "session:  %s\n", a.Session())
	fmt.Fprintf(w, "logfile:  %s\n", a.Broker().LogFile())
	fmt.Fprintf(w, "elapsed:  %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "accepted: %d\n", st.Accepted)
	fmt.Fprintf(w, "dropped:  %d\n", st.Dropped)
	fmt.Fprintf(w, "written:  %d\n", st.Written)
	fmt.Fprintf(w, "shutdown: %s\n", outcome)

	if err := a.Broker().Err(); err != nil {
		return fmt.Errorf("trace writer: %w", err)
	}
	if flushErr != nil {
		fmt.Fprintf(w, "warning:  %v\n", flushErr)
	}
	return nil
}

func runWorker(ctx context.Context, p *probe.Probe, calls int, delay time.Duration) {
	for n := 0; n < calls; n++ {
		if ctx.Err() != nil {
			return
		}
		method := workloadMethods[n%len(workloadMethods)]
		span := p.Enter(ctx, workloadClass, method)
		if method == "Process" {
			inner := p.Enter(ctx, workloadClass, "validate")
			sleep(ctx, delay/2)
			inner.End()
		}
		sleep(ctx, delay)
		span.End()
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
