// Package sniffer records per-call timings from a Go program into a CSV
// trace file without ever blocking the calling goroutine on disk.
//
// Usage:
//
//	s, err := sniffer.Start(ctx, "packages=github.com/acme/*",
//	    sniffer.WithLogFile("/var/log/acme/trace.csv"))
//	defer s.Stop()
//
//	func (d *DB) Get(ctx context.Context, key string) ([]byte, error) {
//	    defer s.Trace(ctx, "github.com/acme/store.DB", "Get")()
//	    ...
//	}
//
// There is one recorder per process; Start while it runs returns it. Cancelling
// ctx stops the recorder as well. Calls made while the internal queue is full
// are dropped and counted, never delayed. Stop discards calls still queued, so
// call Flush before Stop when every row matters.
//
// The SDK links directly against internal packages. External users import
// github.com/ppiankov/sniffer/sdk/go/sniffer.
package sniffer
