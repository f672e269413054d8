package broker

import (
	"context"

	"go.uber.org/zap"
)

// run is the writer goroutine. It drains the queue in arrival order until
// ctx is cancelled, then closes the sink. Events still queued at that point
// are not written.
func (b *Broker) run(ctx context.Context, sink Sink) {
	defer close(b.done)

	for {
		e, err := b.queue.Take(ctx)
		if err != nil {
			break
		}
		if err := sink.Write(e); err != nil {
			if b.aborted.Load() {
				return
			}
			b.setErr(err)
			b.logger.Error("write failed; writer exiting", zap.Error(err))
			sink.Abort()
			return
		}
		b.written.Add(1)
	}

	if err := sink.Close(); err != nil && !b.aborted.Load() {
		b.setErr(err)
		b.logger.Error("close failed", zap.Error(err))
	}
}
