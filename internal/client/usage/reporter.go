package usage

import (
	"context"
	"time"

	"qrypub/pkg/protocol"

	"go.uber.org/zap"
)

// Sink receives usage reports, normally a *publisher.Publisher.
type Sink interface {
	PublishApiUsageMap(table protocol.UsageStatsTable, fromTs, toTs string) error
	PublishApiUsage(counter int64, timestamp string) error
}

// Reporter periodically drains a Collector into a Sink.
type Reporter struct {
	collector *Collector
	sink      Sink
	interval  time.Duration
	logger    *zap.Logger
}

func NewReporter(c *Collector, sink Sink, interval time.Duration, logger *zap.Logger) *Reporter {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{collector: c, sink: sink, interval: interval, logger: logger}
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (r *Reporter) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Flush()
			return ctx.Err()
		case <-t.C:
			r.Flush()
		}
	}
}

// Flush publishes the current window. A usage map the sink refuses is put
// back into the collector for the next attempt.
func (r *Reporter) Flush() {
	snap := r.collector.Drain()
	to := snap.To.UTC().Format(time.RFC3339)

	if !snap.Empty() {
		from := snap.From.UTC().Format(time.RFC3339)
		if err := r.sink.PublishApiUsageMap(snap.Table, from, to); err != nil {
			r.collector.Restore(snap)
			r.logger.Debug("usage report deferred", zap.Error(err))
			return
		}
	}
	if err := r.sink.PublishApiUsage(snap.Requests, to); err != nil {
		r.logger.Debug("usage counter dropped", zap.Error(err))
		return
	}
	r.logger.Debug("usage reported", zap.Int64("requests", snap.Requests), zap.Int("endpoints", len(snap.Table)))
}
