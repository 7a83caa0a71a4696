package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/barnybug/feedmux/lib/graphite"
)

// Reporter pushes client statistics to graphite at a fixed interval.
type Reporter struct {
	client   *Client
	gr       graphite.IGraphite
	prefix   string
	interval time.Duration
	logger   *zap.Logger
}

func NewReporter(c *Client, gr graphite.IGraphite, prefix string, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{client: c, gr: gr, prefix: prefix, interval: interval, logger: c.logger}
}

// Run reports until ctx is done, with a final report on the way out.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.report(time.Now())
			return
		case now := <-ticker.C:
			r.report(now)
		}
	}
}

func (r *Reporter) report(now time.Time) {
	if err := r.Report(now); err != nil {
		r.logger.Warn("graphite report failed", zap.Error(err))
	}
}

// Report sends one snapshot of the statistics.
func (r *Reporter) Report(now time.Time) error {
	s := r.client.Stats()
	ts := now.Unix()
	metrics := []struct {
		name  string
		value float64
	}{
		{"handlers", float64(s.Handlers)},
		{"keys", float64(s.Keys)},
		{"dispatch.dispatched", float64(s.Dispatcher.Dispatched)},
		{"dispatch.unrouted", float64(s.Dispatcher.Unrouted)},
		{"dispatch.succeeded", float64(s.Dispatcher.Succeeded)},
		{"dispatch.skipped", float64(s.Dispatcher.Skipped)},
		{"faults.type_mismatch", float64(s.Dispatcher.TypeMismatch)},
		{"faults.handler_error", float64(s.Dispatcher.HandlerErrors)},
		{"faults.handler_panic", float64(s.Dispatcher.Panics)},
		{"faults.timeout", float64(s.Dispatcher.Timeouts)},
		{"ingest.enqueued", float64(s.Ingest.Enqueued)},
		{"ingest.dropped", float64(s.Ingest.Dropped)},
		{"ingest.processed", float64(s.Ingest.Processed)},
		{"ingest.discarded", float64(s.Ingest.Discarded)},
		{"ingest.depth", float64(s.Ingest.QueueDepth)},
		{"intents.subscribe", float64(s.Coordinator.Subscribes)},
		{"intents.unsubscribe", float64(s.Coordinator.Unsubscribes)},
	}
	for _, m := range metrics {
		if err := r.gr.Add(r.prefix+"."+m.name, ts, m.value); err != nil {
			return err
		}
	}
	return r.gr.Flush()
}
