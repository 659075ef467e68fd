package stream

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/metric"
	"github.com/thinkerajay/event-streamer-service/registry"
)

// Lookup resolves a client name to its live send handle.
type Lookup interface {
	Lookup(clientName string) (registry.Sender, error)
}

// AggregateWindow keeps a running sum per tracked numeric field over a
// tumbling window. Flushing is driven by an independent ticker, not by
// record arrival: on each tick the target client is resolved through the
// session registry and the full field sums are emitted to it, then the
// sums reset. When the target is not registered the flush is skipped and
// the sums keep accumulating into the next tick.
//
// Despite the outbound event name, the emitted values are window sums.
type AggregateWindow struct {
	keys    []string
	target  string
	window  time.Duration
	lookup  Lookup
	logger  *slog.Logger
	metrics *metric.CoreMetrics

	mu   sync.Mutex
	sums map[string]float64

	done chan struct{}
	once sync.Once
}

// NewAggregateWindow builds an aggregation window for one pull session.
// target is the client the flushes are delivered to; it does not have to
// be the session that opened the window.
func NewAggregateWindow(
	keys []string,
	target string,
	window time.Duration,
	lookup Lookup,
	logger *slog.Logger,
	metrics *metric.CoreMetrics,
) *AggregateWindow {
	if logger == nil {
		logger = slog.Default()
	}
	return &AggregateWindow{
		keys:    keys,
		target:  target,
		window:  window,
		lookup:  lookup,
		logger:  logger,
		metrics: metrics,
		sums:    make(map[string]float64),
		done:    make(chan struct{}),
	}
}

// Observe folds one record into the running sums. Only tracked fields
// carrying a numeric value contribute; everything else in the payload is
// ignored.
func (w *AggregateWindow) Observe(rec event.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, key := range w.keys {
		raw, ok := rec.Payload[key]
		if !ok {
			continue
		}
		v, ok := numericValue(raw)
		if !ok {
			continue
		}
		w.sums[key] += v
	}
}

// Start launches the flush ticker. Stop releases it.
func (w *AggregateWindow) Start() {
	go func() {
		ticker := time.NewTicker(w.window)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.flush()
			case <-w.done:
				return
			}
		}
	}()
}

// Stop halts the flush ticker. Safe to call more than once.
func (w *AggregateWindow) Stop() {
	w.once.Do(func() { close(w.done) })
}

// flush delivers the current sums to the target client and resets them.
// An unknown target skips the flush without discarding the sums.
func (w *AggregateWindow) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	sender, err := w.lookup.Lookup(w.target)
	if err != nil {
		w.logger.Warn("Aggregation flush target not registered, keeping sums",
			"component", "aggregate-window", "target", w.target, "error", err)
		return
	}

	out := make(map[string]float64, len(w.sums))
	for k, v := range w.sums {
		out[k] = v
	}

	if err := sender.Send(event.EventAggregated, out); err != nil {
		w.logger.Warn("Aggregation flush to target failed",
			"component", "aggregate-window", "target", w.target, "error", err)
	}
	if w.metrics != nil {
		w.metrics.WindowFlushes.WithLabelValues("aggregate").Inc()
	}

	w.sums = make(map[string]float64)
}

// numericValue extracts a float from the dynamic payload value shapes
// JSON decoding produces.
func numericValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
