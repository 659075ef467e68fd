package stream

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/filter"
	"github.com/thinkerajay/event-streamer-service/metric"
	"github.com/thinkerajay/event-streamer-service/registry"
)

// Forwarder streams every record on a set of topics to one session,
// unmodified, preserving per-topic stream order. Consumption starts at
// the beginning of each topic so a late subscriber still observes the
// complete stream.
type Forwarder struct {
	topics  []string
	sender  registry.Sender
	logger  *slog.Logger
	metrics *metric.CoreMetrics

	stop func()
}

// NewForwarder builds a plain forwarder for one pull session.
func NewForwarder(topics []string, sender registry.Sender, logger *slog.Logger, metrics *metric.CoreMetrics) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		topics:  topics,
		sender:  sender,
		logger:  logger,
		metrics: metrics,
	}
}

// Start attaches one ordered consumer per topic and begins forwarding.
func (f *Forwarder) Start(ctx context.Context, log Log) error {
	stop, err := consumeTopics(ctx, log, f.topics, jetstream.DeliverAllPolicy, f.logger, f.forward)
	if err != nil {
		return err
	}
	f.stop = stop
	return nil
}

func (f *Forwarder) forward(rec event.Record) {
	if err := f.sender.Send(event.EventRaw, rec); err != nil {
		f.logger.Warn("Forward to session failed",
			"component", "forwarder", "topic", rec.Topic, "error", err)
		return
	}
	if f.metrics != nil {
		f.metrics.RecordsForwarded.WithLabelValues("plain").Inc()
	}
}

// Stop detaches the forwarder's consumers.
func (f *Forwarder) Stop() {
	if f.stop != nil {
		f.stop()
		f.stop = nil
	}
}

// FilteredForwarder streams the records on a set of topics that satisfy
// a predicate. Delivery happens in two phases: a catch-up replay of
// matching history from the snapshot store, and live evaluation of new
// records as they arrive. The two phases apply the same predicate
// semantics. Live consumers attach before the replay runs, so a record
// published across the seam is observed by at least one phase; it may be
// observed by both, and catch-up records may interleave with live ones.
type FilteredForwarder struct {
	topics  []string
	spec    filter.Spec
	sender  registry.Sender
	logger  *slog.Logger
	metrics *metric.CoreMetrics

	stop func()
}

// NewFilteredForwarder builds a filtered forwarder for one pull session.
func NewFilteredForwarder(
	topics []string,
	spec filter.Spec,
	sender registry.Sender,
	logger *slog.Logger,
	metrics *metric.CoreMetrics,
) *FilteredForwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilteredForwarder{
		topics:  topics,
		spec:    spec,
		sender:  sender,
		logger:  logger,
		metrics: metrics,
	}
}

// Start attaches live consumers positioned at new records, then replays
// matching history from the snapshot store. Attaching first closes the
// seam: a record published while the replay query runs reaches the live
// consumer instead of falling between the phases. A catch-up failure is
// logged and the live phase keeps running; the snapshot store is a
// best-effort view of history.
func (f *FilteredForwarder) Start(ctx context.Context, log Log, history History) error {
	stop, err := consumeTopics(ctx, log, f.topics, jetstream.DeliverNewPolicy, f.logger, f.observe)
	if err != nil {
		return err
	}
	f.stop = stop

	if history != nil {
		err := history.Replay(ctx, f.topics, f.spec, func(rec event.Record) error {
			f.emit(rec)
			return nil
		})
		if err != nil {
			f.logger.Error("Catch-up replay failed, continuing with live records",
				"component", "filtered-forwarder", "topics", f.topics, "error", err)
		}
	}
	return nil
}

func (f *FilteredForwarder) observe(rec event.Record) {
	if !f.spec.Matches(rec.Payload) {
		return
	}
	f.emit(rec)
}

func (f *FilteredForwarder) emit(rec event.Record) {
	if err := f.sender.Send(event.EventFiltered, rec); err != nil {
		f.logger.Warn("Forward to session failed",
			"component", "filtered-forwarder", "topic", rec.Topic, "error", err)
		return
	}
	if f.metrics != nil {
		f.metrics.RecordsForwarded.WithLabelValues("filtered").Inc()
	}
}

// Stop detaches the forwarder's consumers.
func (f *FilteredForwarder) Stop() {
	if f.stop != nil {
		f.stop()
		f.stop = nil
	}
}
