// Package stream holds the per-session transformation engine: the plain
// and filtered forwarders, the join and aggregation windows, and the
// connector that composes one of them per pull session.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/filter"
)

// Log is the durable-log consumption surface the transforms depend on.
type Log interface {
	OrderedConsume(ctx context.Context, streamName string, policy jetstream.DeliverPolicy, handler func([]byte)) (func(), error)
}

// History is the snapshot-store surface used for the filtered catch-up
// phase.
type History interface {
	Replay(ctx context.Context, topics []string, spec filter.Spec, fn func(event.Record) error) error
}

// consumeTopics attaches one ordered consumer per topic and decodes every
// message into a record before handing it to handle. Messages that do not
// decode are dropped and logged. The returned stop function releases all
// consumers attached so far; on error the partial set is already released.
func consumeTopics(
	ctx context.Context,
	log Log,
	topics []string,
	policy jetstream.DeliverPolicy,
	logger *slog.Logger,
	handle func(event.Record),
) (func(), error) {
	stops := make([]func(), 0, len(topics))
	stopAll := func() {
		for _, stop := range stops {
			stop()
		}
	}

	for _, topicName := range topics {
		topicName := topicName
		stop, err := log.OrderedConsume(ctx, topicName, policy, func(data []byte) {
			var rec event.Record
			if err := json.Unmarshal(data, &rec); err != nil {
				logger.Warn("Dropping undecodable record",
					"component", "stream-source", "topic", topicName, "error", err)
				return
			}
			handle(rec)
		})
		if err != nil {
			stopAll()
			return nil, err
		}
		stops = append(stops, stop)
	}

	return stopAll, nil
}

// consumeLive attaches consumers positioned at new records only, for
// window transforms that act on the live flow rather than history.
func consumeLive(
	ctx context.Context,
	log Log,
	topics []string,
	logger *slog.Logger,
	handle func(event.Record),
) (func(), error) {
	return consumeTopics(ctx, log, topics, jetstream.DeliverNewPolicy, logger, handle)
}
