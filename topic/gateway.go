// Package topic provides the topic gateway: idempotent topic provisioning
// on the durable log and record publication into the two external sinks,
// the log stream and the snapshot store.
package topic

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/thinkerajay/event-streamer-service/errors"
	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/metric"
	"github.com/thinkerajay/event-streamer-service/natsclient"
)

// SubjectForTopic returns the stream subject a topic's records are
// published on.
func SubjectForTopic(name string) string {
	return "events." + name
}

// LogClient is the durable log surface the gateway depends on.
type LogClient interface {
	GetStream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Snapshot is the store surface the gateway appends raw records to.
type Snapshot interface {
	Insert(ctx context.Context, rec event.Record) error
}

// Gateway provisions topics and publishes records. One gateway is shared
// by every session; the per-session bound topic travels with each call.
type Gateway struct {
	log       LogClient
	snapshots Snapshot
	logger    *slog.Logger
	metrics   *metric.CoreMetrics
}

// New creates a topic gateway. A nil metrics set disables instrumentation.
func New(log LogClient, snapshots Snapshot, logger *slog.Logger, metrics *metric.CoreMetrics) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		log:       log,
		snapshots: snapshots,
		logger:    logger,
		metrics:   metrics,
	}
}

// Provision creates the topic's stream if it does not already exist.
// A second Provision with the same name is a no-op. Creation failures are
// surfaced as a provisioning error and logged, not retried.
func (g *Gateway) Provision(ctx context.Context, name string) error {
	_, err := g.log.GetStream(ctx, name)
	if err == nil {
		g.logger.Info("Topic already exists",
			"component", "topic-gateway", "topic", name)
		return nil
	}
	if !stderrors.Is(err, natsclient.ErrStreamNotFound) {
		return errors.WrapTransient(err, "Gateway", "Provision", "look up topic "+name)
	}

	// Single-partition, single-replica topic; the gateway does not shard.
	_, err = g.log.CreateStream(ctx, jetstream.StreamConfig{
		Name:     name,
		Subjects: []string{SubjectForTopic(name)},
		Replicas: 1,
	})
	if err != nil {
		g.logger.Error("Topic provisioning failed",
			"component", "topic-gateway", "topic", name, "error", err)
		return errors.WrapTransient(errors.ErrTopicProvision, "Gateway", "Provision", name)
	}

	g.logger.Info("Topic created", "component", "topic-gateway", "topic", name)
	return nil
}

// Publish appends one record to the bound topic's two sinks. A publish
// whose topic does not match the session's bound topic is dropped and
// logged, never queued or retried. The log write and the snapshot write
// are independent: a snapshot failure is logged and does not fail the
// publish, and neither write is rolled back on the other's failure.
func (g *Gateway) Publish(ctx context.Context, boundTopic string, req event.PushEvent, clientName string) error {
	if req.Topic != boundTopic {
		g.logger.Warn("Dropping publish to unbound topic",
			"component", "topic-gateway",
			"bound_topic", boundTopic,
			"requested_topic", req.Topic,
			"client", clientName,
			"error", errors.ErrTopicMismatch)
		if g.metrics != nil {
			g.metrics.MessagesDropped.WithLabelValues("topic_mismatch").Inc()
		}
		return nil
	}

	rec := event.NewRecord(req.Topic, req.Type, clientName, req.Payload)
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, "Gateway", "Publish", "marshal record")
	}

	publishErr := g.log.PublishToStream(ctx, SubjectForTopic(req.Topic), data)
	if publishErr != nil {
		g.logger.Error("Log append failed",
			"component", "topic-gateway", "topic", req.Topic, "error", publishErr)
	} else if g.metrics != nil {
		g.metrics.EventsPublished.WithLabelValues(req.Topic).Inc()
	}

	// Snapshot write is attempted regardless of the log write's outcome.
	if g.snapshots != nil {
		if err := g.snapshots.Insert(ctx, rec); err != nil {
			g.logger.Error("Snapshot write failed",
				"component", "topic-gateway", "topic", req.Topic,
				"error", errors.Wrap(err, "Gateway", "Publish", "insert snapshot"))
			if g.metrics != nil {
				g.metrics.StoreWriteErrors.Inc()
			}
		}
	}

	if publishErr != nil {
		return errors.WrapTransient(publishErr, "Gateway", "Publish", "append to "+req.Topic)
	}
	return nil
}

// PublishRecord appends an internally generated record (a join window
// flush) to a topic, subject to the same bound-topic check as client
// publishes.
func (g *Gateway) PublishRecord(ctx context.Context, boundTopic string, rec event.Record) error {
	return g.Publish(ctx, boundTopic, event.PushEvent{
		Topic:   rec.Topic,
		Type:    rec.Type,
		Payload: rec.Payload,
	}, rec.ClientName)
}
