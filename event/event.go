// Package event defines the wire-level data model of the event streamer:
// the immutable Record appended to topics, and the inbound request shapes
// a client may send over the bidirectional transport.
package event

import (
	"encoding/json"
	"time"

	"github.com/thinkerajay/event-streamer-service/errors"
)

// Outbound event names emitted toward a client session.
const (
	// EventRaw carries an unmodified record from a plain forward.
	EventRaw = "events"
	// EventFiltered carries a record that passed a filter predicate.
	EventFiltered = "filtered_events"
	// EventJoined carries a merged payload flushed from a join window.
	EventJoined = "joined_events"
	// EventAggregated carries the field->running-sum mapping flushed from
	// an aggregation window. The name is kept for wire compatibility with
	// the original service even though the payload is a window sum.
	EventAggregated = "events_with_avg_cal"
)

// Inbound operation names accepted from a client session.
const (
	OpStartPush     = "start_event_push"
	OpPushEvent     = "push_event"
	OpPullStart     = "pull_event"
	OpPullFilter    = "pull_events_with_filter"
	OpPullJoin      = "pull_events_with_join"
	OpPullAggregate = "pull_events_with_avg_on_metric"
)

// Record is one event appended to a topic. Immutable once published;
// read-only to every consumer.
type Record struct {
	Topic      string         `json:"topic"`
	Type       string         `json:"type"`
	ClientName string         `json:"clientName"`
	CreatedAt  int64          `json:"createdAt"` // epoch seconds
	Payload    map[string]any `json:"payload"`
}

// NewRecord builds a Record stamped with the current time.
func NewRecord(topic, eventType, clientName string, payload map[string]any) Record {
	return Record{
		Topic:      topic,
		Type:       eventType,
		ClientName: clientName,
		CreatedAt:  time.Now().Unix(),
		Payload:    payload,
	}
}

// StartPush opens a push session bound to exactly one topic.
type StartPush struct {
	Topic      string `json:"topic"`
	ClientName string `json:"clientName"`
}

// Validate checks required fields.
func (r StartPush) Validate() error {
	if r.Topic == "" || r.ClientName == "" {
		return errors.WrapInvalid(errors.ErrMalformedMessage,
			"StartPush", "Validate", "topic and clientName required")
	}
	return nil
}

// PushEvent publishes one event on a push session. The topic must match
// the session's bound topic or the record is dropped.
type PushEvent struct {
	Topic   string         `json:"topic"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// Validate checks required fields.
func (r PushEvent) Validate() error {
	if r.Topic == "" {
		return errors.WrapInvalid(errors.ErrMalformedMessage,
			"PushEvent", "Validate", "topic required")
	}
	return nil
}

// PullStart opens a plain pull session over one or more topics.
type PullStart struct {
	Topics     []string `json:"topics"`
	ClientName string   `json:"clientName"`
}

// Validate checks required fields.
func (r PullStart) Validate() error {
	if len(r.Topics) == 0 || r.ClientName == "" {
		return errors.WrapInvalid(errors.ErrMalformedMessage,
			"PullStart", "Validate", "topics and clientName required")
	}
	return nil
}

// Filter is one predicate condition evaluated against a record payload.
type Filter struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Operation string `json:"operation"` // ">", "<", "=="
}

// PullWithFilter opens a filtered pull session: a catch-up read from the
// snapshot store followed by live predicate evaluation.
type PullWithFilter struct {
	PullStart
	Filters   []Filter `json:"filters"`
	Operation string   `json:"operation"` // "AND" or "OR"
}

// Validate checks required fields.
func (r PullWithFilter) Validate() error {
	if err := r.PullStart.Validate(); err != nil {
		return err
	}
	if len(r.Filters) == 0 {
		return errors.WrapInvalid(errors.ErrMalformedMessage,
			"PullWithFilter", "Validate", "at least one filter required")
	}
	return nil
}

// PullWithJoin opens a join-window pull session merging records that share
// a join key, republishing merged payloads to a destination topic.
type PullWithJoin struct {
	PullStart
	Key   string `json:"key"`   // join key name in the payload
	Topic string `json:"topic"` // destination topic for merged records
}

// Validate checks required fields.
func (r PullWithJoin) Validate() error {
	if err := r.PullStart.Validate(); err != nil {
		return err
	}
	if r.Key == "" || r.Topic == "" {
		return errors.WrapInvalid(errors.ErrMalformedMessage,
			"PullWithJoin", "Validate", "key and destination topic required")
	}
	return nil
}

// PullWithAggregate opens an aggregation-window pull session summing
// tracked numeric fields and flushing to a target client by name.
type PullWithAggregate struct {
	Topic            string   `json:"topic"`
	ClientName       string   `json:"clientName"`
	PushToClientName string   `json:"pushToClientName"`
	Keys             []string `json:"keys"`
	WindowMillis     int      `json:"window"`
}

// Validate checks required fields.
func (r PullWithAggregate) Validate() error {
	if r.Topic == "" || r.ClientName == "" || r.PushToClientName == "" {
		return errors.WrapInvalid(errors.ErrMalformedMessage,
			"PullWithAggregate", "Validate", "topic, clientName and pushToClientName required")
	}
	if len(r.Keys) == 0 {
		return errors.WrapInvalid(errors.ErrMalformedMessage,
			"PullWithAggregate", "Validate", "at least one tracked key required")
	}
	return nil
}

// Decode unmarshals raw request data into dst and validates it. A parse or
// validation failure is a MalformedMessage: the caller drops the message.
func Decode(data []byte, dst interface{ Validate() error }) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.WrapInvalid(errors.ErrMalformedMessage,
			"Decode", "Unmarshal", err.Error())
	}
	return dst.Validate()
}
