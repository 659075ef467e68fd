package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/metric"
	"github.com/thinkerajay/event-streamer-service/registry"
)

// Publisher is the topic-gateway surface the transforms publish through.
type Publisher interface {
	Provision(ctx context.Context, name string) error
	Publish(ctx context.Context, boundTopic string, req event.PushEvent, clientName string) error
	PublishRecord(ctx context.Context, boundTopic string, rec event.Record) error
}

// mergedRecordType marks records a join flush republishes to the
// destination topic.
const mergedRecordType = "metric"

// JoinWindow accumulates a last-write-wins field merge per join-key value
// across one or more topics. The flush trigger is checked on every
// arriving record: once the elapsed time since the window opened reaches
// the interval, every merged entry is forwarded to the session and
// republished to the destination topic, and the window state is cleared.
// A window that receives no records never flushes.
//
// Records whose payload lacks the join key all merge under a single
// undefined-key bucket.
type JoinWindow struct {
	key        string
	destTopic  string
	clientName string
	interval   time.Duration
	maxKeys    int
	sender     registry.Sender
	publisher  Publisher
	logger     *slog.Logger
	metrics    *metric.CoreMetrics

	mu          sync.Mutex
	windowStart time.Time
	merged      map[string]map[string]any
	order       []string
}

// NewJoinWindow builds a join window for one pull session. maxKeys bounds
// the number of distinct join-key values held per window; records for new
// keys beyond the bound are dropped until the next flush.
func NewJoinWindow(
	key, destTopic, clientName string,
	interval time.Duration,
	maxKeys int,
	sender registry.Sender,
	publisher Publisher,
	logger *slog.Logger,
	metrics *metric.CoreMetrics,
) *JoinWindow {
	if logger == nil {
		logger = slog.Default()
	}
	return &JoinWindow{
		key:         key,
		destTopic:   destTopic,
		clientName:  clientName,
		interval:    interval,
		maxKeys:     maxKeys,
		sender:      sender,
		publisher:   publisher,
		logger:      logger,
		metrics:     metrics,
		windowStart: time.Now(),
		merged:      make(map[string]map[string]any),
	}
}

// Observe merges one record into the window and flushes if the window
// interval has elapsed. Accumulate and flush-and-clear run under one
// critical section, so records arriving concurrently with a flush land in
// either the flushed window or the next one, never lost.
func (w *JoinWindow) Observe(ctx context.Context, rec event.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	keyVal := ""
	if v, ok := rec.Payload[w.key]; ok {
		keyVal = fmt.Sprint(v)
	}

	entry, ok := w.merged[keyVal]
	if !ok {
		if w.maxKeys > 0 && len(w.order) >= w.maxKeys {
			// The record is dropped, entry stays nil. The flush check
			// below still runs, otherwise a full window could never flush.
			w.logger.Warn("Join window key bound reached, dropping record",
				"component", "join-window", "key", keyVal, "max_keys", w.maxKeys)
			if w.metrics != nil {
				w.metrics.MessagesDropped.WithLabelValues("join_window_full").Inc()
			}
		} else {
			entry = make(map[string]any, len(rec.Payload))
			w.merged[keyVal] = entry
			w.order = append(w.order, keyVal)
		}
	}
	if entry != nil {
		for field, value := range rec.Payload {
			entry[field] = value
		}
	}

	if time.Since(w.windowStart) >= w.interval {
		w.flushLocked(ctx)
	}
}

// flushLocked emits every merged entry in first-observation order, then
// clears the window. Entries with an empty merged payload are cleared
// without being forwarded or republished. Caller holds w.mu.
func (w *JoinWindow) flushLocked(ctx context.Context) {
	for _, keyVal := range w.order {
		payload := w.merged[keyVal]
		if len(payload) == 0 {
			continue
		}

		if err := w.sender.Send(event.EventJoined, payload); err != nil {
			w.logger.Warn("Join flush to session failed",
				"component", "join-window", "key", keyVal, "error", err)
		}

		rec := event.NewRecord(w.destTopic, mergedRecordType, w.clientName, payload)
		if err := w.publisher.PublishRecord(ctx, w.destTopic, rec); err != nil {
			w.logger.Error("Join flush republish failed",
				"component", "join-window", "topic", w.destTopic, "error", err)
		}
	}

	if w.metrics != nil {
		w.metrics.WindowFlushes.WithLabelValues("join").Inc()
	}

	w.merged = make(map[string]map[string]any)
	w.order = nil
	w.windowStart = time.Now()
}
