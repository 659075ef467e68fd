package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/filter"
)

// fakeLog captures consumers per topic and lets tests inject records.
type fakeLog struct {
	mu         sync.Mutex
	handlers   map[string][]func([]byte)
	policies   map[string]jetstream.DeliverPolicy
	stopped    int
	consumeErr error
}

func newFakeLog() *fakeLog {
	return &fakeLog{
		handlers: map[string][]func([]byte){},
		policies: map[string]jetstream.DeliverPolicy{},
	}
}

func (f *fakeLog) OrderedConsume(
	_ context.Context, streamName string, policy jetstream.DeliverPolicy, handler func([]byte),
) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	f.handlers[streamName] = append(f.handlers[streamName], handler)
	f.policies[streamName] = policy
	return func() {
		f.mu.Lock()
		f.stopped++
		f.mu.Unlock()
	}, nil
}

func (f *fakeLog) emit(t *testing.T, topic string, rec event.Record) {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	f.mu.Lock()
	handlers := append([]func([]byte){}, f.handlers[topic]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

func (f *fakeLog) emitRaw(topic string, data []byte) {
	f.mu.Lock()
	handlers := append([]func([]byte){}, f.handlers[topic]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

func (f *fakeLog) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// fakeSender records everything sent to the session.
type fakeSender struct {
	mu      sync.Mutex
	sendErr error
	sent    []sentMessage
}

type sentMessage struct {
	event   string
	payload any
}

func (f *fakeSender) Send(eventName string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{event: eventName, payload: payload})
	return nil
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage{}, f.sent...)
}

// fakeHistory replays a fixed record list, ignoring the filter Spec.
type fakeHistory struct {
	records   []event.Record
	replayErr error
	onReplay  func()
}

func (f *fakeHistory) Replay(_ context.Context, _ []string, _ filter.Spec, fn func(event.Record) error) error {
	if f.onReplay != nil {
		f.onReplay()
	}
	if f.replayErr != nil {
		return f.replayErr
	}
	for _, rec := range f.records {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// fakePublisher records gateway traffic.
type fakePublisher struct {
	mu           sync.Mutex
	provisionErr error
	publishErr   error
	provisioned  []string
	published    []event.Record
}

func (f *fakePublisher) Provision(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provisionErr != nil {
		return f.provisionErr
	}
	f.provisioned = append(f.provisioned, name)
	return nil
}

func (f *fakePublisher) Publish(_ context.Context, boundTopic string, req event.PushEvent, clientName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, event.NewRecord(req.Topic, req.Type, clientName, req.Payload))
	return nil
}

func (f *fakePublisher) PublishRecord(_ context.Context, _ string, rec event.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, rec)
	return nil
}

func (f *fakePublisher) records() []event.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Record{}, f.published...)
}
