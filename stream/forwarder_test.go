package stream

import (
	"context"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/filter"
)

func TestForwarder(t *testing.T) {
	t.Run("forwards raw records in arrival order", func(t *testing.T) {
		log := newFakeLog()
		sender := &fakeSender{}
		fwd := NewForwarder([]string{"sensors"}, sender, slog.Default(), nil)
		require.NoError(t, fwd.Start(context.Background(), log))
		defer fwd.Stop()

		log.emit(t, "sensors", event.NewRecord("sensors", "reading", "p1", map[string]any{"cpu": 10.0}))
		log.emit(t, "sensors", event.NewRecord("sensors", "reading", "p1", map[string]any{"cpu": 20.0}))

		msgs := sender.messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, event.EventRaw, msgs[0].event)
		first := msgs[0].payload.(event.Record)
		second := msgs[1].payload.(event.Record)
		assert.Equal(t, 10.0, first.Payload["cpu"])
		assert.Equal(t, 20.0, second.Payload["cpu"])
	})

	t.Run("consumes from the beginning of the stream", func(t *testing.T) {
		log := newFakeLog()
		fwd := NewForwarder([]string{"sensors"}, &fakeSender{}, slog.Default(), nil)
		require.NoError(t, fwd.Start(context.Background(), log))
		defer fwd.Stop()

		assert.Equal(t, jetstream.DeliverAllPolicy, log.policies["sensors"])
	})

	t.Run("drops undecodable messages", func(t *testing.T) {
		log := newFakeLog()
		sender := &fakeSender{}
		fwd := NewForwarder([]string{"sensors"}, sender, slog.Default(), nil)
		require.NoError(t, fwd.Start(context.Background(), log))
		defer fwd.Stop()

		log.emitRaw("sensors", []byte("not json"))
		assert.Empty(t, sender.messages())
	})

	t.Run("stop releases one consumer per topic", func(t *testing.T) {
		log := newFakeLog()
		fwd := NewForwarder([]string{"a", "b"}, &fakeSender{}, slog.Default(), nil)
		require.NoError(t, fwd.Start(context.Background(), log))

		fwd.Stop()
		assert.Equal(t, 2, log.stopCount())
	})
}

func TestFilteredForwarder(t *testing.T) {
	spec := filter.Spec{
		Conditions: []filter.Condition{{Key: "cpu", Op: filter.OpGreater, Value: "50"}},
		Combinator: filter.CombinatorAnd,
	}

	t.Run("replays history then filters live records", func(t *testing.T) {
		log := newFakeLog()
		sender := &fakeSender{}
		history := &fakeHistory{records: []event.Record{
			event.NewRecord("sensors", "reading", "p1", map[string]any{"cpu": 90.0}),
		}}

		fwd := NewFilteredForwarder([]string{"sensors"}, spec, sender, slog.Default(), nil)
		require.NoError(t, fwd.Start(context.Background(), log, history))
		defer fwd.Stop()

		log.emit(t, "sensors", event.NewRecord("sensors", "reading", "p1", map[string]any{"cpu": 75.0}))
		log.emit(t, "sensors", event.NewRecord("sensors", "reading", "p1", map[string]any{"cpu": 25.0}))

		msgs := sender.messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, event.EventFiltered, msgs[0].event)
		assert.Equal(t, 90.0, msgs[0].payload.(event.Record).Payload["cpu"])
		assert.Equal(t, 75.0, msgs[1].payload.(event.Record).Payload["cpu"])
	})

	t.Run("live phase starts at new records only", func(t *testing.T) {
		log := newFakeLog()
		fwd := NewFilteredForwarder([]string{"sensors"}, spec, &fakeSender{}, slog.Default(), nil)
		require.NoError(t, fwd.Start(context.Background(), log, &fakeHistory{}))
		defer fwd.Stop()

		assert.Equal(t, jetstream.DeliverNewPolicy, log.policies["sensors"])
	})

	t.Run("live consumers attach before the replay runs", func(t *testing.T) {
		log := newFakeLog()
		sender := &fakeSender{}
		history := &fakeHistory{}
		history.onReplay = func() {
			// A record published while the catch-up query runs must
			// already have a live consumer to land on.
			_, attached := log.handlers["sensors"]
			assert.True(t, attached)
		}

		fwd := NewFilteredForwarder([]string{"sensors"}, spec, sender, slog.Default(), nil)
		require.NoError(t, fwd.Start(context.Background(), log, history))
		fwd.Stop()
	})

	t.Run("missing key never matches", func(t *testing.T) {
		log := newFakeLog()
		sender := &fakeSender{}
		fwd := NewFilteredForwarder([]string{"sensors"}, spec, sender, slog.Default(), nil)
		require.NoError(t, fwd.Start(context.Background(), log, nil))
		defer fwd.Stop()

		log.emit(t, "sensors", event.NewRecord("sensors", "reading", "p1", map[string]any{"memory": 99.0}))
		assert.Empty(t, sender.messages())
	})

	t.Run("catch-up failure still starts the live phase", func(t *testing.T) {
		log := newFakeLog()
		sender := &fakeSender{}
		history := &fakeHistory{replayErr: assert.AnError}

		fwd := NewFilteredForwarder([]string{"sensors"}, spec, sender, slog.Default(), nil)
		require.NoError(t, fwd.Start(context.Background(), log, history))
		defer fwd.Stop()

		log.emit(t, "sensors", event.NewRecord("sensors", "reading", "p1", map[string]any{"cpu": 80.0}))
		assert.Len(t, sender.messages(), 1)
	})
}
