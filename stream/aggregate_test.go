package stream

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/registry"
)

func newTestAggregateWindow(keys []string, target string, sessions *registry.Registry) *AggregateWindow {
	return NewAggregateWindow(keys, target, time.Hour, sessions, slog.Default(), nil)
}

func record(payload map[string]any) event.Record {
	return event.NewRecord("sensors", "reading", "p1", payload)
}

func TestAggregateWindow_SumsTrackedFields(t *testing.T) {
	sessions := registry.New()
	target := &fakeSender{}
	sessions.Register("dashboard", target)

	w := newTestAggregateWindow([]string{"cpu"}, "dashboard", sessions)
	w.Observe(record(map[string]any{"cpu": 10.0}))
	w.Observe(record(map[string]any{"cpu": 20.0}))
	w.Observe(record(map[string]any{"cpu": 30.0}))
	w.flush()

	msgs := target.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, event.EventAggregated, msgs[0].event)
	sums := msgs[0].payload.(map[string]float64)
	assert.Equal(t, 60.0, sums["cpu"])
}

func TestAggregateWindow_FlushResetsSums(t *testing.T) {
	sessions := registry.New()
	target := &fakeSender{}
	sessions.Register("dashboard", target)

	w := newTestAggregateWindow([]string{"cpu"}, "dashboard", sessions)
	w.Observe(record(map[string]any{"cpu": 10.0}))
	w.flush()

	w.Observe(record(map[string]any{"cpu": 5.0}))
	w.flush()

	msgs := target.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, 5.0, msgs[1].payload.(map[string]float64)["cpu"])
}

func TestAggregateWindow_UnknownTargetKeepsSums(t *testing.T) {
	sessions := registry.New()
	w := newTestAggregateWindow([]string{"cpu"}, "dashboard", sessions)

	w.Observe(record(map[string]any{"cpu": 10.0}))
	w.flush() // target absent, flush skipped

	target := &fakeSender{}
	sessions.Register("dashboard", target)
	w.Observe(record(map[string]any{"cpu": 20.0}))
	w.flush()

	msgs := target.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, 30.0, msgs[0].payload.(map[string]float64)["cpu"])
}

func TestAggregateWindow_IgnoresUntrackedAndNonNumeric(t *testing.T) {
	sessions := registry.New()
	target := &fakeSender{}
	sessions.Register("dashboard", target)

	w := newTestAggregateWindow([]string{"cpu", "memory"}, "dashboard", sessions)
	w.Observe(record(map[string]any{"cpu": 10.0, "disk": 99.0, "memory": "not a number"}))
	w.flush()

	sums := target.messages()[0].payload.(map[string]float64)
	assert.Equal(t, 10.0, sums["cpu"])
	assert.NotContains(t, sums, "memory")
	assert.NotContains(t, sums, "disk")
}

func TestAggregateWindow_TickerDrivesFlush(t *testing.T) {
	sessions := registry.New()
	target := &fakeSender{}
	sessions.Register("dashboard", target)

	w := NewAggregateWindow([]string{"cpu"}, "dashboard", 10*time.Millisecond, sessions, slog.Default(), nil)
	w.Observe(record(map[string]any{"cpu": 42.0}))
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		return len(target.messages()) > 0
	}, time.Second, 5*time.Millisecond)

	sums := target.messages()[0].payload.(map[string]float64)
	assert.Equal(t, 42.0, sums["cpu"])
}

func TestNumericValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float64", 12.5, 12.5, true},
		{"int", 7, 7, true},
		{"numeric string", "3.5", 3.5, true},
		{"non-numeric string", "hot", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := numericValue(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
