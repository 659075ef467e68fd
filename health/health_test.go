package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyCheck(name string) Checker {
	return CheckFunc(func() Status { return Healthy(name) })
}

func unhealthyCheck(name, msg string) Checker {
	return CheckFunc(func() Status { return Unhealthy(name, msg) })
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name       string
		checks     []Checker
		wantStatus string
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []Checker{healthyCheck("a"), healthyCheck("b")}, StatusHealthy},
		{"partial", []Checker{healthyCheck("a"), unhealthyCheck("b", "down")}, StatusDegraded},
		{"all down", []Checker{unhealthyCheck("a", "down")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := Aggregate("svc", tt.checks...)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantStatus == StatusHealthy, status.Healthy)
			assert.Len(t, status.SubStatuses, len(tt.checks))
		})
	}
}

func TestHandler(t *testing.T) {
	t.Run("healthy answers 200", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Handler("svc", healthyCheck("nats")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)

		var status Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		assert.Equal(t, "svc", status.Component)
		assert.True(t, status.Healthy)
	})

	t.Run("degraded stays in rotation", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Handler("svc", healthyCheck("nats"), unhealthyCheck("store", "closed")).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unhealthy answers 503", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Handler("svc", unhealthyCheck("nats", "circuit open")).
			ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
