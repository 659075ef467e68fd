// Package health provides the health reporting surface: per-dependency
// status checks aggregated into one JSON endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Status values reported for a component or the whole service.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Status represents the health state of a component or system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true if the status is healthy.
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is degraded.
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// Healthy builds a healthy status for a component.
func Healthy(component string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
}

// Unhealthy builds an unhealthy status carrying a short reason. Callers
// should not put connection strings or paths in the message; it is served
// to anything that can reach the endpoint.
func Unhealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    StatusUnhealthy,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Checker reports the health of one dependency.
type Checker interface {
	Health() Status
}

// CheckFunc adapts a function to the Checker interface.
type CheckFunc func() Status

// Health implements Checker.
func (f CheckFunc) Health() Status {
	return f()
}

// Aggregate combines dependency checks into a service-level status:
// healthy when every check passes, degraded when some pass, unhealthy
// when none do.
func Aggregate(component string, checks ...Checker) Status {
	status := Status{
		Component: component,
		Timestamp: time.Now(),
	}

	healthy := 0
	for _, check := range checks {
		sub := check.Health()
		status.SubStatuses = append(status.SubStatuses, sub)
		if sub.Healthy {
			healthy++
		}
	}

	switch {
	case len(checks) == 0 || healthy == len(checks):
		status.Healthy = true
		status.Status = StatusHealthy
	case healthy > 0:
		status.Status = StatusDegraded
	default:
		status.Status = StatusUnhealthy
	}
	return status
}

// Handler serves the aggregated status as JSON. Healthy and degraded
// answer 200 so partial outages keep the process in rotation; unhealthy
// answers 503.
func Handler(component string, checks ...Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := Aggregate(component, checks...)

		code := http.StatusOK
		if !status.Healthy && !status.IsDegraded() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
