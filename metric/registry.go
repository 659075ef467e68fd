// Package metric manages Prometheus metric registration for the event
// streamer. Components receive the registry as an optional dependency:
// a nil registry means a component runs without metrics.
package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/thinkerajay/event-streamer-service/errors"
)

// MetricsRegistry manages the registration and lifecycle of metrics
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	Core               *CoreMetrics
	registeredMetrics  map[string]prometheus.Collector
	mu                 sync.RWMutex
}

// CoreMetrics holds the platform-wide metrics every deployment exposes.
type CoreMetrics struct {
	SessionsActive   prometheus.Gauge
	SessionsTotal    *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec
	RecordsForwarded *prometheus.CounterVec
	WindowFlushes    *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	StoreWriteErrors prometheus.Counter
	NATSConnected    prometheus.Gauge
}

// newCoreMetrics builds the core metric set.
func newCoreMetrics() *CoreMetrics {
	return &CoreMetrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventstreamer",
			Name:      "sessions_active",
			Help:      "Number of currently connected client sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventstreamer",
			Name:      "sessions_total",
			Help:      "Total client sessions by kind",
		}, []string{"kind"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventstreamer",
			Name:      "events_published_total",
			Help:      "Events appended to topics",
		}, []string{"topic"}),
		RecordsForwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventstreamer",
			Name:      "records_forwarded_total",
			Help:      "Records forwarded to client sessions by transform",
		}, []string{"transform"}),
		WindowFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventstreamer",
			Name:      "window_flushes_total",
			Help:      "Join and aggregation window flushes",
		}, []string{"window"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventstreamer",
			Name:      "messages_dropped_total",
			Help:      "Inbound messages dropped by reason",
		}, []string{"reason"}),
		StoreWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventstreamer",
			Name:      "store_write_errors_total",
			Help:      "Snapshot store write failures",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventstreamer",
			Name:      "nats_connected",
			Help:      "Whether the NATS connection is healthy (1) or not (0)",
		}),
	}
}

// NewMetricsRegistry creates a new metrics registry with core metrics
// and Go runtime collectors.
func NewMetricsRegistry() *MetricsRegistry {
	prometheusRegistry := prometheus.NewRegistry()

	registry := &MetricsRegistry{
		prometheusRegistry: prometheusRegistry,
		Core:               newCoreMetrics(),
		registeredMetrics:  make(map[string]prometheus.Collector),
	}

	prometheusRegistry.MustRegister(
		registry.Core.SessionsActive,
		registry.Core.SessionsTotal,
		registry.Core.EventsPublished,
		registry.Core.RecordsForwarded,
		registry.Core.WindowFlushes,
		registry.Core.MessagesDropped,
		registry.Core.StoreWriteErrors,
		registry.Core.NATSConnected,
	)

	prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Register registers a component-specific collector under a unique
// service.metric key.
func (r *MetricsRegistry) Register(serviceName, metricName string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", serviceName, metricName)

	if _, exists := r.registeredMetrics[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for service %s", metricName, serviceName),
			"MetricsRegistry", "Register", "duplicate metric registration")
	}

	if err := r.prometheusRegistry.Register(collector); err != nil {
		var alreadyRegErr prometheus.AlreadyRegisteredError
		if stderrors.As(err, &alreadyRegErr) {
			return errors.WrapInvalid(err, "MetricsRegistry", "Register",
				fmt.Sprintf("prometheus conflict for metric %s", metricName))
		}
		return errors.WrapFatal(err, "MetricsRegistry", "Register",
			"register collector with prometheus")
	}

	r.registeredMetrics[key] = collector
	return nil
}

// Unregister removes a metric from the registry
func (r *MetricsRegistry) Unregister(serviceName, metricName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", serviceName, metricName)

	collector, exists := r.registeredMetrics[key]
	if !exists {
		return false
	}

	success := r.prometheusRegistry.Unregister(collector)
	if success {
		delete(r.registeredMetrics, key)
	}

	return success
}
