// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/R3E-Network/universal-registry/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Propagation engine metrics
	PropagationHopsTotal    *prometheus.CounterVec
	PropagationHopDuration  *prometheus.HistogramVec

	// Subscription bus metrics
	SubscriptionEventsTotal *prometheus.CounterVec
	SubscriptionDropsTotal  *prometheus.CounterVec
	SubscribersActive       prometheus.Gauge

	// Streaming engine metrics
	StreamsActive prometheus.Gauge

	// Hot-swap manager metrics
	HotSwapTransitionsTotal *prometheus.CounterVec

	// Integration bridge metrics
	BridgeReconcileTotal     *prometheus.CounterVec
	BridgeSyncedComponents   prometheus.Gauge

	// Database metrics
	DatabaseQueriesTotal    *prometheus.CounterVec
	DatabaseQueryDuration   *prometheus.HistogramVec
	DatabaseConnectionsOpen prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		// Error metrics
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		// Propagation engine metrics
		PropagationHopsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "propagation_hops_total",
				Help: "Total number of propagation hops executed, by mode and outcome",
			},
			[]string{"service", "mode", "status"},
		),
		PropagationHopDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "propagation_hop_duration_seconds",
				Help:    "Propagation hop duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "mode"},
		),

		// Subscription bus metrics
		SubscriptionEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_bus_events_total",
				Help: "Total number of change events published on the subscription bus",
			},
			[]string{"service", "kind"},
		),
		SubscriptionDropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscription_bus_dropped_total",
				Help: "Total number of deliveries dropped due to a full subscriber inbox",
			},
			[]string{"service"},
		),
		SubscribersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subscription_bus_subscribers",
				Help: "Current number of active subscription bus subscribers",
			},
		),

		// Streaming engine metrics
		StreamsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "streaming_streams_active",
				Help: "Current number of active streams",
			},
		),

		// Hot-swap manager metrics
		HotSwapTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hotswap_transitions_total",
				Help: "Total number of hot-swap transitions, by outcome",
			},
			[]string{"service", "outcome"},
		),

		// Integration bridge metrics
		BridgeReconcileTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_reconcile_total",
				Help: "Total number of integration bridge reconciliation actions, by outcome",
			},
			[]string{"service", "action"},
		),
		BridgeSyncedComponents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_synced_components",
				Help: "Current number of externally-discovered components mapped into the registry",
			},
		),

		// Database metrics
		DatabaseQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"service", "operation", "status"},
		),
		DatabaseQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "database_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"service", "operation"},
		),
		DatabaseConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "database_connections_open",
				Help: "Current number of open database connections",
			},
		),

		// Service health
		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	// Register all collectors
	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.PropagationHopsTotal,
			m.PropagationHopDuration,
			m.SubscriptionEventsTotal,
			m.SubscriptionDropsTotal,
			m.SubscribersActive,
			m.StreamsActive,
			m.HotSwapTransitionsTotal,
			m.BridgeReconcileTotal,
			m.BridgeSyncedComponents,
			m.DatabaseQueriesTotal,
			m.DatabaseQueryDuration,
			m.DatabaseConnectionsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	// Set service info
	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordPropagationHop records one hop of a propagation session.
func (m *Metrics) RecordPropagationHop(service, mode, status string, duration time.Duration) {
	m.PropagationHopsTotal.WithLabelValues(service, mode, status).Inc()
	m.PropagationHopDuration.WithLabelValues(service, mode).Observe(duration.Seconds())
}

// RecordSubscriptionEvent records a change event published on the bus.
func (m *Metrics) RecordSubscriptionEvent(service, kind string) {
	m.SubscriptionEventsTotal.WithLabelValues(service, kind).Inc()
}

// RecordSubscriptionDrop records a dropped delivery due to a full inbox.
func (m *Metrics) RecordSubscriptionDrop(service string) {
	m.SubscriptionDropsTotal.WithLabelValues(service).Inc()
}

// SetSubscribersActive sets the current subscriber count.
func (m *Metrics) SetSubscribersActive(count int) {
	m.SubscribersActive.Set(float64(count))
}

// SetStreamsActive sets the current active stream count.
func (m *Metrics) SetStreamsActive(count int) {
	m.StreamsActive.Set(float64(count))
}

// RecordHotSwapTransition records the terminal outcome of a hot-swap.
func (m *Metrics) RecordHotSwapTransition(service, outcome string) {
	m.HotSwapTransitionsTotal.WithLabelValues(service, outcome).Inc()
}

// RecordBridgeReconcile records one reconciliation action (register, update,
// expire) taken by the integration bridge.
func (m *Metrics) RecordBridgeReconcile(service, action string) {
	m.BridgeReconcileTotal.WithLabelValues(service, action).Inc()
}

// SetBridgeSyncedComponents sets the current count of bridge-mapped components.
func (m *Metrics) SetBridgeSyncedComponents(count int) {
	m.BridgeSyncedComponents.Set(float64(count))
}

// RecordDatabaseQuery records a database query
func (m *Metrics) RecordDatabaseQuery(service, operation, status string, duration time.Duration) {
	m.DatabaseQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// SetDatabaseConnections sets the number of open database connections
func (m *Metrics) SetDatabaseConnections(count int) {
	m.DatabaseConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
