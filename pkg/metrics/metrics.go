package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the stock service collectors. A nil *Metrics is valid and
// records nothing, which keeps tests and tools free of registry setup.
type Metrics struct {
	serviceName string
	registry    *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Store metrics
	StoreOperations        *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	UnitsOfWork            *prometheus.CounterVec

	// Allocation metrics
	AllocationsTotal   *prometheus.CounterVec
	AllocationDuration *prometheus.HistogramVec
	UnitsAllocated     *prometheus.CounterVec
	TransfersTotal     *prometheus.CounterVec
	Compensations      *prometheus.CounterVec
	ShortagesRecorded  *prometheus.CounterVec
	UnitsShort         *prometheus.CounterVec
	DecisionsTotal     *prometheus.CounterVec
	LockWaitDuration   *prometheus.HistogramVec

	// Outbox and broker metrics
	OutboxPending        prometheus.Gauge
	OutboxPublished      *prometheus.CounterVec
	OutboxPublishLatency *prometheus.HistogramVec
	OutboxRetries        *prometheus.CounterVec

	// Temporal metrics
	WorkflowsStarted *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// Config holds metrics configuration
type Config struct {
	ServiceName string
	Namespace   string
}

// DefaultConfig returns default metrics configuration
func DefaultConfig(serviceName string) *Config {
	return &Config{
		ServiceName: serviceName,
		Namespace:   "pos",
	}
}

var latencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// New creates a new Metrics instance
func New(config *Config) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ns := config.Namespace
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, append([]string{"service"}, labels...))
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: latencyBuckets}, append([]string{"service"}, labels...))
	}

	m := &Metrics{
		serviceName: config.ServiceName,
		registry:    registry,

		HTTPRequestsTotal:   counter("http_requests_total", "Total number of HTTP requests", "method", "path", "status"),
		HTTPRequestDuration: histogram("http_request_duration_seconds", "HTTP request duration in seconds", "method", "path"),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		}),

		StoreOperations:        counter("store_operations_total", "Stock store calls by backend and outcome", "backend", "operation", "status"),
		StoreOperationDuration: histogram("store_operation_duration_seconds", "Stock store call latency", "backend", "operation"),
		UnitsOfWork:            counter("units_of_work_total", "Units of work by outcome", "outcome"),

		AllocationsTotal:   counter("allocations_total", "Allocation requests by outcome", "outcome"),
		AllocationDuration: histogram("allocation_duration_seconds", "Time to resolve an allocation request", "outcome"),
		UnitsAllocated:     counter("units_allocated_total", "Units deducted for sales", "product"),
		TransfersTotal:     counter("transfers_total", "Stock transfers between tiers", "from", "to", "status"),
		Compensations:      counter("transfer_compensations_total", "Transfer legs undone after a later failure", "status"),
		ShortagesRecorded:  counter("shortages_recorded_total", "Shortage events recorded", "product"),
		UnitsShort:         counter("units_short_total", "Units requested but not available in any tier", "product"),
		DecisionsTotal:     counter("decisions_total", "Operator decisions by prompt kind", "kind", "answer"),
		LockWaitDuration:   histogram("product_lock_wait_seconds", "Time spent waiting for a per-product lock", "backend"),

		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Name:        "outbox_pending_events",
			Help:        "Unpublished events seen by the last outbox poll",
			ConstLabels: prometheus.Labels{"service": config.ServiceName},
		}),
		OutboxPublished:      counter("outbox_published_total", "Outbox events relayed to the broker", "event_type", "status"),
		OutboxPublishLatency: histogram("outbox_publish_duration_seconds", "Outbox relay latency", "event_type"),
		OutboxRetries:        counter("outbox_retries_total", "Outbox publish retries", "event_type"),

		WorkflowsStarted: counter("workflows_started_total", "Temporal workflows started", "workflow_type", "status"),

		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"service", "name"}),
		CircuitBreakerTrips: counter("circuit_breaker_trips_total", "Circuit breaker trips to open", "name"),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.StoreOperations,
		m.StoreOperationDuration,
		m.UnitsOfWork,
		m.AllocationsTotal,
		m.AllocationDuration,
		m.UnitsAllocated,
		m.TransfersTotal,
		m.Compensations,
		m.ShortagesRecorded,
		m.UnitsShort,
		m.DecisionsTotal,
		m.LockWaitDuration,
		m.OutboxPending,
		m.OutboxPublished,
		m.OutboxPublishLatency,
		m.OutboxRetries,
		m.WorkflowsStarted,
		m.CircuitBreakerState,
		m.CircuitBreakerTrips,
	)

	return m
}

// Handler returns an HTTP handler for metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(m.serviceName, method, path, strconv.Itoa(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(m.serviceName, method, path).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments in-flight requests
func (m *Metrics) IncrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Inc()
}

// DecrementHTTPRequestsInFlight decrements in-flight requests
func (m *Metrics) DecrementHTTPRequestsInFlight() {
	if m == nil {
		return
	}
	m.HTTPRequestsInFlight.Dec()
}

// RecordStoreOperation records one call against a stock store backend
func (m *Metrics) RecordStoreOperation(backend, operation string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(m.serviceName, backend, operation, status(success)).Inc()
	m.StoreOperationDuration.WithLabelValues(m.serviceName, backend, operation).Observe(duration.Seconds())
}

// RecordUnitOfWork records a finished unit of work: committed, rolled_back or failed
func (m *Metrics) RecordUnitOfWork(outcome string) {
	if m == nil {
		return
	}
	m.UnitsOfWork.WithLabelValues(m.serviceName, outcome).Inc()
}

// RecordAllocation records a resolved allocation request
func (m *Metrics) RecordAllocation(productCode, outcome string, fulfilled int, duration time.Duration) {
	if m == nil {
		return
	}
	m.AllocationsTotal.WithLabelValues(m.serviceName, outcome).Inc()
	m.AllocationDuration.WithLabelValues(m.serviceName, outcome).Observe(duration.Seconds())
	if fulfilled > 0 {
		m.UnitsAllocated.WithLabelValues(m.serviceName, productCode).Add(float64(fulfilled))
	}
}

// RecordTransfer records a transfer leg between tiers
func (m *Metrics) RecordTransfer(from, to string, success bool) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(m.serviceName, from, to, status(success)).Inc()
}

// RecordCompensation records an undone transfer leg
func (m *Metrics) RecordCompensation(success bool) {
	if m == nil {
		return
	}
	m.Compensations.WithLabelValues(m.serviceName, status(success)).Inc()
}

// RecordShortage records a shortage event and the units that were missing
func (m *Metrics) RecordShortage(productCode string, missing int) {
	if m == nil {
		return
	}
	m.ShortagesRecorded.WithLabelValues(m.serviceName, productCode).Inc()
	m.UnitsShort.WithLabelValues(m.serviceName, productCode).Add(float64(missing))
}

// RecordDecision records an operator answer to a prompt
func (m *Metrics) RecordDecision(kind string, approved bool) {
	if m == nil {
		return
	}
	answer := "declined"
	if approved {
		answer = "approved"
	}
	m.DecisionsTotal.WithLabelValues(m.serviceName, kind, answer).Inc()
}

// RecordLockWait records the time spent acquiring a per-product lock
func (m *Metrics) RecordLockWait(backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LockWaitDuration.WithLabelValues(m.serviceName, backend).Observe(duration.Seconds())
}

// SetOutboxPending sets the number of pending outbox events
func (m *Metrics) SetOutboxPending(count int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(count))
}

// RecordOutboxPublish records an outbox relay attempt
func (m *Metrics) RecordOutboxPublish(eventType string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(m.serviceName, eventType, status(success)).Inc()
	m.OutboxPublishLatency.WithLabelValues(m.serviceName, eventType).Observe(duration.Seconds())
}

// RecordOutboxRetry records an outbox retry
func (m *Metrics) RecordOutboxRetry(eventType string) {
	if m == nil {
		return
	}
	m.OutboxRetries.WithLabelValues(m.serviceName, eventType).Inc()
}

// RecordWorkflowStarted records a workflow start attempt
func (m *Metrics) RecordWorkflowStarted(workflowType string, success bool) {
	if m == nil {
		return
	}
	m.WorkflowsStarted.WithLabelValues(m.serviceName, workflowType, status(success)).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state
func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(m.serviceName, name).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(name string) {
	if m == nil {
		return
	}
	m.CircuitBreakerTrips.WithLabelValues(m.serviceName, name).Inc()
}
