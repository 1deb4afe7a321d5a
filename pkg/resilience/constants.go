package resilience

import "time"

// Breaker defaults tuned for the outbox sinks. A tripped sink leaves events
// pending, so the breaker can stay open longer than a request path would.
const (
	DefaultMaxRequests           uint32        = 2
	DefaultInterval              time.Duration = 2 * time.Minute
	DefaultTimeout               time.Duration = 20 * time.Second
	DefaultFailureThreshold      uint32        = 5
	DefaultFailureRatioThreshold float64       = 0.6
	DefaultMinRequestsToTrip     uint32        = 20
)

// Dial retry defaults, used while brokers start alongside the service.
const (
	DefaultRetryMaxAttempts   int           = 5
	DefaultRetryInitialDelay  time.Duration = 500 * time.Millisecond
	DefaultRetryMaxDelay      time.Duration = 8 * time.Second
	DefaultRetryBackoffFactor float64       = 2.0
)

// WorkflowStarterConfig trips faster than the sink defaults: a failed start
// happens on the request path of whoever recorded the shortage.
func WorkflowStarterConfig(name string) *CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig(name)
	cfg.FailureThreshold = 3
	cfg.Timeout = 10 * time.Second
	cfg.MinRequestsToTrip = 0
	return cfg
}
