// Package resilience guards calls to brokers and Temporal with circuit
// breakers and retries dials with backoff.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
)

var (
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe quota is used up.
	ErrTooManyRequests = errors.New("circuit breaker: too many requests")
)

type CircuitBreakerConfig struct {
	Name        string        `yaml:"name"`
	MaxRequests uint32        `yaml:"maxRequests"` // probes allowed while half-open
	Interval    time.Duration `yaml:"interval"`    // closed-state count reset period, 0 = never
	Timeout     time.Duration `yaml:"timeout"`     // open -> half-open delay
	// The breaker trips on FailureThreshold consecutive failures, or once
	// MinRequestsToTrip requests have been seen with at least
	// FailureRatioThreshold of them failing. MinRequestsToTrip 0 disables
	// the ratio rule.
	FailureThreshold      uint32  `yaml:"failureThreshold"`
	FailureRatioThreshold float64 `yaml:"failureRatioThreshold"`
	MinRequestsToTrip     uint32  `yaml:"minRequestsToTrip"`
}

func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:                  name,
		MaxRequests:           DefaultMaxRequests,
		Interval:              DefaultInterval,
		Timeout:               DefaultTimeout,
		FailureThreshold:      DefaultFailureThreshold,
		FailureRatioThreshold: DefaultFailureRatioThreshold,
		MinRequestsToTrip:     DefaultMinRequestsToTrip,
	}
}

func (cfg *CircuitBreakerConfig) readyToTrip(counts gobreaker.Counts) bool {
	if counts.ConsecutiveFailures >= cfg.FailureThreshold {
		return true
	}
	if cfg.MinRequestsToTrip == 0 || counts.Requests < cfg.MinRequestsToTrip {
		return false
	}
	return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatioThreshold
}

// CircuitBreaker wraps gobreaker, reporting state changes to the logs and to
// the circuit breaker gauges.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *logging.Logger
}

// NewCircuitBreaker creates a breaker. m may be nil.
func NewCircuitBreaker(config *CircuitBreakerConfig, logger *logging.Logger, m *metrics.Metrics) *CircuitBreaker {
	logger = logger.WithComponent("circuit-breaker")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: config.readyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			m.SetCircuitBreakerState(name, int(to))
			if to == gobreaker.StateOpen {
				m.RecordCircuitBreakerTrip(name)
			}
		},
	})
	m.SetCircuitBreakerState(config.Name, int(gobreaker.StateClosed))

	return &CircuitBreaker{cb: cb, name: config.Name, logger: logger}
}

// Execute runs fn through the breaker. Rejections wrap ErrCircuitOpen or
// ErrTooManyRequests; fn's own error is returned unchanged. A cancelled ctx
// skips fn and is not counted against the breaker.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		c.logger.Debug("Call rejected by open circuit", "name", c.name)
		return fmt.Errorf("%s: %w", c.name, ErrCircuitOpen)
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Debug("Call rejected while half-open", "name", c.name)
		return fmt.Errorf("%s: %w", c.name, ErrTooManyRequests)
	}
	return err
}

func (c *CircuitBreaker) State() gobreaker.State {
	return c.cb.State()
}

func (c *CircuitBreaker) Counts() gobreaker.Counts {
	return c.cb.Counts()
}

// CircuitBreakerStatus is a JSON-friendly snapshot of a breaker.
type CircuitBreakerStatus struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	Requests            uint32 `json:"requests"`
	TotalFailures       uint32 `json:"totalFailures"`
	ConsecutiveFailures uint32 `json:"consecutiveFailures"`
}

func (c *CircuitBreaker) Status() CircuitBreakerStatus {
	counts := c.cb.Counts()
	return CircuitBreakerStatus{
		Name:                c.name,
		State:               c.cb.State().String(),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
	}
}

// RetryConfig controls Retry.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(error) bool
}

// DefaultRetryConfig retries everything except an open circuit.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   DefaultRetryMaxAttempts,
		InitialDelay:  DefaultRetryInitialDelay,
		MaxDelay:      DefaultRetryMaxDelay,
		BackoffFactor: DefaultRetryBackoffFactor,
		Retryable: func(err error) bool {
			return !errors.Is(err, ErrCircuitOpen)
		},
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. It does not sleep after the last attempt.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if config.Retryable != nil && !config.Retryable(lastErr) {
			return lastErr
		}
		if attempt == config.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(time.Duration(float64(delay)*config.BackoffFactor), config.MaxDelay)
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxAttempts, lastErr)
}
