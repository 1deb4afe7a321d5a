package outbox

import (
	"context"

	"github.com/pos-platform/stock-service/pkg/cloudevents"
	"github.com/pos-platform/stock-service/pkg/resilience"
)

// CircuitBreakerSink fails fast while the broker is unhealthy; rejected
// events stay in the outbox and are retried on a later poll.
type CircuitBreakerSink struct {
	sink    Sink
	breaker *resilience.CircuitBreaker
}

func NewCircuitBreakerSink(sink Sink, breaker *resilience.CircuitBreaker) *CircuitBreakerSink {
	return &CircuitBreakerSink{sink: sink, breaker: breaker}
}

func (s *CircuitBreakerSink) PublishEvent(ctx context.Context, destination string, event *cloudevents.POSCloudEvent) error {
	return s.breaker.Execute(ctx, func() error {
		return s.sink.PublishEvent(ctx, destination, event)
	})
}

// Breaker exposes the breaker for readiness reporting.
func (s *CircuitBreakerSink) Breaker() *resilience.CircuitBreaker {
	return s.breaker
}
