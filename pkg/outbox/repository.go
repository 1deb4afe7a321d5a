package outbox

import (
	"context"
	"time"

	"github.com/pos-platform/stock-service/pkg/cloudevents"
)

// Repository defines the interface for outbox event persistence
type Repository interface {
	// Save stores an outbox event. Implementations join the caller's
	// transaction when ctx carries one.
	Save(ctx context.Context, event *Event) error

	// FindUnpublished returns retryable unpublished events, oldest first
	FindUnpublished(ctx context.Context, limit int) ([]*Event, error)

	// MarkPublished marks an event as published
	MarkPublished(ctx context.Context, eventID string) error

	// IncrementRetry increments the retry count and updates last error
	IncrementRetry(ctx context.Context, eventID string, errorMsg string) error

	// DeletePublished deletes events published before the cutoff
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
}

// Sink delivers a CloudEvent to a broker destination.
type Sink interface {
	PublishEvent(ctx context.Context, destination string, event *cloudevents.POSCloudEvent) error
}
