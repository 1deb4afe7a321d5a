// Package outbox relays events that were stored alongside stock changes.
// Stores write an Event in the same unit of work as the change it
// describes; the Publisher forwards pending events to a broker Sink.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pos-platform/stock-service/pkg/cloudevents"
)

// DefaultMaxRetries bounds how often the publisher retries one event.
const DefaultMaxRetries = 10

// Event is a CloudEvent waiting for delivery. ProductCode doubles as the
// broker partition key, so events of one product stay ordered.
type Event struct {
	ID          string          `bson:"_id" json:"id"`
	ProductCode string          `bson:"productCode" json:"productCode"`
	EventType   string          `bson:"eventType" json:"eventType"`
	Topic       string          `bson:"topic" json:"topic"`
	Payload     json.RawMessage `bson:"payload" json:"payload"`
	CreatedAt   time.Time       `bson:"createdAt" json:"createdAt"`
	PublishedAt *time.Time      `bson:"publishedAt,omitempty" json:"publishedAt,omitempty"`
	RetryCount  int             `bson:"retryCount" json:"retryCount"`
	LastError   string          `bson:"lastError,omitempty" json:"lastError,omitempty"`
	MaxRetries  int             `bson:"maxRetries" json:"maxRetries"`
}

// NewEvent serializes ce for later delivery to topic.
func NewEvent(productCode, topic string, ce *cloudevents.POSCloudEvent) (*Event, error) {
	payload, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ce.Type, err)
	}

	return &Event{
		ID:          uuid.New().String(),
		ProductCode: productCode,
		EventType:   ce.Type,
		Topic:       topic,
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
		MaxRetries:  DefaultMaxRetries,
	}, nil
}

func (e *Event) IsPublished() bool {
	return e.PublishedAt != nil
}

// ShouldRetry reports whether the publisher may still attempt delivery.
func (e *Event) ShouldRetry() bool {
	return !e.IsPublished() && e.RetryCount < e.MaxRetries
}

// CloudEvent decodes the stored payload.
func (e *Event) CloudEvent() (*cloudevents.POSCloudEvent, error) {
	var ce cloudevents.POSCloudEvent
	if err := json.Unmarshal(e.Payload, &ce); err != nil {
		return nil, fmt.Errorf("decode outbox event %s: %w", e.ID, err)
	}
	return &ce, nil
}
