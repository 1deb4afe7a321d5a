package cloudevents

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/logging"
)

// EventFactory creates CloudEvents for stock domain events
type EventFactory struct {
	source string
	now    func() time.Time
}

// NewEventFactory creates a new EventFactory for a specific source
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source, now: time.Now}
}

// CreateEvent creates a new POSCloudEvent with the given parameters. The
// correlation ID is taken from ctx when present.
func (f *EventFactory) CreateEvent(ctx context.Context, eventType, subject string, data interface{}) *POSCloudEvent {
	event := &POSCloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            f.now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}

	if v, ok := ctx.Value(logging.CorrelationIDKey).(string); ok {
		event.CorrelationID = v
	}
	if v, ok := ctx.Value(logging.SaleIDKey).(string); ok {
		event.SaleID = v
	}
	return event
}

// CreateShortageDetectedEvent converts a shortage into its wire form.
func (f *EventFactory) CreateShortageDetectedEvent(ctx context.Context, shortage *domain.ShortageEvent) *POSCloudEvent {
	breakdown := make(map[string]int, len(shortage.Breakdown))
	for loc, qty := range shortage.Breakdown {
		breakdown[loc.String()] = qty
	}

	data := ShortageDetectedData{
		ShortageID:        shortage.ID,
		ProductCode:       shortage.ProductCode,
		Message:           shortage.Message,
		Breakdown:         breakdown,
		TotalAvailable:    shortage.TotalAvailable,
		RequestedQuantity: shortage.RequestedQuantity,
		DetectedAt:        shortage.DetectedAt,
	}
	event := f.CreateEvent(ctx, shortage.EventType(), "product/"+shortage.ProductCode, data)
	event.ProductCode = shortage.ProductCode
	return event
}
