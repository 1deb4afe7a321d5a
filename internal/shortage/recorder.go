package shortage

import (
	"context"
	"errors"
	"fmt"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
)

// ErrDeliveryFailed wraps subscriber errors for a shortage that was persisted.
var ErrDeliveryFailed = errors.New("shortage persisted but delivery failed")

// Publisher is the publishing side of a Bus.
type Publisher interface {
	Publish(ctx context.Context, event *domain.ShortageEvent) error
}

// Recorder persists a shortage in its own unit of work, independent of any
// allocation in progress, and publishes it once committed.
type Recorder struct {
	runner uow.Runner
	bus    Publisher
	logger *logging.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(runner uow.Runner, bus Publisher, logger *logging.Logger) *Recorder {
	return &Recorder{runner: runner, bus: bus, logger: logger.WithComponent("shortage-recorder")}
}

// Record persists event and then publishes it. A persistence failure means
// nothing was published. A publish failure is returned wrapped in
// ErrDeliveryFailed.
func (r *Recorder) Record(ctx context.Context, event *domain.ShortageEvent) error {
	err := r.runner.Run(ctx, func(ctx context.Context, store domain.StockStore) error {
		return store.RecordShortage(ctx, event)
	})
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to persist shortage", "shortageId", event.ID)
		return fmt.Errorf("record shortage %s: %w", event.ID, err)
	}

	if err := r.bus.Publish(ctx, event); err != nil {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// LoggingHandler writes every shortage as a business event.
func LoggingHandler(logger *logging.Logger) Handler {
	return HandlerFunc(func(ctx context.Context, event *domain.ShortageEvent) error {
		logger.Event(ctx, event.EventType(), map[string]any{
			"shortageId":     event.ID,
			"productCode":    event.ProductCode,
			"requested":      event.RequestedQuantity,
			"totalAvailable": event.TotalAvailable,
			"missing":        event.Missing(),
			"message":        event.Message,
		})
		return nil
	})
}

// MetricsHandler counts shortages and missing units per product.
func MetricsHandler(m *metrics.Metrics) Handler {
	return HandlerFunc(func(ctx context.Context, event *domain.ShortageEvent) error {
		m.RecordShortage(event.ProductCode, event.Missing())
		return nil
	})
}
