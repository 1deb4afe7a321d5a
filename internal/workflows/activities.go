package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/pos-platform/stock-service/internal/allocation"
	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
)

// TransferInput moves stock between two tiers.
type TransferInput struct {
	ProductCode string `json:"productCode"`
	From        string `json:"from"`
	To          string `json:"to"`
	Quantity    int    `json:"quantity"`
}

// ReorderInput asks purchasing for stock no tier holds.
type ReorderInput struct {
	ShortageID  string `json:"shortageId"`
	ProductCode string `json:"productCode"`
	Quantity    int    `json:"quantity"`
}

// StockActivities run against the stock store on the worker side.
type StockActivities struct {
	reader  allocation.AvailabilityReader
	runner  uow.Runner
	logger  *logging.Logger
	metrics *metrics.Metrics
}

func NewStockActivities(reader allocation.AvailabilityReader, runner uow.Runner, logger *logging.Logger, m *metrics.Metrics) *StockActivities {
	return &StockActivities{
		reader:  reader,
		runner:  runner,
		logger:  logger.WithComponent("replenishment-activities"),
		metrics: m,
	}
}

// GetAvailability returns the available quantity per tier.
func (a *StockActivities) GetAvailability(ctx context.Context, productCode string) (map[string]int, error) {
	out := make(map[string]int, len(domain.Locations))
	for _, loc := range domain.Locations {
		qty, err := a.reader.TotalAvailable(ctx, loc, productCode)
		if err != nil {
			return nil, fmt.Errorf("read %s availability: %w", loc, err)
		}
		out[string(loc)] = qty
	}
	return out, nil
}

// TransferStock moves stock between two tiers in its own unit of work.
func (a *StockActivities) TransferStock(ctx context.Context, input TransferInput) error {
	from, fromErr := domain.ParseLocation(input.From)
	to, toErr := domain.ParseLocation(input.To)
	if err := errors.Join(fromErr, toErr); err != nil || from == to || input.Quantity <= 0 {
		return temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid transfer of %d from %q to %q", input.Quantity, input.From, input.To), ErrTypeValidation, err)
	}

	err := a.runner.Run(ctx, func(ctx context.Context, store domain.StockStore) error {
		return store.TransferStock(ctx, input.ProductCode, from, to, input.Quantity)
	})
	a.metrics.RecordTransfer(string(from), string(to), err == nil)
	if errors.Is(err, domain.ErrInsufficientStock) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInsufficientStock, err)
	}
	if err != nil {
		return err
	}

	a.logger.Event(ctx, domain.EventTypeStockTransferred, map[string]any{
		"productCode": input.ProductCode,
		"from":        from,
		"to":          to,
		"quantity":    input.Quantity,
		"reason":      "replenishment",
	})
	return nil
}

// RequestReorder records a supplier reorder and returns its ID. The ID is
// derived from the shortage so a retried activity yields the same order.
func (a *StockActivities) RequestReorder(ctx context.Context, input ReorderInput) (string, error) {
	if input.Quantity <= 0 {
		return "", temporal.NewNonRetryableApplicationError("reorder quantity must be positive", ErrTypeValidation, nil)
	}

	reorderID := "REORDER-" + input.ShortageID
	a.logger.Audit(ctx, "reorder_requested", "product", input.ProductCode, map[string]any{
		"reorderId":  reorderID,
		"shortageId": input.ShortageID,
		"quantity":   input.Quantity,
	})
	return reorderID, nil
}
