package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pos-platform/stock-service/internal/allocation"
	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/errors"
	"github.com/pos-platform/stock-service/pkg/idgen"
	"github.com/pos-platform/stock-service/pkg/logging"
)

// StockService handles stock intake, manual transfers and single-product
// allocations.
type StockService struct {
	runner   uow.Runner
	resolver allocator
	batchIDs idgen.Generator
	logger   *logging.Logger
	now      func() time.Time
}

func NewStockService(runner uow.Runner, resolver allocator, batchIDs idgen.Generator, logger *logging.Logger) *StockService {
	return &StockService{
		runner:   runner,
		resolver: resolver,
		batchIDs: batchIDs,
		logger:   logger.WithComponent("stock-service"),
		now:      time.Now,
	}
}

// ReceiveBatch books a batch. A missing ID is generated and a missing
// received time defaults to now.
func (s *StockService) ReceiveBatch(ctx context.Context, cmd ReceiveBatchCommand) (*BatchDTO, error) {
	loc, err := domain.ParseLocation(cmd.Location)
	if err != nil {
		return nil, errors.ErrValidation(err.Error()).Wrap(err)
	}
	batch := domain.Batch{
		ID:          cmd.BatchID,
		ProductCode: cmd.ProductCode,
		Location:    loc,
		ReceivedAt:  cmd.ReceivedAt,
		Expiry:      cmd.Expiry,
		Quantity:    cmd.Quantity,
	}
	if batch.ID == "" {
		batch.ID = s.batchIDs.NewID()
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = s.now().UTC()
	}
	if err := batch.Validate(); err != nil {
		return nil, errors.ErrValidation(err.Error()).Wrap(err)
	}
	if batch.Quantity == 0 {
		return nil, errors.ErrValidation("batch quantity must be positive")
	}

	err = s.runner.Run(ctx, func(ctx context.Context, store domain.StockStore) error {
		return store.ReceiveBatch(ctx, batch)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive batch %s: %w", batch.ID, err)
	}

	s.logger.Event(ctx, domain.EventTypeBatchReceived, map[string]any{
		"batchId":     batch.ID,
		"productCode": batch.ProductCode,
		"location":    batch.Location,
		"quantity":    batch.Quantity,
	})
	dto := ToBatchDTO(batch)
	return &dto, nil
}

// Transfer moves stock between two tiers in one unit of work.
func (s *StockService) Transfer(ctx context.Context, cmd TransferCommand) error {
	from, err := domain.ParseLocation(cmd.From)
	if err != nil {
		return errors.ErrValidation(err.Error()).Wrap(err)
	}
	to, err := domain.ParseLocation(cmd.To)
	if err != nil {
		return errors.ErrValidation(err.Error()).Wrap(err)
	}
	if from == to {
		return errors.ErrValidation(domain.ErrSameLocationTransfer.Error()).Wrap(domain.ErrSameLocationTransfer)
	}
	if cmd.Quantity <= 0 || cmd.ProductCode == "" {
		return errors.ErrValidation("transfer needs a product code and a positive quantity")
	}

	err = s.runner.Run(ctx, func(ctx context.Context, store domain.StockStore) error {
		return store.TransferStock(ctx, cmd.ProductCode, from, to, cmd.Quantity)
	})
	if err != nil {
		return fmt.Errorf("failed to transfer %d %s from %s to %s: %w", cmd.Quantity, cmd.ProductCode, from, to, err)
	}

	s.logger.Event(ctx, domain.EventTypeStockTransferred, map[string]any{
		"productCode": cmd.ProductCode,
		"from":        from,
		"to":          to,
		"quantity":    cmd.Quantity,
		"reason":      "manual",
	})
	return nil
}

// Allocate settles one request, answering prompts from the command flags.
func (s *StockService) Allocate(ctx context.Context, cmd AllocateCommand) (*SaleLineDTO, error) {
	loc, err := domain.ParseLocation(cmd.Location)
	if err != nil {
		return nil, errors.ErrValidation(err.Error()).Wrap(err)
	}
	req := domain.AllocationRequest{ProductCode: cmd.ProductCode, RequestedQuantity: cmd.Quantity, Location: loc}
	if err := req.Validate(); err != nil {
		return nil, errors.ErrValidation(err.Error()).Wrap(err)
	}

	decider := allocation.PolicyDecider{ApproveTransfers: cmd.ApproveTransfers, AcceptPartial: cmd.AcceptPartial}
	result, err := s.resolver.ResolveWith(ctx, req, decider)
	if err != nil {
		return nil, err
	}
	dto := ToSaleLineDTO(result)
	return &dto, nil
}
