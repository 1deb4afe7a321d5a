package application

import (
	"context"
	"fmt"
	"time"

	"github.com/pos-platform/stock-service/internal/allocation"
	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/errors"
	"github.com/pos-platform/stock-service/pkg/idgen"
	"github.com/pos-platform/stock-service/pkg/logging"
)

// allocator is the part of *allocation.Resolver the services use.
type allocator interface {
	ResolveWith(ctx context.Context, req domain.AllocationRequest, decider allocation.Decider) (*allocation.Result, error)
}

// SaleService runs point-of-sale checkouts.
type SaleService struct {
	resolver allocator
	saleIDs  idgen.Generator
	logger   *logging.Logger
}

func NewSaleService(resolver allocator, saleIDs idgen.Generator, logger *logging.Logger) *SaleService {
	return &SaleService{
		resolver: resolver,
		saleIDs:  saleIDs,
		logger:   logger.WithComponent("sale-service"),
	}
}

// Checkout allocates each line from the shelf in order. Every line commits
// on its own, so when a line fails the lines before it stay sold; the error
// names the sale and the failing line.
func (s *SaleService) Checkout(ctx context.Context, cmd CheckoutCommand) (*SaleDTO, error) {
	if len(cmd.Lines) == 0 {
		return nil, errors.ErrValidation("sale has no lines")
	}
	for i, line := range cmd.Lines {
		req := domain.AllocationRequest{ProductCode: line.ProductCode, RequestedQuantity: line.Quantity, Location: domain.LocationShelf}
		if err := req.Validate(); err != nil {
			return nil, errors.ErrValidation(fmt.Sprintf("line %d: %v", i+1, err)).Wrap(err)
		}
	}

	decider := cmd.Decider
	if decider == nil {
		decider = allocation.AlwaysDecline
	}

	saleID := s.saleIDs.NewID()
	ctx = logging.ContextWithSaleID(ctx, saleID)
	start := time.Now()

	sale := &SaleDTO{SaleID: saleID, Status: SaleCompleted, Lines: make([]SaleLineDTO, 0, len(cmd.Lines))}
	for i, line := range cmd.Lines {
		result, err := s.resolver.ResolveWith(ctx, domain.AllocationRequest{
			ProductCode:       line.ProductCode,
			RequestedQuantity: line.Quantity,
			Location:          domain.LocationShelf,
		}, decider)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Checkout aborted",
				"saleId", saleID,
				"line", i+1,
				"completedLines", len(sale.Lines),
			)
			return nil, fmt.Errorf("sale %s line %d (%s): %w", saleID, i+1, line.ProductCode, err)
		}

		dto := ToSaleLineDTO(result)
		if result.Outcome != allocation.OutcomeFulfilled {
			sale.Status = SalePartial
		}
		sale.Lines = append(sale.Lines, dto)
	}

	s.logger.WithContext(ctx).Performance(ctx, "checkout", time.Since(start), true, map[string]any{
		"saleId": saleID,
		"lines":  len(sale.Lines),
		"status": sale.Status,
	})
	return sale, nil
}
