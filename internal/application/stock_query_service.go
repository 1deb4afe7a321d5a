package application

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/errors"
	"github.com/pos-platform/stock-service/pkg/logging"
)

const (
	defaultShortageLimit = 50
	sharedReadTimeout    = 10 * time.Second
)

// StockQueryService handles read-only stock queries.
type StockQueryService struct {
	reader    domain.StockReader
	shortages domain.ShortageLog
	group     singleflight.Group
	logger    *logging.Logger
}

func NewStockQueryService(reader domain.StockReader, shortages domain.ShortageLog, logger *logging.Logger) *StockQueryService {
	return &StockQueryService{
		reader:    reader,
		shortages: shortages,
		logger:    logger.WithComponent("stock-query-service"),
	}
}

// Availability reports every tier's stock for a product. Concurrent calls
// for the same product share one set of store reads. The shared read is not
// tied to any one caller's cancellation; each caller stops waiting on its
// own ctx.
func (s *StockQueryService) Availability(ctx context.Context, productCode string) (*AvailabilityDTO, error) {
	if productCode == "" {
		return nil, errors.ErrValidation(domain.ErrInvalidProductCode.Error())
	}

	ch := s.group.DoChan(productCode, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()

		dto := &AvailabilityDTO{ProductCode: productCode, Locations: make(map[string]int, len(domain.Locations))}
		for _, loc := range domain.Locations {
			qty, err := s.reader.TotalAvailable(readCtx, loc, productCode)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s availability: %w", loc, err)
			}
			dto.Locations[string(loc)] = qty
			dto.Total += qty
		}
		return dto, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		s.logger.WithError(res.Err).Error("Failed to read availability", "productCode", productCode)
		return nil, res.Err
	}
	if res.Shared {
		s.logger.Debug("Availability read shared", "productCode", productCode)
	}

	// callers may mutate their copy
	src := res.Val.(*AvailabilityDTO)
	out := &AvailabilityDTO{ProductCode: src.ProductCode, Total: src.Total, Locations: make(map[string]int, len(src.Locations))}
	for k, qty := range src.Locations {
		out.Locations[k] = qty
	}
	return out, nil
}

// Batches lists a product's batches at a tier in deduction order.
func (s *StockQueryService) Batches(ctx context.Context, query BatchesQuery) ([]BatchDTO, error) {
	loc, err := domain.ParseLocation(query.Location)
	if err != nil {
		return nil, errors.ErrValidation(err.Error()).Wrap(err)
	}
	batches, err := s.reader.FindDeductionCandidates(ctx, query.ProductCode, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	out := make([]BatchDTO, 0, len(batches))
	for _, b := range batches {
		out = append(out, ToBatchDTO(b))
	}
	return out, nil
}

// Shortages lists recorded shortages, newest first.
func (s *StockQueryService) Shortages(ctx context.Context, query ShortagesQuery) ([]ShortageDTO, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultShortageLimit
	}
	events, err := s.shortages.ListShortages(ctx, query.ProductCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list shortages: %w", err)
	}

	out := make([]ShortageDTO, 0, len(events))
	for _, e := range events {
		out = append(out, ToShortageDTO(e))
	}
	return out, nil
}
