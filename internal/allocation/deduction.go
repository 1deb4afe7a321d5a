package allocation

import (
	"context"
	"fmt"

	"github.com/pos-platform/stock-service/internal/domain"
)

// InsufficientStockError is returned by Deduct when the candidates at a
// location ran out before the requested quantity was taken. Deductions
// issued before the shortfall was noticed are not undone here; the
// enclosing unit of work rolls them back.
type InsufficientStockError struct {
	ProductCode string
	Location    domain.StockLocation
	Requested   int
	Deducted    int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s at %s: requested %d, deducted %d",
		e.ProductCode, e.Location, e.Requested, e.Deducted)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == domain.ErrInsufficientStock
}

// Deductor consumes batches in the order set by its policy.
type Deductor struct {
	policy domain.OrderingPolicy
}

// NewDeductor creates a Deductor. A zero policy falls back to FEFO.
func NewDeductor(policy domain.OrderingPolicy) *Deductor {
	if policy.Less == nil {
		policy = domain.FEFO
	}
	return &Deductor{policy: policy}
}

// Policy returns the ordering policy in use.
func (d *Deductor) Policy() domain.OrderingPolicy {
	return d.policy
}

// Deduct removes exactly qty of a product from a location, or fails with
// *InsufficientStockError.
func (d *Deductor) Deduct(ctx context.Context, store domain.StockStore, productCode string, qty int, location domain.StockLocation) error {
	if qty <= 0 {
		return nil
	}

	taken, err := d.consume(ctx, store, productCode, qty, location)
	if err != nil {
		return err
	}
	if taken < qty {
		return &InsufficientStockError{
			ProductCode: productCode,
			Location:    location,
			Requested:   qty,
			Deducted:    taken,
		}
	}
	return nil
}

// DeductUpTo removes as much of qty as the location holds and reports how
// much was taken. A shortfall is not an error.
func (d *Deductor) DeductUpTo(ctx context.Context, store domain.StockStore, productCode string, qty int, location domain.StockLocation) (int, error) {
	if qty <= 0 {
		return 0, nil
	}
	return d.consume(ctx, store, productCode, qty, location)
}

func (d *Deductor) consume(ctx context.Context, store domain.StockStore, productCode string, qty int, location domain.StockLocation) (int, error) {
	candidates, err := store.FindDeductionCandidates(ctx, productCode, location)
	if err != nil {
		return 0, fmt.Errorf("find deduction candidates: %w", err)
	}

	remaining := qty
	for _, batch := range d.policy.Apply(candidates) {
		if remaining == 0 {
			break
		}
		if batch.Quantity <= 0 {
			continue
		}

		take := min(remaining, batch.Quantity)
		if err := store.DeductFromBatch(ctx, batch.ID, take); err != nil {
			return qty - remaining, fmt.Errorf("deduct %d from batch %s: %w", take, batch.ID, err)
		}
		remaining -= take
	}

	return qty - remaining, nil
}
