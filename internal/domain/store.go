package domain

import (
	"context"
	"strings"
)

// StockReader is the read side of a stock store.
type StockReader interface {
	// TotalAvailable sums batch quantities of a product at a location.
	TotalAvailable(ctx context.Context, location StockLocation, productCode string) (int, error)
	// FindDeductionCandidates returns the product's batches at a location,
	// ordered earliest expiry first with no-expiry batches last.
	FindDeductionCandidates(ctx context.Context, productCode string, location StockLocation) ([]Batch, error)
}

// StockStore is the transactional stock persistence contract. Inside a unit
// of work every call joins the same transaction.
type StockStore interface {
	StockReader

	// DeductFromBatch removes qty from one batch. It fails with
	// ErrBatchQuantityExceeded rather than drive a batch negative.
	DeductFromBatch(ctx context.Context, batchID string, qty int) error
	// TransferStock moves qty of a product between tiers atomically. It
	// fails with ErrInsufficientStock and moves nothing when the source
	// tier holds less than qty.
	TransferStock(ctx context.Context, productCode string, from, to StockLocation, qty int) error
	// ReceiveBatch adds a new batch.
	ReceiveBatch(ctx context.Context, batch Batch) error
	// RecordShortage persists a shortage event.
	RecordShortage(ctx context.Context, event *ShortageEvent) error
}

// ShortageLog is the read side of persisted shortage events.
type ShortageLog interface {
	ListShortages(ctx context.Context, productCode string, limit int) ([]*ShortageEvent, error)
}

// TransferredBatchID names the batch that receives stock moved out of
// batchID into another tier. The moved stock keeps the source batch's
// expiry and received time, so ordering is unchanged by a transfer.
func TransferredBatchID(batchID string, to StockLocation) string {
	return RootBatchID(batchID) + "@" + string(to)
}

// RootBatchID strips any tier suffix added by TransferredBatchID.
func RootBatchID(batchID string) string {
	if i := strings.LastIndex(batchID, "@"); i >= 0 {
		return batchID[:i]
	}
	return batchID
}

// TransferSlice is one batch's share of a transfer.
type TransferSlice struct {
	Source   Batch
	TargetID string
	Quantity int
}

// PlanTransfer splits qty across the source batches in FEFO order. It returns
// ErrInsufficientStock when the batches cannot cover qty. Stores use it so
// every backend moves the same batches.
func PlanTransfer(batches []Batch, to StockLocation, qty int) ([]TransferSlice, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}

	var plan []TransferSlice
	remaining := qty
	for _, b := range FEFO.Apply(batches) {
		if remaining == 0 {
			break
		}
		if b.Quantity <= 0 {
			continue
		}
		take := min(remaining, b.Quantity)
		plan = append(plan, TransferSlice{Source: b, TargetID: TransferredBatchID(b.ID, to), Quantity: take})
		remaining -= take
	}

	if remaining > 0 {
		return nil, ErrInsufficientStock
	}
	return plan, nil
}
