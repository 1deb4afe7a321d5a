package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrBatchQuantityExceeded = errors.New("deduction exceeds batch quantity")
	ErrBatchNotFound         = errors.New("batch not found")
	ErrBatchAlreadyExists    = errors.New("batch already exists")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrInvalidLocation       = errors.New("invalid location")
	ErrInvalidProductCode    = errors.New("invalid product code: required")
	ErrSameLocationTransfer  = errors.New("invalid transfer: source and destination are the same location")
	ErrUnknownOrderingPolicy = errors.New("unknown ordering policy")
	ErrInvalidBatchExpiry    = errors.New("invalid batch: expiry precedes received time")
	ErrShortageAlreadyExists = errors.New("shortage event already exists")
)

// TransferFailure reports a stock move between two tiers that could not be
// completed. The resolver treats it as recoverable and falls back to a
// partial sale.
type TransferFailure struct {
	ProductCode string
	From        StockLocation
	To          StockLocation
	Quantity    int
	Cause       error
}

func (e *TransferFailure) Error() string {
	return fmt.Sprintf("transfer of %d %s from %s to %s failed: %v",
		e.Quantity, e.ProductCode, e.From, e.To, e.Cause)
}

func (e *TransferFailure) Unwrap() error {
	return e.Cause
}
