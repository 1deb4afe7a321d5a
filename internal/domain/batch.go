package domain

import (
	"strings"
	"time"
)

// Batch is a read-only snapshot of a lot of one product held at one location.
// The store owns the authoritative quantity; code that holds a Batch must
// never treat its Quantity as current after issuing a deduction.
type Batch struct {
	ID          string        `json:"id"`
	ProductCode string        `json:"productCode"`
	Location    StockLocation `json:"location"`
	ReceivedAt  time.Time     `json:"receivedAt"`
	Expiry      *time.Time    `json:"expiry,omitempty"`
	Quantity    int           `json:"quantity"`
}

// ExpiredAt reports whether the batch is past its expiry at the given instant.
func (b Batch) ExpiredAt(now time.Time) bool {
	return b.Expiry != nil && !now.Before(*b.Expiry)
}

// Validate checks the invariants a new batch must satisfy before it is
// received into a store.
func (b Batch) Validate() error {
	if strings.TrimSpace(b.ProductCode) == "" {
		return ErrInvalidProductCode
	}
	if !b.Location.IsValid() {
		return ErrInvalidLocation
	}
	if b.Quantity < 0 {
		return ErrInvalidQuantity
	}
	if b.Expiry != nil && !b.ReceivedAt.IsZero() && b.Expiry.Before(b.ReceivedAt) {
		return ErrInvalidBatchExpiry
	}
	return nil
}

// AllocationRequest asks for a quantity of a product at a point-of-sale
// location. Only SHELF requests cascade.
type AllocationRequest struct {
	ProductCode       string        `json:"productCode"`
	RequestedQuantity int           `json:"requestedQuantity"`
	Location          StockLocation `json:"location"`
}

// Validate checks that the request can be processed.
func (r AllocationRequest) Validate() error {
	if strings.TrimSpace(r.ProductCode) == "" {
		return ErrInvalidProductCode
	}
	if r.RequestedQuantity <= 0 {
		return ErrInvalidQuantity
	}
	if !r.Location.IsValid() {
		return ErrInvalidLocation
	}
	return nil
}
