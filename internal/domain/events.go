package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	EventTypeShortageDetected = "pos.stock.shortage-detected"
	EventTypeStockTransferred = "pos.stock.transferred"
	EventTypeBatchReceived    = "pos.stock.batch-received"
)

// ShortageEvent records that a request could not be met from every tier
// combined. It is immutable once created.
type ShortageEvent struct {
	ID                string                `json:"id"`
	Message           string                `json:"message"`
	ProductCode       string                `json:"productCode"`
	Breakdown         map[StockLocation]int `json:"breakdown"`
	TotalAvailable    int                   `json:"totalAvailable"`
	RequestedQuantity int                   `json:"requestedQuantity"`
	DetectedAt        time.Time             `json:"detectedAt"`
}

func (e *ShortageEvent) EventType() string { return EventTypeShortageDetected }

// Missing is the quantity no tier could supply.
func (e *ShortageEvent) Missing() int {
	if e.RequestedQuantity <= e.TotalAvailable {
		return 0
	}
	return e.RequestedQuantity - e.TotalAvailable
}

// NewShortageEvent builds a shortage event from a per-tier availability
// breakdown. The breakdown is copied.
func NewShortageEvent(id, productCode string, requested int, breakdown map[StockLocation]int, at time.Time) *ShortageEvent {
	copied := make(map[StockLocation]int, len(breakdown))
	total := 0
	for loc, qty := range breakdown {
		copied[loc] = qty
		total += qty
	}

	return &ShortageEvent{
		ID:                id,
		Message:           shortageMessage(productCode, requested, total, copied),
		ProductCode:       productCode,
		Breakdown:         copied,
		TotalAvailable:    total,
		RequestedQuantity: requested,
		DetectedAt:        at.UTC(),
	}
}

func shortageMessage(productCode string, requested, total int, breakdown map[StockLocation]int) string {
	parts := make([]string, 0, len(Locations))
	for _, loc := range Locations {
		parts = append(parts, fmt.Sprintf("%s=%d", loc, breakdown[loc]))
	}
	return fmt.Sprintf("Insufficient stock for %s: requested %d, available %d (%s)",
		productCode, requested, total, strings.Join(parts, ", "))
}
