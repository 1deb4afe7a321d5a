package application

import (
	"time"

	"github.com/pos-platform/stock-service/internal/allocation"
)

// SaleLine is one product on a sale.
type SaleLine struct {
	ProductCode string
	Quantity    int
}

// CheckoutCommand sells every line from the shelf. Decider answers the
// cascade prompts for all lines; nil declines everything.
type CheckoutCommand struct {
	Lines   []SaleLine
	Decider allocation.Decider
}

// AllocateCommand allocates a single product at a location.
type AllocateCommand struct {
	ProductCode      string
	Quantity         int
	Location         string
	ApproveTransfers bool
	AcceptPartial    bool
}

// ReceiveBatchCommand books a new batch into a tier.
type ReceiveBatchCommand struct {
	BatchID     string
	ProductCode string
	Location    string
	Quantity    int
	ReceivedAt  time.Time
	Expiry      *time.Time
}

// TransferCommand moves stock between tiers outside a sale.
type TransferCommand struct {
	ProductCode string
	From        string
	To          string
	Quantity    int
}

// BatchesQuery lists a product's batches at a tier in deduction order.
type BatchesQuery struct {
	ProductCode string
	Location    string
}

// ShortagesQuery lists recorded shortages, newest first.
type ShortagesQuery struct {
	ProductCode string
	Limit       int
}
