package application

import "time"

// Sale statuses
const (
	SaleCompleted = "COMPLETED"
	SalePartial   = "PARTIAL"
)

// SaleDTO represents a finished checkout
type SaleDTO struct {
	SaleID string        `json:"saleId"`
	Status string        `json:"status"`
	Lines  []SaleLineDTO `json:"lines"`
}

// SaleLineDTO represents the allocation result of one line
type SaleLineDTO struct {
	ProductCode      string   `json:"productCode"`
	Requested        int      `json:"requested"`
	Fulfilled        int      `json:"fulfilled"`
	Outcome          string   `json:"outcome"`
	Transfers        []string `json:"transfers,omitempty"`
	ShortageRecorded bool     `json:"shortageRecorded"`
	ShortageID       string   `json:"shortageId,omitempty"`
}

// AvailabilityDTO reports stock per tier
type AvailabilityDTO struct {
	ProductCode string         `json:"productCode"`
	Locations   map[string]int `json:"locations"`
	Total       int            `json:"total"`
}

// BatchDTO represents a batch in responses
type BatchDTO struct {
	ID          string     `json:"id"`
	ProductCode string     `json:"productCode"`
	Location    string     `json:"location"`
	Quantity    int        `json:"quantity"`
	ReceivedAt  time.Time  `json:"receivedAt"`
	Expiry      *time.Time `json:"expiry,omitempty"`
}

// ShortageDTO represents a recorded shortage
type ShortageDTO struct {
	ID                string         `json:"id"`
	ProductCode       string         `json:"productCode"`
	Message           string         `json:"message"`
	RequestedQuantity int            `json:"requestedQuantity"`
	TotalAvailable    int            `json:"totalAvailable"`
	Missing           int            `json:"missing"`
	Breakdown         map[string]int `json:"breakdown"`
	DetectedAt        time.Time      `json:"detectedAt"`
}
