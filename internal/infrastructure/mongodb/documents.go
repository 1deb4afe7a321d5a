package mongodb

import (
	"time"

	"github.com/pos-platform/stock-service/internal/domain"
)

const (
	batchesCollection   = "batches"
	shortagesCollection = "shortages"
)

// batchDocument is the stored form of a batch. NoExpiry exists so that a
// plain index sort puts batches without expiry last.
type batchDocument struct {
	ID          string     `bson:"_id"`
	ProductCode string     `bson:"productCode"`
	Location    string     `bson:"location"`
	ReceivedAt  time.Time  `bson:"receivedAt"`
	Expiry      *time.Time `bson:"expiry,omitempty"`
	NoExpiry    bool       `bson:"noExpiry"`
	Quantity    int        `bson:"quantity"`
	UpdatedAt   time.Time  `bson:"updatedAt"`
}

func toBatchDocument(b domain.Batch, now time.Time) batchDocument {
	return batchDocument{
		ID:          b.ID,
		ProductCode: b.ProductCode,
		Location:    string(b.Location),
		ReceivedAt:  b.ReceivedAt.UTC(),
		Expiry:      b.Expiry,
		NoExpiry:    b.Expiry == nil,
		Quantity:    b.Quantity,
		UpdatedAt:   now,
	}
}

func (d batchDocument) toDomain() domain.Batch {
	b := domain.Batch{
		ID:          d.ID,
		ProductCode: d.ProductCode,
		Location:    domain.StockLocation(d.Location),
		ReceivedAt:  d.ReceivedAt,
		Quantity:    d.Quantity,
	}
	if d.Expiry != nil {
		exp := d.Expiry.UTC()
		b.Expiry = &exp
	}
	return b
}

type shortageDocument struct {
	ID                string         `bson:"_id"`
	Message           string         `bson:"message"`
	ProductCode       string         `bson:"productCode"`
	Breakdown         map[string]int `bson:"breakdown"`
	TotalAvailable    int            `bson:"totalAvailable"`
	RequestedQuantity int            `bson:"requestedQuantity"`
	DetectedAt        time.Time      `bson:"detectedAt"`
}

func toShortageDocument(e *domain.ShortageEvent) shortageDocument {
	breakdown := make(map[string]int, len(e.Breakdown))
	for loc, qty := range e.Breakdown {
		breakdown[string(loc)] = qty
	}
	return shortageDocument{
		ID:                e.ID,
		Message:           e.Message,
		ProductCode:       e.ProductCode,
		Breakdown:         breakdown,
		TotalAvailable:    e.TotalAvailable,
		RequestedQuantity: e.RequestedQuantity,
		DetectedAt:        e.DetectedAt.UTC(),
	}
}

func (d shortageDocument) toDomain() *domain.ShortageEvent {
	breakdown := make(map[domain.StockLocation]int, len(d.Breakdown))
	for loc, qty := range d.Breakdown {
		breakdown[domain.StockLocation(loc)] = qty
	}
	return &domain.ShortageEvent{
		ID:                d.ID,
		Message:           d.Message,
		ProductCode:       d.ProductCode,
		Breakdown:         breakdown,
		TotalAvailable:    d.TotalAvailable,
		RequestedQuantity: d.RequestedQuantity,
		DetectedAt:        d.DetectedAt,
	}
}
