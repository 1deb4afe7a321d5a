package application

import (
	"github.com/pos-platform/stock-service/internal/allocation"
	"github.com/pos-platform/stock-service/internal/domain"
)

func ToSaleLineDTO(r *allocation.Result) SaleLineDTO {
	dto := SaleLineDTO{
		ProductCode:      r.ProductCode,
		Requested:        r.Requested,
		Fulfilled:        r.Fulfilled,
		Outcome:          string(r.Outcome),
		ShortageRecorded: r.ShortageRecorded,
		ShortageID:       r.ShortageID,
	}
	for _, leg := range r.Transfers {
		dto.Transfers = append(dto.Transfers, leg.String())
	}
	return dto
}

func ToBatchDTO(b domain.Batch) BatchDTO {
	return BatchDTO{
		ID:          b.ID,
		ProductCode: b.ProductCode,
		Location:    string(b.Location),
		Quantity:    b.Quantity,
		ReceivedAt:  b.ReceivedAt,
		Expiry:      b.Expiry,
	}
}

func ToShortageDTO(e *domain.ShortageEvent) ShortageDTO {
	breakdown := make(map[string]int, len(e.Breakdown))
	for loc, qty := range e.Breakdown {
		breakdown[string(loc)] = qty
	}
	return ShortageDTO{
		ID:                e.ID,
		ProductCode:       e.ProductCode,
		Message:           e.Message,
		RequestedQuantity: e.RequestedQuantity,
		TotalAvailable:    e.TotalAvailable,
		Missing:           e.Missing(),
		Breakdown:         breakdown,
		DetectedAt:        e.DetectedAt,
	}
}
