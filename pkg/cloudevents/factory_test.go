package cloudevents

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/logging"
)

func TestCreateShortageDetectedEvent(t *testing.T) {
	factory := NewEventFactory(SourceStockService)
	detected := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	factory.now = func() time.Time { return detected }

	ctx := logging.ContextWithCorrelationID(context.Background(), "corr-1")
	ctx = logging.ContextWithSaleID(ctx, "SALE-7")
	shortage := domain.NewShortageEvent("SHORTAGE-1", "MILK", 10, map[domain.StockLocation]int{
		domain.LocationShelf: 2, domain.LocationMainStore: 1, domain.LocationWeb: 3,
	}, detected)

	event := factory.CreateShortageDetectedEvent(ctx, shortage)

	assert.Equal(t, domain.EventTypeShortageDetected, event.Type)
	assert.Equal(t, "product/MILK", event.Subject)
	assert.Equal(t, "MILK", event.ProductCode)
	assert.Equal(t, "corr-1", event.CorrelationID)
	assert.Equal(t, "SALE-7", event.SaleID)
	assert.NotEmpty(t, event.ID)

	data, ok := event.Data.(ShortageDetectedData)
	require.True(t, ok)
	assert.Equal(t, map[string]int{"SHELF": 2, "MAIN_STORE": 1, "WEB": 3}, data.Breakdown)
	assert.Equal(t, 6, data.TotalAvailable)

	raw, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"posproductcode":"MILK"`)
}

func TestHeaders_OmitEmptyExtensions(t *testing.T) {
	event := NewEventFactory(SourceStockService).CreateEvent(context.Background(), domain.EventTypeShortageDetected, "", nil)

	h := event.Headers()
	assert.Equal(t, "1.0", h["ce-specversion"])
	assert.Equal(t, SourceStockService, h["ce-source"])
	assert.NotContains(t, h, "ce-subject")
	assert.NotContains(t, h, "ce-poscorrelationid")
	assert.NotContains(t, h, "ce-possaleid")
	assert.NotContains(t, h, "ce-posproductcode")
}
