package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/cloudevents"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/outbox"
)

var _ outbox.Sink = (*Sink)(nil)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent []published
	err  error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{exchange, key, msg})
	return nil
}

func shortageEvent() *cloudevents.POSCloudEvent {
	ev := domain.NewShortageEvent("SHORTAGE-1", "MILK", 5, map[domain.StockLocation]int{domain.LocationWeb: 1}, time.Now())
	return cloudevents.NewEventFactory(cloudevents.SourceStockService).CreateShortageDetectedEvent(context.Background(), ev)
}

func TestSink_PublishesPersistentCloudEvent(t *testing.T) {
	ch := &fakeChannel{}
	sink := NewSink(ch, "pos.stock", logging.NewNop())
	event := shortageEvent()

	require.NoError(t, sink.PublishEvent(context.Background(), "pos.stock.shortages", event))
	require.Len(t, ch.sent, 1)

	got := ch.sent[0]
	assert.Equal(t, "pos.stock", got.exchange)
	assert.Equal(t, "pos.stock.shortages", got.key)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, event.ID, got.msg.MessageId)
	assert.Equal(t, domain.EventTypeShortageDetected, got.msg.Headers["ce-type"])

	var decoded cloudevents.POSCloudEvent
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, "MILK", decoded.ProductCode)
}

func TestSink_PublishError(t *testing.T) {
	boom := errors.New("channel closed")
	sink := NewSink(&fakeChannel{err: boom}, "pos.stock", logging.NewNop())

	err := sink.PublishEvent(context.Background(), "pos.stock.shortages", shortageEvent())
	assert.ErrorIs(t, err, boom)
}
