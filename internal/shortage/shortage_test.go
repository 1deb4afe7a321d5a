package shortage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/infrastructure/memory"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
)

var errHandler = errors.New("handler failed")

func newEvent(id string) *domain.ShortageEvent {
	return domain.NewShortageEvent(id, "MILK", 10,
		map[domain.StockLocation]int{domain.LocationShelf: 1, domain.LocationMainStore: 2, domain.LocationWeb: 3},
		time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC))
}

func recording(name string, calls *[]string, err error) Handler {
	return HandlerFunc(func(ctx context.Context, event *domain.ShortageEvent) error {
		*calls = append(*calls, name)
		return err
	})
}

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var calls []string
	bus.Subscribe("first", recording("first", &calls, nil))
	bus.Subscribe("second", recording("second", &calls, nil))
	bus.Subscribe("third", recording("third", &calls, nil))

	require.NoError(t, bus.Publish(context.Background(), newEvent("S1")))

	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestBus_FirstErrorStopsDelivery(t *testing.T) {
	bus := NewBus()
	var calls []string
	bus.Subscribe("first", recording("first", &calls, nil))
	bus.Subscribe("broken", recording("broken", &calls, errHandler))
	bus.Subscribe("never", recording("never", &calls, nil))

	err := bus.Publish(context.Background(), newEvent("S1"))

	assert.ErrorIs(t, err, errHandler)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, []string{"first", "broken"}, calls)
}

func TestBus_IsolationDeliversToEveryHandler(t *testing.T) {
	bus := NewBus(WithHandlerIsolation())
	var calls []string
	otherErr := errors.New("other failure")
	bus.Subscribe("a", recording("a", &calls, errHandler))
	bus.Subscribe("b", recording("b", &calls, nil))
	bus.Subscribe("c", recording("c", &calls, otherErr))

	err := bus.Publish(context.Background(), newEvent("S1"))

	assert.Equal(t, []string{"a", "b", "c"}, calls)
	assert.ErrorIs(t, err, errHandler)
	assert.ErrorIs(t, err, otherErr)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	var calls []string
	unsubscribe := bus.Subscribe("gone", recording("gone", &calls, nil))
	bus.Subscribe("kept", recording("kept", &calls, nil))

	unsubscribe()
	unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), newEvent("S1")))
	assert.Equal(t, []string{"kept"}, calls)
	assert.Equal(t, 1, bus.Len())
}

func TestRecorder_PersistsThenPublishes(t *testing.T) {
	store := memory.NewStore()
	exec := uow.NewExecutor(store, logging.NewNop(), nil)
	bus := NewBus()

	var seen []string
	bus.Subscribe("probe", HandlerFunc(func(ctx context.Context, event *domain.ShortageEvent) error {
		persisted, err := store.ListShortages(ctx, event.ProductCode, 0)
		require.NoError(t, err)
		require.Len(t, persisted, 1, "event is committed before subscribers run")
		seen = append(seen, event.ID)
		return nil
	}))

	recorder := NewRecorder(exec, bus, logging.NewNop())
	require.NoError(t, recorder.Record(context.Background(), newEvent("S-7")))

	assert.Equal(t, []string{"S-7"}, seen)
}

func TestRecorder_PublishFailureKeepsPersistedEvent(t *testing.T) {
	store := memory.NewStore()
	exec := uow.NewExecutor(store, logging.NewNop(), nil)
	bus := NewBus()
	bus.Subscribe("broken", HandlerFunc(func(context.Context, *domain.ShortageEvent) error { return errHandler }))

	err := NewRecorder(exec, bus, logging.NewNop()).Record(context.Background(), newEvent("S-8"))

	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, errHandler)
	persisted, _ := store.ListShortages(context.Background(), "MILK", 0)
	assert.Len(t, persisted, 1)
}

func TestRecorder_PersistFailureSkipsPublish(t *testing.T) {
	store := memory.NewStore()
	exec := uow.NewExecutor(store, logging.NewNop(), nil)
	bus := NewBus()
	published := false
	bus.Subscribe("probe", HandlerFunc(func(context.Context, *domain.ShortageEvent) error {
		published = true
		return nil
	}))
	recorder := NewRecorder(exec, bus, logging.NewNop())
	require.NoError(t, recorder.Record(context.Background(), newEvent("dup")))
	published = false

	err := recorder.Record(context.Background(), newEvent("dup"))

	assert.ErrorIs(t, err, domain.ErrShortageAlreadyExists)
	assert.NotErrorIs(t, err, ErrDeliveryFailed)
	assert.False(t, published)
}

func TestMetricsHandler(t *testing.T) {
	m := metrics.New(metrics.DefaultConfig("stock-service"))

	require.NoError(t, MetricsHandler(m).HandleShortage(context.Background(), newEvent("S1")))
	require.NoError(t, LoggingHandler(logging.NewNop()).HandleShortage(context.Background(), newEvent("S1")))
}
