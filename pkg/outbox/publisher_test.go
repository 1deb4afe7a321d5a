package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pos-platform/stock-service/pkg/cloudevents"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/resilience"
)

type fakeRepo struct {
	mu        sync.Mutex
	events    []*Event
	published map[string]bool
	retries   map[string]string
}

func newFakeRepo(events ...*Event) *fakeRepo {
	return &fakeRepo{events: events, published: map[string]bool{}, retries: map[string]string{}}
}

func (r *fakeRepo) Save(ctx context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *fakeRepo) FindUnpublished(ctx context.Context, limit int) ([]*Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Event
	for _, e := range r.events {
		if !r.published[e.ID] && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRepo) MarkPublished(ctx context.Context, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[eventID] = true
	return nil
}

func (r *fakeRepo) IncrementRetry(ctx context.Context, eventID string, errorMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries[eventID] = errorMsg
	return nil
}

func (r *fakeRepo) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (r *fakeRepo) isPublished(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published[id]
}

type recordingSink struct {
	mu     sync.Mutex
	topics []string
	events []*cloudevents.POSCloudEvent
	err    error
}

func (s *recordingSink) PublishEvent(ctx context.Context, destination string, event *cloudevents.POSCloudEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.topics = append(s.topics, destination)
	s.events = append(s.events, event)
	return nil
}

func newShortageOutboxEvent(t *testing.T) *Event {
	return newShortageEventFor(t, "MILK")
}

func newShortageEventFor(t *testing.T, productCode string) *Event {
	t.Helper()
	factory := cloudevents.NewEventFactory(cloudevents.SourceStockService)
	ce := factory.CreateEvent(context.Background(), "pos.stock.shortage-detected", "product/"+productCode, map[string]int{"missing": 3})
	event, err := NewEvent(productCode, "pos.stock.shortages", ce)
	require.NoError(t, err)
	return event
}

func TestPublisher_RelaysAndMarksPublished(t *testing.T) {
	event := newShortageOutboxEvent(t)
	repo := newFakeRepo(event)
	sink := &recordingSink{}
	p := NewPublisher(repo, sink, logging.NewNop(), nil, nil)

	p.processEvents(context.Background())

	assert.True(t, repo.isPublished(event.ID))
	require.Len(t, sink.events, 1)
	assert.Equal(t, "pos.stock.shortages", sink.topics[0])
	assert.Equal(t, "pos.stock.shortage-detected", sink.events[0].Type)
	assert.Equal(t, PublisherStats{Published: 1}, p.Stats())
}

func TestPublisher_SinkFailureIncrementsRetry(t *testing.T) {
	event := newShortageOutboxEvent(t)
	repo := newFakeRepo(event)
	p := NewPublisher(repo, &recordingSink{err: errors.New("broker down")}, logging.NewNop(), nil, nil)

	p.processEvents(context.Background())

	assert.False(t, repo.isPublished(event.ID))
	assert.Contains(t, repo.retries[event.ID], "broker down")
	assert.Equal(t, 1, p.Stats().Failed)
}

func TestPublisher_StartStop(t *testing.T) {
	event := newShortageOutboxEvent(t)
	repo := newFakeRepo(event)
	p := NewPublisher(repo, &recordingSink{}, logging.NewNop(), nil, &PublisherConfig{PollInterval: 10 * time.Millisecond, BatchSize: 10})

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPublisherRunning)

	assert.Eventually(t, func() bool { return repo.isPublished(event.ID) }, time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
	assert.ErrorIs(t, p.Stop(), ErrPublisherStopped)
}

func TestOutboxEvent_ShouldRetry(t *testing.T) {
	event := newShortageOutboxEvent(t)
	assert.True(t, event.ShouldRetry())

	event.RetryCount = event.MaxRetries
	assert.False(t, event.ShouldRetry())

	now := time.Now()
	event.RetryCount = 0
	event.PublishedAt = &now
	assert.False(t, event.ShouldRetry())
}

func TestCircuitBreakerSink_OpenCircuitLeavesEventsPending(t *testing.T) {
	first, second := newShortageEventFor(t, "MILK"), newShortageEventFor(t, "BREAD")
	repo := newFakeRepo(first, second)
	broken := &recordingSink{err: errors.New("broker down")}

	cfg := resilience.DefaultCircuitBreakerConfig("outbox-sink")
	cfg.FailureThreshold = 1
	cfg.Timeout = time.Hour
	sink := NewCircuitBreakerSink(broken, resilience.NewCircuitBreaker(cfg, logging.NewNop(), nil))
	p := NewPublisher(repo, sink, logging.NewNop(), nil, nil)

	p.processEvents(context.Background())

	assert.Contains(t, repo.retries[first.ID], "broker down")
	assert.Contains(t, repo.retries[second.ID], resilience.ErrCircuitOpen.Error())
	assert.False(t, repo.isPublished(first.ID))
	assert.False(t, repo.isPublished(second.ID))
	assert.Equal(t, "open", sink.Breaker().Status().State)
}

func TestPublisher_FailureHoldsLaterEventsOfSameProduct(t *testing.T) {
	first, second, other := newShortageEventFor(t, "MILK"), newShortageEventFor(t, "MILK"), newShortageEventFor(t, "BREAD")
	repo := newFakeRepo(first, second, other)
	sink := &failFirstSink{}
	p := NewPublisher(repo, sink, logging.NewNop(), nil, nil)

	p.processEvents(context.Background())

	assert.Contains(t, repo.retries, first.ID)
	assert.NotContains(t, repo.retries, second.ID)
	assert.False(t, repo.isPublished(second.ID))
	assert.True(t, repo.isPublished(other.ID))
	assert.Equal(t, PublisherStats{Published: 1, Failed: 1, Held: 1}, p.Stats())

	p.processEvents(context.Background())

	assert.True(t, repo.isPublished(first.ID))
	assert.True(t, repo.isPublished(second.ID))
}

// failFirstSink rejects only the first event it sees.
type failFirstSink struct {
	calls int
}

func (s *failFirstSink) PublishEvent(ctx context.Context, destination string, event *cloudevents.POSCloudEvent) error {
	s.calls++
	if s.calls == 1 {
		return errors.New("broker hiccup")
	}
	return nil
}
