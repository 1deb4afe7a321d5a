// Package memory is an in-process stock store. It backs local runs and the
// unit tests of everything above the store boundary.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/cloudevents"
	"github.com/pos-platform/stock-service/pkg/idgen"
	"github.com/pos-platform/stock-service/pkg/outbox"
)

// Store keeps batches and shortage events in memory.
//
// At most one unit of work is open at a time; calls made on the Store
// itself wait for it to finish, so readers never observe uncommitted
// quantities.
type Store struct {
	mu        sync.Mutex
	batches   map[string]*domain.Batch
	order     []string
	shortages []*domain.ShortageEvent
	outbox    []*outbox.Event

	txSem chan struct{}

	ids         idgen.Generator
	now         func() time.Time
	events      *cloudevents.EventFactory
	outboxTopic string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the generator used for batches received without an ID.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Store) { s.ids = g }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithOutbox makes RecordShortage also queue a CloudEvent for topic in the
// same transaction.
func WithOutbox(factory *cloudevents.EventFactory, topic string) Option {
	return func(s *Store) {
		s.events = factory
		s.outboxTopic = topic
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		batches: make(map[string]*domain.Batch),
		txSem:   make(chan struct{}, 1),
		ids:     idgen.UUIDGenerator{Prefix: "BATCH-"},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lockTx(ctx context.Context) error {
	select {
	case s.txSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlockTx() {
	<-s.txSem
}

// autoCommit runs fn as its own implicit transaction.
func (s *Store) autoCommit(ctx context.Context, fn func() (undo func(), err error)) error {
	if err := s.lockTx(ctx); err != nil {
		return err
	}
	defer s.unlockTx()
	_, err := fn()
	return err
}

func (s *Store) TotalAvailable(ctx context.Context, location domain.StockLocation, productCode string) (int, error) {
	if err := s.lockTx(ctx); err != nil {
		return 0, err
	}
	defer s.unlockTx()
	return s.totalAvailable(location, productCode), nil
}

func (s *Store) FindDeductionCandidates(ctx context.Context, productCode string, location domain.StockLocation) ([]domain.Batch, error) {
	if err := s.lockTx(ctx); err != nil {
		return nil, err
	}
	defer s.unlockTx()
	return s.candidates(productCode, location), nil
}

func (s *Store) DeductFromBatch(ctx context.Context, batchID string, qty int) error {
	return s.autoCommit(ctx, func() (func(), error) { return s.deduct(batchID, qty) })
}

func (s *Store) TransferStock(ctx context.Context, productCode string, from, to domain.StockLocation, qty int) error {
	return s.autoCommit(ctx, func() (func(), error) { return s.transfer(productCode, from, to, qty) })
}

func (s *Store) ReceiveBatch(ctx context.Context, batch domain.Batch) error {
	return s.autoCommit(ctx, func() (func(), error) { return s.receive(batch) })
}

func (s *Store) RecordShortage(ctx context.Context, event *domain.ShortageEvent) error {
	return s.autoCommit(ctx, func() (func(), error) { return s.recordShortage(ctx, event) })
}

// ListShortages returns recorded shortages, newest first. An empty product
// code lists every product.
func (s *Store) ListShortages(ctx context.Context, productCode string, limit int) ([]*domain.ShortageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.ShortageEvent
	for i := len(s.shortages) - 1; i >= 0; i-- {
		ev := s.shortages[i]
		if productCode != "" && ev.ProductCode != productCode {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Batches returns copies of every batch of a product, in FEFO order.
func (s *Store) Batches(productCode string) []domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Batch
	for _, id := range s.order {
		if b := s.batches[id]; b.ProductCode == productCode {
			out = append(out, *b)
		}
	}
	return domain.FEFO.Apply(out)
}

func (s *Store) totalAvailable(location domain.StockLocation, productCode string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, b := range s.batches {
		if b.ProductCode == productCode && b.Location == location {
			total += b.Quantity
		}
	}
	return total
}

func (s *Store) candidates(productCode string, location domain.StockLocation) []domain.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Batch
	for _, id := range s.order {
		b := s.batches[id]
		if b.ProductCode == productCode && b.Location == location {
			out = append(out, *b)
		}
	}
	return domain.FEFO.Apply(out)
}

func (s *Store) deduct(batchID string, qty int) (func(), error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, qty)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	if qty > b.Quantity {
		return nil, fmt.Errorf("%w: batch %s holds %d, asked for %d", domain.ErrBatchQuantityExceeded, batchID, b.Quantity, qty)
	}
	b.Quantity -= qty

	return func() { s.adjust(batchID, qty) }, nil
}

func (s *Store) transfer(productCode string, from, to domain.StockLocation, qty int) (func(), error) {
	if from == to {
		return nil, domain.ErrSameLocationTransfer
	}
	if !from.IsValid() || !to.IsValid() {
		return nil, domain.ErrInvalidLocation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var sources []domain.Batch
	for _, id := range s.order {
		b := s.batches[id]
		if b.ProductCode == productCode && b.Location == from {
			sources = append(sources, *b)
		}
	}

	plan, err := domain.PlanTransfer(sources, to, qty)
	if err != nil {
		return nil, fmt.Errorf("transfer %d %s from %s: %w", qty, productCode, from, err)
	}

	var undos []func()
	for _, slice := range plan {
		s.batches[slice.Source.ID].Quantity -= slice.Quantity
		sourceID, moved := slice.Source.ID, slice.Quantity

		target, exists := s.batches[slice.TargetID]
		if exists {
			target.Quantity += moved
		} else {
			created := slice.Source
			created.ID = slice.TargetID
			created.Location = to
			created.Quantity = moved
			s.batches[created.ID] = &created
			s.order = append(s.order, created.ID)
		}

		targetID, created := slice.TargetID, !exists
		undos = append(undos, func() {
			s.adjust(sourceID, moved)
			if created {
				s.remove(targetID)
			} else {
				s.adjust(targetID, -moved)
			}
		})
	}

	return func() {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
	}, nil
}

func (s *Store) receive(batch domain.Batch) (func(), error) {
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = s.now().UTC()
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	if batch.ID == "" {
		batch.ID = s.ids.NewID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[batch.ID]; exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchAlreadyExists, batch.ID)
	}
	s.batches[batch.ID] = &batch
	s.order = append(s.order, batch.ID)

	id := batch.ID
	return func() { s.remove(id) }, nil
}

func (s *Store) recordShortage(ctx context.Context, event *domain.ShortageEvent) (func(), error) {
	var queued *outbox.Event
	if s.events != nil {
		ce := s.events.CreateShortageDetectedEvent(ctx, event)
		ob, err := outbox.NewEvent(event.ProductCode, s.outboxTopic, ce)
		if err != nil {
			return nil, fmt.Errorf("build outbox event: %w", err)
		}
		queued = ob
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.shortages {
		if existing.ID == event.ID {
			return nil, fmt.Errorf("%w: %s", domain.ErrShortageAlreadyExists, event.ID)
		}
	}
	s.shortages = append(s.shortages, event)
	if queued != nil {
		s.outbox = append(s.outbox, queued)
	}

	id := event.ID
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, ev := range s.shortages {
			if ev.ID == id {
				s.shortages = append(s.shortages[:i], s.shortages[i+1:]...)
				break
			}
		}
		if queued != nil {
			for i, ob := range s.outbox {
				if ob.ID == queued.ID {
					s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
					break
				}
			}
		}
	}, nil
}

func (s *Store) adjust(batchID string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[batchID]; ok {
		b.Quantity += delta
	}
}

func (s *Store) remove(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, batchID)
	for i, id := range s.order {
		if id == batchID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// outbox.Repository

func (s *Store) Save(ctx context.Context, event *outbox.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, event)
	return nil
}

func (s *Store) FindUnpublished(ctx context.Context, limit int) ([]*outbox.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*outbox.Event
	for _, e := range s.outbox {
		if e.ShouldRetry() {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.outbox {
		if e.ID == eventID {
			now := s.now().UTC()
			e.PublishedAt = &now
			return nil
		}
	}
	return fmt.Errorf("outbox event %s not found", eventID)
}

func (s *Store) IncrementRetry(ctx context.Context, eventID string, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.outbox {
		if e.ID == eventID {
			e.RetryCount++
			e.LastError = errorMsg
			return nil
		}
	}
	return fmt.Errorf("outbox event %s not found", eventID)
}

func (s *Store) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.outbox[:0]
	var deleted int64
	for _, e := range s.outbox {
		if e.PublishedAt != nil && e.PublishedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.outbox = kept
	return deleted, nil
}

var (
	_ domain.StockStore  = (*Store)(nil)
	_ domain.ShortageLog = (*Store)(nil)
	_ outbox.Repository  = (*Store)(nil)
)
