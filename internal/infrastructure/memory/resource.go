package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/uow"
)

var errResourceReleased = errors.New("memory: resource already released")

// Acquire hands out a connection-like resource. It starts in auto-commit
// mode; switching to manual mode opens a transaction that holds the store
// until it is committed or rolled back.
func (s *Store) Acquire(ctx context.Context) (uow.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &resource{store: s, autoCommit: true}, nil
}

type resource struct {
	store *Store

	mu         sync.Mutex
	autoCommit bool
	holding    bool
	released   bool
	undo       []func()
}

func (r *resource) AutoCommit() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoCommit
}

func (r *resource) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released {
		return errResourceReleased
	}
	if autoCommit == r.autoCommit {
		return nil
	}

	if !autoCommit {
		if err := r.store.lockTx(ctx); err != nil {
			return err
		}
		r.holding = true
		r.autoCommit = false
		return nil
	}

	// leaving manual mode commits pending work, as a JDBC connection does
	r.undo = nil
	r.releaseTx()
	r.autoCommit = true
	return nil
}

func (r *resource) Commit(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return errResourceReleased
	}
	r.undo = nil
	return nil
}

func (r *resource) Rollback(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return errResourceReleased
	}
	r.rollbackLocked()
	return nil
}

func (r *resource) Release(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return errResourceReleased
	}
	r.rollbackLocked()
	r.releaseTx()
	r.released = true
	return nil
}

func (r *resource) rollbackLocked() {
	for i := len(r.undo) - 1; i >= 0; i-- {
		r.undo[i]()
	}
	r.undo = nil
}

func (r *resource) releaseTx() {
	if r.holding {
		r.holding = false
		r.store.unlockTx()
	}
}

func (r *resource) Store() domain.StockStore {
	return &txStore{res: r}
}

// txStore routes calls through the resource's open transaction, or through
// the store's own locking when the resource is in auto-commit mode.
type txStore struct {
	res *resource
}

func (t *txStore) manual() bool {
	return !t.res.AutoCommit()
}

func (t *txStore) mutate(ctx context.Context, fn func() (func(), error)) error {
	if !t.manual() {
		return t.res.store.autoCommit(ctx, fn)
	}
	undo, err := fn()
	if err != nil {
		return err
	}
	t.res.mu.Lock()
	t.res.undo = append(t.res.undo, undo)
	t.res.mu.Unlock()
	return nil
}

func (t *txStore) TotalAvailable(ctx context.Context, location domain.StockLocation, productCode string) (int, error) {
	if !t.manual() {
		return t.res.store.TotalAvailable(ctx, location, productCode)
	}
	return t.res.store.totalAvailable(location, productCode), nil
}

func (t *txStore) FindDeductionCandidates(ctx context.Context, productCode string, location domain.StockLocation) ([]domain.Batch, error) {
	if !t.manual() {
		return t.res.store.FindDeductionCandidates(ctx, productCode, location)
	}
	return t.res.store.candidates(productCode, location), nil
}

func (t *txStore) DeductFromBatch(ctx context.Context, batchID string, qty int) error {
	return t.mutate(ctx, func() (func(), error) { return t.res.store.deduct(batchID, qty) })
}

func (t *txStore) TransferStock(ctx context.Context, productCode string, from, to domain.StockLocation, qty int) error {
	return t.mutate(ctx, func() (func(), error) { return t.res.store.transfer(productCode, from, to, qty) })
}

func (t *txStore) ReceiveBatch(ctx context.Context, batch domain.Batch) error {
	return t.mutate(ctx, func() (func(), error) { return t.res.store.receive(batch) })
}

func (t *txStore) RecordShortage(ctx context.Context, event *domain.ShortageEvent) error {
	return t.mutate(ctx, func() (func(), error) { return t.res.store.recordShortage(ctx, event) })
}

var _ uow.ResourceProvider = (*Store)(nil)
