package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/uow"
)

// Acquire starts a session. The session behaves like a connection in
// auto-commit mode until SetAutoCommit(false) opens a transaction.
func (s *Store) Acquire(ctx context.Context) (uow.Resource, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return &resource{store: s, session: session, autoCommit: true}, nil
}

type resource struct {
	store      *Store
	session    mongo.Session
	autoCommit bool
	inTx       bool
}

func (r *resource) AutoCommit() bool {
	return r.autoCommit
}

// SetAutoCommit(false) starts a transaction. Switching back while a
// transaction is open commits it.
func (r *resource) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	if autoCommit == r.autoCommit {
		return nil
	}
	if !autoCommit {
		if err := r.session.StartTransaction(); err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		r.inTx = true
		r.autoCommit = false
		return nil
	}
	if r.inTx {
		if err := r.Commit(ctx); err != nil {
			return err
		}
	}
	r.autoCommit = true
	return nil
}

func (r *resource) Commit(ctx context.Context) error {
	if !r.inTx {
		return nil
	}
	if err := r.session.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	r.inTx = false
	if !r.autoCommit {
		// keep manual mode: the next statements belong to a new transaction
		if err := r.session.StartTransaction(); err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		r.inTx = true
	}
	return nil
}

func (r *resource) Rollback(ctx context.Context) error {
	if !r.inTx {
		return nil
	}
	r.inTx = false
	if err := r.session.AbortTransaction(ctx); err != nil {
		return fmt.Errorf("failed to abort transaction: %w", err)
	}
	if !r.autoCommit {
		if err := r.session.StartTransaction(); err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		r.inTx = true
	}
	return nil
}

// Release aborts anything still open and ends the session.
func (r *resource) Release(ctx context.Context) error {
	var err error
	if r.inTx {
		r.inTx = false
		err = r.session.AbortTransaction(ctx)
	}
	r.session.EndSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to abort transaction on release: %w", err)
	}
	return nil
}

func (r *resource) Store() domain.StockStore {
	return &sessionStore{store: r.store, resource: r}
}

// sessionStore binds store calls to the resource's session while it is in
// manual-commit mode.
type sessionStore struct {
	store    *Store
	resource *resource
}

func (t *sessionStore) bind(ctx context.Context) context.Context {
	if t.resource.autoCommit {
		return ctx
	}
	return mongo.NewSessionContext(ctx, t.resource.session)
}

func (t *sessionStore) TotalAvailable(ctx context.Context, location domain.StockLocation, productCode string) (int, error) {
	return t.store.TotalAvailable(t.bind(ctx), location, productCode)
}

func (t *sessionStore) FindDeductionCandidates(ctx context.Context, productCode string, location domain.StockLocation) ([]domain.Batch, error) {
	return t.store.FindDeductionCandidates(t.bind(ctx), productCode, location)
}

func (t *sessionStore) DeductFromBatch(ctx context.Context, batchID string, qty int) error {
	return t.store.DeductFromBatch(t.bind(ctx), batchID, qty)
}

func (t *sessionStore) TransferStock(ctx context.Context, productCode string, from, to domain.StockLocation, qty int) error {
	return t.store.TransferStock(t.bind(ctx), productCode, from, to, qty)
}

func (t *sessionStore) ReceiveBatch(ctx context.Context, batch domain.Batch) error {
	return t.store.ReceiveBatch(t.bind(ctx), batch)
}

func (t *sessionStore) RecordShortage(ctx context.Context, event *domain.ShortageEvent) error {
	return t.store.RecordShortage(t.bind(ctx), event)
}
