package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/uow"
)

// Acquire checks a connection out of the pool.
func (s *Store) Acquire(ctx context.Context) (uow.Resource, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &resource{store: s, conn: conn, autoCommit: true}, nil
}

type resource struct {
	store      *Store
	conn       *pgxpool.Conn
	tx         pgx.Tx
	autoCommit bool
}

func (r *resource) AutoCommit() bool {
	return r.autoCommit
}

// SetAutoCommit(false) issues BEGIN. Switching back with a transaction
// open commits it.
func (r *resource) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	if autoCommit == r.autoCommit {
		return nil
	}
	if !autoCommit {
		if err := r.begin(ctx); err != nil {
			return err
		}
		r.autoCommit = false
		return nil
	}
	if r.tx != nil {
		tx := r.tx
		r.tx = nil
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit on auto-commit switch: %w", err)
		}
	}
	r.autoCommit = true
	return nil
}

func (r *resource) begin(ctx context.Context) error {
	tx, err := r.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	r.tx = tx
	return nil
}

func (r *resource) Commit(ctx context.Context) error {
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if !r.autoCommit {
		return r.begin(ctx)
	}
	return nil
}

func (r *resource) Rollback(ctx context.Context) error {
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Rollback(ctx); err != nil {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	if !r.autoCommit {
		return r.begin(ctx)
	}
	return nil
}

// Release rolls back anything still open and returns the connection.
func (r *resource) Release(ctx context.Context) error {
	var err error
	if r.tx != nil {
		err = r.tx.Rollback(ctx)
		r.tx = nil
	}
	r.conn.Release()
	if err != nil {
		return fmt.Errorf("failed to roll back on release: %w", err)
	}
	return nil
}

func (r *resource) Store() domain.StockStore {
	return &connStore{store: r.store, resource: r}
}

// connStore sends store calls through the resource's transaction, or its
// bare connection in auto-commit mode.
type connStore struct {
	store    *Store
	resource *resource
}

func (c *connStore) db() db {
	if c.resource.tx != nil {
		return c.resource.tx
	}
	return c.resource.conn
}

func (c *connStore) TotalAvailable(ctx context.Context, location domain.StockLocation, productCode string) (int, error) {
	return c.store.totalAvailable(ctx, c.db(), location, productCode)
}

func (c *connStore) FindDeductionCandidates(ctx context.Context, productCode string, location domain.StockLocation) ([]domain.Batch, error) {
	return c.store.findCandidates(ctx, c.db(), productCode, location, c.resource.tx != nil)
}

func (c *connStore) DeductFromBatch(ctx context.Context, batchID string, qty int) error {
	return c.store.deductFromBatch(ctx, c.db(), batchID, qty)
}

func (c *connStore) TransferStock(ctx context.Context, productCode string, from, to domain.StockLocation, qty int) error {
	return c.store.transferStock(ctx, c.db(), productCode, from, to, qty)
}

func (c *connStore) ReceiveBatch(ctx context.Context, batch domain.Batch) error {
	return c.store.receiveBatch(ctx, c.db(), batch)
}

func (c *connStore) RecordShortage(ctx context.Context, event *domain.ShortageEvent) error {
	return c.store.recordShortage(ctx, c.db(), event)
}
