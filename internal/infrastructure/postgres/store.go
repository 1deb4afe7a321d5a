package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/cloudevents"
	"github.com/pos-platform/stock-service/pkg/idgen"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
	"github.com/pos-platform/stock-service/pkg/outbox"
	"github.com/pos-platform/stock-service/pkg/tracing"
)

const (
	backend         = "postgres"
	uniqueViolation = "23505"
)

const selectCandidates = `
SELECT id, product_code, location, received_at, expiry, quantity
FROM batches
WHERE product_code = $1 AND location = $2 AND quantity > 0
ORDER BY expiry ASC NULLS LAST, received_at ASC, id ASC`

// Store is the PostgreSQL stock store.
type Store struct {
	pool        *pgxpool.Pool
	outbox      *OutboxRepository
	events      *cloudevents.EventFactory
	outboxTopic string
	ids         idgen.Generator
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithOutbox queues a CloudEvent for topic whenever a shortage is recorded.
func WithOutbox(factory *cloudevents.EventFactory, topic string) Option {
	return func(s *Store) {
		s.events = factory
		s.outboxTopic = topic
	}
}

// WithIDGenerator sets the generator for batches received without an ID.
func WithIDGenerator(g idgen.Generator) Option {
	return func(s *Store) { s.ids = g }
}

// WithMetrics records store operation metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a Store over pool.
func NewStore(pool *pgxpool.Pool, logger *logging.Logger, opts ...Option) *Store {
	s := &Store{
		pool:   pool,
		outbox: NewOutboxRepository(pool),
		ids:    idgen.UUIDGenerator{Prefix: "BATCH-"},
		logger: logger.WithComponent("postgres-store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outbox returns the repository the outbox publisher reads from.
func (s *Store) Outbox() *OutboxRepository {
	return s.outbox
}

func (s *Store) observe(ctx context.Context, op, table string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "postgres."+op, tracing.DatabaseSpanAttributes(backend, op, table)...)
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	tracing.EndSpan(span, err)
	s.metrics.RecordStoreOperation(backend, op, err == nil, duration)
	s.logger.StoreOperation(ctx, backend, op, duration, err)
	return err
}

func (s *Store) TotalAvailable(ctx context.Context, location domain.StockLocation, productCode string) (int, error) {
	return s.totalAvailable(ctx, s.pool, location, productCode)
}

func (s *Store) FindDeductionCandidates(ctx context.Context, productCode string, location domain.StockLocation) ([]domain.Batch, error) {
	return s.findCandidates(ctx, s.pool, productCode, location, false)
}

func (s *Store) DeductFromBatch(ctx context.Context, batchID string, qty int) error {
	return s.deductFromBatch(ctx, s.pool, batchID, qty)
}

func (s *Store) TransferStock(ctx context.Context, productCode string, from, to domain.StockLocation, qty int) error {
	return s.transferStock(ctx, s.pool, productCode, from, to, qty)
}

func (s *Store) ReceiveBatch(ctx context.Context, batch domain.Batch) error {
	return s.receiveBatch(ctx, s.pool, batch)
}

func (s *Store) RecordShortage(ctx context.Context, event *domain.ShortageEvent) error {
	return s.recordShortage(ctx, s.pool, event)
}

func (s *Store) totalAvailable(ctx context.Context, q db, location domain.StockLocation, productCode string) (int, error) {
	var total int
	err := s.observe(ctx, "total_available", "batches", func(ctx context.Context) error {
		err := q.QueryRow(ctx,
			`SELECT COALESCE(SUM(quantity), 0) FROM batches WHERE product_code = $1 AND location = $2`,
			productCode, string(location),
		).Scan(&total)
		if err != nil {
			return fmt.Errorf("failed to sum batches: %w", err)
		}
		return nil
	})
	return total, err
}

func (s *Store) findCandidates(ctx context.Context, q db, productCode string, location domain.StockLocation, forUpdate bool) ([]domain.Batch, error) {
	query := selectCandidates
	if forUpdate {
		query += " FOR UPDATE"
	}

	var batches []domain.Batch
	err := s.observe(ctx, "find_candidates", "batches", func(ctx context.Context) error {
		rows, err := q.Query(ctx, query, productCode, string(location))
		if err != nil {
			return fmt.Errorf("failed to query batches: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var b domain.Batch
			var loc string
			if err := rows.Scan(&b.ID, &b.ProductCode, &loc, &b.ReceivedAt, &b.Expiry, &b.Quantity); err != nil {
				return fmt.Errorf("failed to scan batch: %w", err)
			}
			b.Location = domain.StockLocation(loc)
			batches = append(batches, b)
		}
		return rows.Err()
	})
	return batches, err
}

func (s *Store) deductFromBatch(ctx context.Context, q db, batchID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidQuantity, qty)
	}
	return s.observe(ctx, "deduct", "batches", func(ctx context.Context) error {
		return decrement(ctx, q, batchID, qty)
	})
}

func decrement(ctx context.Context, q db, batchID string, qty int) error {
	tag, err := q.Exec(ctx,
		`UPDATE batches SET quantity = quantity - $2, updated_at = NOW() WHERE id = $1 AND quantity >= $2`,
		batchID, qty,
	)
	if err != nil {
		return fmt.Errorf("failed to deduct from batch %s: %w", batchID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var held int
	err = q.QueryRow(ctx, `SELECT quantity FROM batches WHERE id = $1`, batchID).Scan(&held)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrBatchNotFound, batchID)
	}
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	return fmt.Errorf("%w: batch %s holds %d, asked for %d", domain.ErrBatchQuantityExceeded, batchID, held, qty)
}

func (s *Store) transferStock(ctx context.Context, q db, productCode string, from, to domain.StockLocation, qty int) error {
	if from == to {
		return domain.ErrSameLocationTransfer
	}
	if !from.IsValid() || !to.IsValid() {
		return domain.ErrInvalidLocation
	}

	return s.observe(ctx, "transfer", "batches", func(ctx context.Context) error {
		// on a transaction Begin opens a savepoint
		return pgx.BeginFunc(ctx, q, func(tx pgx.Tx) error {
			sources, err := s.findCandidates(ctx, tx, productCode, from, true)
			if err != nil {
				return err
			}
			plan, err := domain.PlanTransfer(sources, to, qty)
			if err != nil {
				return fmt.Errorf("transfer %d %s from %s: %w", qty, productCode, from, err)
			}

			for _, slice := range plan {
				if err := decrement(ctx, tx, slice.Source.ID, slice.Quantity); err != nil {
					return err
				}
				_, err := tx.Exec(ctx, `
					INSERT INTO batches (id, product_code, location, received_at, expiry, quantity)
					VALUES ($1, $2, $3, $4, $5, $6)
					ON CONFLICT (id) DO UPDATE
					SET quantity = batches.quantity + EXCLUDED.quantity, updated_at = NOW()`,
					slice.TargetID, productCode, string(to), slice.Source.ReceivedAt, slice.Source.Expiry, slice.Quantity,
				)
				if err != nil {
					return fmt.Errorf("failed to credit batch %s: %w", slice.TargetID, err)
				}
			}
			return nil
		})
	})
}

func (s *Store) receiveBatch(ctx context.Context, q db, batch domain.Batch) error {
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now().UTC()
	}
	if err := batch.Validate(); err != nil {
		return err
	}
	if batch.ID == "" {
		batch.ID = s.ids.NewID()
	}

	return s.observe(ctx, "receive", "batches", func(ctx context.Context) error {
		_, err := q.Exec(ctx,
			`INSERT INTO batches (id, product_code, location, received_at, expiry, quantity) VALUES ($1, $2, $3, $4, $5, $6)`,
			batch.ID, batch.ProductCode, string(batch.Location), batch.ReceivedAt, batch.Expiry, batch.Quantity,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrBatchAlreadyExists, batch.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
		return nil
	})
}

func (s *Store) recordShortage(ctx context.Context, q db, event *domain.ShortageEvent) error {
	breakdown := make(map[string]int, len(event.Breakdown))
	for loc, qty := range event.Breakdown {
		breakdown[string(loc)] = qty
	}
	raw, err := json.Marshal(breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode breakdown: %w", err)
	}

	return s.observe(ctx, "record_shortage", "shortages", func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, q, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				INSERT INTO shortages (id, product_code, message, breakdown, total_available, requested_quantity, detected_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				event.ID, event.ProductCode, event.Message, string(raw), event.TotalAvailable, event.RequestedQuantity, event.DetectedAt.UTC(),
			)
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", domain.ErrShortageAlreadyExists, event.ID)
			}
			if err != nil {
				return fmt.Errorf("failed to insert shortage: %w", err)
			}

			if s.events == nil {
				return nil
			}
			ce := s.events.CreateShortageDetectedEvent(ctx, event)
			ob, err := outbox.NewEvent(event.ProductCode, s.outboxTopic, ce)
			if err != nil {
				return fmt.Errorf("failed to build outbox event: %w", err)
			}
			return saveOutbox(ctx, tx, ob)
		})
	})
}

// ListShortages returns shortages newest first. An empty product code
// lists every product; a non-positive limit returns all.
func (s *Store) ListShortages(ctx context.Context, productCode string, limit int) ([]*domain.ShortageEvent, error) {
	var events []*domain.ShortageEvent
	err := s.observe(ctx, "list_shortages", "shortages", func(ctx context.Context) error {
		var lim *int
		if limit > 0 {
			lim = &limit
		}
		rows, err := s.pool.Query(ctx, `
			SELECT id, product_code, message, breakdown, total_available, requested_quantity, detected_at
			FROM shortages
			WHERE $1 = '' OR product_code = $1
			ORDER BY detected_at DESC
			LIMIT $2`,
			productCode, lim,
		)
		if err != nil {
			return fmt.Errorf("failed to query shortages: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var ev domain.ShortageEvent
			var raw []byte
			if err := rows.Scan(&ev.ID, &ev.ProductCode, &ev.Message, &raw, &ev.TotalAvailable, &ev.RequestedQuantity, &ev.DetectedAt); err != nil {
				return fmt.Errorf("failed to scan shortage: %w", err)
			}
			var breakdown map[string]int
			if err := json.Unmarshal(raw, &breakdown); err != nil {
				return fmt.Errorf("failed to decode breakdown: %w", err)
			}
			ev.Breakdown = make(map[domain.StockLocation]int, len(breakdown))
			for loc, qty := range breakdown {
				ev.Breakdown[domain.StockLocation(loc)] = qty
			}
			events = append(events, &ev)
		}
		return rows.Err()
	})
	return events, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
