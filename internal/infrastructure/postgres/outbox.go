package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pos-platform/stock-service/pkg/outbox"
)

// OutboxRepository implements outbox.Repository over the outbox_events table.
type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) Save(ctx context.Context, event *outbox.Event) error {
	return saveOutbox(ctx, r.pool, event)
}

func saveOutbox(ctx context.Context, q db, event *outbox.Event) error {
	_, err := q.Exec(ctx, `
		INSERT INTO outbox_events (id, product_code, event_type, topic, payload, created_at, retry_count, last_error, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.ProductCode, event.EventType, event.Topic,
		string(event.Payload), event.CreatedAt, event.RetryCount, event.LastError, event.MaxRetries,
	)
	if err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

// FindUnpublished returns the oldest unpublished events that still have
// retries left.
func (r *OutboxRepository) FindUnpublished(ctx context.Context, limit int) ([]*outbox.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, product_code, event_type, topic, payload, created_at, published_at, retry_count, last_error, max_retries
		FROM outbox_events
		WHERE published_at IS NULL AND retry_count < max_retries
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		var e outbox.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.ProductCode, &e.EventType, &e.Topic, &payload,
			&e.CreatedAt, &e.PublishedAt, &e.RetryCount, &e.LastError, &e.MaxRetries); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		e.Payload = payload
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE outbox_events SET published_at = NOW() WHERE id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event not found: %s", eventID)
	}
	return nil
}

func (r *OutboxRepository) IncrementRetry(ctx context.Context, eventID string, errorMsg string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE outbox_events SET retry_count = retry_count + 1, last_error = $2 WHERE id = $1`,
		eventID, errorMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to increment retry count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event not found: %s", eventID)
	}
	return nil
}

func (r *OutboxRepository) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published events: %w", err)
	}
	return tag.RowsAffected(), nil
}
