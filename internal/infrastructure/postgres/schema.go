package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	product_code TEXT NOT NULL,
	location TEXT NOT NULL CHECK (location IN ('SHELF', 'MAIN_STORE', 'WEB')),
	received_at TIMESTAMPTZ NOT NULL,
	expiry TIMESTAMPTZ,
	quantity INT NOT NULL CHECK (quantity >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS shortages (
	id TEXT PRIMARY KEY,
	product_code TEXT NOT NULL,
	message TEXT NOT NULL,
	breakdown JSONB NOT NULL,
	total_available INT NOT NULL,
	requested_quantity INT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id TEXT PRIMARY KEY,
	product_code TEXT NOT NULL,
	event_type TEXT NOT NULL,
	topic TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	published_at TIMESTAMPTZ,
	retry_count INT NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	max_retries INT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batches_fefo
	ON batches (product_code, location, expiry ASC NULLS LAST, received_at ASC);
CREATE INDEX IF NOT EXISTS idx_shortages_product ON shortages (product_code, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox_events (created_at) WHERE published_at IS NULL;
`

// Migrate creates the tables and indexes if they are missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return nil
}
