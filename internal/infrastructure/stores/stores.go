// Package stores opens the stock store backend named in the configuration.
package stores

import (
	"context"
	"fmt"

	"github.com/pos-platform/stock-service/internal/config"
	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/infrastructure/memory"
	"github.com/pos-platform/stock-service/internal/infrastructure/mongodb"
	"github.com/pos-platform/stock-service/internal/infrastructure/postgres"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/cloudevents"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
	"github.com/pos-platform/stock-service/pkg/outbox"
)

// StockBackend is what every store driver provides.
type StockBackend interface {
	domain.StockStore
	domain.ShortageLog
	uow.ResourceProvider
}

// Backend is an opened store with its outbox and lifecycle hooks.
type Backend struct {
	Driver string
	Store  StockBackend
	Outbox outbox.Repository

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
	setup func(ctx context.Context) error
}

// Ping reports whether the backend can serve requests.
func (b *Backend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases connections.
func (b *Backend) Close(ctx context.Context) error {
	if b.close == nil {
		return nil
	}
	return b.close(ctx)
}

// Migrate creates the schema or indexes the driver relies on.
func (b *Backend) Migrate(ctx context.Context) error {
	if b.setup == nil {
		return nil
	}
	return b.setup(ctx)
}

// Open connects to the configured driver. When a broker is configured,
// recorded shortages also queue an outbox event for the shortage topic.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*Backend, error) {
	var events *cloudevents.EventFactory
	if cfg.Broker.Kind != config.BrokerNone {
		events = cloudevents.NewEventFactory(cloudevents.SourceStockService)
	}
	topic := cfg.Broker.ShortageTopic

	switch cfg.Store.Driver {
	case config.DriverMemory:
		var opts []memory.Option
		if events != nil {
			opts = append(opts, memory.WithOutbox(events, topic))
		}
		store := memory.NewStore(opts...)
		return &Backend{Driver: cfg.Store.Driver, Store: store, Outbox: store}, nil

	case config.DriverMongoDB:
		client, err := mongodb.NewClient(ctx, cfg.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
		}
		opts := []mongodb.Option{mongodb.WithMetrics(m)}
		if events != nil {
			opts = append(opts, mongodb.WithOutbox(events, topic))
		}
		store := mongodb.NewStore(client, logger, opts...)
		return &Backend{
			Driver: cfg.Store.Driver,
			Store:  store,
			Outbox: store.Outbox(),
			ping:   client.HealthCheck,
			close:  client.Close,
			setup:  store.EnsureIndexes,
		}, nil

	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		opts := []postgres.Option{postgres.WithMetrics(m)}
		if events != nil {
			opts = append(opts, postgres.WithOutbox(events, topic))
		}
		store := postgres.NewStore(pool, logger, opts...)
		return &Backend{
			Driver: cfg.Store.Driver,
			Store:  store,
			Outbox: store.Outbox(),
			ping:   pool.Ping,
			close: func(context.Context) error {
				pool.Close()
				return nil
			},
			setup: func(ctx context.Context) error { return postgres.Migrate(ctx, pool) },
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
