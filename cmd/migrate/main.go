// Command migrate creates the schema (PostgreSQL) or indexes (MongoDB) for
// the configured stock store.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/pos-platform/stock-service/internal/config"
	"github.com/pos-platform/stock-service/internal/infrastructure/stores"
	"github.com/pos-platform/stock-service/pkg/logging"
)

var timeout = flag.Duration("timeout", time.Minute, "Maximum time to wait for the migration")

func main() {
	flag.Parse()

	logger := logging.New(logging.DefaultConfig(config.ServiceName + "-migrate"))

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backend, err := stores.Open(ctx, cfg, logger, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to open stock store", "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer backend.Close(context.Background())

	start := time.Now()
	if err := backend.Migrate(ctx); err != nil {
		logger.WithError(err).Error("Migration failed", "driver", backend.Driver)
		os.Exit(1)
	}
	logger.Info("Migration complete", "driver", backend.Driver, "duration", time.Since(start).String())
}
