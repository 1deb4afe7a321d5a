package main

import (
	"context"
	"os"

	"go.temporal.io/sdk/worker"

	"github.com/pos-platform/stock-service/internal/config"
	"github.com/pos-platform/stock-service/internal/infrastructure/stores"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/internal/workflows"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
	"github.com/pos-platform/stock-service/pkg/temporal"
)

func main() {
	logger := logging.New(logging.DefaultConfig(config.ServiceName + "-worker"))
	logger.SetDefault()

	logger.Info("Starting stock replenishment worker")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	if cfg.Store.Driver == config.DriverMemory {
		logger.Warn("Worker is using the in-memory store; transfers will not reach the API's stock")
	}

	ctx := context.Background()
	m := metrics.New(metrics.DefaultConfig(config.ServiceName + "-worker"))

	backend, err := stores.Open(ctx, cfg, logger, m)
	if err != nil {
		logger.WithError(err).Error("Failed to open stock store", "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer backend.Close(ctx)

	temporalClient, err := temporal.NewClient(ctx, cfg.Temporal, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create Temporal client")
		os.Exit(1)
	}
	defer temporalClient.Close()
	logger.Info("Connected to Temporal", "hostPort", cfg.Temporal.HostPort, "namespace", cfg.Temporal.Namespace)

	exec := uow.NewExecutor(backend.Store, logger, m)
	stockActivities := workflows.NewStockActivities(backend.Store, exec, logger, m)

	w := temporalClient.NewReplenishmentWorker()
	w.RegisterWorkflow(workflows.ShortageReplenishmentWorkflow)
	w.RegisterActivity(stockActivities)

	logger.Info("Worker registered", "taskQueue", temporal.ReplenishmentTaskQueue)

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.WithError(err).Error("Worker stopped with error")
		os.Exit(1)
	}
	logger.Info("Worker stopped")
}
