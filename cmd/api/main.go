package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pos-platform/stock-service/internal/allocation"
	"github.com/pos-platform/stock-service/internal/api/handlers"
	"github.com/pos-platform/stock-service/internal/application"
	"github.com/pos-platform/stock-service/internal/config"
	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/infrastructure/stores"
	"github.com/pos-platform/stock-service/internal/shortage"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/idgen"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
	"github.com/pos-platform/stock-service/pkg/tracing"
)

func main() {
	logger := logging.New(logging.DefaultConfig(config.ServiceName))
	logger.SetDefault()

	logger.Info("Starting stock-service API")

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingConfig := tracing.DefaultConfig(config.ServiceName)
	tracingConfig.Enabled = cfg.Tracing.Enabled
	tracingConfig.OTLPEndpoint = cfg.Tracing.Endpoint
	tracingConfig.SampleRate = cfg.Tracing.SampleRate
	tracerProvider, err := tracing.Initialize(ctx, tracingConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize tracing")
		// continue without tracing
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("Failed to shutdown tracer")
			}
		}()
	}

	m := metrics.New(metrics.DefaultConfig(config.ServiceName))

	backend, err := stores.Open(ctx, cfg, logger, m)
	if err != nil {
		logger.WithError(err).Error("Failed to open stock store", "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer func() {
		if err := backend.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to close stock store")
		}
	}()
	logger.Info("Stock store ready", "driver", backend.Driver)

	exec := uow.NewExecutor(backend.Store, logger, m)

	var busOpts []shortage.BusOption
	if cfg.Allocation.HandlerIsolation {
		busOpts = append(busOpts, shortage.WithHandlerIsolation())
	}
	bus := shortage.NewBus(busOpts...)
	bus.Subscribe("log", shortage.LoggingHandler(logger))
	bus.Subscribe("metrics", shortage.MetricsHandler(m))

	closeTemporal, err := subscribeReplenishment(ctx, cfg, bus, logger, m)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to Temporal")
		os.Exit(1)
	}
	defer closeTemporal()

	publisher, err := startOutboxPublisher(ctx, cfg, backend.Outbox, logger, m)
	if err != nil {
		logger.WithError(err).Error("Failed to start outbox publisher")
		os.Exit(1)
	}
	defer publisher.stop()

	policy, err := domain.PolicyByName(cfg.Allocation.OrderingPolicy)
	if err != nil {
		logger.WithError(err).Error("Invalid ordering policy")
		os.Exit(1)
	}

	resolverOpts := []allocation.ResolverOption{allocation.WithMetrics(m)}
	locker, closeLocker, err := newLocker(ctx, cfg, logger, m)
	if err != nil {
		logger.WithError(err).Error("Failed to set up allocation lock")
		os.Exit(1)
	}
	defer closeLocker()
	if locker != nil {
		resolverOpts = append(resolverOpts, allocation.WithLocker(locker))
	}

	recorder := shortage.NewRecorder(exec, bus, logger)
	resolver := allocation.NewResolver(backend.Store, exec, allocation.AlwaysDecline,
		allocation.NewDeductor(policy), recorder, logger, resolverOpts...)

	stockHandlers := handlers.NewStockHandlers(
		application.NewSaleService(resolver, idgen.UUIDGenerator{Prefix: "SALE-"}, logger),
		application.NewStockService(exec, resolver, idgen.UUIDGenerator{Prefix: "BATCH-"}, logger),
		application.NewStockQueryService(backend.Store, backend.Store, logger),
		logger,
	)

	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.RouterConfig{
		ServiceName:    config.ServiceName,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
		Metrics:        m,
		Ready: func(c *gin.Context) error {
			return backend.Ping(c.Request.Context())
		},
	}, stockHandlers)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server error")
			stop()
		}
	}()
	logger.Info("Server started", "addr", cfg.Server.Addr, "orderingPolicy", policy.Name)

	<-ctx.Done()
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	logger.Info("Server exited")
}
