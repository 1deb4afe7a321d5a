package main

import (
	"context"
	"fmt"

	"github.com/pos-platform/stock-service/internal/allocation"
	"github.com/pos-platform/stock-service/internal/config"
	"github.com/pos-platform/stock-service/internal/infrastructure/rabbitmq"
	"github.com/pos-platform/stock-service/internal/infrastructure/redislock"
	"github.com/pos-platform/stock-service/internal/shortage"
	"github.com/pos-platform/stock-service/internal/workflows"
	"github.com/pos-platform/stock-service/pkg/kafka"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
	"github.com/pos-platform/stock-service/pkg/outbox"
	"github.com/pos-platform/stock-service/pkg/resilience"
	"github.com/pos-platform/stock-service/pkg/temporal"
)

// subscribeReplenishment starts a replenishment workflow for every recorded
// shortage when Temporal is enabled.
func subscribeReplenishment(ctx context.Context, cfg *config.Config, bus *shortage.Bus, logger *logging.Logger, m *metrics.Metrics) (func(), error) {
	if !cfg.Temporal.Enabled {
		return func() {}, nil
	}

	tc, err := temporal.NewClient(ctx, cfg.Temporal, logger)
	if err != nil {
		return nil, err
	}
	breaker := resilience.NewCircuitBreaker(resilience.WorkflowStarterConfig("temporal"), logger, m)
	bus.Subscribe("replenishment", workflows.NewReplenishmentStarter(tc, breaker, logger, m))
	logger.Info("Connected to Temporal", "hostPort", cfg.Temporal.HostPort, "namespace", cfg.Temporal.Namespace)
	return tc.Close, nil
}

type runningPublisher struct {
	publisher *outbox.Publisher
	closers   []func() error
	logger    *logging.Logger
}

func (p *runningPublisher) stop() {
	if p.publisher != nil {
		if err := p.publisher.Stop(); err != nil {
			p.logger.WithError(err).Warn("Failed to stop outbox publisher")
		}
	}
	for _, closeFn := range p.closers {
		if err := closeFn(); err != nil {
			p.logger.WithError(err).Warn("Failed to close broker connection")
		}
	}
}

// startOutboxPublisher relays queued shortage events to the configured
// broker through a circuit breaker.
func startOutboxPublisher(ctx context.Context, cfg *config.Config, repo outbox.Repository, logger *logging.Logger, m *metrics.Metrics) (*runningPublisher, error) {
	running := &runningPublisher{logger: logger}

	var sink outbox.Sink
	switch cfg.Broker.Kind {
	case config.BrokerNone:
		return running, nil
	case config.BrokerKafka:
		producer := kafka.NewProducer(cfg.Broker.Kafka, logger)
		running.closers = append(running.closers, producer.Close)
		sink = producer
	case config.BrokerRabbitMQ:
		conn, ch, err := rabbitmq.Connect(ctx, cfg.Broker.RabbitMQ, logger)
		if err != nil {
			return nil, err
		}
		running.closers = append(running.closers, ch.Close, conn.Close)
		sink = rabbitmq.NewSink(ch, cfg.Broker.RabbitMQ.Exchange, logger)
	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}

	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(cfg.Broker.Kind), logger, m)
	running.publisher = outbox.NewPublisher(repo, outbox.NewCircuitBreakerSink(sink, breaker), logger, m, &outbox.PublisherConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		Retention:    cfg.Outbox.Retention,
	})
	if err := running.publisher.Start(ctx); err != nil {
		running.stop()
		return nil, err
	}
	logger.Info("Outbox publisher started", "broker", cfg.Broker.Kind, "topic", cfg.Broker.ShortageTopic)
	return running, nil
}

// newLocker returns the per-product cascade lock, or nil when disabled.
func newLocker(ctx context.Context, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (allocation.Locker, func(), error) {
	switch cfg.Lock.Backend {
	case config.LockLocal:
		return allocation.TimeoutLocker{Locker: allocation.NewKeyedMutex(), Timeout: cfg.Lock.Timeout}, func() {}, nil
	case config.LockRedis:
		client := redislock.NewClient(cfg.Lock.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Lock.Redis.Addr, err)
		}
		locker := redislock.New(client, cfg.Lock.Redis, logger, m)
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close redis client")
			}
		}
		return allocation.TimeoutLocker{Locker: locker, Timeout: cfg.Lock.Timeout}, closeFn, nil
	}
	return nil, func() {}, nil
}
