package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
)

var (
	ErrPublisherRunning = errors.New("outbox publisher already running")
	ErrPublisherStopped = errors.New("outbox publisher not running")
)

// PublisherConfig holds configuration for the outbox publisher
type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// Retention is how long published events are kept. Zero keeps them.
	Retention time.Duration
}

func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		PollInterval: time.Second,
		BatchSize:    100,
		Retention:    24 * time.Hour,
	}
}

// PublisherStats counts delivery attempts since the publisher was created.
// Held events were not attempted because an earlier event of the same
// product failed in the same poll.
type PublisherStats struct {
	Published int
	Failed    int
	Held      int
}

// Publisher polls the outbox and hands pending events to a Sink. Events of
// one product are delivered in creation order: after a failure the rest of
// that product's batch waits for the next poll.
type Publisher struct {
	repo    Repository
	sink    Sink
	logger  *logging.Logger
	metrics *metrics.Metrics
	cfg     PublisherConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stats   PublisherStats
}

// NewPublisher creates a publisher. A nil config uses the defaults.
func NewPublisher(repo Repository, sink Sink, logger *logging.Logger, m *metrics.Metrics, config *PublisherConfig) *Publisher {
	if config == nil {
		config = DefaultPublisherConfig()
	}
	return &Publisher{
		repo:    repo,
		sink:    sink,
		logger:  logger.WithComponent("outbox-publisher"),
		metrics: m,
		cfg:     *config,
	}
}

// Start launches the poll loop. It runs until Stop or until ctx ends.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrPublisherRunning
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	p.logger.Info("Starting outbox publisher", "interval", p.cfg.PollInterval, "batchSize", p.cfg.BatchSize)
	go p.run(ctx, p.stopCh, p.doneCh)
	return nil
}

// Stop ends the poll loop and waits for the in-flight poll to finish.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrPublisherStopped
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)
	<-doneCh

	p.mu.Lock()
	p.running = false
	stats := p.stats
	p.mu.Unlock()

	p.logger.Info("Outbox publisher stopped",
		"published", stats.Published,
		"failed", stats.Failed,
		"held", stats.Held,
	)
	return nil
}

func (p *Publisher) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Publisher) Stats() PublisherStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Publisher) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	// sweep published events roughly once an hour for the default retention
	sweepEvery := p.cfg.Retention / 24
	lastSweep := time.Now()
	for {
		select {
		case <-ticker.C:
			p.processEvents(ctx)
			if p.cfg.Retention > 0 && time.Since(lastSweep) >= sweepEvery {
				p.cleanup(ctx)
				lastSweep = time.Now()
			}
		case <-stopCh:
			return
		case <-ctx.Done():
			p.logger.Info("Outbox publisher context cancelled")
			return
		}
	}
}

func (p *Publisher) processEvents(ctx context.Context) {
	events, err := p.repo.FindUnpublished(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.WithError(err).Error("Failed to find unpublished events")
		return
	}
	p.metrics.SetOutboxPending(len(events))

	blocked := make(map[string]bool)
	for _, event := range events {
		if blocked[event.ProductCode] {
			p.count(func(s *PublisherStats) { s.Held++ })
			continue
		}

		duration, err := p.publishEvent(ctx, event)
		p.metrics.RecordOutboxPublish(event.EventType, err == nil, duration)
		if err != nil {
			blocked[event.ProductCode] = true
			p.count(func(s *PublisherStats) { s.Failed++ })
			p.logger.WithError(err).Error("Failed to publish event",
				"eventId", event.ID,
				"eventType", event.EventType,
				"productCode", event.ProductCode,
				"attempt", event.RetryCount+1,
			)
			if err := p.repo.IncrementRetry(ctx, event.ID, err.Error()); err != nil {
				p.logger.WithError(err).Error("Failed to increment retry count", "eventId", event.ID)
			}
			p.metrics.RecordOutboxRetry(event.EventType)
			continue
		}

		p.count(func(s *PublisherStats) { s.Published++ })
		if err := p.repo.MarkPublished(ctx, event.ID); err != nil {
			// the event will be delivered again on the next poll
			p.logger.WithError(err).Error("Failed to mark event as published", "eventId", event.ID)
		}
	}
}

func (p *Publisher) count(update func(*PublisherStats)) {
	p.mu.Lock()
	update(&p.stats)
	p.mu.Unlock()
}

func (p *Publisher) publishEvent(ctx context.Context, event *Event) (time.Duration, error) {
	start := time.Now()

	ce, err := event.CloudEvent()
	if err != nil {
		return time.Since(start), err
	}
	if err := p.sink.PublishEvent(ctx, event.Topic, ce); err != nil {
		return time.Since(start), fmt.Errorf("publish to %s: %w", event.Topic, err)
	}

	duration := time.Since(start)
	p.logger.Debug("Published event from outbox",
		"eventId", event.ID,
		"eventType", event.EventType,
		"topic", event.Topic,
		"productCode", event.ProductCode,
		"durationMs", duration.Milliseconds(),
	)
	return duration, nil
}

func (p *Publisher) cleanup(ctx context.Context) {
	deleted, err := p.repo.DeletePublished(ctx, time.Now().Add(-p.cfg.Retention))
	if err != nil {
		p.logger.WithError(err).Warn("Failed to delete published outbox events")
		return
	}
	if deleted > 0 {
		p.logger.Info("Deleted published outbox events", "count", deleted)
	}
}
