// Package temporal connects the stock service to Temporal.
package temporal

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	"github.com/pos-platform/stock-service/pkg/logging"
)

// Replenishment runs on its own queue so the worker can be scaled apart
// from anything else sharing the namespace.
const (
	ReplenishmentTaskQueue     = "stock-replenishment-queue"
	ShortageReplenishmentName  = "ShortageReplenishmentWorkflow"
	defaultWorkerConcurrency   = 20
	defaultWorkerPollerCount   = 2
	defaultTemporalHostPort    = "localhost:7233"
	defaultTemporalNamespace   = "default"
	defaultTemporalIdentityTag = "stock-service"
)

type Config struct {
	Enabled   bool   `yaml:"enabled"`
	HostPort  string `yaml:"hostPort" validate:"required_if=Enabled true"`
	Namespace string `yaml:"namespace"`
	Identity  string `yaml:"identity"`
	// Concurrency caps both activity and workflow task execution.
	Concurrency int `yaml:"concurrency" validate:"gte=0"`
}

func DefaultConfig() *Config {
	return &Config{
		HostPort:    defaultTemporalHostPort,
		Namespace:   defaultTemporalNamespace,
		Identity:    defaultTemporalIdentityTag,
		Concurrency: defaultWorkerConcurrency,
	}
}

// Client is a Temporal client bound to the configured namespace.
type Client struct {
	client.Client
	config *Config
}

// NewClient dials Temporal, routing SDK logs through logger.
func NewClient(ctx context.Context, config *Config, logger *logging.Logger) (*Client, error) {
	c, err := client.DialContext(ctx, client.Options{
		HostPort:  config.HostPort,
		Namespace: config.Namespace,
		Identity:  config.Identity,
		Logger:    tlog.NewStructuredLogger(logger.WithComponent("temporal").Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal at %s: %w", config.HostPort, err)
	}
	return &Client{Client: c, config: config}, nil
}

// NewReplenishmentWorker creates a worker polling the replenishment queue.
func (c *Client) NewReplenishmentWorker() worker.Worker {
	concurrency := c.config.Concurrency
	if concurrency <= 0 {
		concurrency = defaultWorkerConcurrency
	}
	return worker.New(c.Client, ReplenishmentTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
		MaxConcurrentActivityTaskPollers:       defaultWorkerPollerCount,
		MaxConcurrentWorkflowTaskPollers:       defaultWorkerPollerCount,
	})
}
