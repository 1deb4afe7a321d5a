package workflows

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
	"github.com/pos-platform/stock-service/pkg/resilience"
	"github.com/pos-platform/stock-service/pkg/temporal"
)

// workflowExecutor is the part of client.Client the starter needs.
type workflowExecutor interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// ReplenishmentStarter subscribes to the shortage bus and starts one
// replenishment workflow per shortage.
type ReplenishmentStarter struct {
	client    workflowExecutor
	breaker   *resilience.CircuitBreaker
	taskQueue string
	logger    *logging.Logger
	metrics   *metrics.Metrics
}

func NewReplenishmentStarter(c workflowExecutor, breaker *resilience.CircuitBreaker, logger *logging.Logger, m *metrics.Metrics) *ReplenishmentStarter {
	return &ReplenishmentStarter{
		client:    c,
		breaker:   breaker,
		taskQueue: temporal.ReplenishmentTaskQueue,
		logger:    logger.WithComponent("replenishment-starter"),
		metrics:   m,
	}
}

// WorkflowID is stable per shortage, so redelivery never starts a second run.
func WorkflowID(shortageID string) string {
	return "shortage-replenishment-" + shortageID
}

// HandleShortage implements shortage.Handler.
func (s *ReplenishmentStarter) HandleShortage(ctx context.Context, event *domain.ShortageEvent) error {
	options := client.StartWorkflowOptions{
		ID:                    WorkflowID(event.ID),
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}
	input := ShortageReplenishmentInput{
		ShortageID:        event.ID,
		ProductCode:       event.ProductCode,
		RequestedQuantity: event.RequestedQuantity,
		TotalAvailable:    event.TotalAvailable,
	}

	var run client.WorkflowRun
	err := s.breaker.Execute(ctx, func() error {
		var err error
		run, err = s.client.ExecuteWorkflow(ctx, options, ShortageReplenishmentWorkflow, input)
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			run = nil
			return nil
		}
		return err
	})
	s.metrics.RecordWorkflowStarted(temporal.ShortageReplenishmentName, err == nil)
	if err != nil {
		return fmt.Errorf("start replenishment for shortage %s: %w", event.ID, err)
	}

	if run == nil {
		s.logger.Info("Replenishment workflow already started", "workflowId", options.ID)
		return nil
	}
	s.logger.WorkflowStart(ctx, temporal.ShortageReplenishmentName, run.GetID())
	return nil
}
