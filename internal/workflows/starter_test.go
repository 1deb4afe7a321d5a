package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/shortage"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/resilience"
	"github.com/pos-platform/stock-service/pkg/temporal"
)

type fakeRun struct {
	client.WorkflowRun
	id string
}

func (r fakeRun) GetID() string { return r.id }

type startCall struct {
	options client.StartWorkflowOptions
	input   ShortageReplenishmentInput
}

type fakeExecutor struct {
	calls []startCall
	err   error
}

func (f *fakeExecutor) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	call := startCall{options: options}
	if len(args) == 1 {
		call.input, _ = args[0].(ShortageReplenishmentInput)
	}
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return fakeRun{id: options.ID}, nil
}

func newStarter(exec *fakeExecutor, failureThreshold uint32) *ReplenishmentStarter {
	cfg := resilience.DefaultCircuitBreakerConfig("temporal-starter")
	cfg.FailureThreshold = failureThreshold
	cfg.Timeout = time.Hour
	return NewReplenishmentStarter(exec, resilience.NewCircuitBreaker(cfg, logging.NewNop(), nil), logging.NewNop(), nil)
}

func shortageFor(id string) *domain.ShortageEvent {
	return domain.NewShortageEvent(id, product, 8, map[domain.StockLocation]int{domain.LocationShelf: 2, domain.LocationWeb: 1}, time.Now())
}

func TestReplenishmentStarter_StartsOneWorkflowPerShortage(t *testing.T) {
	exec := &fakeExecutor{}
	starter := newStarter(exec, 5)

	bus := shortage.NewBus()
	bus.Subscribe("replenishment", starter)
	require.NoError(t, bus.Publish(context.Background(), shortageFor("SHORTAGE-7")))

	require.Len(t, exec.calls, 1)
	call := exec.calls[0]
	assert.Equal(t, "shortage-replenishment-SHORTAGE-7", call.options.ID)
	assert.Equal(t, temporal.ReplenishmentTaskQueue, call.options.TaskQueue)
	assert.Equal(t, enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE, call.options.WorkflowIDReusePolicy)
	assert.Equal(t, ShortageReplenishmentInput{
		ShortageID:        "SHORTAGE-7",
		ProductCode:       product,
		RequestedQuantity: 8,
		TotalAvailable:    3,
	}, call.input)
}

func TestReplenishmentStarter_AlreadyStartedIsNotAnError(t *testing.T) {
	exec := &fakeExecutor{err: &serviceerror.WorkflowExecutionAlreadyStarted{Message: "already started"}}
	starter := newStarter(exec, 1)

	assert.NoError(t, starter.HandleShortage(context.Background(), shortageFor("SHORTAGE-1")))
	assert.NoError(t, starter.HandleShortage(context.Background(), shortageFor("SHORTAGE-1")))
	assert.Len(t, exec.calls, 2)
}

func TestReplenishmentStarter_OpensCircuitWhenTemporalIsDown(t *testing.T) {
	down := errors.New("connection refused")
	exec := &fakeExecutor{err: down}
	starter := newStarter(exec, 2)
	ctx := context.Background()

	assert.ErrorIs(t, starter.HandleShortage(ctx, shortageFor("S-1")), down)
	assert.ErrorIs(t, starter.HandleShortage(ctx, shortageFor("S-2")), down)

	err := starter.HandleShortage(ctx, shortageFor("S-3"))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Len(t, exec.calls, 2)
}
