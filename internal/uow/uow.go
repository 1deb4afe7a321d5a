// Package uow runs stock mutations as a single atomic unit of work against a
// connection-like resource.
//
// The executor follows the same protocol regardless of backend: acquire a
// resource, remember its auto-commit mode, switch to manual mode, run the
// work, commit or roll back, restore the original mode and release the
// resource. Any failure comes back as a *TransactionFailure that keeps the
// original cause.
package uow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
	"github.com/pos-platform/stock-service/pkg/tracing"
)

// ErrWorkPanicked is the cause recorded when the work function panics.
var ErrWorkPanicked = errors.New("unit of work panicked")

// Resource is a transactional connection handed out by a ResourceProvider.
type Resource interface {
	AutoCommit() bool
	SetAutoCommit(ctx context.Context, autoCommit bool) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Release returns the resource to its provider. It is called exactly
	// once per acquired resource.
	Release(ctx context.Context) error
	// Store returns a stock store bound to this resource's transaction.
	Store() domain.StockStore
}

// ResourceProvider hands out resources, typically from a pool.
type ResourceProvider interface {
	Acquire(ctx context.Context) (Resource, error)
}

// Work is the body of a unit of work. Every store call it makes joins the
// same transaction.
type Work func(ctx context.Context, store domain.StockStore) error

// Runner is implemented by Executor and lets callers substitute their own
// transaction handling in tests.
type Runner interface {
	Run(ctx context.Context, work Work) error
}

// Executor runs Work atomically.
type Executor struct {
	provider ResourceProvider
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// NewExecutor creates an Executor over provider.
func NewExecutor(provider ResourceProvider, logger *logging.Logger, m *metrics.Metrics) *Executor {
	return &Executor{
		provider: provider,
		logger:   logger.WithComponent("unit-of-work"),
		metrics:  m,
	}
}

// Run executes work in a unit of work. A nil return means the work's
// mutations are committed; otherwise none of them are and the error is a
// *TransactionFailure.
func (e *Executor) Run(ctx context.Context, work Work) (err error) {
	ctx, span := tracing.StartSpan(ctx, "uow.Run")
	start := time.Now()
	defer func() {
		span.SetAttributes(attribute.Bool("uow.committed", err == nil))
		tracing.EndSpan(span, err)
	}()

	res, acqErr := e.provider.Acquire(ctx)
	if acqErr != nil {
		e.metrics.RecordUnitOfWork("failed")
		return &TransactionFailure{Op: OpAcquire, Cause: acqErr}
	}

	// cleanup must run even when the caller's context is already cancelled
	cleanupCtx := context.WithoutCancel(ctx)

	defer func() {
		if relErr := res.Release(cleanupCtx); relErr != nil {
			e.logger.WithError(relErr).Error("Failed to release unit of work resource")
			if err == nil {
				err = &TransactionFailure{Op: OpRelease, Cause: relErr}
			}
		}
	}()

	previousMode := res.AutoCommit()
	if modeErr := res.SetAutoCommit(ctx, false); modeErr != nil {
		e.metrics.RecordUnitOfWork("failed")
		return &TransactionFailure{Op: OpBegin, Cause: modeErr}
	}

	if workErr := invoke(ctx, res.Store(), work); workErr != nil {
		rbErr := res.Rollback(cleanupCtx)
		e.restore(cleanupCtx, res, previousMode)
		e.metrics.RecordUnitOfWork("rolled_back")
		e.logRollback(ctx, OpWork, workErr, rbErr)
		return &TransactionFailure{Op: OpWork, Cause: workErr, RollbackErr: rbErr}
	}

	if commitErr := res.Commit(ctx); commitErr != nil {
		rbErr := res.Rollback(cleanupCtx)
		e.restore(cleanupCtx, res, previousMode)
		e.metrics.RecordUnitOfWork("failed")
		e.logRollback(ctx, OpCommit, commitErr, rbErr)
		return &TransactionFailure{Op: OpCommit, Cause: commitErr, RollbackErr: rbErr}
	}

	e.metrics.RecordUnitOfWork("committed")
	e.logger.WithContext(ctx).Debug("Unit of work committed", "durationMs", time.Since(start).Milliseconds())

	if modeErr := res.SetAutoCommit(cleanupCtx, previousMode); modeErr != nil {
		e.logger.WithError(modeErr).Error("Failed to restore auto-commit after commit")
		return &TransactionFailure{Op: OpRelease, Cause: modeErr}
	}
	return nil
}

func (e *Executor) restore(ctx context.Context, res Resource, mode bool) {
	if err := res.SetAutoCommit(ctx, mode); err != nil {
		e.logger.WithError(err).Warn("Failed to restore auto-commit after rollback")
	}
}

func (e *Executor) logRollback(ctx context.Context, op string, cause, rbErr error) {
	log := e.logger.WithContext(ctx).WithError(cause)
	if rbErr != nil {
		log.Error("Unit of work rolled back with rollback failure", "op", op, "rollbackError", rbErr.Error())
		return
	}
	log.Debug("Unit of work rolled back", "op", op)
}

func invoke(ctx context.Context, store domain.StockStore, work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrWorkPanicked, r)
		}
	}()
	return work(ctx, store)
}

// Execute runs work through r and returns its value. The zero value is
// returned on failure.
func Execute[T any](ctx context.Context, r Runner, work func(ctx context.Context, store domain.StockStore) (T, error)) (T, error) {
	var result T
	err := r.Run(ctx, func(ctx context.Context, store domain.StockStore) error {
		v, err := work(ctx, store)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
