package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Application error types the activities return as non-retryable.
const (
	ErrTypeInsufficientStock = "InsufficientStockError"
	ErrTypeValidation        = "ValidationError"
)

var nonRetryableStockErrors = []string{ErrTypeInsufficientStock, ErrTypeValidation}

// readActivityOptions covers availability reads: short, and retried until the
// store comes back.
func readActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    10,
		},
	}
}

// transferActivityOptions retries transient store failures a few times. A
// drained source is final for this run: the workflow moves on to the next
// tier instead.
func transferActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: nonRetryableStockErrors,
		},
	}
}

// reorderActivityOptions allows a long retry window. Reorder IDs derive from
// the shortage, so a repeated attempt cannot order twice.
func reorderActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        5 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        10 * time.Minute,
			NonRetryableErrorTypes: nonRetryableStockErrors,
		},
	}
}
