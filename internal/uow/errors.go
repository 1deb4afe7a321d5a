package uow

import (
	"errors"
	"fmt"
)

// Phases a unit of work can fail in.
const (
	OpAcquire = "acquire"
	OpBegin   = "begin"
	OpWork    = "work"
	OpCommit  = "commit"
	OpRelease = "release"
)

// TransactionFailure is the single error type a unit of work fails with.
// Cause is always the failure that aborted the unit; a failed rollback is
// attached as RollbackErr and never replaces it.
type TransactionFailure struct {
	Op          string
	Cause       error
	RollbackErr error
}

func (e *TransactionFailure) Error() string {
	msg := fmt.Sprintf("unit of work failed during %s: %v", e.Op, e.Cause)
	if e.RollbackErr != nil {
		msg += fmt.Sprintf(" (rollback also failed: %v)", e.RollbackErr)
	}
	return msg
}

func (e *TransactionFailure) Unwrap() error {
	return e.Cause
}

// RolledBack reports whether the work's mutations were discarded cleanly.
func (e *TransactionFailure) RolledBack() bool {
	return (e.Op == OpWork || e.Op == OpCommit) && e.RollbackErr == nil
}

// AsTransactionFailure unwraps err into a *TransactionFailure.
func AsTransactionFailure(err error) (*TransactionFailure, bool) {
	var tf *TransactionFailure
	if errors.As(err, &tf) {
		return tf, true
	}
	return nil, false
}
