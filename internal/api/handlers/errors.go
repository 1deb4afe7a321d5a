package handlers

import (
	"context"
	stderrors "errors"

	"github.com/pos-platform/stock-service/internal/allocation"
	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/infrastructure/redislock"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/errors"
	"github.com/pos-platform/stock-service/pkg/resilience"
)

// MapError matches the typed stock errors first and falls back to
// errors.MapDomainError.
func MapError(err error) *errors.AppError {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr
	}

	switch {
	case stderrors.Is(err, domain.ErrInsufficientStock):
		return errors.ErrInsufficientStock(err.Error()).Wrap(err)
	case stderrors.Is(err, domain.ErrBatchNotFound):
		return errors.ErrNotFound("batch").Wrap(err)
	case stderrors.Is(err, domain.ErrBatchAlreadyExists), stderrors.Is(err, domain.ErrShortageAlreadyExists):
		return errors.ErrConflict(err.Error()).Wrap(err)
	case stderrors.Is(err, domain.ErrInvalidQuantity),
		stderrors.Is(err, domain.ErrInvalidLocation),
		stderrors.Is(err, domain.ErrInvalidProductCode),
		stderrors.Is(err, domain.ErrInvalidBatchExpiry),
		stderrors.Is(err, domain.ErrSameLocationTransfer):
		return errors.ErrValidation(err.Error()).Wrap(err)
	case stderrors.Is(err, redislock.ErrLockTimeout), stderrors.Is(err, context.DeadlineExceeded):
		return errors.ErrTimeout("stock allocation").Wrap(err)
	case stderrors.Is(err, resilience.ErrCircuitOpen):
		return errors.ErrServiceUnavailable("stock store").Wrap(err)
	case stderrors.Is(err, allocation.ErrInvariantViolated):
		return errors.ErrInternal("stock levels changed unexpectedly").Wrap(err)
	}

	if _, ok := uow.AsTransactionFailure(err); ok {
		return errors.ErrInternal("stock update failed").Wrap(err)
	}
	return errors.MapDomainError(err)
}
