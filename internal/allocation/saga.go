package allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/internal/uow"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
)

// Transferrer moves stock between tiers as one committed step.
type Transferrer interface {
	Transfer(ctx context.Context, productCode string, leg TransferLeg) error
}

// UnitOfWorkTransferrer commits each transfer in its own unit of work.
type UnitOfWorkTransferrer struct {
	runner uow.Runner
}

// NewUnitOfWorkTransferrer creates a Transferrer over runner.
func NewUnitOfWorkTransferrer(runner uow.Runner) *UnitOfWorkTransferrer {
	return &UnitOfWorkTransferrer{runner: runner}
}

// Transfer runs the move and reports failures as *domain.TransferFailure.
func (t *UnitOfWorkTransferrer) Transfer(ctx context.Context, productCode string, leg TransferLeg) error {
	err := t.runner.Run(ctx, func(ctx context.Context, store domain.StockStore) error {
		return store.TransferStock(ctx, productCode, leg.From, leg.To, leg.Quantity)
	})
	if err != nil {
		return &domain.TransferFailure{
			ProductCode: productCode,
			From:        leg.From,
			To:          leg.To,
			Quantity:    leg.Quantity,
			Cause:       err,
		}
	}
	return nil
}

// transferSaga runs transfer legs in order and can undo the committed ones
// in reverse.
type transferSaga struct {
	productCode string
	transferrer Transferrer
	logger      *logging.Logger
	metrics     *metrics.Metrics
	committed   []TransferLeg
}

func newTransferSaga(productCode string, t Transferrer, logger *logging.Logger, m *metrics.Metrics) *transferSaga {
	return &transferSaga{productCode: productCode, transferrer: t, logger: logger, metrics: m}
}

// step runs one leg. Legs after a failed one must not be attempted.
func (s *transferSaga) step(ctx context.Context, leg TransferLeg) error {
	err := s.transferrer.Transfer(ctx, s.productCode, leg)
	s.metrics.RecordTransfer(leg.From.String(), leg.To.String(), err == nil)
	if err != nil {
		var tf *domain.TransferFailure
		if !errors.As(err, &tf) {
			err = &domain.TransferFailure{ProductCode: s.productCode, From: leg.From, To: leg.To, Quantity: leg.Quantity, Cause: err}
		}
		return err
	}
	s.committed = append(s.committed, leg)
	return nil
}

// compensate moves every committed leg back, newest first. Legs that could
// not be undone stay in the committed list and their errors are joined.
func (s *transferSaga) compensate(ctx context.Context) error {
	var errs []error
	var stuck []TransferLeg

	for i := len(s.committed) - 1; i >= 0; i-- {
		leg := s.committed[i]
		reverse := TransferLeg{From: leg.To, To: leg.From, Quantity: leg.Quantity}

		err := s.transferrer.Transfer(ctx, s.productCode, reverse)
		s.metrics.RecordCompensation(err == nil)
		if err != nil {
			s.logger.WithContext(ctx).WithError(err).Error("Failed to compensate transfer leg",
				"productCode", s.productCode,
				"leg", leg.String(),
			)
			errs = append(errs, fmt.Errorf("compensate %s: %w", leg, err))
			stuck = append([]TransferLeg{leg}, stuck...)
			continue
		}
		s.logger.WithContext(ctx).Info("Compensated transfer leg", "productCode", s.productCode, "leg", leg.String())
	}

	s.committed = stuck
	return errors.Join(errs...)
}

// legs returns the legs that are currently committed.
func (s *transferSaga) legs() []TransferLeg {
	out := make([]TransferLeg, len(s.committed))
	copy(out, s.committed)
	return out
}
