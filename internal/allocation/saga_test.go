package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/logging"
)

type scriptedTransferrer struct {
	calls []TransferLeg
	fail  func(leg TransferLeg) error
}

func (s *scriptedTransferrer) Transfer(_ context.Context, _ string, leg TransferLeg) error {
	s.calls = append(s.calls, leg)
	if s.fail != nil {
		return s.fail(leg)
	}
	return nil
}

func TestSaga_CompensatesNewestFirst(t *testing.T) {
	tr := &scriptedTransferrer{}
	saga := newTransferSaga(product, tr, logging.NewNop(), nil)
	first := TransferLeg{From: domain.LocationWeb, To: domain.LocationMainStore, Quantity: 5}
	second := TransferLeg{From: domain.LocationMainStore, To: domain.LocationShelf, Quantity: 6}

	require.NoError(t, saga.step(context.Background(), first))
	require.NoError(t, saga.step(context.Background(), second))
	require.NoError(t, saga.compensate(context.Background()))

	assert.Equal(t, []TransferLeg{
		first,
		second,
		{From: domain.LocationShelf, To: domain.LocationMainStore, Quantity: 6},
		{From: domain.LocationMainStore, To: domain.LocationWeb, Quantity: 5},
	}, tr.calls)
	assert.Empty(t, saga.legs())
}

func TestSaga_StepWrapsPlainErrors(t *testing.T) {
	cause := errors.New("warehouse offline")
	tr := &scriptedTransferrer{fail: func(TransferLeg) error { return cause }}
	saga := newTransferSaga(product, tr, logging.NewNop(), nil)

	err := saga.step(context.Background(), TransferLeg{From: domain.LocationMainStore, To: domain.LocationShelf, Quantity: 2})

	var tf *domain.TransferFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, domain.LocationMainStore, tf.From)
	assert.Equal(t, 2, tf.Quantity)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, saga.legs())
}

func TestSaga_FailedCompensationKeepsLeg(t *testing.T) {
	stuckErr := errors.New("shelf locked")
	tr := &scriptedTransferrer{}
	saga := newTransferSaga(product, tr, logging.NewNop(), nil)
	first := TransferLeg{From: domain.LocationWeb, To: domain.LocationMainStore, Quantity: 5}
	second := TransferLeg{From: domain.LocationMainStore, To: domain.LocationShelf, Quantity: 6}
	require.NoError(t, saga.step(context.Background(), first))
	require.NoError(t, saga.step(context.Background(), second))

	tr.fail = func(leg TransferLeg) error {
		if leg.From == domain.LocationShelf {
			return stuckErr
		}
		return nil
	}
	err := saga.compensate(context.Background())

	assert.ErrorIs(t, err, stuckErr)
	assert.Equal(t, []TransferLeg{second}, saga.legs())
}

func TestUnitOfWorkTransferrer_ReportsTransferFailure(t *testing.T) {
	h := newHarness(t, 0, 2, 0)
	tr := NewUnitOfWorkTransferrer(h.exec)

	err := tr.Transfer(context.Background(), product, TransferLeg{From: domain.LocationMainStore, To: domain.LocationShelf, Quantity: 3})

	var tf *domain.TransferFailure
	require.ErrorAs(t, err, &tf)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 2, h.available(t, domain.LocationMainStore))
}

func TestPolicyDecider(t *testing.T) {
	d := PolicyDecider{ApproveTransfers: true}

	ok, err := d.Decide(context.Background(), Prompt{Kind: PromptTwoStepTransfer})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = d.Decide(context.Background(), Prompt{Kind: PromptPartial})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.Decide(context.Background(), Prompt{Kind: "REFUND"})
	assert.Error(t, err)
}

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), LockKey(product))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, LockKey(product))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := km.Lock(context.Background(), LockKey("BREAD"))
	require.NoError(t, err)
	other()

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		next, err := km.Lock(context.Background(), LockKey(product))
		if err == nil {
			close(acquired)
			next()
		}
	}()

	unlock()
	unlock()
	wg.Wait()

	select {
	case <-acquired:
	default:
		t.Fatal("waiter never acquired the lock")
	}
	assert.Empty(t, km.locks)
}
