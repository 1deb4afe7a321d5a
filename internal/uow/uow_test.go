package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pos-platform/stock-service/internal/domain"
	"github.com/pos-platform/stock-service/pkg/logging"
)

type fakeResource struct {
	autoCommit  bool
	calls       []string
	commitErr   error
	rollbackErr error
	releaseErr  error
	setModeErr  error
	store       domain.StockStore
}

func (r *fakeResource) AutoCommit() bool { return r.autoCommit }

func (r *fakeResource) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	if autoCommit {
		r.calls = append(r.calls, "auto-commit:on")
	} else {
		r.calls = append(r.calls, "auto-commit:off")
	}
	if r.setModeErr != nil && !autoCommit {
		return r.setModeErr
	}
	r.autoCommit = autoCommit
	return nil
}

func (r *fakeResource) Commit(ctx context.Context) error {
	r.calls = append(r.calls, "commit")
	return r.commitErr
}

func (r *fakeResource) Rollback(ctx context.Context) error {
	r.calls = append(r.calls, "rollback")
	return r.rollbackErr
}

func (r *fakeResource) Release(ctx context.Context) error {
	r.calls = append(r.calls, "release")
	return r.releaseErr
}

func (r *fakeResource) Store() domain.StockStore { return r.store }

type fakeProvider struct {
	res *fakeResource
	err error
}

func (p *fakeProvider) Acquire(ctx context.Context) (Resource, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.res, nil
}

func newTestExecutor(res *fakeResource) *Executor {
	return NewExecutor(&fakeProvider{res: res}, logging.NewNop(), nil)
}

func TestRun_CommitsAndRestoresMode(t *testing.T) {
	res := &fakeResource{autoCommit: true}
	exec := newTestExecutor(res)

	var ran bool
	err := exec.Run(context.Background(), func(ctx context.Context, store domain.StockStore) error {
		ran = true
		assert.False(t, res.autoCommit, "work must run in manual mode")
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, res.autoCommit)
	assert.Equal(t, []string{"auto-commit:off", "commit", "auto-commit:on", "release"}, res.calls)
}

func TestRun_WorkErrorRollsBack(t *testing.T) {
	res := &fakeResource{autoCommit: true}
	exec := newTestExecutor(res)

	err := exec.Run(context.Background(), func(ctx context.Context, store domain.StockStore) error {
		return domain.ErrInsufficientStock
	})

	var tf *TransactionFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, OpWork, tf.Op)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.True(t, tf.RolledBack())
	assert.Equal(t, []string{"auto-commit:off", "rollback", "auto-commit:on", "release"}, res.calls)
}

func TestRun_RollbackFailureKeepsOriginalCause(t *testing.T) {
	rollbackErr := errors.New("connection reset")
	res := &fakeResource{autoCommit: true, rollbackErr: rollbackErr}
	exec := newTestExecutor(res)

	err := exec.Run(context.Background(), func(ctx context.Context, store domain.StockStore) error {
		return domain.ErrBatchQuantityExceeded
	})

	tf, ok := AsTransactionFailure(err)
	require.True(t, ok)
	assert.ErrorIs(t, tf.Cause, domain.ErrBatchQuantityExceeded)
	assert.Equal(t, rollbackErr, tf.RollbackErr)
	assert.False(t, tf.RolledBack())
	assert.Contains(t, err.Error(), "rollback also failed: connection reset")
	assert.Contains(t, res.calls, "release")
}

func TestRun_PanicIsRolledBack(t *testing.T) {
	res := &fakeResource{autoCommit: true}
	exec := newTestExecutor(res)

	err := exec.Run(context.Background(), func(ctx context.Context, store domain.StockStore) error {
		panic("boom")
	})

	assert.ErrorIs(t, err, ErrWorkPanicked)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"auto-commit:off", "rollback", "auto-commit:on", "release"}, res.calls)
}

func TestRun_CommitFailure(t *testing.T) {
	commitErr := errors.New("write conflict")
	res := &fakeResource{autoCommit: true, commitErr: commitErr}
	exec := newTestExecutor(res)

	err := exec.Run(context.Background(), func(ctx context.Context, store domain.StockStore) error { return nil })

	tf, ok := AsTransactionFailure(err)
	require.True(t, ok)
	assert.Equal(t, OpCommit, tf.Op)
	assert.ErrorIs(t, err, commitErr)
	assert.Equal(t, []string{"auto-commit:off", "commit", "rollback", "auto-commit:on", "release"}, res.calls)
}

func TestRun_AcquireFailure(t *testing.T) {
	acquireErr := errors.New("pool exhausted")
	exec := NewExecutor(&fakeProvider{err: acquireErr}, logging.NewNop(), nil)

	called := false
	err := exec.Run(context.Background(), func(ctx context.Context, store domain.StockStore) error {
		called = true
		return nil
	})

	tf, ok := AsTransactionFailure(err)
	require.True(t, ok)
	assert.Equal(t, OpAcquire, tf.Op)
	assert.False(t, called)
}

func TestRun_BeginFailureStillReleases(t *testing.T) {
	res := &fakeResource{autoCommit: true, setModeErr: errors.New("read-only connection")}
	exec := newTestExecutor(res)

	err := exec.Run(context.Background(), func(ctx context.Context, store domain.StockStore) error {
		t.Fatal("work must not run")
		return nil
	})

	tf, ok := AsTransactionFailure(err)
	require.True(t, ok)
	assert.Equal(t, OpBegin, tf.Op)
	assert.Equal(t, "release", res.calls[len(res.calls)-1])
}

func TestRun_ReleaseFailureAfterCommit(t *testing.T) {
	res := &fakeResource{autoCommit: false, releaseErr: errors.New("pool closed")}
	exec := newTestExecutor(res)

	err := exec.Run(context.Background(), func(ctx context.Context, store domain.StockStore) error { return nil })

	tf, ok := AsTransactionFailure(err)
	require.True(t, ok)
	assert.Equal(t, OpRelease, tf.Op)
	assert.Contains(t, res.calls, "commit")
	assert.False(t, res.autoCommit, "original manual mode is restored")
}

func TestExecute_ReturnsValue(t *testing.T) {
	res := &fakeResource{autoCommit: true}
	exec := newTestExecutor(res)

	got, err := Execute(context.Background(), exec, func(ctx context.Context, store domain.StockStore) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	got, err = Execute(context.Background(), exec, func(ctx context.Context, store domain.StockStore) (int, error) {
		return 3, errors.New("nope")
	})
	assert.Error(t, err)
	assert.Zero(t, got)
}
