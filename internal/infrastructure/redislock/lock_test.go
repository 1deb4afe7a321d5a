package redislock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pos-platform/stock-service/internal/allocation"
	"github.com/pos-platform/stock-service/pkg/logging"
)

var _ allocation.Locker = (*Locker)(nil)

func newLocker(t *testing.T) (*Locker, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	l := New(db, &Config{TTL: time.Second, RetryInterval: time.Millisecond}, logging.NewNop(), nil)
	l.tokens = func() string { return "token-1" }
	return l, mock
}

func TestLock_AcquireAndRelease(t *testing.T) {
	l, mock := newLocker(t)
	key := allocation.LockKey("MILK")

	mock.ExpectSetNX(key, "token-1", time.Second).SetVal(true)
	mock.ExpectEvalSha(releaseScript.Hash(), []string{key}, "token-1").SetVal(int64(1))

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	unlock()
	unlock()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLock_RetriesWhileHeld(t *testing.T) {
	l, mock := newLocker(t)
	key := allocation.LockKey("MILK")

	mock.ExpectSetNX(key, "token-1", time.Second).SetVal(false)
	mock.ExpectSetNX(key, "token-1", time.Second).SetVal(false)
	mock.ExpectSetNX(key, "token-1", time.Second).SetVal(true)

	unlock, err := l.Lock(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, unlock)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLock_GivesUpWhenContextEnds(t *testing.T) {
	l, mock := newLocker(t)
	l.retry = 50 * time.Millisecond
	key := allocation.LockKey("MILK")

	mock.ExpectSetNX(key, "token-1", time.Second).SetVal(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Lock(ctx, key)

	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLock_RedisError(t *testing.T) {
	l, mock := newLocker(t)
	key := allocation.LockKey("MILK")

	mock.ExpectSetNX(key, "token-1", time.Second).SetErr(errors.New("connection refused"))

	_, err := l.Lock(context.Background(), key)
	assert.ErrorContains(t, err, "connection refused")
}
