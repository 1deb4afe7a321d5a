package allocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeoutLocker(t *testing.T) {
	k := NewKeyedMutex()
	locker := TimeoutLocker{Locker: k, Timeout: 20 * time.Millisecond}

	unlock, err := locker.Lock(context.Background(), "p")
	require.NoError(t, err)

	start := time.Now()
	_, err = locker.Lock(context.Background(), "p")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	unlock()
	k.mu.Lock()
	assert.Empty(t, k.locks)
	k.mu.Unlock()
}
