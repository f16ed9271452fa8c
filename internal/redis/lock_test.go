package redisclient

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) Locker {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb, err := NewRedisClient(context.Background(), addr, "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisSlotLocker(rdb, 2*time.Second)
}

func TestSlotLock_SecondHolderIsRejected(t *testing.T) {
	locker := newTestLocker(t)
	key := "test:" + uuid.NewString()

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	err := locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		t.Fatal("critical section entered twice")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	close(release)
	wg.Wait()

	called := false
	err = locker.WithSlotLock(context.Background(), key, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called, "lock should be free after release")
}
