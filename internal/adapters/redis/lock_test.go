package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/convoflow/convoflow/pkg/domain"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLocker(client, "test:"), mr
}

func TestLocker_AcquireRelease(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	nonce, err := locker.Acquire(ctx, "s1", 10*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, nonce)
	assert.True(t, mr.Exists("test:lock:s1"))

	require.NoError(t, locker.Release(ctx, "s1", nonce))
	assert.False(t, mr.Exists("test:lock:s1"))
}

func TestLocker_FailsFastWhenHeld(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	nonce, err := locker.Acquire(ctx, "s1", 10*time.Second)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "s1", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	require.NoError(t, locker.Release(ctx, "s1", nonce))
	_, err = locker.Acquire(ctx, "s1", 10*time.Second)
	assert.NoError(t, err)
}

func TestLocker_StaleNonceCannotRelease(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	nonce, err := locker.Acquire(ctx, "s1", 10*time.Second)
	require.NoError(t, err)

	// A stale holder with a different nonce must not free the lock.
	require.NoError(t, locker.Release(ctx, "s1", "stale-nonce"))
	assert.True(t, mr.Exists("test:lock:s1"))

	require.NoError(t, locker.Release(ctx, "s1", nonce))
	assert.False(t, mr.Exists("test:lock:s1"))
}

func TestLocker_LeaseExpiresPassively(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	_, err := locker.Acquire(ctx, "s1", 10*time.Second)
	require.NoError(t, err)

	// The holder crashes; the lease runs out.
	mr.FastForward(11 * time.Second)

	_, err = locker.Acquire(ctx, "s1", 10*time.Second)
	assert.NoError(t, err)
}
