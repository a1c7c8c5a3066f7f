package ports

import (
	"context"
	"time"
)

// Locker is a distributed per-session lock. Acquire sets the lock key
// with a caller-generated nonce and the given lease only if absent; a
// holder that crashes releases the lock passively when the lease expires.
// Release compares the stored nonce and deletes atomically, so a stale
// holder can never release a successor's lock.
type Locker interface {
	Acquire(ctx context.Context, key string, lease time.Duration) (nonce string, err error)
	Release(ctx context.Context, key, nonce string) error
}
