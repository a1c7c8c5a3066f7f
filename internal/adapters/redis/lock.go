package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/convoflow/convoflow/pkg/domain"
	"github.com/convoflow/convoflow/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still holds the caller's
// nonce, so an expired holder can never release a successor's lock.
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// Locker implements the per-session distributed lock with SET NX PX and
// a compare-and-delete release.
type Locker struct {
	client *backend.Client
	prefix string
}

// NewLocker creates a locker sharing the store's key prefix.
func NewLocker(client *backend.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

func (l *Locker) key(id string) string { return l.prefix + "lock:" + id }

// Acquire sets the lock with a fresh nonce and the given lease only if
// absent. It fails fast with domain.ErrLockHeld when the lock is taken;
// callers may retry.
func (l *Locker) Acquire(ctx context.Context, sessionID string, lease time.Duration) (string, error) {
	nonce := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(sessionID), nonce, lease).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return "", domain.ErrLockHeld
	}
	return nonce, nil
}

// Release deletes the lock if it still carries the caller's nonce.
func (l *Locker) Release(ctx context.Context, sessionID, nonce string) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key(sessionID)}, nonce).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

var _ ports.Locker = (*Locker)(nil)
