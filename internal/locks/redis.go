package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 15 * time.Minute

// RedisStore defines the operations used by RedisLocker.
type RedisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
	RefreshLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	LockKey(scope, id string) string
}

// RedisLocker implements Locker using Redis SETNX + TTL. The TTL bounds how
// long a crashed holder can block others.
type RedisLocker struct {
	client RedisStore
	ttl    time.Duration
}

// NewRedisLocker constructs a Redis-backed locker.
func NewRedisLocker(client RedisStore, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

// TryLock tries to own the key for the configured TTL.
func (l *RedisLocker) TryLock(ctx context.Context, scope, id string) (Lease, bool, error) {
	if scope == "" {
		return nil, false, errors.New("lock scope is required")
	}
	key := l.client.LockKey(scope, id)
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &redisLease{client: l.client, key: key, owner: owner, ttl: l.ttl}, true, nil
}

type redisLease struct {
	client RedisStore
	key    string
	owner  string
	ttl    time.Duration
}

// Release frees the lock only if the owner value still matches. The check and
// the delete run as one script.
func (l *redisLease) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.client.ReleaseLock(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.owner = ""
	return nil
}

// Refresh extends the TTL while this lease still owns the key.
func (l *redisLease) Refresh(ctx context.Context) (bool, error) {
	if l.owner == "" {
		return false, nil
	}
	ok, err := l.client.RefreshLock(ctx, l.key, l.owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("refresh lock: %w", err)
	}
	return ok, nil
}

// TTL is the expiry applied on acquire and on every refresh.
func (l *redisLease) TTL() time.Duration {
	return l.ttl
}
