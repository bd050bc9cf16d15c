// Package locks provides per-key exclusive leases backed by Redis, Postgres
// advisory locks, or process memory.
package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"gorm.io/gorm"
)

// Locker hands out non-blocking exclusive leases keyed by (scope, id).
type Locker interface {
	// TryLock returns ok=false without error when another holder owns the key.
	TryLock(ctx context.Context, scope, id string) (lease Lease, ok bool, err error)
}

// Lease is an acquired lock.
type Lease interface {
	Release(ctx context.Context) error
}

// New selects the backend named by backend. Redis needs a non-nil client and
// Postgres needs the registry connection.
func New(backend string, redisClient RedisStore, conn *gorm.DB, ttl time.Duration) (Locker, error) {
	switch backend {
	case config.LockBackendRedis:
		return NewRedisLocker(redisClient, ttl)
	case config.LockBackendPostgres:
		if conn == nil {
			return nil, fmt.Errorf("postgres lock backend requires a database connection")
		}
		sqlDB, err := conn.DB()
		if err != nil {
			return nil, fmt.Errorf("extracting sql.DB: %w", err)
		}
		return NewPostgresLocker(sqlDB), nil
	case config.LockBackendMemory:
		return NewMemoryLocker(), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", backend)
	}
}

func lockName(scope, id string) string {
	if id == "" {
		return scope
	}
	return scope + ":" + id
}
