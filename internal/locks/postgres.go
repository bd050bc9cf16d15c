package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// PostgresLocker uses session-level advisory locks. Each lease pins one pooled
// connection until released because the lock belongs to that session.
type PostgresLocker struct {
	db *sql.DB
}

// NewPostgresLocker builds an advisory-lock locker over the registry pool.
func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

// TryLock calls pg_try_advisory_lock on a dedicated connection.
func (l *PostgresLocker) TryLock(ctx context.Context, scope, id string) (Lease, bool, error) {
	if scope == "" {
		return nil, false, errors.New("lock scope is required")
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}
	name := lockName(scope, id)
	var ok bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtextextended($1, 0))", name).Scan(&ok); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !ok {
		_ = conn.Close()
		return nil, false, nil
	}
	return &postgresLease{conn: conn, name: name}, true, nil
}

type postgresLease struct {
	mu   sync.Mutex
	conn *sql.Conn
	name string
}

// Release unlocks and returns the pinned connection to the pool.
func (l *postgresLease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	var released bool
	err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock(hashtextextended($1, 0))", l.name).Scan(&released)
	closeErr := l.conn.Close()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("pg_advisory_unlock: %w", err)
	}
	return closeErr
}
