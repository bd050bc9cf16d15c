package cron

import (
	"context"
	"errors"
	"sync"

	"github.com/angelmondragon/storegrid-backend/internal/locks"
)

// LockScope namespaces the cron cycle lease.
const LockScope = "cron"

// Lock coordinates exclusive cron runs across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LeaseLock adapts a locks.Locker lease to the cron cycle.
type LeaseLock struct {
	locker locks.Locker
	id     string

	mu    sync.Mutex
	lease locks.Lease
}

// NewLeaseLock guards cycles with the lease (cron, id).
func NewLeaseLock(locker locks.Locker, id string) (*LeaseLock, error) {
	if locker == nil {
		return nil, errors.New("locker required for cron lock")
	}
	if id == "" {
		return nil, errors.New("lock id is required")
	}
	return &LeaseLock{locker: locker, id: id}, nil
}

// Acquire tries to own the cycle lease.
func (l *LeaseLock) Acquire(ctx context.Context) (bool, error) {
	lease, ok, err := l.locker.TryLock(ctx, LockScope, l.id)
	if err != nil || !ok {
		return false, err
	}
	l.mu.Lock()
	l.lease = lease
	l.mu.Unlock()
	return true, nil
}

// Release frees the lease if this worker holds it.
func (l *LeaseLock) Release(ctx context.Context) error {
	l.mu.Lock()
	lease := l.lease
	l.lease = nil
	l.mu.Unlock()
	if lease == nil {
		return nil
	}
	return lease.Release(ctx)
}
