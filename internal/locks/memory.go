package locks

import (
	"context"
	"errors"
	"sync"
)

// MemoryLocker is a process-local Locker for tests and single-node dev runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]uint64
	next uint64
}

// NewMemoryLocker builds an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]uint64)}
}

// TryLock claims the key if nobody holds it.
func (l *MemoryLocker) TryLock(_ context.Context, scope, id string) (Lease, bool, error) {
	if scope == "" {
		return nil, false, errors.New("lock scope is required")
	}
	name := lockName(scope, id)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[name]; taken {
		return nil, false, nil
	}
	l.next++
	l.held[name] = l.next
	return &memoryLease{locker: l, name: name, token: l.next}, true, nil
}

// Held reports whether the key is currently locked.
func (l *MemoryLocker) Held(scope, id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[lockName(scope, id)]
	return ok
}

type memoryLease struct {
	locker *MemoryLocker
	name   string
	token  uint64
}

func (l *memoryLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if l.locker.held[l.name] == l.token {
		delete(l.locker.held, l.name)
	}
	return nil
}
