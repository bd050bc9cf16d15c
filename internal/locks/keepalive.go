package locks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLeaseLost is reported when a refresh finds the key owned by someone else.
var ErrLeaseLost = errors.New("lock lease lost")

// Refresher is a lease that expires unless refreshed.
type Refresher interface {
	Lease
	Refresh(ctx context.Context) (bool, error)
	TTL() time.Duration
}

// KeepAlive refreshes an expiring lease every third of its TTL until the
// returned lease is released. Leases that do not expire are returned as is.
// onError receives refresh failures; after ErrLeaseLost no further refresh runs.
func KeepAlive(lease Lease, onError func(error)) Lease {
	r, ok := lease.(Refresher)
	if !ok || r.TTL() <= 0 {
		return lease
	}
	k := &keptLease{Lease: lease, stop: make(chan struct{}), done: make(chan struct{})}
	go k.loop(r, onError)
	return k
}

type keptLease struct {
	Lease
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (k *keptLease) loop(r Refresher, onError func(error)) {
	defer close(k.done)
	interval := r.TTL() / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := r.Refresh(ctx)
			cancel()
			switch {
			case err != nil:
				if onError != nil {
					onError(err)
				}
			case !held:
				if onError != nil {
					onError(ErrLeaseLost)
				}
				return
			}
		}
	}
}

// Release stops refreshing, then releases the underlying lease.
func (k *keptLease) Release(ctx context.Context) error {
	k.once.Do(func() { close(k.stop) })
	<-k.done
	return k.Lease.Release(ctx)
}
