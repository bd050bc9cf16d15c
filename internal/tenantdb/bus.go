package tenantdb

import (
	"context"

	"github.com/angelmondragon/storegrid-backend/pkg/redis"
	"github.com/google/uuid"
)

// Bus fans invalidations out to every process holding a tenant pool.
type Bus interface {
	Publish(ctx context.Context, storeID uuid.UUID) error
	Subscribe(ctx context.Context) (<-chan uuid.UUID, func() error, error)
}

type pubSub interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (<-chan redis.Message, func() error, error)
}

// RedisBus carries store ids over the tenant invalidation channel.
type RedisBus struct {
	client pubSub
}

// NewRedisBus wraps a redis client.
func NewRedisBus(client pubSub) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, storeID uuid.UUID) error {
	return b.client.Publish(ctx, redis.TenantInvalidationChannel, storeID.String())
}

// Subscribe yields store ids; payloads that are not ids are dropped.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan uuid.UUID, func() error, error) {
	msgs, closeFn, err := b.client.Subscribe(ctx, redis.TenantInvalidationChannel)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan uuid.UUID)
	go func() {
		defer close(out)
		for msg := range msgs {
			id, err := uuid.Parse(msg.Payload)
			if err != nil {
				continue
			}
			select {
			case out <- id:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, closeFn, nil
}
