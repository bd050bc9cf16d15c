package credits

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	"github.com/angelmondragon/storegrid-backend/pkg/redis"
	"github.com/shopspring/decimal"
)

// CostCache is the Redis surface the cost lookup needs.
type CostCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CreditCostKey(serviceKey string) string
}

type cachedCost struct {
	ServiceKey  string                `json:"service_key"`
	Category    enums.ServiceCategory `json:"category"`
	CostPerUnit decimal.Decimal       `json:"cost_per_unit"`
	BillingType enums.BillingType     `json:"billing_type"`
	IsActive    bool                  `json:"is_active"`
}

func cachedFrom(cost *models.ServiceCreditCost) cachedCost {
	return cachedCost{
		ServiceKey:  cost.ServiceKey,
		Category:    cost.Category,
		CostPerUnit: cost.CostPerUnit,
		BillingType: cost.BillingType,
		IsActive:    cost.IsActive,
	}
}

const (
	lookupHit   = "hit"
	lookupMiss  = "miss"
	lookupError = "error"
)

// lookupCost reads the price through the cache. Redis failures fall back to the
// registry; they never fail a charge.
func (s *service) lookupCost(ctx context.Context, serviceKey string) (*cachedCost, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, s.cache.CreditCostKey(serviceKey))
		switch {
		case err == nil:
			var cost cachedCost
			if jsonErr := json.Unmarshal([]byte(raw), &cost); jsonErr == nil {
				s.metrics.IncCostLookup(lookupHit)
				return &cost, nil
			}
			s.metrics.IncCostLookup(lookupError)
		case errors.Is(err, redis.Nil):
			s.metrics.IncCostLookup(lookupMiss)
		default:
			s.metrics.IncCostLookup(lookupError)
			s.logg.Warn(s.logg.WithField(ctx, "service_key", serviceKey), "credit cost cache unavailable")
		}
	}

	row, err := s.repo.FindCost(ctx, serviceKey)
	if err != nil {
		return nil, err
	}
	cost := cachedFrom(row)
	if s.cache != nil {
		if payload, err := json.Marshal(cost); err == nil {
			if err := s.cache.Set(ctx, s.cache.CreditCostKey(serviceKey), string(payload), s.cfg.CostCacheTTL); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "service_key", serviceKey), "credit cost cache write failed")
			}
		}
	}
	return &cost, nil
}

func (s *service) forgetCost(ctx context.Context, serviceKey string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.cache.CreditCostKey(serviceKey)); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "service_key", serviceKey), "credit cost cache invalidation failed", err)
	}
}
