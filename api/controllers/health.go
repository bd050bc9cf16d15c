package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/storegrid-backend/api/responses"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
)

const envHeader = "X-StoreGrid-Env"

// Pinger is any dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the registry database and redis. The tenant pool size is
// reported but never blocks readiness.
func HealthReady(cfg *config.Config, logg *logger.Logger, dbP, redisP Pinger, pooled func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		ready := true
		for name, p := range map[string]Pinger{"database": dbP, "redis": redisP} {
			if p == nil {
				checks[name] = "skipped"
				continue
			}
			if err := p.Ping(ctx); err != nil {
				ready = false
				checks[name] = "down"
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "readiness check failed", err)
				}
				continue
			}
			checks[name] = "ok"
		}

		if !ready {
			responses.WriteError(r.Context(), nil, w, pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(checks))
			return
		}

		payload := map[string]any{"status": "ready", "checks": checks}
		if pooled != nil {
			payload["tenant_pool"] = pooled()
		}
		responses.WriteSuccess(w, payload)
	}
}
