package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storegrid-backend/api/controllers"
	creditcontrollers "github.com/angelmondragon/storegrid-backend/api/controllers/credits"
	"github.com/angelmondragon/storegrid-backend/api/middleware"
	"github.com/angelmondragon/storegrid-backend/internal/credits"
	"github.com/angelmondragon/storegrid-backend/internal/hostnames"
	"github.com/angelmondragon/storegrid-backend/internal/provisioning"
	"github.com/angelmondragon/storegrid-backend/internal/stores"
	"github.com/angelmondragon/storegrid-backend/internal/tenantdb"
	"github.com/angelmondragon/storegrid-backend/internal/tenantmigrations"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/metrics"
)

// TenantPool is the connection manager surface the API needs.
type TenantPool interface {
	Get(ctx context.Context, storeID uuid.UUID) (*tenantdb.Handle, error)
	Invalidate(ctx context.Context, storeID uuid.UUID) error
	Pooled() int
}

// RateLimitStore backs the rate limiter counters.
type RateLimitStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Params wires the router. A nil service answers 500 on its routes.
type Params struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           controllers.Pinger
	Redis        controllers.Pinger
	RateLimits   RateLimitStore
	Gatherer     prometheus.Gatherer
	HTTPMetrics  *metrics.HTTPMetrics
	Stores       stores.Service
	Hostnames    hostnames.Service
	Tenants      TenantPool
	Provisioning provisioning.Service
	Migrations   tenantmigrations.Service
	Credits      credits.Service
}

func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(p.HTTPMetrics),
		middleware.CORS(cfg.HTTP.ExtraCORSOrigins...),
	)

	var pooled func() int
	if p.Tenants != nil {
		pooled = p.Tenants.Pooled
	}
	var tenants middleware.TenantGetter
	var invalidator controllers.Invalidator
	if p.Tenants != nil {
		tenants = p.Tenants
		invalidator = p.Tenants
	}
	var resolver hostnames.Resolver
	if p.Hostnames != nil {
		resolver = p.Hostnames
	}

	resolvePolicy := middleware.NewRateLimitPolicy("resolve", cfg.HTTP.RateLimitWindow, cfg.HTTP.ResolveIPLimit, 0)
	chargePolicy := middleware.NewRateLimitPolicy("charge", cfg.HTTP.RateLimitWindow, 0, cfg.HTTP.ChargeUserLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis, pooled))
	})

	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/storefront/v1", func(r chi.Router) {
		r.Use(middleware.TenantHost(resolver, tenants, logg))
		r.Get("/ping", controllers.StorefrontPing(logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(resolvePolicy, p.RateLimits, logg)).
			Get("/resolve", controllers.ResolveHostname(resolver, logg))

		r.Route("/credits", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, logg))
			r.Get("/balance", creditcontrollers.Balance(p.Credits, logg))
			r.Get("/usage", creditcontrollers.Usage(p.Credits, logg))
			r.Post("/check", creditcontrollers.Check(p.Credits, logg))
			r.With(middleware.RateLimit(chargePolicy, p.RateLimits, logg)).
				Post("/charge", creditcontrollers.Charge(p.Credits, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.ActorRoleAdmin, logg))

		r.Route("/stores", func(r chi.Router) {
			r.Post("/", controllers.AdminStoreCreate(p.Stores, logg))
			r.Get("/", controllers.AdminStoreList(p.Stores, logg))

			r.Route("/{storeId}", func(r chi.Router) {
				r.Get("/", controllers.AdminStoreGet(p.Stores, logg))
				r.Patch("/", controllers.AdminStoreUpdate(p.Stores, logg))
				r.Delete("/", controllers.AdminStoreDelete(p.Stores, logg))
				r.Post("/suspend", controllers.AdminStoreLifecycle(p.Stores, "suspend", logg))
				r.Post("/reactivate", controllers.AdminStoreLifecycle(p.Stores, "reactivate", logg))
				r.Post("/deactivate", controllers.AdminStoreLifecycle(p.Stores, "deactivate", logg))

				r.Put("/database", controllers.AdminStoreAttachDatabase(p.Stores, logg))
				r.Get("/database", controllers.AdminStoreGetDatabase(p.Stores, logg))
				r.Post("/connection/invalidate", controllers.AdminStoreConnectionInvalidate(invalidator, logg))

				r.Post("/provision", controllers.AdminStoreProvision(p.Provisioning, logg))
				r.Get("/provisioning", controllers.AdminStoreProvisioningProgress(p.Provisioning, logg))
				r.Post("/provisioning/retry", controllers.AdminStoreProvisioningRetry(p.Provisioning, logg))

				r.Get("/migrations", controllers.AdminStoreMigrationsList(p.Migrations, logg))
				r.Post("/migrations/apply", controllers.AdminStoreMigrationsApply(p.Migrations, logg))

				r.Route("/hostnames", func(r chi.Router) {
					r.Get("/", controllers.AdminHostnameList(p.Hostnames, logg))
					r.Post("/", controllers.AdminHostnameAdd(p.Hostnames, logg))
					r.Post("/{hostnameId}/primary", controllers.AdminHostnamePrimary(p.Hostnames, logg))
					r.Delete("/{hostnameId}", controllers.AdminHostnameRemove(p.Hostnames, logg))
				})
			})
		})

		r.Route("/credits", func(r chi.Router) {
			r.Post("/usage/{usageId}/refund", creditcontrollers.AdminRefund(p.Credits, logg))
			r.Post("/adjustments", creditcontrollers.AdminAdjust(p.Credits, logg))
			r.Post("/purchases", creditcontrollers.AdminPurchase(p.Credits, logg))
			r.Get("/costs", creditcontrollers.AdminCostList(p.Credits, logg))
			r.Put("/costs/{serviceKey}", creditcontrollers.AdminCostUpsert(p.Credits, logg))
		})
	})

	return r
}
