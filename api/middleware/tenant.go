package middleware

import (
	"context"
	"net/http"

	"github.com/angelmondragon/storegrid-backend/api/responses"
	"github.com/angelmondragon/storegrid-backend/internal/hostnames"
	"github.com/angelmondragon/storegrid-backend/internal/tenantdb"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/google/uuid"
)

// TenantGetter hands out pooled tenant connections.
type TenantGetter interface {
	Get(ctx context.Context, storeID uuid.UUID) (*tenantdb.Handle, error)
}

// TenantHost resolves the request Host to a store and attaches its pooled
// connection. Unknown hosts never fall back to another tenant, and only active
// or demo stores flagged is_active are served.
func TenantHost(resolver hostnames.Resolver, tenants TenantGetter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil || tenants == nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "tenant routing unavailable"))
				return
			}

			res, err := resolver.Resolve(r.Context(), r.Host)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithTenant(ctx, res.StoreID.String(), res.Slug)
			}
			if !res.IsActive || !res.Status.IsServing() {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeTenantUnavailable, "store is not serving traffic"))
				return
			}

			handle, err := tenants.Get(ctx, res.StoreID)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(ctx, res, handle)))
		})
	}
}
