package controllers

import (
	"net/http"

	"github.com/angelmondragon/storegrid-backend/api/middleware"
	"github.com/angelmondragon/storegrid-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
)

// StorefrontPing round-trips the Host-resolved tenant database.
func StorefrontPing(logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handle := middleware.TenantFromContext(r.Context())
		res := middleware.ResolutionFromContext(r.Context())
		if handle == nil || res == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "tenant context missing"))
			return
		}

		var one int
		if err := handle.DB(r.Context()).Raw("SELECT 1").Scan(&one).Error; err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeTenantUnavailable, err, "tenant database unreachable"))
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"scope":    "storefront",
			"status":   "ok",
			"store_id": res.StoreID,
			"slug":     res.Slug,
		})
	}
}
