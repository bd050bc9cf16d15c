package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storegrid-backend/api/responses"
	"github.com/angelmondragon/storegrid-backend/internal/hostnames"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
)

// ResolveHostname maps ?hostname= to its store for edge routers.
func ResolveHostname(resolver hostnames.Resolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resolver == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "hostname resolver unavailable"))
			return
		}

		host := strings.TrimSpace(r.URL.Query().Get("hostname"))
		if host == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "hostname is required").WithDetails(map[string]string{"hostname": "is required"}))
			return
		}

		res, err := resolver.Resolve(r.Context(), host)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}
