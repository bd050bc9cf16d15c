package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/storegrid-backend/api/responses"
	"github.com/angelmondragon/storegrid-backend/api/validators"
	"github.com/angelmondragon/storegrid-backend/internal/provisioning"
	"github.com/angelmondragon/storegrid-backend/internal/tenantmigrations"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/google/uuid"
)

// Invalidator evicts a tenant's pooled connection across instances.
type Invalidator interface {
	Invalidate(ctx context.Context, storeID uuid.UUID) error
}

type provisionRequest struct {
	Demo         bool   `json:"demo"`
	Currency     string `json:"currency,omitempty" validate:"omitempty,len=3"`
	LanguageCode string `json:"language_code,omitempty" validate:"omitempty,min=2,max=5"`
}

// AdminStoreProvision starts provisioning in the background and answers 202.
// A run already in flight for the store answers 409.
func AdminStoreProvision(svc provisioning.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "provisioning service unavailable"))
			return
		}
		storeID, err := validators.ParsePathUUID(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload provisionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil && !errors.Is(err, io.EOF) {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		view, err := svc.Start(r.Context(), storeID, provisioning.Options{
			Demo:         payload.Demo,
			Currency:     payload.Currency,
			LanguageCode: payload.LanguageCode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, view)
	}
}

func AdminStoreProvisioningProgress(svc provisioning.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "provisioning service unavailable"))
			return
		}
		storeID, err := validators.ParsePathUUID(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Progress(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// AdminStoreProvisioningRetry resets a failed store so provisioning can be started again.
func AdminStoreProvisioningRetry(svc provisioning.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "provisioning service unavailable"))
			return
		}
		storeID, err := validators.ParsePathUUID(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.Retry(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// AdminStoreMigrationsApply runs pending tenant migrations and returns the report.
func AdminStoreMigrationsApply(svc tenantmigrations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "migration service unavailable"))
			return
		}
		storeID, err := validators.ParsePathUUID(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		report, err := svc.ApplyPending(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

func AdminStoreMigrationsList(svc tenantmigrations.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "migration service unavailable"))
			return
		}
		storeID, err := validators.ParsePathUUID(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		statuses, err := svc.Status(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"latest_version": svc.LatestVersion(),
			"migrations":     statuses,
		})
	}
}

// AdminStoreConnectionInvalidate drops the store's pooled connection everywhere.
func AdminStoreConnectionInvalidate(pool Invalidator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pool == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "connection manager unavailable"))
			return
		}
		storeID, err := validators.ParsePathUUID(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := pool.Invalidate(r.Context(), storeID); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "broadcast invalidation"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"store_id": storeID, "invalidated": true})
	}
}
