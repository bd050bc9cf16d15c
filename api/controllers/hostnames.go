package controllers

import (
	"net/http"

	"github.com/angelmondragon/storegrid-backend/api/responses"
	"github.com/angelmondragon/storegrid-backend/api/validators"
	"github.com/angelmondragon/storegrid-backend/internal/hostnames"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
)

type hostnameAddRequest struct {
	Hostname       string `json:"hostname" validate:"required,max=253"`
	IsPrimary      bool   `json:"is_primary"`
	IsCustomDomain bool   `json:"is_custom_domain"`
}

func AdminHostnameAdd(svc hostnames.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "hostname service unavailable"))
			return
		}
		storeID, err := validators.ParsePathUUID(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload hostnameAddRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		row, err := svc.Add(r.Context(), storeID, hostnames.AddInput{
			Hostname:       payload.Hostname,
			IsPrimary:      payload.IsPrimary,
			IsCustomDomain: payload.IsCustomDomain,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, row)
	}
}

func AdminHostnameList(svc hostnames.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "hostname service unavailable"))
			return
		}
		storeID, err := validators.ParsePathUUID(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.List(r.Context(), storeID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, rows)
	}
}

// AdminHostnamePrimary promotes a hostname; the previous primary is demoted in the same transaction.
func AdminHostnamePrimary(svc hostnames.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "hostname service unavailable"))
			return
		}
		storeID, err := validators.ParsePathUUID(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		hostnameID, err := validators.ParsePathUUID(r, "hostnameId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SetPrimary(r.Context(), storeID, hostnameID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"hostname_id": hostnameID, "is_primary": true})
	}
}

func AdminHostnameRemove(svc hostnames.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "hostname service unavailable"))
			return
		}
		storeID, err := validators.ParsePathUUID(r, "storeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		hostnameID, err := validators.ParsePathUUID(r, "hostnameId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Remove(r.Context(), storeID, hostnameID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"hostname_id": hostnameID, "deleted": true})
	}
}
