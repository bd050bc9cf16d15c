package credits

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storegrid-backend/api/middleware"
	"github.com/angelmondragon/storegrid-backend/api/responses"
	"github.com/angelmondragon/storegrid-backend/api/validators"
	creditsvc "github.com/angelmondragon/storegrid-backend/internal/credits"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const idempotencyHeader = "Idempotency-Key"

func requestUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

// Balance returns the caller's balance and its currency value.
func Balance(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		balance, err := svc.Balance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// Usage pages the caller's ledger rows, newest first.
func Usage(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 0, 0, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListUsage(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

type checkRequest struct {
	UsageType string          `json:"usage_type" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// Check reports whether the caller can afford an operation without writing anything.
func Check(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload checkRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		qty := payload.Quantity
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		result, err := svc.CheckCreditsBeforeExecution(r.Context(), userID, payload.UsageType, qty)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type chargeRequest struct {
	StoreID        *uuid.UUID      `json:"store_id,omitempty"`
	UsageType      string          `json:"usage_type" validate:"required"`
	Quantity       decimal.Decimal `json:"quantity"`
	ReferenceID    *string         `json:"reference_id,omitempty"`
	ReferenceType  *string         `json:"reference_type,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" validate:"omitempty,max=255"`
	Description    *string         `json:"description,omitempty"`
	ModelUsed      *string         `json:"model_used,omitempty"`
	Provider       *string         `json:"provider,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
}

// Charge debits the caller. The Idempotency-Key header wins over the body key.
func Charge(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload chargeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := creditsvc.ChargeInput{
			UserID:         userID,
			StoreID:        payload.StoreID,
			UsageType:      strings.TrimSpace(payload.UsageType),
			ReferenceID:    payload.ReferenceID,
			Quantity:       payload.Quantity,
			IdempotencyKey: payload.IdempotencyKey,
			Description:    payload.Description,
			ModelUsed:      payload.ModelUsed,
			Provider:       payload.Provider,
			Metadata:       payload.Metadata,
		}
		if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
			input.IdempotencyKey = &key
		}
		if payload.ReferenceType != nil {
			refType, err := enums.ParseCreditReferenceType(*payload.ReferenceType)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reference type"))
				return
			}
			input.ReferenceType = &refType
		}

		result, err := svc.Charge(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
