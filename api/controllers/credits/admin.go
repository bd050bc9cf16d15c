package credits

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/storegrid-backend/api/responses"
	"github.com/angelmondragon/storegrid-backend/api/validators"
	creditsvc "github.com/angelmondragon/storegrid-backend/internal/credits"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type refundRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// AdminRefund reverses one debit. A second refund of the same row is a conflict.
func AdminRefund(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		usageID, err := validators.ParsePathUUID(r, "usageId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Refund(r.Context(), creditsvc.RefundInput{
			UsageID: usageID,
			Reason:  validators.SanitizeString(payload.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, row)
	}
}

type adjustRequest struct {
	UserID      uuid.UUID       `json:"user_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason" validate:"required,max=500"`
	ReferenceID *string         `json:"reference_id,omitempty"`
}

func AdminAdjust(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		var payload adjustRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Adjust(r.Context(), creditsvc.AdjustInput{
			UserID:      payload.UserID,
			Amount:      payload.Amount,
			Reason:      validators.SanitizeString(payload.Reason, 500),
			ReferenceID: payload.ReferenceID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, row)
	}
}

type purchaseRequest struct {
	UserID           uuid.UUID       `json:"user_id" validate:"required"`
	Credits          decimal.Decimal `json:"credits"`
	PaymentReference string          `json:"payment_reference" validate:"required,max=255"`
}

// AdminPurchase records a paid top-up once per payment reference.
func AdminPurchase(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		var payload purchaseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Purchase(r.Context(), creditsvc.PurchaseInput{
			UserID:           payload.UserID,
			Credits:          payload.Credits,
			PaymentReference: strings.TrimSpace(payload.PaymentReference),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, row)
	}
}

func AdminCostList(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		includeHidden, err := validators.ParseQueryBool(r, "include_hidden")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		costs, err := svc.ListCosts(r.Context(), includeHidden)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, costs)
	}
}

type costUpsertRequest struct {
	ServiceName   string          `json:"service_name" validate:"required,max=255"`
	Category      string          `json:"category" validate:"required"`
	CostPerUnit   decimal.Decimal `json:"cost_per_unit"`
	ActualCostUSD decimal.Decimal `json:"actual_cost_usd"`
	BillingType   string          `json:"billing_type" validate:"required"`
	IsActive      *bool           `json:"is_active,omitempty"`
	IsVisible     *bool           `json:"is_visible,omitempty"`
	DisplayOrder  int             `json:"display_order"`
}

// AdminCostUpsert writes one catalog entry keyed by {serviceKey}; the cached price is dropped.
func AdminCostUpsert(svc creditsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}
		var payload costUpsertRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := creditsvc.CostInput{
			ServiceKey:    strings.TrimSpace(chi.URLParam(r, "serviceKey")),
			ServiceName:   validators.SanitizeString(payload.ServiceName, 255),
			Category:      enums.ServiceCategory(strings.TrimSpace(payload.Category)),
			CostPerUnit:   payload.CostPerUnit,
			ActualCostUSD: payload.ActualCostUSD,
			BillingType:   enums.BillingType(strings.TrimSpace(payload.BillingType)),
			IsActive:      true,
			IsVisible:     true,
			DisplayOrder:  payload.DisplayOrder,
		}
		if payload.IsActive != nil {
			input.IsActive = *payload.IsActive
		}
		if payload.IsVisible != nil {
			input.IsVisible = *payload.IsVisible
		}

		cost, err := svc.UpsertCost(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cost)
	}
}
