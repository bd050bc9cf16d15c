// Package credits is the append-only credit ledger that gates billable work.
package credits

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/metrics"
	"github.com/angelmondragon/storegrid-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// creditScale matches numeric(12,4) on the balance and usage columns.
const creditScale = 4

// AdjustmentUsageType is recorded on rows written by Adjust.
const AdjustmentUsageType = "manual_adjustment"

// PurchaseUsageType is recorded on rows written by Purchase.
const PurchaseUsageType = "credit_purchase"

// ChargeInput describes one billable operation.
type ChargeInput struct {
	UserID         uuid.UUID                  `json:"user_id"`
	StoreID        *uuid.UUID                 `json:"store_id,omitempty"`
	UsageType      string                     `json:"usage_type"`
	ReferenceID    *string                    `json:"reference_id,omitempty"`
	ReferenceType  *enums.CreditReferenceType `json:"reference_type,omitempty"`
	Quantity       decimal.Decimal            `json:"quantity"`
	IdempotencyKey *string                    `json:"idempotency_key,omitempty"`
	Description    *string                    `json:"description,omitempty"`
	ModelUsed      *string                    `json:"model_used,omitempty"`
	Provider       *string                    `json:"provider,omitempty"`
	Metadata       map[string]any             `json:"metadata,omitempty"`
}

// ChargeResult is returned for a successful or replayed charge.
type ChargeResult struct {
	Success         bool            `json:"success"`
	UsageID         uuid.UUID       `json:"usage_id"`
	CreditsDeducted decimal.Decimal `json:"credits_deducted"`
	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	Replayed        bool            `json:"replayed,omitempty"`
}

// CheckResult is the read-only precheck outcome.
type CheckResult struct {
	Sufficient bool            `json:"sufficient"`
	Required   decimal.Decimal `json:"required"`
	Balance    decimal.Decimal `json:"balance"`
}

// RefundInput reverses one debit.
type RefundInput struct {
	UsageID uuid.UUID `json:"usage_id"`
	Reason  string    `json:"reason"`
}

// AdjustInput moves a balance by a signed amount; positive adds credits.
type AdjustInput struct {
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Reason      string          `json:"reason"`
	ReferenceID *string         `json:"reference_id,omitempty"`
}

// PurchaseInput credits a paid top-up once per payment reference.
type PurchaseInput struct {
	UserID           uuid.UUID       `json:"user_id"`
	Credits          decimal.Decimal `json:"credits"`
	PaymentReference string          `json:"payment_reference"`
}

// Balance is a user's credits and their configured currency value.
type Balance struct {
	UserID        uuid.UUID       `json:"user_id"`
	Credits       decimal.Decimal `json:"credits"`
	CurrencyValue decimal.Decimal `json:"currency_value"`
}

// UsagePage is one page of ledger rows.
type UsagePage struct {
	Items  []models.CreditUsage `json:"items"`
	Cursor string               `json:"cursor,omitempty"`
}

// CostInput is an admin pricing edit.
type CostInput struct {
	ServiceKey    string                `json:"service_key" validate:"required"`
	ServiceName   string                `json:"service_name" validate:"required"`
	Category      enums.ServiceCategory `json:"category" validate:"required"`
	CostPerUnit   decimal.Decimal       `json:"cost_per_unit"`
	ActualCostUSD decimal.Decimal       `json:"actual_cost_usd"`
	BillingType   enums.BillingType     `json:"billing_type" validate:"required"`
	IsActive      bool                  `json:"is_active"`
	IsVisible     bool                  `json:"is_visible"`
	DisplayOrder  int                   `json:"display_order"`
}

// Service exposes the credit ledger.
type Service interface {
	Charge(ctx context.Context, input ChargeInput) (*ChargeResult, error)
	CheckCreditsBeforeExecution(ctx context.Context, userID uuid.UUID, usageType string, quantity decimal.Decimal) (*CheckResult, error)
	Refund(ctx context.Context, input RefundInput) (*models.CreditUsage, error)
	Adjust(ctx context.Context, input AdjustInput) (*models.CreditUsage, error)
	Purchase(ctx context.Context, input PurchaseInput) (*models.CreditUsage, error)
	Balance(ctx context.Context, userID uuid.UUID) (*Balance, error)
	ListUsage(ctx context.Context, userID uuid.UUID, params pagination.Params) (*UsagePage, error)
	ListCosts(ctx context.Context, includeHidden bool) ([]models.ServiceCreditCost, error)
	UpsertCost(ctx context.Context, input CostInput) (*models.ServiceCreditCost, error)
	ChargeDailyHosting(ctx context.Context, day time.Time) (*HostingReport, error)
}

type service struct {
	repo              Repository
	cache             CostCache
	cfg               config.CreditsConfig
	currencyPerCredit decimal.Decimal
	logg              *logger.Logger
	metrics           *metrics.CreditMetrics
}

// NewService wires the ledger. cache may be nil, in which case every lookup
// reads the registry.
func NewService(repo Repository, cache CostCache, cfg config.CreditsConfig, logg *logger.Logger, m *metrics.CreditMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("credit repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	rate := decimal.Zero
	if strings.TrimSpace(cfg.CurrencyPerCredit) != "" {
		parsed, err := decimal.NewFromString(cfg.CurrencyPerCredit)
		if err != nil {
			return nil, fmt.Errorf("parse currency per credit: %w", err)
		}
		rate = parsed
	}
	if cfg.CostCacheTTL <= 0 {
		cfg.CostCacheTTL = 5 * time.Minute
	}
	if cfg.DailyHostingKey == "" {
		cfg.DailyHostingKey = "store_daily_hosting"
	}
	return &service{
		repo:              repo,
		cache:             cache,
		cfg:               cfg,
		currencyPerCredit: rate,
		logg:              logg,
		metrics:           m,
	}, nil
}

func (s *service) price(ctx context.Context, usageType string, quantity decimal.Decimal) (decimal.Decimal, error) {
	if strings.TrimSpace(usageType) == "" {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "usage type is required")
	}
	if !quantity.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	cost, err := s.lookupCost(ctx, usageType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("unknown billable service %q", usageType))
		}
		return decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load service cost")
	}
	if !cost.IsActive {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("billable service %q is disabled", usageType))
	}
	return cost.CostPerUnit.Mul(quantity).Round(creditScale), nil
}

func normalizeQuantity(q decimal.Decimal) decimal.Decimal {
	if q.IsZero() {
		return decimal.NewFromInt(1)
	}
	return q
}

// clientKey scopes a caller-supplied idempotency key to its user so it can
// never match a key the ledger writes for hosting, refunds or purchases.
func clientKey(userID uuid.UUID, key string) string {
	return "client:" + userID.String() + ":" + key
}

// Charge debits the user's balance and appends the usage row in one
// transaction. A repeated idempotency key returns the original row.
func (s *service) Charge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	if input.IdempotencyKey != nil {
		if key := strings.TrimSpace(*input.IdempotencyKey); key != "" {
			scoped := clientKey(input.UserID, key)
			input.IdempotencyKey = &scoped
		} else {
			input.IdempotencyKey = nil
		}
	}
	return s.charge(ctx, input)
}

// charge runs a debit whose IdempotencyKey is already the stored ledger key.
func (s *service) charge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.ReferenceType != nil && !input.ReferenceType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid reference type %q", *input.ReferenceType))
	}
	quantity := normalizeQuantity(input.Quantity)
	ctx = s.logg.WithFields(ctx, map[string]any{"user_id": input.UserID.String(), "usage_type": input.UsageType})

	if input.IdempotencyKey != nil {
		if prior, err := s.replay(ctx, input, *input.IdempotencyKey); err != nil || prior != nil {
			return prior, err
		}
	}

	amount, err := s.price(ctx, input.UsageType, quantity)
	if err != nil {
		s.metrics.IncCharge(input.UsageType, metrics.OutcomeFailure)
		return nil, err
	}

	var result *ChargeResult
	err = db.WithTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		user, err := repo.LockUser(ctx, input.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock user balance")
		}
		before := user.Credits
		if before.LessThan(amount) {
			return pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits").
				WithDetails(map[string]any{"required": amount.String(), "balance": before.String()})
		}
		after := before.Sub(amount)
		if err := repo.SetBalance(ctx, user.ID, after); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balance")
		}

		meta := datatypes.JSONMap{}
		for k, v := range input.Metadata {
			meta[k] = v
		}
		meta["balance_before"] = before.String()
		meta["balance_after"] = after.String()
		meta["quantity"] = quantity.String()

		usage := &models.CreditUsage{
			UserID:          user.ID,
			StoreID:         input.StoreID,
			CreditsUsed:     amount,
			UsageType:       input.UsageType,
			TransactionType: enums.CreditTransactionDebit,
			ReferenceID:     input.ReferenceID,
			ReferenceType:   input.ReferenceType,
			IdempotencyKey:  input.IdempotencyKey,
			Description:     input.Description,
			Metadata:        meta,
			ModelUsed:       input.ModelUsed,
			Provider:        input.Provider,
		}
		if err := repo.CreateUsage(ctx, usage); err != nil {
			return err
		}
		result = &ChargeResult{
			Success:         true,
			UsageID:         usage.ID,
			CreditsDeducted: amount,
			BalanceBefore:   before,
			BalanceAfter:    after,
		}
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != nil && db.IsUniqueViolation(err, "") {
			// a concurrent request with the same key committed first
			return s.replay(ctx, input, *input.IdempotencyKey)
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCredits) {
			s.metrics.IncCharge(input.UsageType, "insufficient")
			s.logg.Info(ctx, "charge rejected for insufficient credits")
			return nil, err
		}
		s.metrics.IncCharge(input.UsageType, metrics.OutcomeFailure)
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record credit usage")
	}

	s.metrics.IncCharge(input.UsageType, metrics.OutcomeSuccess)
	s.metrics.AddCredits(string(enums.CreditTransactionDebit), amount)
	return result, nil
}

// replay returns the charge already recorded under key, or nil when none exists.
// A row written for a different user, service or store is a key conflict.
func (s *service) replay(ctx context.Context, input ChargeInput, key string) (*ChargeResult, error) {
	prior, err := s.repo.FindUsageByKey(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency key")
	}
	if prior == nil {
		return nil, nil
	}
	if prior.UserID != input.UserID ||
		prior.TransactionType != enums.CreditTransactionDebit ||
		prior.UsageType != input.UsageType ||
		!sameStore(prior.StoreID, input.StoreID) {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key already used for another charge")
	}
	s.metrics.IncCharge(prior.UsageType, "replayed")
	return &ChargeResult{
		Success:         true,
		UsageID:         prior.ID,
		CreditsDeducted: prior.CreditsUsed,
		BalanceBefore:   metaDecimal(prior.Metadata, "balance_before"),
		BalanceAfter:    metaDecimal(prior.Metadata, "balance_after"),
		Replayed:        true,
	}, nil
}

func sameStore(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func metaDecimal(meta datatypes.JSONMap, key string) decimal.Decimal {
	raw, ok := meta[key]
	if !ok {
		return decimal.Zero
	}
	switch v := raw.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(v)
	}
	return decimal.Zero
}

// CheckCreditsBeforeExecution reports whether the balance currently covers the
// cost. It takes no lock; Charge remains authoritative.
func (s *service) CheckCreditsBeforeExecution(ctx context.Context, userID uuid.UUID, usageType string, quantity decimal.Decimal) (*CheckResult, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	amount, err := s.price(ctx, usageType, normalizeQuantity(quantity))
	if err != nil {
		return nil, err
	}
	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance")
	}
	return &CheckResult{
		Sufficient: user.Credits.GreaterThanOrEqual(amount),
		Required:   amount,
		Balance:    user.Credits,
	}, nil
}

func refundKey(usageID uuid.UUID) string {
	return "refund:" + usageID.String()
}

// Refund appends a refund row that returns a debit's credits. Each debit can
// be refunded once.
func (s *service) Refund(ctx context.Context, input RefundInput) (*models.CreditUsage, error) {
	if input.UsageID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "usage id is required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason is required")
	}
	key := refundKey(input.UsageID)

	var refund *models.CreditUsage
	err := db.WithTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		original, err := repo.FindUsage(ctx, input.UsageID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "credit usage not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load credit usage")
		}
		if original.TransactionType != enums.CreditTransactionDebit {
			return pkgerrors.New(pkgerrors.CodeValidation, "only debits can be refunded")
		}
		existing, err := repo.FindRefundOf(ctx, original.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check prior refund")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "credit usage already refunded")
		}

		user, err := repo.LockUser(ctx, original.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock user balance")
		}
		before := user.Credits
		after := before.Add(original.CreditsUsed)
		if err := repo.SetBalance(ctx, user.ID, after); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balance")
		}

		refType := enums.CreditReferenceCreditUsage
		refID := original.ID.String()
		refund = &models.CreditUsage{
			UserID:          original.UserID,
			StoreID:         original.StoreID,
			CreditsUsed:     original.CreditsUsed.Neg(),
			UsageType:       original.UsageType,
			TransactionType: enums.CreditTransactionRefund,
			ReferenceID:     &refID,
			ReferenceType:   &refType,
			IdempotencyKey:  &key,
			Description:     &reason,
			Metadata: datatypes.JSONMap{
				"balance_before": before.String(),
				"balance_after":  after.String(),
			},
		}
		return repo.CreateUsage(ctx, refund)
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "credit usage already refunded")
		}
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}
	s.metrics.AddCredits(string(enums.CreditTransactionRefund), refund.CreditsUsed.Abs())
	s.logg.Info(s.logg.WithField(ctx, "usage_id", input.UsageID.String()), "credit usage refunded")
	return refund, nil
}

// Adjust applies an admin correction. The balance may not go negative.
func (s *service) Adjust(ctx context.Context, input AdjustInput) (*models.CreditUsage, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if input.Amount.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment amount must be non-zero")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason is required")
	}
	amount := input.Amount.Round(creditScale)
	row, err := s.credit(ctx, input.UserID, amount, func(before, after decimal.Decimal) *models.CreditUsage {
		return &models.CreditUsage{
			UserID:          input.UserID,
			CreditsUsed:     amount.Neg(),
			UsageType:       AdjustmentUsageType,
			TransactionType: enums.CreditTransactionAdjustment,
			ReferenceID:     input.ReferenceID,
			Description:     &reason,
			Metadata: datatypes.JSONMap{
				"balance_before": before.String(),
				"balance_after":  after.String(),
			},
		}
	})
	if err != nil {
		return nil, err
	}
	s.metrics.AddCredits(string(enums.CreditTransactionAdjustment), amount.Abs())
	return row, nil
}

// Purchase adds paid credits once per payment reference.
func (s *service) Purchase(ctx context.Context, input PurchaseInput) (*models.CreditUsage, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !input.Credits.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "purchased credits must be positive")
	}
	ref := strings.TrimSpace(input.PaymentReference)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	key := "purchase:" + ref
	if prior, err := s.repo.FindUsageByKey(ctx, key); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payment reference")
	} else if prior != nil {
		return samePurchase(prior, input.UserID)
	}

	amount := input.Credits.Round(creditScale)
	refType := enums.CreditReferencePayment
	row, err := s.credit(ctx, input.UserID, amount, func(before, after decimal.Decimal) *models.CreditUsage {
		return &models.CreditUsage{
			UserID:          input.UserID,
			CreditsUsed:     amount.Neg(),
			UsageType:       PurchaseUsageType,
			TransactionType: enums.CreditTransactionPurchase,
			ReferenceID:     &ref,
			ReferenceType:   &refType,
			IdempotencyKey:  &key,
			Metadata: datatypes.JSONMap{
				"balance_before": before.String(),
				"balance_after":  after.String(),
			},
		}
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			prior, findErr := s.repo.FindUsageByKey(ctx, key)
			if findErr == nil && prior != nil {
				return samePurchase(prior, input.UserID)
			}
		}
		return nil, err
	}
	s.metrics.AddCredits(string(enums.CreditTransactionPurchase), amount)
	return row, nil
}

// samePurchase replays prior only when it is the purchase this user already made.
func samePurchase(prior *models.CreditUsage, userID uuid.UUID) (*models.CreditUsage, error) {
	if prior.TransactionType != enums.CreditTransactionPurchase || prior.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment reference already recorded for another transaction")
	}
	return prior, nil
}

// credit moves the balance by delta and appends the row built by build.
func (s *service) credit(ctx context.Context, userID uuid.UUID, delta decimal.Decimal, build func(before, after decimal.Decimal) *models.CreditUsage) (*models.CreditUsage, error) {
	var row *models.CreditUsage
	err := db.WithTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		user, err := repo.LockUser(ctx, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock user balance")
		}
		before := user.Credits
		after := before.Add(delta)
		if after.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeInsufficientCredits, "adjustment would make the balance negative").
				WithDetails(map[string]any{"balance": before.String(), "amount": delta.String()})
		}
		if err := repo.SetBalance(ctx, userID, after); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update balance")
		}
		row = build(before, after)
		return repo.CreateUsage(ctx, row)
	})
	if err != nil {
		if pkgerrors.As(err) != nil || db.IsUniqueViolation(err, "") {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record credit movement")
	}
	return row, nil
}

func (s *service) Balance(ctx context.Context, userID uuid.UUID) (*Balance, error) {
	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance")
	}
	return &Balance{
		UserID:        user.ID,
		Credits:       user.Credits,
		CurrencyValue: user.Credits.Mul(s.currencyPerCredit).Round(2),
	}, nil
}

func (s *service) ListUsage(ctx context.Context, userID uuid.UUID, params pagination.Params) (*UsagePage, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.ListUsage(ctx, userID, cursor, params.Limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list credit usage")
	}
	page := &UsagePage{Items: rows}
	if next != nil {
		page.Cursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

func (s *service) ListCosts(ctx context.Context, includeHidden bool) ([]models.ServiceCreditCost, error) {
	costs, err := s.repo.ListCosts(ctx, includeHidden)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list service costs")
	}
	return costs, nil
}

// UpsertCost edits the price catalog and drops the cached entry.
func (s *service) UpsertCost(ctx context.Context, input CostInput) (*models.ServiceCreditCost, error) {
	key := strings.TrimSpace(input.ServiceKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service key is required")
	}
	if !input.Category.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid service category %q", input.Category))
	}
	if !input.BillingType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid billing type %q", input.BillingType))
	}
	if input.CostPerUnit.IsNegative() || input.ActualCostUSD.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "costs cannot be negative")
	}

	cost := &models.ServiceCreditCost{
		ServiceKey:    key,
		ServiceName:   input.ServiceName,
		Category:      input.Category,
		CostPerUnit:   input.CostPerUnit.Round(creditScale),
		ActualCostUSD: input.ActualCostUSD,
		BillingType:   input.BillingType,
		IsActive:      input.IsActive,
		IsVisible:     input.IsVisible,
		DisplayOrder:  input.DisplayOrder,
	}
	if err := s.repo.UpsertCost(ctx, cost); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save service cost")
	}
	s.forgetCost(ctx, key)

	saved, err := s.repo.FindCost(ctx, key)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload service cost")
	}
	return saved, nil
}
