package credits

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/pagination"
	"github.com/angelmondragon/storegrid-backend/pkg/redis"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeCache struct {
	mu     sync.Mutex
	values map[string]string
	gets   int
	broken bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string]string{}}
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.broken {
		return "", errors.New("connection refused")
	}
	v, ok := c.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errors.New("connection refused")
	}
	c.values[key] = value.(string)
	return nil
}

func (c *fakeCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
	}
	return nil
}

func (c *fakeCache) CreditCostKey(serviceKey string) string {
	return "credit_cost:" + serviceKey
}

func (c *fakeCache) has(serviceKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[c.CreditCostKey(serviceKey)]
	return ok
}

type fixture struct {
	db    *gorm.DB
	cache *fakeCache
	svc   Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.NewSQLite(t)
	cache := newFakeCache()
	svc, err := NewService(NewRepository(conn), cache, config.CreditsConfig{
		CostCacheTTL:      time.Minute,
		CurrencyPerCredit: "0.10",
		DailyHostingKey:   "store_daily_hosting",
	}, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), nil)
	require.NoError(t, err)

	f := &fixture{db: conn, cache: cache, svc: svc}
	f.addCost(t, "ai_product_description", "1.5", true)
	f.addCost(t, "ai_image_generation", "3", true)
	f.addCost(t, "store_daily_hosting", "1", true)
	f.addCost(t, "legacy_export", "2", false)
	return f
}

func (f *fixture) addCost(t *testing.T, key, cost string, active bool) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.ServiceCreditCost{
		ServiceKey:  key,
		ServiceName: key,
		Category:    enums.ServiceCategoryAI,
		CostPerUnit: decimal.RequireFromString(cost),
		BillingType: enums.BillingTypePerUse,
		IsActive:    active,
		IsVisible:   true,
	}).Error)
}

func (f *fixture) addUser(t *testing.T, credits string) uuid.UUID {
	t.Helper()
	user := &models.User{Email: uuid.NewString() + "@example.com", Credits: decimal.RequireFromString(credits)}
	require.NoError(t, f.db.Create(user).Error)
	return user.ID
}

func (f *fixture) balance(t *testing.T, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	var user models.User
	require.NoError(t, f.db.Where("id = ?", userID).Take(&user).Error)
	return user.Credits
}

func (f *fixture) usageCount(t *testing.T, userID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.CreditUsage{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func strPtr(s string) *string { return &s }

func TestChargeDebitsBalanceAndRecordsUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "10")

	result, err := f.svc.Charge(ctx, ChargeInput{
		UserID:    userID,
		UsageType: "ai_product_description",
		Quantity:  decimal.NewFromInt(2),
		ModelUsed: strPtr("gpt-4o-mini"),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.CreditsDeducted.Equal(decimal.NewFromInt(3)))
	assert.True(t, result.BalanceBefore.Equal(decimal.NewFromInt(10)))
	assert.True(t, result.BalanceAfter.Equal(decimal.NewFromInt(7)))
	assert.True(t, f.balance(t, userID).Equal(decimal.NewFromInt(7)))

	var usage models.CreditUsage
	require.NoError(t, f.db.Where("id = ?", result.UsageID).Take(&usage).Error)
	assert.Equal(t, enums.CreditTransactionDebit, usage.TransactionType)
	assert.Equal(t, "10", usage.Metadata["balance_before"])
	assert.Equal(t, "7", usage.Metadata["balance_after"])
	require.NotNil(t, usage.ModelUsed)
	assert.Equal(t, "gpt-4o-mini", *usage.ModelUsed)
}

func TestChargeDefaultsQuantityToOne(t *testing.T) {
	f := newFixture(t)
	userID := f.addUser(t, "10")

	result, err := f.svc.Charge(context.Background(), ChargeInput{UserID: userID, UsageType: "ai_image_generation"})
	require.NoError(t, err)
	assert.True(t, result.CreditsDeducted.Equal(decimal.NewFromInt(3)))
}

func TestChargeInsufficientLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "5")

	_, err := f.svc.Charge(ctx, ChargeInput{
		UserID:    userID,
		UsageType: "ai_image_generation",
		Quantity:  decimal.NewFromInt(2),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCredits))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "6", details["required"])
	assert.Equal(t, "5", details["balance"])

	assert.True(t, f.balance(t, userID).Equal(decimal.NewFromInt(5)))
	assert.Zero(t, f.usageCount(t, userID))
}

func TestChargeRejectsUnknownAndDisabledServices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "10")

	_, err := f.svc.Charge(ctx, ChargeInput{UserID: userID, UsageType: "teleport"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = f.svc.Charge(ctx, ChargeInput{UserID: userID, UsageType: "legacy_export"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Charge(ctx, ChargeInput{UserID: userID, UsageType: "ai_image_generation", Quantity: decimal.NewFromInt(-1)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Charge(ctx, ChargeInput{UserID: uuid.New(), UsageType: "ai_image_generation"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	assert.True(t, f.balance(t, userID).Equal(decimal.NewFromInt(10)))
}

func TestChargeIdempotencyKeyReplaysOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "10")
	input := ChargeInput{
		UserID:         userID,
		UsageType:      "ai_image_generation",
		IdempotencyKey: strPtr("gen-42"),
	}

	first, err := f.svc.Charge(ctx, input)
	require.NoError(t, err)
	second, err := f.svc.Charge(ctx, input)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.UsageID, second.UsageID)
	assert.True(t, second.BalanceAfter.Equal(decimal.NewFromInt(7)))
	assert.True(t, f.balance(t, userID).Equal(decimal.NewFromInt(7)))
	assert.EqualValues(t, 1, f.usageCount(t, userID))

	other := f.addUser(t, "10")
	input.UserID = other
	theirs, err := f.svc.Charge(ctx, input)
	require.NoError(t, err)
	assert.False(t, theirs.Replayed)
	assert.NotEqual(t, first.UsageID, theirs.UsageID)
	assert.True(t, f.balance(t, other).Equal(decimal.NewFromInt(7)))
}

func TestChargeKeyReusedForDifferentChargeConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "10")
	storeA, storeB := uuid.New(), uuid.New()
	input := ChargeInput{UserID: userID, UsageType: "ai_image_generation", IdempotencyKey: strPtr("job-7")}

	_, err := f.svc.Charge(ctx, input)
	require.NoError(t, err)

	otherService := input
	otherService.UsageType = "ai_product_description"
	_, err = f.svc.Charge(ctx, otherService)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdempotency), "%v", err)

	otherStore := input
	otherStore.StoreID = &storeA
	_, err = f.svc.Charge(ctx, otherStore)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdempotency), "%v", err)

	scoped := ChargeInput{UserID: userID, StoreID: &storeA, UsageType: "ai_image_generation", IdempotencyKey: strPtr("job-8")}
	_, err = f.svc.Charge(ctx, scoped)
	require.NoError(t, err)
	scoped.StoreID = &storeB
	_, err = f.svc.Charge(ctx, scoped)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdempotency), "%v", err)

	assert.True(t, f.balance(t, userID).Equal(decimal.NewFromInt(4)))
	assert.EqualValues(t, 2, f.usageCount(t, userID))
}

func TestClientKeysCannotClaimLedgerKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.addUser(t, "20")
	store := models.Store{UserID: owner, Slug: "alpha", Name: "Alpha", Status: enums.StoreStatusActive, IsActive: true}
	require.NoError(t, f.db.Create(&store).Error)
	day := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	hosting := hostingKey(store.ID, "2026-10-14")
	_, err := f.svc.Charge(ctx, ChargeInput{UserID: owner, StoreID: &store.ID, UsageType: "store_daily_hosting", IdempotencyKey: &hosting})
	require.NoError(t, err)

	report, err := f.svc.ChargeDailyHosting(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Charged)
	assert.Zero(t, report.Replayed)

	debit, err := f.svc.Charge(ctx, ChargeInput{UserID: owner, UsageType: "ai_image_generation"})
	require.NoError(t, err)
	claimed := refundKey(debit.UsageID)
	_, err = f.svc.Charge(ctx, ChargeInput{UserID: owner, UsageType: "ai_product_description", IdempotencyKey: &claimed})
	require.NoError(t, err)

	refund, err := f.svc.Refund(ctx, RefundInput{UsageID: debit.UsageID, Reason: "generation failed"})
	require.NoError(t, err)
	require.NotNil(t, refund.ReferenceID)
	assert.Equal(t, debit.UsageID.String(), *refund.ReferenceID)

	purchase := "purchase:pi_999"
	_, err = f.svc.Charge(ctx, ChargeInput{UserID: owner, UsageType: "ai_product_description", IdempotencyKey: &purchase})
	require.NoError(t, err)
	before := f.balance(t, owner)
	row, err := f.svc.Purchase(ctx, PurchaseInput{UserID: owner, Credits: decimal.NewFromInt(5), PaymentReference: "pi_999"})
	require.NoError(t, err)
	assert.Equal(t, enums.CreditTransactionPurchase, row.TransactionType)
	assert.True(t, f.balance(t, owner).Equal(before.Add(decimal.NewFromInt(5))))
}

func TestConcurrentChargesConserveCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "20")

	const workers = 20
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Charge(ctx, ChargeInput{UserID: userID, UsageType: "ai_product_description"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCredits):
				insufficient++
			default:
				t.Errorf("unexpected charge error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 13, succeeded)
	assert.Equal(t, 7, insufficient)
	assert.True(t, f.balance(t, userID).Equal(decimal.RequireFromString("0.5")))
	assert.EqualValues(t, 13, f.usageCount(t, userID))
}

func TestCheckCreditsBeforeExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "5")

	ok, err := f.svc.CheckCreditsBeforeExecution(ctx, userID, "ai_image_generation", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, ok.Sufficient)

	short, err := f.svc.CheckCreditsBeforeExecution(ctx, userID, "ai_image_generation", decimal.NewFromInt(2))
	require.NoError(t, err)
	assert.False(t, short.Sufficient)
	assert.True(t, short.Required.Equal(decimal.NewFromInt(6)))
	assert.True(t, short.Balance.Equal(decimal.NewFromInt(5)))
	assert.Zero(t, f.usageCount(t, userID))
}

func TestRefundRestoresCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "10")

	charge, err := f.svc.Charge(ctx, ChargeInput{UserID: userID, UsageType: "ai_image_generation"})
	require.NoError(t, err)

	refund, err := f.svc.Refund(ctx, RefundInput{UsageID: charge.UsageID, Reason: "generation failed"})
	require.NoError(t, err)
	assert.Equal(t, enums.CreditTransactionRefund, refund.TransactionType)
	assert.True(t, refund.CreditsUsed.Equal(decimal.NewFromInt(-3)))
	require.NotNil(t, refund.ReferenceType)
	assert.Equal(t, enums.CreditReferenceCreditUsage, *refund.ReferenceType)
	assert.True(t, f.balance(t, userID).Equal(decimal.NewFromInt(10)))

	_, err = f.svc.Refund(ctx, RefundInput{UsageID: charge.UsageID, Reason: "again"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.True(t, f.balance(t, userID).Equal(decimal.NewFromInt(10)))

	_, err = f.svc.Refund(ctx, RefundInput{UsageID: refund.ID, Reason: "refund the refund"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Refund(ctx, RefundInput{UsageID: uuid.New(), Reason: "missing"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestAdjustNeverDrivesBalanceNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "2")

	row, err := f.svc.Adjust(ctx, AdjustInput{UserID: userID, Amount: decimal.NewFromInt(5), Reason: "goodwill"})
	require.NoError(t, err)
	assert.Equal(t, AdjustmentUsageType, row.UsageType)
	assert.True(t, row.CreditsUsed.Equal(decimal.NewFromInt(-5)))
	assert.True(t, f.balance(t, userID).Equal(decimal.NewFromInt(7)))

	_, err = f.svc.Adjust(ctx, AdjustInput{UserID: userID, Amount: decimal.NewFromInt(-8), Reason: "clawback"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCredits))
	assert.True(t, f.balance(t, userID).Equal(decimal.NewFromInt(7)))

	_, err = f.svc.Adjust(ctx, AdjustInput{UserID: userID, Amount: decimal.NewFromInt(-7), Reason: "clawback"})
	require.NoError(t, err)
	assert.True(t, f.balance(t, userID).IsZero())

	_, err = f.svc.Adjust(ctx, AdjustInput{UserID: userID, Amount: decimal.NewFromInt(1)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestPurchaseIsIdempotentPerPaymentReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "0")
	input := PurchaseInput{UserID: userID, Credits: decimal.NewFromInt(50), PaymentReference: "pi_123"}

	first, err := f.svc.Purchase(ctx, input)
	require.NoError(t, err)
	second, err := f.svc.Purchase(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, f.balance(t, userID).Equal(decimal.NewFromInt(50)))

	other := f.addUser(t, "0")
	_, err = f.svc.Purchase(ctx, PurchaseInput{UserID: other, Credits: decimal.NewFromInt(50), PaymentReference: "pi_123"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "%v", err)
	assert.True(t, f.balance(t, other).IsZero())
}

func TestBalanceIncludesCurrencyValue(t *testing.T) {
	f := newFixture(t)
	userID := f.addUser(t, "25")

	bal, err := f.svc.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, bal.Credits.Equal(decimal.NewFromInt(25)))
	assert.True(t, bal.CurrencyValue.Equal(decimal.RequireFromString("2.5")))
}

func TestCostLookupUsesCacheAndUpsertInvalidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "100")

	_, err := f.svc.Charge(ctx, ChargeInput{UserID: userID, UsageType: "ai_image_generation"})
	require.NoError(t, err)
	assert.True(t, f.cache.has("ai_image_generation"))

	// a direct write behind the cache is not visible until invalidation
	require.NoError(t, f.db.Model(&models.ServiceCreditCost{}).
		Where("service_key = ?", "ai_image_generation").
		Update("cost_per_unit", decimal.NewFromInt(10)).Error)
	cached, err := f.svc.Charge(ctx, ChargeInput{UserID: userID, UsageType: "ai_image_generation"})
	require.NoError(t, err)
	assert.True(t, cached.CreditsDeducted.Equal(decimal.NewFromInt(3)))

	_, err = f.svc.UpsertCost(ctx, CostInput{
		ServiceKey:  "ai_image_generation",
		ServiceName: "Image generation",
		Category:    enums.ServiceCategoryAI,
		CostPerUnit: decimal.NewFromInt(4),
		BillingType: enums.BillingTypePerUse,
		IsActive:    true,
		IsVisible:   true,
	})
	require.NoError(t, err)
	assert.False(t, f.cache.has("ai_image_generation"))

	fresh, err := f.svc.Charge(ctx, ChargeInput{UserID: userID, UsageType: "ai_image_generation"})
	require.NoError(t, err)
	assert.True(t, fresh.CreditsDeducted.Equal(decimal.NewFromInt(4)))
}

func TestCostLookupFallsBackWhenCacheIsDown(t *testing.T) {
	f := newFixture(t)
	f.cache.broken = true
	userID := f.addUser(t, "10")

	result, err := f.svc.Charge(context.Background(), ChargeInput{UserID: userID, UsageType: "ai_image_generation"})
	require.NoError(t, err)
	assert.True(t, result.CreditsDeducted.Equal(decimal.NewFromInt(3)))
}

func TestUpsertCostValidatesEnums(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpsertCost(context.Background(), CostInput{
		ServiceKey:  "x",
		ServiceName: "x",
		Category:    "teleportation",
		BillingType: enums.BillingTypePerUse,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	costs, err := f.svc.ListCosts(context.Background(), false)
	require.NoError(t, err)
	for _, c := range costs {
		assert.NotEqual(t, "legacy_export", c.ServiceKey)
	}
	all, err := f.svc.ListCosts(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestListUsagePagesNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := f.addUser(t, "100")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.db.Create(&models.CreditUsage{
			UserID:          userID,
			CreditsUsed:     decimal.NewFromInt(1),
			UsageType:       "ai_image_generation",
			TransactionType: enums.CreditTransactionDebit,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}).Error)
	}

	first, err := f.svc.ListUsage(ctx, userID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	assert.True(t, first.Items[0].CreatedAt.Equal(base.Add(4*time.Minute)))
	require.NotEmpty(t, first.Cursor)

	second, err := f.svc.ListUsage(ctx, userID, pagination.Params{Limit: 2, Cursor: first.Cursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.True(t, second.Items[0].CreatedAt.Equal(base.Add(2*time.Minute)))

	third, err := f.svc.ListUsage(ctx, userID, pagination.Params{Limit: 2, Cursor: second.Cursor})
	require.NoError(t, err)
	require.Len(t, third.Items, 1)
	assert.Empty(t, third.Cursor)

	_, err = f.svc.ListUsage(ctx, userID, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestChargeDailyHostingOncePerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.addUser(t, "10")
	broke := f.addUser(t, "0")

	stores := []models.Store{
		{UserID: owner, Slug: "alpha", Name: "Alpha", Status: enums.StoreStatusActive, IsActive: true},
		{UserID: owner, Slug: "beta", Name: "Beta", Status: enums.StoreStatusActive, IsActive: true},
		{UserID: broke, Slug: "gamma", Name: "Gamma", Status: enums.StoreStatusActive, IsActive: true},
		{UserID: owner, Slug: "delta", Name: "Delta", Status: enums.StoreStatusSuspended},
		{UserID: owner, Slug: "epsilon", Name: "Epsilon", Status: enums.StoreStatusDemo, IsActive: true},
	}
	require.NoError(t, f.db.Create(&stores).Error)

	day := time.Date(2026, 10, 14, 23, 30, 0, 0, time.UTC)
	report, err := f.svc.ChargeDailyHosting(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-14", report.Day)
	assert.Equal(t, 2, report.Charged)
	assert.Equal(t, 1, report.Insufficient)
	assert.Empty(t, report.Failed)
	assert.True(t, f.balance(t, owner).Equal(decimal.NewFromInt(8)))

	again, err := f.svc.ChargeDailyHosting(ctx, day)
	require.NoError(t, err)
	assert.Zero(t, again.Charged)
	assert.Equal(t, 2, again.Replayed)
	assert.True(t, f.balance(t, owner).Equal(decimal.NewFromInt(8)))

	next, err := f.svc.ChargeDailyHosting(ctx, day.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, next.Charged)
	assert.True(t, f.balance(t, owner).Equal(decimal.NewFromInt(6)))
}
