package credits

import (
	"context"
	"errors"

	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	"github.com/angelmondragon/storegrid-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BillableStore pairs a serving store with the user who pays for it.
type BillableStore struct {
	StoreID uuid.UUID
	UserID  uuid.UUID
}

// Repository manages persistence for balances, usage rows and the cost catalog.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	DB() *gorm.DB
	FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	SetBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error
	CreateUsage(ctx context.Context, usage *models.CreditUsage) error
	FindUsage(ctx context.Context, id uuid.UUID) (*models.CreditUsage, error)
	FindUsageByKey(ctx context.Context, key string) (*models.CreditUsage, error)
	FindRefundOf(ctx context.Context, usageID uuid.UUID) (*models.CreditUsage, error)
	ListUsage(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.CreditUsage, *pagination.Cursor, error)
	FindCost(ctx context.Context, serviceKey string) (*models.ServiceCreditCost, error)
	ListCosts(ctx context.Context, includeHidden bool) ([]models.ServiceCreditCost, error)
	UpsertCost(ctx context.Context, cost *models.ServiceCreditCost) error
	ListBillableStores(ctx context.Context, after uuid.UUID, limit int) ([]BillableStore, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credit repository bound to the master registry.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) DB() *gorm.DB {
	return r.db
}

func (r *repository) FindUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LockUser reads the user row with FOR UPDATE so concurrent charges serialize.
func (r *repository) LockUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", userID).Take(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repository) SetBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("credits", balance).Error
}

func (r *repository) CreateUsage(ctx context.Context, usage *models.CreditUsage) error {
	return r.db.WithContext(ctx).Create(usage).Error
}

func (r *repository) FindUsage(ctx context.Context, id uuid.UUID) (*models.CreditUsage, error) {
	var usage models.CreditUsage
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&usage).Error; err != nil {
		return nil, err
	}
	return &usage, nil
}

// FindUsageByKey returns nil without error when no row carries the key.
func (r *repository) FindUsageByKey(ctx context.Context, key string) (*models.CreditUsage, error) {
	var usage models.CreditUsage
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// FindRefundOf returns the refund row that reverses usageID, or nil.
func (r *repository) FindRefundOf(ctx context.Context, usageID uuid.UUID) (*models.CreditUsage, error) {
	var usage models.CreditUsage
	err := r.db.WithContext(ctx).
		Where("transaction_type = ? AND reference_id = ?", enums.CreditTransactionRefund, usageID.String()).
		Take(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// ListUsage pages a user's rows newest first. The returned cursor is the last
// row of the page and is nil on the final page.
func (r *repository) ListUsage(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.CreditUsage, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(limit)
	query := r.db.WithContext(ctx).Model(&models.CreditUsage{}).Where("user_id = ?", userID)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.CreditUsage
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	if len(rows) > normalized {
		rows = rows[:normalized]
		last := rows[len(rows)-1]
		return rows, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return rows, nil, nil
}

func (r *repository) FindCost(ctx context.Context, serviceKey string) (*models.ServiceCreditCost, error) {
	var cost models.ServiceCreditCost
	if err := r.db.WithContext(ctx).Where("service_key = ?", serviceKey).Take(&cost).Error; err != nil {
		return nil, err
	}
	return &cost, nil
}

func (r *repository) ListCosts(ctx context.Context, includeHidden bool) ([]models.ServiceCreditCost, error) {
	query := r.db.WithContext(ctx).Model(&models.ServiceCreditCost{})
	if !includeHidden {
		query = query.Where("is_active = ? AND is_visible = ?", true, true)
	}
	var costs []models.ServiceCreditCost
	if err := query.Order("display_order ASC, service_key ASC").Find(&costs).Error; err != nil {
		return nil, err
	}
	return costs, nil
}

// UpsertCost inserts or rewrites the catalog row keyed by service_key.
func (r *repository) UpsertCost(ctx context.Context, cost *models.ServiceCreditCost) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "service_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"service_name",
			"category",
			"cost_per_unit",
			"actual_cost_usd",
			"billing_type",
			"is_active",
			"is_visible",
			"display_order",
			"updated_at",
		}),
	}).Create(cost).Error
}

// ListBillableStores pages active stores by id.
func (r *repository) ListBillableStores(ctx context.Context, after uuid.UUID, limit int) ([]BillableStore, error) {
	var rows []BillableStore
	query := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Select("id AS store_id, user_id").
		Where("status = ? AND is_active = ?", enums.StoreStatusActive, true).
		Order("id ASC").
		Limit(limit)
	if after != uuid.Nil {
		query = query.Where("id > ?", after)
	}
	if err := query.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
