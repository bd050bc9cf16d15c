package stores

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository handles store persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to store operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// DB exposes the bound connection for transactions.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// Create persists a new store row.
func (r *Repository) Create(ctx context.Context, store *models.Store) error {
	return r.db.WithContext(ctx).Create(store).Error
}

// CreateHostname persists a hostname row alongside its store.
func (r *Repository) CreateHostname(ctx context.Context, hostname *models.StoreHostname) error {
	return r.db.WithContext(ctx).Create(hostname).Error
}

// UserExists reports whether the owning account is present.
func (r *Repository) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&n).Error
	return n > 0, err
}

// SlugTaken reports whether any store already uses slug.
func (r *Repository) SlugTaken(ctx context.Context, slug string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Store{}).Where("slug = ?", slug).Count(&n).Error
	return n > 0, err
}

// FindByID loads a store by its UUID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// PrimaryHostname returns the store's primary hostname or "".
func (r *Repository) PrimaryHostname(ctx context.Context, storeID uuid.UUID) (string, error) {
	var rows []string
	err := r.db.WithContext(ctx).
		Model(&models.StoreHostname{}).
		Where("store_id = ? AND is_primary = ?", storeID, true).
		Limit(1).
		Pluck("hostname", &rows).Error
	if err != nil || len(rows) == 0 {
		return "", err
	}
	return rows[0], nil
}

// List pages stores newest first.
func (r *Repository) List(ctx context.Context, params ListParams, cursor *pagination.Cursor) ([]models.Store, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Store{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Store
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		return rows, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return rows, nil, nil
}

// Updates applies a column map to one store.
func (r *Repository) Updates(ctx context.Context, storeID uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update")
	}
	return r.db.WithContext(ctx).Model(&models.Store{}).Where("id = ?", storeID).Updates(fields).Error
}

// Delete removes the store and its dependent rows. Usage rows keep their
// history with store_id cleared.
func (r *Repository) Delete(ctx context.Context, storeID uuid.UUID) error {
	conn := r.db.WithContext(ctx)
	for _, model := range []any{&models.TenantMigration{}, &models.StoreHostname{}, &models.StoreDatabase{}} {
		if err := conn.Where("store_id = ?", storeID).Delete(model).Error; err != nil {
			return err
		}
	}
	if err := conn.Model(&models.CreditUsage{}).Where("store_id = ?", storeID).Update("store_id", nil).Error; err != nil {
		return err
	}
	return conn.Where("id = ?", storeID).Delete(&models.Store{}).Error
}

// FindDatabase loads the store's tenant database row.
func (r *Repository) FindDatabase(ctx context.Context, storeID uuid.UUID) (*models.StoreDatabase, error) {
	var row models.StoreDatabase
	if err := r.db.WithContext(ctx).Where("store_id = ?", storeID).Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertDatabase writes the single database row per store. Rotating
// credentials resets the connection status.
func (r *Repository) UpsertDatabase(ctx context.Context, row *models.StoreDatabase) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "store_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"database_type",
			"connection_string_encrypted",
			"host",
			"port",
			"database_name",
			"connection_status",
			"last_connection_error",
			"updated_at",
		}),
	}).Create(row).Error
}
