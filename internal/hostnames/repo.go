package hostnames

import (
	"context"
	"errors"

	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles store_hostnames persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to hostname operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
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

type resolutionRow struct {
	StoreID   uuid.UUID
	Slug      string
	IsPrimary bool
	IsActive  bool
	Status    enums.StoreStatus
}

// FindResolution performs the exact-match hostname lookup joined with its store.
func (r *Repository) FindResolution(ctx context.Context, hostname string) (*resolutionRow, error) {
	var row resolutionRow
	err := r.db.WithContext(ctx).
		Table("store_hostnames AS h").
		Select("h.store_id AS store_id, s.slug AS slug, h.is_primary AS is_primary, s.is_active AS is_active, s.status AS status").
		Joins("JOIN stores s ON s.id = h.store_id").
		Where("h.hostname = ?", hostname).
		Take(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Create inserts a hostname row.
func (r *Repository) Create(ctx context.Context, hostname *models.StoreHostname) error {
	return r.db.WithContext(ctx).Create(hostname).Error
}

// FindByID loads a hostname that belongs to storeID.
func (r *Repository) FindByID(ctx context.Context, storeID, id uuid.UUID) (*models.StoreHostname, error) {
	var h models.StoreHostname
	if err := r.db.WithContext(ctx).Where("id = ? AND store_id = ?", id, storeID).Take(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// ListByStore returns every hostname of a store, primary first.
func (r *Repository) ListByStore(ctx context.Context, storeID uuid.UUID) ([]models.StoreHostname, error) {
	var rows []models.StoreHostname
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("is_primary DESC").
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// HasPrimary reports whether the store already has a primary hostname.
func (r *Repository) HasPrimary(ctx context.Context, storeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.StoreHostname{}).
		Where("store_id = ? AND is_primary = ?", storeID, true).
		Count(&count).Error
	return count > 0, err
}

// ClearPrimary demotes every primary hostname of the store.
func (r *Repository) ClearPrimary(ctx context.Context, storeID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.StoreHostname{}).
		Where("store_id = ? AND is_primary = ?", storeID, true).
		Update("is_primary", false).Error
}

// MarkPrimary promotes one hostname.
func (r *Repository) MarkPrimary(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.StoreHostname{}).
		Where("id = ?", id).
		Update("is_primary", true).Error
}

// Delete removes a hostname row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.StoreHostname{}, "id = ?", id).Error
}

// StoreExists reports whether a store row is present.
func (r *Repository) StoreExists(ctx context.Context, storeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Store{}).Where("id = ?", storeID).Count(&count).Error
	return count > 0, err
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
