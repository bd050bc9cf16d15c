package provisioning

import (
	"context"
	"time"

	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	"github.com/angelmondragon/storegrid-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Checkpoint is one guarded write to a store's provisioning columns.
type Checkpoint struct {
	Status      enums.StoreStatus
	Sub         enums.ProvisioningStatus
	Progress    types.ProvisioningProgress
	IsActive    *bool
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Repository reads and writes provisioning state on the stores table.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to the provisioning columns.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindStore loads the store row.
func (r *Repository) FindStore(ctx context.Context, storeID uuid.UUID) (*models.Store, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).Where("id = ?", storeID).Take(&store).Error; err != nil {
		return nil, err
	}
	return &store, nil
}

// HasDatabase reports whether a store_databases row exists for the store.
func (r *Repository) HasDatabase(ctx context.Context, storeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.StoreDatabase{}).Where("store_id = ?", storeID).Count(&count).Error
	return count > 0, err
}

// Save applies cp only while the store is still in expect. It reports false
// when another writer moved the store first.
func (r *Repository) Save(ctx context.Context, storeID uuid.UUID, expect enums.StoreStatus, cp Checkpoint) (bool, error) {
	updates := map[string]any{
		"status":                cp.Status,
		"provisioning_status":   cp.Sub,
		"provisioning_progress": cp.Progress,
	}
	if cp.IsActive != nil {
		updates["is_active"] = *cp.IsActive
	}
	if cp.StartedAt != nil {
		updates["provisioning_started_at"] = gorm.Expr("COALESCE(provisioning_started_at, ?)", *cp.StartedAt)
	}
	if cp.CompletedAt != nil {
		updates["provisioning_completed_at"] = gorm.Expr("COALESCE(provisioning_completed_at, ?)", *cp.CompletedAt)
	}
	res := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("id = ? AND status = ?", storeID, expect).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// ListResumable returns stores a crashed or interrupted run left mid-way, plus
// pending stores that already have a database attached.
func (r *Repository) ListResumable(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("status IN ?", []enums.StoreStatus{enums.StoreStatusProvisioning, enums.StoreStatusProvisioned}).
		Or("status = ? AND EXISTS (SELECT 1 FROM store_databases sd WHERE sd.store_id = stores.id)", enums.StoreStatusPendingDatabase).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
