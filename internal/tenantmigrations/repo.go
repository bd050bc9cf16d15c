package tenantmigrations

import (
	"context"

	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists ledger rows and per-tenant schema state in the master registry.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to the tenant migration ledger.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// List returns every ledger row recorded for a store.
func (r *Repository) List(ctx context.Context, storeID uuid.UUID) ([]models.TenantMigration, error) {
	var rows []models.TenantMigration
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("migration_version ASC").
		Find(&rows).Error
	return rows, err
}

// Succeeded returns the names of migrations already applied successfully.
func (r *Repository) Succeeded(ctx context.Context, storeID uuid.UUID) (map[string]bool, error) {
	var names []string
	if err := r.db.WithContext(ctx).
		Model(&models.TenantMigration{}).
		Where("store_id = ? AND success = ?", storeID, true).
		Pluck("migration_name", &names).Error; err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = true
	}
	return out, nil
}

// Record upserts the outcome of one attempt, keyed by (store_id, migration_name).
// A row that already succeeded is never rewritten.
func (r *Repository) Record(ctx context.Context, row *models.TenantMigration) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "store_id"}, {Name: "migration_name"}},
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "tenant_migrations", Name: "success"}, Value: false},
		}},
		DoUpdates: clause.AssignmentColumns([]string{
			"migration_version",
			"success",
			"error_message",
			"started_at",
			"completed_at",
			"duration_ms",
		}),
	}).Create(row).Error
}

// SetSchemaState stores the tenant's applied version and pending flag.
func (r *Repository) SetSchemaState(ctx context.Context, storeID uuid.UUID, version *string, pending bool) error {
	return r.db.WithContext(ctx).
		Model(&models.StoreDatabase{}).
		Where("store_id = ?", storeID).
		Updates(map[string]any{
			"schema_version":        version,
			"has_pending_migration": pending,
		}).Error
}

// FlagBehind marks every tenant not at latest as having pending migrations.
func (r *Repository) FlagBehind(ctx context.Context, latest string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StoreDatabase{}).
		Where("has_pending_migration = ?", false).
		Where("schema_version IS NULL OR schema_version <> ?", latest).
		Update("has_pending_migration", true)
	return res.RowsAffected, res.Error
}

// PendingStores lists serving stores flagged for migration, oldest id first.
func (r *Repository) PendingStores(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := r.db.WithContext(ctx).
		Table("stores").
		Joins("JOIN store_databases ON store_databases.store_id = stores.id").
		Where("store_databases.has_pending_migration = ?", true).
		Where("stores.status IN ?", []enums.StoreStatus{enums.StoreStatusActive, enums.StoreStatusDemo}).
		Order("stores.id ASC").
		Limit(limit)
	if after != uuid.Nil {
		q = q.Where("stores.id > ?", after)
	}
	if err := q.Pluck("stores.id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
