package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantMigration is one ledger row per (store, migration).
type TenantMigration struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey"`
	StoreID          uuid.UUID  `gorm:"column:store_id;type:uuid;not null;uniqueIndex:idx_tenant_migrations_store_name,priority:1"`
	MigrationName    string     `gorm:"column:migration_name;not null;uniqueIndex:idx_tenant_migrations_store_name,priority:2"`
	MigrationVersion string     `gorm:"column:migration_version;not null"`
	Success          bool       `gorm:"column:success;not null;default:false"`
	ErrorMessage     *string    `gorm:"column:error_message"`
	StartedAt        time.Time  `gorm:"column:started_at;not null"`
	CompletedAt      *time.Time `gorm:"column:completed_at"`
	DurationMS       int64      `gorm:"column:duration_ms;not null;default:0"`
}

func (m *TenantMigration) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
