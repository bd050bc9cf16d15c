package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storegrid-backend/pkg/enums"
)

// StoreDatabase holds the encrypted connection material for a store's tenant database.
// Host, Port and DatabaseName are non-sensitive copies kept for operators.
type StoreDatabase struct {
	ID                        uuid.UUID              `gorm:"type:uuid;primaryKey"`
	StoreID                   uuid.UUID              `gorm:"column:store_id;type:uuid;not null;uniqueIndex"`
	DatabaseType              enums.DatabaseType     `gorm:"column:database_type;type:text;not null"`
	ConnectionStringEncrypted string                 `gorm:"column:connection_string_encrypted;not null"`
	Host                      *string                `gorm:"column:host"`
	Port                      *int                   `gorm:"column:port"`
	DatabaseName              *string                `gorm:"column:database_name"`
	ConnectionStatus          enums.ConnectionStatus `gorm:"column:connection_status;type:text;not null;default:'pending'"`
	LastConnectionTest        *time.Time             `gorm:"column:last_connection_test"`
	LastConnectionError       *string                `gorm:"column:last_connection_error"`
	SchemaVersion             *string                `gorm:"column:schema_version"`
	HasPendingMigration       bool                   `gorm:"column:has_pending_migration;not null;default:false"`
	CreatedAt                 time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (d *StoreDatabase) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
