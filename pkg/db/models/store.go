package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	"github.com/angelmondragon/storegrid-backend/pkg/types"
)

// Store represents a tenant in the master registry. Slug is immutable once assigned.
type Store struct {
	ID                      uuid.UUID                  `gorm:"type:uuid;primaryKey"`
	UserID                  uuid.UUID                  `gorm:"column:user_id;type:uuid;not null;index"`
	Slug                    string                     `gorm:"column:slug;type:text;not null;uniqueIndex"`
	Name                    string                     `gorm:"column:name;not null"`
	Status                  enums.StoreStatus          `gorm:"column:status;type:text;not null;default:'pending_database'"`
	IsActive                bool                       `gorm:"column:is_active;not null;default:false"`
	ProvisioningStatus      enums.ProvisioningStatus   `gorm:"column:provisioning_status;type:text;not null;default:'pending'"`
	ProvisioningProgress    types.ProvisioningProgress `gorm:"column:provisioning_progress;type:jsonb"`
	ProvisioningStartedAt   *time.Time                 `gorm:"column:provisioning_started_at"`
	ProvisioningCompletedAt *time.Time                 `gorm:"column:provisioning_completed_at"`
	ThemePreset             *string                    `gorm:"column:theme_preset"`
	Country                 *string                    `gorm:"column:country"`
	ContactEmail            *string                    `gorm:"column:contact_email"`
	ContactPhone            *string                    `gorm:"column:contact_phone"`
	CreatedAt               time.Time                  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                  `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Store) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
