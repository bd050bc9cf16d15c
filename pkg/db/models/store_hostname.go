package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StoreHostname maps a lowercase hostname to exactly one store.
type StoreHostname struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	StoreID        uuid.UUID `gorm:"column:store_id;type:uuid;not null;index"`
	Hostname       string    `gorm:"column:hostname;type:text;not null;uniqueIndex"`
	IsPrimary      bool      `gorm:"column:is_primary;not null;default:false"`
	IsCustomDomain bool      `gorm:"column:is_custom_domain;not null;default:false"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (h *StoreHostname) BeforeCreate(*gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
