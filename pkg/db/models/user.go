package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// User is the slice of the account entity the credit ledger reads and mutates.
type User struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Email     string          `gorm:"type:text;not null;uniqueIndex"`
	Credits   decimal.Decimal `gorm:"column:credits;type:numeric(12,4);not null;default:0"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
