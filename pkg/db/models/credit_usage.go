package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/storegrid-backend/pkg/enums"
)

// CreditUsage is an append-only ledger entry. CreditsUsed is positive for debits
// and negative when credits flow back to the user.
type CreditUsage struct {
	ID              uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	UserID          uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index"`
	StoreID         *uuid.UUID                  `gorm:"column:store_id;type:uuid;index"`
	CreditsUsed     decimal.Decimal             `gorm:"column:credits_used;type:numeric(12,4);not null"`
	UsageType       string                      `gorm:"column:usage_type;not null"`
	TransactionType enums.CreditTransactionType `gorm:"column:transaction_type;type:text;not null"`
	ReferenceID     *string                     `gorm:"column:reference_id"`
	ReferenceType   *enums.CreditReferenceType  `gorm:"column:reference_type;type:text"`
	IdempotencyKey  *string                     `gorm:"column:idempotency_key;uniqueIndex"`
	Description     *string                     `gorm:"column:description"`
	Metadata        datatypes.JSONMap           `gorm:"column:metadata"`
	ModelUsed       *string                     `gorm:"column:model_used"`
	Provider        *string                     `gorm:"column:provider"`
	CreatedAt       time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (CreditUsage) TableName() string {
	return "credit_usage"
}

func (c *CreditUsage) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
