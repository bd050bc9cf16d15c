package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storegrid-backend/pkg/enums"
)

// ServiceCreditCost prices one billable operation.
type ServiceCreditCost struct {
	ID            uuid.UUID             `gorm:"type:uuid;primaryKey"`
	ServiceKey    string                `gorm:"column:service_key;type:text;not null;uniqueIndex"`
	ServiceName   string                `gorm:"column:service_name;not null"`
	Category      enums.ServiceCategory `gorm:"column:category;type:text;not null"`
	CostPerUnit   decimal.Decimal       `gorm:"column:cost_per_unit;type:numeric(12,4);not null"`
	ActualCostUSD decimal.Decimal       `gorm:"column:actual_cost_usd;type:numeric(12,6);not null;default:0"`
	BillingType   enums.BillingType     `gorm:"column:billing_type;type:text;not null"`
	IsActive      bool                  `gorm:"column:is_active;not null"`
	IsVisible     bool                  `gorm:"column:is_visible;not null"`
	DisplayOrder  int                   `gorm:"column:display_order;not null;default:0"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *ServiceCreditCost) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
