package tenantdb

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNoDatabase is returned when a store has no store_databases row yet.
var ErrNoDatabase = errors.New("store has no database attached")

// Target is everything needed to open one tenant database.
type Target struct {
	StoreID      uuid.UUID
	Slug         string
	Status       enums.StoreStatus
	IsActive     bool
	DatabaseType enums.DatabaseType
	Ciphertext   string
	Host         string
	Port         int
	DatabaseName string
}

// Repository reads tenant targets from the master registry and records
// connection outcomes.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to the tenant registry tables.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// LoadTarget joins a store with its database row.
func (r *Repository) LoadTarget(ctx context.Context, storeID uuid.UUID) (*Target, error) {
	var store models.Store
	if err := r.db.WithContext(ctx).Where("id = ?", storeID).Take(&store).Error; err != nil {
		return nil, err
	}
	var sdb models.StoreDatabase
	if err := r.db.WithContext(ctx).Where("store_id = ?", storeID).Take(&sdb).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoDatabase
		}
		return nil, err
	}
	target := &Target{
		StoreID:      store.ID,
		Slug:         store.Slug,
		Status:       store.Status,
		IsActive:     store.IsActive,
		DatabaseType: sdb.DatabaseType,
		Ciphertext:   sdb.ConnectionStringEncrypted,
	}
	if sdb.Host != nil {
		target.Host = *sdb.Host
	}
	if sdb.Port != nil {
		target.Port = *sdb.Port
	}
	if sdb.DatabaseName != nil {
		target.DatabaseName = *sdb.DatabaseName
	}
	return target, nil
}

// RecordConnection stores the outcome of the latest open attempt.
func (r *Repository) RecordConnection(ctx context.Context, storeID uuid.UUID, status enums.ConnectionStatus, errMsg *string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.StoreDatabase{}).
		Where("store_id = ?", storeID).
		Updates(map[string]any{
			"connection_status":     status,
			"last_connection_test":  at,
			"last_connection_error": errMsg,
		}).Error
}
