package stores

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	"github.com/angelmondragon/storegrid-backend/pkg/types"
)

// StoreDTO exposes registry data in API responses.
type StoreDTO struct {
	ID                      uuid.UUID                  `json:"id"`
	UserID                  uuid.UUID                  `json:"user_id"`
	Slug                    string                     `json:"slug"`
	Name                    string                     `json:"name"`
	Status                  enums.StoreStatus          `json:"status"`
	IsActive                bool                       `json:"is_active"`
	ProvisioningStatus      enums.ProvisioningStatus   `json:"provisioning_status"`
	ProvisioningProgress    types.ProvisioningProgress `json:"provisioning_progress"`
	ProvisioningStartedAt   *time.Time                 `json:"provisioning_started_at,omitempty"`
	ProvisioningCompletedAt *time.Time                 `json:"provisioning_completed_at,omitempty"`
	ThemePreset             *string                    `json:"theme_preset,omitempty"`
	Country                 *string                    `json:"country,omitempty"`
	ContactEmail            *string                    `json:"contact_email,omitempty"`
	ContactPhone            *string                    `json:"contact_phone,omitempty"`
	PrimaryHostname         string                     `json:"primary_hostname,omitempty"`
	CreatedAt               time.Time                  `json:"created_at"`
	UpdatedAt               time.Time                  `json:"updated_at"`
}

// DatabaseDTO is the non-sensitive view of a store's tenant database.
type DatabaseDTO struct {
	StoreID             uuid.UUID              `json:"store_id"`
	DatabaseType        enums.DatabaseType     `json:"database_type"`
	Host                *string                `json:"host,omitempty"`
	Port                *int                   `json:"port,omitempty"`
	DatabaseName        *string                `json:"database_name,omitempty"`
	ConnectionStatus    enums.ConnectionStatus `json:"connection_status"`
	LastConnectionTest  *time.Time             `json:"last_connection_test,omitempty"`
	LastConnectionError *string                `json:"last_connection_error,omitempty"`
	SchemaVersion       *string                `json:"schema_version,omitempty"`
	HasPendingMigration bool                   `json:"has_pending_migration"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// CreateStoreInput carries creation-time data for a new store. Slug defaults
// to the slugified name.
type CreateStoreInput struct {
	UserID       uuid.UUID `json:"user_id" validate:"required"`
	Name         string    `json:"name" validate:"required,max=120"`
	Slug         string    `json:"slug,omitempty" validate:"omitempty,max=63"`
	ThemePreset  *string   `json:"theme_preset,omitempty"`
	Country      *string   `json:"country,omitempty" validate:"omitempty,len=2"`
	ContactEmail *string   `json:"contact_email,omitempty" validate:"omitempty,email"`
	ContactPhone *string   `json:"contact_phone,omitempty"`
}

// UpdateStoreInput captures the mutable store fields. The slug never changes.
type UpdateStoreInput struct {
	Name         *string `json:"name,omitempty" validate:"omitempty,max=120"`
	ThemePreset  *string `json:"theme_preset,omitempty"`
	Country      *string `json:"country,omitempty" validate:"omitempty,len=2"`
	ContactEmail *string `json:"contact_email,omitempty" validate:"omitempty,email"`
	ContactPhone *string `json:"contact_phone,omitempty"`
}

// AttachDatabaseInput supplies a plaintext connection string to be sealed.
type AttachDatabaseInput struct {
	DatabaseType     enums.DatabaseType `json:"database_type" validate:"required"`
	ConnectionString string             `json:"connection_string" validate:"required"`
}

// ListParams filters the admin store listing.
type ListParams struct {
	Status *enums.StoreStatus
	UserID *uuid.UUID
	Limit  int
	Cursor string
}

// ListResult is one page of stores.
type ListResult struct {
	Items  []StoreDTO `json:"items"`
	Cursor string     `json:"cursor,omitempty"`
}

// FromModel maps the persisted store into a DTO.
func FromModel(m *models.Store) *StoreDTO {
	if m == nil {
		return nil
	}
	return &StoreDTO{
		ID:                      m.ID,
		UserID:                  m.UserID,
		Slug:                    m.Slug,
		Name:                    m.Name,
		Status:                  m.Status,
		IsActive:                m.IsActive,
		ProvisioningStatus:      m.ProvisioningStatus,
		ProvisioningProgress:    m.ProvisioningProgress,
		ProvisioningStartedAt:   m.ProvisioningStartedAt,
		ProvisioningCompletedAt: m.ProvisioningCompletedAt,
		ThemePreset:             cloneStringPtr(m.ThemePreset),
		Country:                 cloneStringPtr(m.Country),
		ContactEmail:            cloneStringPtr(m.ContactEmail),
		ContactPhone:            cloneStringPtr(m.ContactPhone),
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
	}
}

// DatabaseFromModel drops the sealed connection string.
func DatabaseFromModel(m *models.StoreDatabase) *DatabaseDTO {
	if m == nil {
		return nil
	}
	return &DatabaseDTO{
		StoreID:             m.StoreID,
		DatabaseType:        m.DatabaseType,
		Host:                m.Host,
		Port:                m.Port,
		DatabaseName:        m.DatabaseName,
		ConnectionStatus:    m.ConnectionStatus,
		LastConnectionTest:  m.LastConnectionTest,
		LastConnectionError: m.LastConnectionError,
		SchemaVersion:       m.SchemaVersion,
		HasPendingMigration: m.HasPendingMigration,
		UpdatedAt:           m.UpdatedAt,
	}
}

// ToModel prepares the GORM model for a new store in pending_database.
func (c CreateStoreInput) ToModel(slug string) *models.Store {
	return &models.Store{
		UserID:             c.UserID,
		Slug:               slug,
		Name:               c.Name,
		Status:             enums.StoreStatusPendingDatabase,
		ProvisioningStatus: enums.ProvisioningStatusPending,
		ThemePreset:        cloneStringPtr(c.ThemePreset),
		Country:            cloneStringPtr(c.Country),
		ContactEmail:       cloneStringPtr(c.ContactEmail),
		ContactPhone:       cloneStringPtr(c.ContactPhone),
	}
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	cpy := *value
	return &cpy
}
