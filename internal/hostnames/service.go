package hostnames

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Resolution is the outcome of mapping an inbound hostname to a store.
type Resolution struct {
	StoreID   uuid.UUID         `json:"store_id"`
	Slug      string            `json:"slug"`
	IsPrimary bool              `json:"is_primary"`
	IsActive  bool              `json:"is_active"`
	Status    enums.StoreStatus `json:"status"`
}

// AddInput describes a hostname to attach to a store.
type AddInput struct {
	Hostname       string
	IsPrimary      bool
	IsCustomDomain bool
}

// Resolver maps hostnames to stores. Lookups always hit the registry so a
// deleted hostname stops resolving immediately.
type Resolver interface {
	Resolve(ctx context.Context, host string) (*Resolution, error)
}

// Service exposes hostname resolution and management.
type Service interface {
	Resolver
	Add(ctx context.Context, storeID uuid.UUID, input AddInput) (*models.StoreHostname, error)
	Remove(ctx context.Context, storeID, hostnameID uuid.UUID) error
	SetPrimary(ctx context.Context, storeID, hostnameID uuid.UUID) error
	List(ctx context.Context, storeID uuid.UUID) ([]models.StoreHostname, error)
}

type service struct {
	repo *Repository
}

// NewService builds the hostname service.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("hostname repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Resolve(ctx context.Context, host string) (*Resolution, error) {
	hostname := Normalize(host)
	if hostname == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnknownHostname, "hostname is empty")
	}
	row, err := s.repo.FindResolution(ctx, hostname)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnknownHostname, fmt.Sprintf("no store for hostname %q", hostname))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve hostname")
	}
	return &Resolution{
		StoreID:   row.StoreID,
		Slug:      row.Slug,
		IsPrimary: row.IsPrimary,
		IsActive:  row.IsActive,
		Status:    row.Status,
	}, nil
}

func (s *service) Add(ctx context.Context, storeID uuid.UUID, input AddInput) (*models.StoreHostname, error) {
	hostname := Normalize(input.Hostname)
	if !Valid(hostname) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid hostname %q", input.Hostname))
	}

	var created *models.StoreHostname
	err := db.WithTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		exists, err := repo.StoreExists(ctx, storeID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
		}
		if !exists {
			return pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}

		hasPrimary, err := repo.HasPrimary(ctx, storeID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check primary hostname")
		}
		primary := input.IsPrimary || !hasPrimary
		if primary && hasPrimary {
			if err := repo.ClearPrimary(ctx, storeID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "demote primary hostname")
			}
		}

		row := &models.StoreHostname{
			StoreID:        storeID,
			Hostname:       hostname,
			IsPrimary:      primary,
			IsCustomDomain: input.IsCustomDomain,
		}
		if err := repo.Create(ctx, row); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("hostname %q is already in use", hostname))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create hostname")
		}
		created = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) Remove(ctx context.Context, storeID, hostnameID uuid.UUID) error {
	row, err := s.repo.FindByID(ctx, storeID, hostnameID)
	if err != nil {
		if isNotFound(err) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "hostname not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load hostname")
	}
	if row.IsPrimary {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "primary hostname cannot be removed; promote another hostname first")
	}
	if err := s.repo.Delete(ctx, row.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete hostname")
	}
	return nil
}

func (s *service) SetPrimary(ctx context.Context, storeID, hostnameID uuid.UUID) error {
	return db.WithTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row, err := repo.FindByID(ctx, storeID, hostnameID)
		if err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "hostname not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load hostname")
		}
		if row.IsPrimary {
			return nil
		}
		if err := repo.ClearPrimary(ctx, storeID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "demote primary hostname")
		}
		if err := repo.MarkPrimary(ctx, row.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "promote hostname")
		}
		return nil
	})
}

func (s *service) List(ctx context.Context, storeID uuid.UUID) ([]models.StoreHostname, error) {
	rows, err := s.repo.ListByStore(ctx, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list hostnames")
	}
	return rows, nil
}
