package stores

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/angelmondragon/storegrid-backend/internal/hostnames"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/pagination"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const maxSlugLength = 63

var reservedSlugs = map[string]struct{}{
	"www":    {},
	"api":    {},
	"admin":  {},
	"app":    {},
	"mail":   {},
	"static": {},
}

// Sealer encrypts connection strings before they are stored.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
}

// Pool is the slice of the connection manager the registry drives.
type Pool interface {
	Invalidate(ctx context.Context, storeID uuid.UUID) error
}

// Service exposes store registry operations.
type Service interface {
	Create(ctx context.Context, input CreateStoreInput) (*StoreDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*StoreDTO, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateStoreInput) (*StoreDTO, error)
	Suspend(ctx context.Context, id uuid.UUID) (*StoreDTO, error)
	Reactivate(ctx context.Context, id uuid.UUID) (*StoreDTO, error)
	Deactivate(ctx context.Context, id uuid.UUID) (*StoreDTO, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AttachDatabase(ctx context.Context, id uuid.UUID, input AttachDatabaseInput) (*DatabaseDTO, error)
	GetDatabase(ctx context.Context, id uuid.UUID) (*DatabaseDTO, error)
}

// Params wires the store service.
type Params struct {
	Repo           *Repository
	Vault          Sealer
	Pool           Pool
	PlatformDomain string
	Logger         *logger.Logger
}

type service struct {
	repo           *Repository
	vault          Sealer
	pool           Pool
	platformDomain string
	logg           *logger.Logger
}

// NewService builds a store service.
func NewService(params Params) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	if params.Vault == nil {
		return nil, fmt.Errorf("credential vault required")
	}
	if params.Pool == nil {
		return nil, fmt.Errorf("connection pool required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	domain := hostnames.Normalize(params.PlatformDomain)
	if !hostnames.Valid(domain) {
		return nil, fmt.Errorf("invalid platform domain %q", params.PlatformDomain)
	}
	return &service{
		repo:           params.Repo,
		vault:          params.Vault,
		pool:           params.Pool,
		platformDomain: domain,
		logg:           params.Logger,
	}, nil
}

func normalizeSlug(raw, name string) (string, error) {
	source := strings.TrimSpace(raw)
	if source == "" {
		source = name
	}
	value := slug.Make(source)
	if len(value) > maxSlugLength {
		value = strings.Trim(value[:maxSlugLength], "-")
	}
	if value == "" || !slug.IsSlug(value) {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cannot derive a slug from %q", source))
	}
	if _, reserved := reservedSlugs[value]; reserved {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("slug %q is reserved", value))
	}
	return value, nil
}

// Create registers a store in pending_database with its platform hostname as
// primary.
func (s *service) Create(ctx context.Context, input CreateStoreInput) (*StoreDTO, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store name is required")
	}
	storeSlug, err := normalizeSlug(input.Slug, input.Name)
	if err != nil {
		return nil, err
	}
	hostname := storeSlug + "." + s.platformDomain

	store := input.ToModel(storeSlug)
	err = db.WithTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.UserExists(ctx, input.UserID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		taken, err := repo.SlugTaken(ctx, storeSlug)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check slug")
		}
		if taken {
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("slug %q is already taken", storeSlug))
		}
		if err := repo.Create(ctx, store); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("slug %q is already taken", storeSlug))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create store")
		}
		if err := repo.CreateHostname(ctx, &models.StoreHostname{
			StoreID:   store.ID,
			Hostname:  hostname,
			IsPrimary: true,
		}); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("hostname %q is already in use", hostname))
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create platform hostname")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithTenant(ctx, store.ID.String(), store.Slug), "store created")
	dto := FromModel(store)
	dto.PrimaryHostname = hostname
	return dto, nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Store, error) {
	store, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
	}
	return store, nil
}

func (s *service) present(ctx context.Context, store *models.Store) (*StoreDTO, error) {
	dto := FromModel(store)
	host, err := s.repo.PrimaryHostname(ctx, store.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load primary hostname")
	}
	dto.PrimaryHostname = host
	return dto, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*StoreDTO, error) {
	store, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.present(ctx, store)
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid store status %q", *params.Status))
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.repo.List(ctx, params, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stores")
	}
	result := &ListResult{Items: make([]StoreDTO, 0, len(rows))}
	for i := range rows {
		result.Items = append(result.Items, *FromModel(&rows[i]))
	}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateStoreInput) (*StoreDTO, error) {
	store, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "store name cannot be empty")
		}
		fields["name"] = name
		store.Name = name
	}
	if input.ThemePreset != nil {
		fields["theme_preset"] = *input.ThemePreset
		store.ThemePreset = cloneStringPtr(input.ThemePreset)
	}
	if input.Country != nil {
		country := strings.ToUpper(strings.TrimSpace(*input.Country))
		fields["country"] = country
		store.Country = &country
	}
	if input.ContactEmail != nil {
		fields["contact_email"] = *input.ContactEmail
		store.ContactEmail = cloneStringPtr(input.ContactEmail)
	}
	if input.ContactPhone != nil {
		fields["contact_phone"] = *input.ContactPhone
		store.ContactPhone = cloneStringPtr(input.ContactPhone)
	}
	if len(fields) == 0 {
		return s.present(ctx, store)
	}
	if err := s.repo.Updates(ctx, id, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update store")
	}
	return s.Get(ctx, id)
}

// transition moves the store along an admin lifecycle edge. Leaving a serving
// state drops pooled connections everywhere.
func (s *service) transition(ctx context.Context, id uuid.UUID, next enums.StoreStatus, isActive bool) (*StoreDTO, error) {
	store, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if store.Status == next {
		return s.present(ctx, store)
	}
	if !store.Status.CanTransition(next) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("store cannot move from %s to %s", store.Status, next)).
			WithDetails(map[string]any{"status": store.Status, "target": next})
	}

	res := s.repo.DB().WithContext(ctx).
		Model(&models.Store{}).
		Where("id = ? AND status = ?", id, store.Status).
		Updates(map[string]any{"status": next, "is_active": isActive})
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update store status")
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "store status changed concurrently")
	}

	logCtx := s.logg.WithFields(s.logg.WithTenant(ctx, store.ID.String(), store.Slug), map[string]any{
		"from": store.Status,
		"to":   next,
	})
	if store.Status.IsServing() && !next.IsServing() {
		if err := s.pool.Invalidate(ctx, id); err != nil {
			s.logg.Warn(logCtx, "tenant invalidation broadcast failed")
		}
	}
	s.logg.Info(logCtx, "store status changed")
	return s.Get(ctx, id)
}

func (s *service) Suspend(ctx context.Context, id uuid.UUID) (*StoreDTO, error) {
	return s.transition(ctx, id, enums.StoreStatusSuspended, false)
}

func (s *service) Reactivate(ctx context.Context, id uuid.UUID) (*StoreDTO, error) {
	return s.transition(ctx, id, enums.StoreStatusActive, true)
}

func (s *service) Deactivate(ctx context.Context, id uuid.UUID) (*StoreDTO, error) {
	return s.transition(ctx, id, enums.StoreStatusInactive, false)
}

// Delete removes the store with its hostnames, database and ledger rows. A
// store mid-provisioning must finish or fail first.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	store, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if store.Status == enums.StoreStatusProvisioning || store.Status == enums.StoreStatusProvisioned {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "store is provisioning")
	}
	if err := db.WithTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		return s.repo.WithTx(tx).Delete(ctx, id)
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete store")
	}

	logCtx := s.logg.WithTenant(ctx, store.ID.String(), store.Slug)
	if err := s.pool.Invalidate(ctx, id); err != nil {
		s.logg.Warn(logCtx, "tenant invalidation broadcast failed")
	}
	s.logg.Info(logCtx, "store deleted")
	return nil
}

type dsnMetadata struct {
	host     *string
	port     *int
	database *string
}

// describeDSN extracts operator-facing metadata. Postgres strings must parse.
func describeDSN(dbType enums.DatabaseType, dsn string) (dsnMetadata, error) {
	if dbType == enums.DatabaseTypeSQLite {
		name := dsn
		if i := strings.IndexByte(name, '?'); i >= 0 {
			name = name[:i]
		}
		name = strings.TrimPrefix(name, "file:")
		return dsnMetadata{database: &name}, nil
	}
	cfg, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return dsnMetadata{}, err
	}
	host := cfg.Host
	port := int(cfg.Port)
	database := cfg.Database
	return dsnMetadata{host: &host, port: &port, database: &database}, nil
}

// AttachDatabase seals the connection string and replaces the store's single
// database row. Pooled handles for the store are invalidated.
func (s *service) AttachDatabase(ctx context.Context, id uuid.UUID, input AttachDatabaseInput) (*DatabaseDTO, error) {
	if !input.DatabaseType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid database type %q", input.DatabaseType))
	}
	dsn := strings.TrimSpace(input.ConnectionString)
	if dsn == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "connection string is required")
	}
	store, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	meta, err := describeDSN(input.DatabaseType, dsn)
	if err != nil {
		// the parse error can echo the password
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "connection string is not a valid postgres dsn")
	}
	sealed, err := s.vault.Encrypt(dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "seal connection string")
	}

	row := &models.StoreDatabase{
		StoreID:                   store.ID,
		DatabaseType:              input.DatabaseType,
		ConnectionStringEncrypted: sealed,
		Host:                      meta.host,
		Port:                      meta.port,
		DatabaseName:              meta.database,
		ConnectionStatus:          enums.ConnectionStatusPending,
	}
	if err := s.repo.UpsertDatabase(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save tenant database")
	}

	logCtx := s.logg.WithFields(s.logg.WithTenant(ctx, store.ID.String(), store.Slug), map[string]any{
		"database_type": input.DatabaseType,
	})
	if err := s.pool.Invalidate(ctx, store.ID); err != nil {
		s.logg.Warn(logCtx, "tenant invalidation broadcast failed")
	}
	s.logg.Info(logCtx, "tenant database attached")
	return s.GetDatabase(ctx, store.ID)
}

func (s *service) GetDatabase(ctx context.Context, id uuid.UUID) (*DatabaseDTO, error) {
	row, err := s.repo.FindDatabase(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store has no database")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tenant database")
	}
	return DatabaseFromModel(row), nil
}
