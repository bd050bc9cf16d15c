// Package tenantmigrations applies the tenant schema catalog to each tenant
// database and records the outcome per (store, migration) in the registry.
package tenantmigrations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/storegrid-backend/internal/locks"
	"github.com/angelmondragon/storegrid-backend/internal/tenantdb"
	"github.com/angelmondragon/storegrid-backend/internal/tenantschema"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/metrics"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type ledgerRepository interface {
	List(ctx context.Context, storeID uuid.UUID) ([]models.TenantMigration, error)
	Succeeded(ctx context.Context, storeID uuid.UUID) (map[string]bool, error)
	Record(ctx context.Context, row *models.TenantMigration) error
	SetSchemaState(ctx context.Context, storeID uuid.UUID, version *string, pending bool) error
	FlagBehind(ctx context.Context, latest string) (int64, error)
	PendingStores(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

// Report describes one ApplyPending run.
type Report struct {
	StoreID       uuid.UUID `json:"store_id"`
	Applied       []string  `json:"applied"`
	Skipped       []string  `json:"skipped"`
	Failed        string    `json:"failed,omitempty"`
	SchemaVersion string    `json:"schema_version,omitempty"`
}

// MigrationStatus is one catalog entry as seen by a tenant.
type MigrationStatus struct {
	Version     string     `json:"version"`
	Name        string     `json:"name"`
	Applied     bool       `json:"applied"`
	Attempted   bool       `json:"attempted"`
	Error       *string    `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
}

// SweepReport aggregates a sweep across tenants.
type SweepReport struct {
	Flagged   int64               `json:"flagged"`
	Attempted int                 `json:"attempted"`
	Succeeded int                 `json:"succeeded"`
	Busy      int                 `json:"busy"`
	Failed    map[uuid.UUID]error `json:"-"`
}

// Service exposes the tenant migration ledger.
type Service interface {
	ApplyPending(ctx context.Context, storeID uuid.UUID) (*Report, error)
	Status(ctx context.Context, storeID uuid.UUID) ([]MigrationStatus, error)
	Sweep(ctx context.Context) (*SweepReport, error)
	LatestVersion() string
}

// LockScope namespaces the per-store migration lease.
const LockScope = "migrations"

// ErrBusy is returned when another worker is already migrating the store.
var ErrBusy = pkgerrors.New(pkgerrors.CodeConflict, "tenant migrations already running for this store")

// Params wires the ledger service. A nil Locker serializes runs inside this
// process only.
type Params struct {
	Repo    ledgerRepository
	Tenants tenantdb.Getter
	Locker  locks.Locker
	Catalog []tenantschema.Migration
	Config  config.MigrationsConfig
	Logger  *logger.Logger
	Metrics *metrics.ProvisioningMetrics
	Now     func() time.Time
}

type service struct {
	repo    ledgerRepository
	tenants tenantdb.Getter
	locker  locks.Locker
	catalog []tenantschema.Migration
	cfg     config.MigrationsConfig
	logg    *logger.Logger
	metrics *metrics.ProvisioningMetrics
	now     func() time.Time
}

// NewService builds the ledger. A nil catalog loads the embedded tenant catalog.
func NewService(params Params) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tenants == nil {
		return nil, fmt.Errorf("tenant connection manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	catalog := params.Catalog
	if catalog == nil {
		loaded, err := tenantschema.Catalog()
		if err != nil {
			return nil, fmt.Errorf("load tenant migration catalog: %w", err)
		}
		catalog = loaded
	}
	cfg := params.Config
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 4
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	var locker locks.Locker = locks.NewMemoryLocker()
	if params.Locker != nil {
		locker = params.Locker
	}
	return &service{
		repo:    params.Repo,
		tenants: params.Tenants,
		locker:  locker,
		catalog: catalog,
		cfg:     cfg,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

func (s *service) LatestVersion() string {
	if len(s.catalog) == 0 {
		return ""
	}
	return s.catalog[len(s.catalog)-1].Version
}

// lockStore takes the per-store lease shared by every API replica and cron worker.
func (s *service) lockStore(ctx context.Context, storeID uuid.UUID) (func(), error) {
	lease, ok, err := s.locker.TryLock(ctx, LockScope, storeID.String())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire migration lock")
	}
	if !ok {
		return nil, ErrBusy
	}
	lease = locks.KeepAlive(lease, func(err error) {
		s.logg.Error(ctx, "migration lock refresh failed", err)
	})
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			s.logg.Error(ctx, "failed to release migration lock", err)
		}
	}, nil
}

// ApplyPending runs every migration the tenant has not applied successfully,
// in version order, stopping at the first failure. The ledger is read after
// the store lease is held, so a concurrent run never re-applies a success.
func (s *service) ApplyPending(ctx context.Context, storeID uuid.UUID) (*Report, error) {
	ctx = s.logg.WithStoreID(ctx, storeID.String())
	unlock, err := s.lockStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	handle, err := s.tenants.Get(ctx, storeID)
	if err != nil {
		return nil, err
	}
	done, err := s.repo.Succeeded(ctx, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load migration ledger")
	}

	report := &Report{StoreID: storeID}
	var lastApplied string
	for _, m := range s.catalog {
		if done[m.Name] {
			report.Skipped = append(report.Skipped, m.Name)
			lastApplied = m.Version
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		migCtx := s.logg.WithFields(ctx, map[string]any{
			"migration_name":    m.Name,
			"migration_version": m.Version,
		})
		runErr := s.run(migCtx, handle, m)
		if runErr != nil && ctx.Err() != nil {
			// shutdown: leave the ledger untouched so the next sweep retries
			return report, ctx.Err()
		}
		if runErr != nil {
			report.Failed = m.Name
			s.metrics.IncMigration(metrics.OutcomeFailure)
			s.logg.Error(migCtx, "tenant migration failed", runErr)
			if err := s.repo.SetSchemaState(ctx, storeID, versionPtr(lastApplied), true); err != nil {
				s.logg.Error(ctx, "failed to flag pending migration", err)
			}
			report.SchemaVersion = lastApplied
			return report, pkgerrors.Wrap(pkgerrors.CodeMigrationFailed, runErr,
				fmt.Sprintf("migration %s_%s failed", m.Version, m.Name)).
				WithDetails(map[string]any{"store_id": storeID, "migration": m.Name, "version": m.Version})
		}
		s.metrics.IncMigration(metrics.OutcomeSuccess)
		s.logg.Info(migCtx, "tenant migration applied")
		report.Applied = append(report.Applied, m.Name)
		lastApplied = m.Version
	}

	report.SchemaVersion = lastApplied
	if err := s.repo.SetSchemaState(ctx, storeID, versionPtr(lastApplied), false); err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record schema version")
	}
	return report, nil
}

// run executes one migration in a tenant transaction bounded by the migration
// timeout, then records the attempt.
func (s *service) run(ctx context.Context, handle *tenantdb.Handle, m tenantschema.Migration) error {
	started := s.now().UTC()
	txCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	runErr := db.WithTx(txCtx, handle.DB(txCtx), func(tx *gorm.DB) error {
		for i, stmt := range m.Statements {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		return nil
	})
	if runErr == nil && txCtx.Err() != nil {
		runErr = txCtx.Err()
	}
	cancel()
	if runErr != nil && ctx.Err() != nil {
		return runErr
	}
	if errors.Is(runErr, context.DeadlineExceeded) {
		runErr = fmt.Errorf("timed out after %s: %w", s.cfg.Timeout, runErr)
	}

	completed := s.now().UTC()
	row := &models.TenantMigration{
		StoreID:          handle.StoreID,
		MigrationName:    m.Name,
		MigrationVersion: m.Version,
		Success:          runErr == nil,
		StartedAt:        started,
		CompletedAt:      &completed,
		DurationMS:       completed.Sub(started).Milliseconds(),
	}
	if runErr != nil {
		msg := runErr.Error()
		row.ErrorMessage = &msg
	}
	if err := s.repo.Record(ctx, row); err != nil {
		if runErr != nil {
			return runErr
		}
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	return runErr
}

// Status merges the catalog with the tenant's ledger rows.
func (s *service) Status(ctx context.Context, storeID uuid.UUID) ([]MigrationStatus, error) {
	rows, err := s.repo.List(ctx, storeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list migration ledger")
	}
	byName := make(map[string]models.TenantMigration, len(rows))
	for _, row := range rows {
		byName[row.MigrationName] = row
	}
	out := make([]MigrationStatus, 0, len(s.catalog))
	for _, m := range s.catalog {
		st := MigrationStatus{Version: m.Version, Name: m.Name}
		if row, ok := byName[m.Name]; ok {
			st.Attempted = true
			st.Applied = row.Success
			st.Error = row.ErrorMessage
			st.CompletedAt = row.CompletedAt
			st.DurationMS = row.DurationMS
		}
		out = append(out, st)
	}
	return out, nil
}

// Sweep flags tenants behind the catalog, then migrates flagged serving stores
// with bounded concurrency. One tenant failing never stops the others.
func (s *service) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{Failed: map[uuid.UUID]error{}}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	latest := s.LatestVersion()
	if latest == "" {
		return report, nil
	}
	flagged, err := s.repo.FlagBehind(ctx, latest)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag stale tenants")
	}
	report.Flagged = flagged

	var mu sync.Mutex
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ids, err := s.repo.PendingStores(ctx, after, s.cfg.SweepBatch)
		if err != nil {
			return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending tenants")
		}
		if len(ids) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(s.cfg.SweepConcurrency)
		for _, id := range ids {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				_, err := s.ApplyPending(ctx, id)
				mu.Lock()
				defer mu.Unlock()
				if errors.Is(err, ErrBusy) {
					report.Busy++
					return nil
				}
				report.Attempted++
				if err != nil {
					report.Failed[id] = err
					return nil
				}
				report.Succeeded++
				return nil
			})
		}
		_ = g.Wait()

		after = ids[len(ids)-1]
		if len(ids) < s.cfg.SweepBatch {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func versionPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
