// Package provisioning drives a store from pending_database to a serving
// state, writing a checkpoint before every step so interrupted runs resume.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/storegrid-backend/internal/locks"
	"github.com/angelmondragon/storegrid-backend/internal/tenantdb"
	"github.com/angelmondragon/storegrid-backend/internal/tenantmigrations"
	"github.com/angelmondragon/storegrid-backend/internal/tenantschema"
	"github.com/angelmondragon/storegrid-backend/pkg/config"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/angelmondragon/storegrid-backend/pkg/metrics"
	"github.com/angelmondragon/storegrid-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LockScope namespaces the per-store provisioning lock.
const LockScope = "provisioning"

const (
	stepTables = "tables"
	stepSeed   = "seed"
	stepDemo   = "demo"
	stepFinish = "finalize"
)

type storeRepository interface {
	FindStore(ctx context.Context, storeID uuid.UUID) (*models.Store, error)
	HasDatabase(ctx context.Context, storeID uuid.UUID) (bool, error)
	Save(ctx context.Context, storeID uuid.UUID, expect enums.StoreStatus, cp Checkpoint) (bool, error)
	ListResumable(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type migrator interface {
	ApplyPending(ctx context.Context, storeID uuid.UUID) (*tenantmigrations.Report, error)
}

// Options tune one provisioning run.
type Options struct {
	Demo         bool   `json:"demo"`
	Currency     string `json:"currency,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// ProgressView is the polled provisioning state.
type ProgressView struct {
	StoreID                 uuid.UUID                  `json:"store_id"`
	Status                  enums.StoreStatus          `json:"status"`
	ProvisioningStatus      enums.ProvisioningStatus   `json:"provisioning_status"`
	ProvisioningProgress    types.ProvisioningProgress `json:"provisioning_progress"`
	IsActive                bool                       `json:"is_active"`
	ProvisioningStartedAt   *time.Time                 `json:"provisioning_started_at,omitempty"`
	ProvisioningCompletedAt *time.Time                 `json:"provisioning_completed_at,omitempty"`
}

// SweepReport summarizes one ResumeStalled pass.
type SweepReport struct {
	Resumed   int                 `json:"resumed"`
	Completed int                 `json:"completed"`
	Busy      int                 `json:"busy"`
	Failed    map[uuid.UUID]error `json:"-"`
}

// Service exposes the provisioning state machine.
type Service interface {
	Provision(ctx context.Context, storeID uuid.UUID, opts Options) (*ProgressView, error)
	Start(ctx context.Context, storeID uuid.UUID, opts Options) (*ProgressView, error)
	Progress(ctx context.Context, storeID uuid.UUID) (*ProgressView, error)
	Retry(ctx context.Context, storeID uuid.UUID) (*ProgressView, error)
	ResumeStalled(ctx context.Context) (*SweepReport, error)
	Wait()
}

// Params wires the provisioning service.
type Params struct {
	Repo       storeRepository
	Tenants    tenantdb.Getter
	Migrations migrator
	Locker     locks.Locker
	Config     config.ProvisioningConfig
	Logger     *logger.Logger
	Metrics    *metrics.ProvisioningMetrics
	// BaseContext parents background runs started by Start; cancel it on shutdown.
	BaseContext context.Context
	Now         func() time.Time
}

type service struct {
	repo       storeRepository
	tenants    tenantdb.Getter
	migrations migrator
	locker     locks.Locker
	cfg        config.ProvisioningConfig
	logg       *logger.Logger
	metrics    *metrics.ProvisioningMetrics
	base       context.Context
	now        func() time.Time
	running    sync.WaitGroup
}

// NewService builds the provisioning state machine.
func NewService(params Params) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	if params.Tenants == nil {
		return nil, fmt.Errorf("tenant connection manager required")
	}
	if params.Migrations == nil {
		return nil, fmt.Errorf("migration ledger required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 2 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 25
	}
	base := params.BaseContext
	if base == nil {
		base = context.Background()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:       params.Repo,
		tenants:    params.Tenants,
		migrations: params.Migrations,
		locker:     params.Locker,
		cfg:        cfg,
		logg:       params.Logger,
		metrics:    params.Metrics,
		base:       base,
		now:        now,
	}, nil
}

// Provision runs the state machine to completion in the caller's goroutine.
func (s *service) Provision(ctx context.Context, storeID uuid.UUID, opts Options) (*ProgressView, error) {
	store, err := s.loadRunnable(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if store.Status.IsServing() {
		return viewOf(store), nil
	}
	lease, err := s.acquire(ctx, storeID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)
	return s.run(ctx, storeID, opts)
}

// Start takes the per-store lock before returning, then runs in the background.
func (s *service) Start(ctx context.Context, storeID uuid.UUID, opts Options) (*ProgressView, error) {
	store, err := s.loadRunnable(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if store.Status.IsServing() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "store is already provisioned")
	}
	lease, err := s.acquire(ctx, storeID)
	if err != nil {
		return nil, err
	}

	runCtx := s.logg.WithStoreID(s.base, storeID.String())
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer s.release(runCtx, lease)
		if _, err := s.run(runCtx, storeID, opts); err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(runCtx, "background provisioning run failed", err)
		}
	}()
	return viewOf(store), nil
}

// Wait blocks until every run launched by Start has returned.
func (s *service) Wait() {
	s.running.Wait()
}

// Progress returns the persisted checkpoint.
func (s *service) Progress(ctx context.Context, storeID uuid.UUID) (*ProgressView, error) {
	store, err := s.findStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return viewOf(store), nil
}

// Retry moves a failed store back to pending_database. Nothing retries on its own.
func (s *service) Retry(ctx context.Context, storeID uuid.UUID) (*ProgressView, error) {
	store, err := s.findStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if !store.Status.CanTransition(enums.StoreStatusPendingDatabase) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot retry a store in %s", store.Status))
	}
	lease, err := s.acquire(ctx, storeID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	progress := store.ProvisioningProgress
	progress.Attempt++
	progress.Error = ""
	progress.Message = "retry requested"
	progress.UpdatedAt = s.stamp()
	inactive := false
	ok, err := s.repo.Save(ctx, storeID, enums.StoreStatusFailed, Checkpoint{
		Status:   enums.StoreStatusPendingDatabase,
		Sub:      enums.ProvisioningStatusPending,
		Progress: progress,
		IsActive: &inactive,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset failed store")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "store changed while resetting")
	}
	s.logg.Info(s.logg.WithStoreID(ctx, storeID.String()), "provisioning reset for retry")
	return s.Progress(ctx, storeID)
}

// ResumeStalled picks up runs interrupted by a shutdown or crash. Stores held
// by another runner are skipped.
func (s *service) ResumeStalled(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{Failed: map[uuid.UUID]error{}}
	ids, err := s.repo.ListResumable(ctx, s.cfg.SweepBatch)
	if err != nil {
		return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list resumable stores")
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Resumed++
		_, err := s.Provision(ctx, id, Options{})
		switch {
		case err == nil:
			report.Completed++
		case pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProvisioning):
			report.Busy++
		case errors.Is(err, context.Canceled):
			return report, err
		default:
			report.Failed[id] = err
		}
	}
	return report, nil
}

func (s *service) findStore(ctx context.Context, storeID uuid.UUID) (*models.Store, error) {
	store, err := s.repo.FindStore(ctx, storeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "store not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store")
	}
	return store, nil
}

// loadRunnable rejects stores the state machine cannot drive forward.
func (s *service) loadRunnable(ctx context.Context, storeID uuid.UUID) (*models.Store, error) {
	store, err := s.findStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	switch store.Status {
	case enums.StoreStatusFailed:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "provisioning failed; retry before starting again")
	case enums.StoreStatusSuspended, enums.StoreStatusInactive:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("store is %s", store.Status))
	case enums.StoreStatusPendingDatabase:
		attached, err := s.repo.HasDatabase(ctx, storeID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check store database")
		}
		if !attached {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "attach a database before provisioning")
		}
	}
	return store, nil
}

func (s *service) acquire(ctx context.Context, storeID uuid.UUID) (locks.Lease, error) {
	lease, ok, err := s.locker.TryLock(ctx, LockScope, storeID.String())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire provisioning lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyProvisioning, "store is already being provisioned")
	}
	leaseCtx := s.logg.WithStoreID(context.WithoutCancel(ctx), storeID.String())
	return locks.KeepAlive(lease, func(err error) {
		s.logg.Error(leaseCtx, "provisioning lock refresh failed", err)
	}), nil
}

func (s *service) release(ctx context.Context, lease locks.Lease) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := lease.Release(releaseCtx); err != nil {
		s.logg.Error(ctx, "failed to release provisioning lock", err)
	}
}

func (s *service) stamp() *time.Time {
	now := s.now().UTC()
	return &now
}

func viewOf(store *models.Store) *ProgressView {
	return &ProgressView{
		StoreID:                 store.ID,
		Status:                  store.Status,
		ProvisioningStatus:      store.ProvisioningStatus,
		ProvisioningProgress:    store.ProvisioningProgress,
		IsActive:                store.IsActive,
		ProvisioningStartedAt:   store.ProvisioningStartedAt,
		ProvisioningCompletedAt: store.ProvisioningCompletedAt,
	}
}
