package provisioning

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storegrid-backend/internal/tenantschema"
	"github.com/angelmondragon/storegrid-backend/pkg/db"
	"github.com/angelmondragon/storegrid-backend/pkg/db/models"
	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/angelmondragon/storegrid-backend/pkg/metrics"
	"github.com/angelmondragon/storegrid-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type step struct {
	name    string
	message string
	running enums.ProvisioningStatus
	// done is empty for the last optional step; finalize moves it to completed.
	done enums.ProvisioningStatus
	fn   func(ctx context.Context, store *models.Store, opts Options) error
}

func (s *service) plan(demo bool) []step {
	steps := []step{
		{
			name:    stepTables,
			message: "creating tables",
			running: enums.ProvisioningStatusTablesCreating,
			done:    enums.ProvisioningStatusTablesCompleted,
			fn:      s.createTables,
		},
		{
			name:    stepSeed,
			message: "seeding store settings",
			running: enums.ProvisioningStatusSeedRunning,
			done:    enums.ProvisioningStatusSeedCompleted,
			fn:      s.seed,
		},
	}
	if demo {
		steps = append(steps, step{
			name:    stepDemo,
			message: "loading demo catalog",
			running: enums.ProvisioningStatusDemoRunning,
			fn:      s.loadDemo,
		})
	}
	return steps
}

// resumeIndex maps the persisted sub-state onto the first step still to run.
func resumeIndex(sub enums.ProvisioningStatus, steps []step) int {
	switch sub {
	case enums.ProvisioningStatusTablesCompleted, enums.ProvisioningStatusSeedRunning:
		return 1
	case enums.ProvisioningStatusSeedCompleted, enums.ProvisioningStatusDemoRunning:
		return min(2, len(steps))
	case enums.ProvisioningStatusCompleted:
		return len(steps)
	default:
		return 0
	}
}

// run must be called with the store lock held.
func (s *service) run(ctx context.Context, storeID uuid.UUID, opts Options) (*ProgressView, error) {
	ctx = s.logg.WithStoreID(ctx, storeID.String())
	store, err := s.loadRunnable(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if store.Status.IsServing() {
		return viewOf(store), nil
	}

	demo := opts.Demo || store.ProvisioningProgress.Demo
	steps := s.plan(demo)
	total := len(steps) + 1
	attempt := store.ProvisioningProgress.Attempt
	if attempt == 0 {
		attempt = 1
	}
	progressAt := func(name string, current int, message string) types.ProvisioningProgress {
		return types.ProvisioningProgress{
			Step:      name,
			Current:   current,
			Total:     total,
			Message:   message,
			Attempt:   attempt,
			Demo:      demo,
			UpdatedAt: s.stamp(),
		}
	}

	if store.Status == enums.StoreStatusPendingDatabase {
		if err := s.save(ctx, store, store.Status, Checkpoint{
			Status:    enums.StoreStatusProvisioning,
			Sub:       enums.ProvisioningStatusPending,
			Progress:  progressAt(steps[0].name, 0, "provisioning started"),
			StartedAt: s.stamp(),
		}); err != nil {
			return nil, err
		}
		s.logg.Info(ctx, "provisioning started")
	}

	for i := resumeIndex(store.ProvisioningStatus, steps); i < len(steps); i++ {
		st := steps[i]
		if store.ProvisioningStatus != st.running && !store.ProvisioningStatus.CanTransition(st.running) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot move provisioning from %s to %s", store.ProvisioningStatus, st.running))
		}

		progress := progressAt(st.name, i+1, st.message)
		if err := s.save(ctx, store, store.Status, Checkpoint{
			Status:   enums.StoreStatusProvisioning,
			Sub:      st.running,
			Progress: progress,
		}); err != nil {
			return nil, err
		}

		stepCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
		began := s.now()
		err := st.fn(stepCtx, store, opts)
		cancel()
		s.metrics.ObserveStep(st.name, s.now().Sub(began))
		if err != nil {
			return nil, s.fail(ctx, store, progress, st.name, err)
		}

		if st.done != "" {
			if err := s.save(ctx, store, store.Status, Checkpoint{
				Status:   enums.StoreStatusProvisioning,
				Sub:      st.done,
				Progress: progressAt(st.name, i+1, st.name+" completed"),
			}); err != nil {
				return nil, err
			}
		}
		s.logg.Info(s.logg.WithField(ctx, "step", st.name), "provisioning step completed")
	}

	return s.finish(ctx, store, demo, progressAt(stepFinish, total, "store is live"))
}

func (s *service) finish(ctx context.Context, store *models.Store, demo bool, progress types.ProvisioningProgress) (*ProgressView, error) {
	if store.ProvisioningStatus != enums.ProvisioningStatusCompleted &&
		!store.ProvisioningStatus.CanTransition(enums.ProvisioningStatusCompleted) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot complete provisioning from %s", store.ProvisioningStatus))
	}

	if store.Status == enums.StoreStatusProvisioning {
		if err := s.save(ctx, store, store.Status, Checkpoint{
			Status:   enums.StoreStatusProvisioned,
			Sub:      enums.ProvisioningStatusCompleted,
			Progress: progress,
		}); err != nil {
			return nil, err
		}
	}

	final := enums.StoreStatusActive
	if demo {
		final = enums.StoreStatusDemo
	}
	active := true
	if err := s.save(ctx, store, store.Status, Checkpoint{
		Status:      final,
		Sub:         enums.ProvisioningStatusCompleted,
		Progress:    progress,
		IsActive:    &active,
		CompletedAt: s.stamp(),
	}); err != nil {
		return nil, err
	}
	s.metrics.IncRun(metrics.OutcomeSuccess)
	s.logg.Info(s.logg.WithField(ctx, "status", string(final)), "provisioning completed")
	return s.Progress(ctx, store.ID)
}

// fail records the failed step unless the run was cancelled, in which case the
// last checkpoint is left for the next run to resume from.
func (s *service) fail(ctx context.Context, store *models.Store, progress types.ProvisioningProgress, name string, cause error) error {
	if err := ctx.Err(); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "step", name), "provisioning interrupted; checkpoint kept")
		return err
	}

	progress.Error = cause.Error()
	progress.Message = name + " failed"
	progress.UpdatedAt = s.stamp()
	inactive := false
	if err := s.save(context.WithoutCancel(ctx), store, store.Status, Checkpoint{
		Status:   enums.StoreStatusFailed,
		Sub:      enums.ProvisioningStatusFailed,
		Progress: progress,
		IsActive: &inactive,
	}); err != nil {
		s.logg.Error(ctx, "failed to record provisioning failure", err)
	}
	s.metrics.IncRun(metrics.OutcomeFailure)
	s.logg.Error(s.logg.WithField(ctx, "step", name), "provisioning failed", cause)

	code := pkgerrors.CodeInternal
	if typed := pkgerrors.As(cause); typed != nil {
		code = typed.Code()
	}
	return pkgerrors.Wrap(code, cause, fmt.Sprintf("provisioning step %s failed", name))
}

// save writes cp guarded on the store's current status and mirrors it onto store.
func (s *service) save(ctx context.Context, store *models.Store, expect enums.StoreStatus, cp Checkpoint) error {
	if cp.Status != expect && !expect.CanTransition(cp.Status) {
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move store from %s to %s", expect, cp.Status))
	}
	ok, err := s.repo.Save(ctx, store.ID, expect, cp)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save provisioning checkpoint")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "store status changed during provisioning")
	}
	store.Status = cp.Status
	store.ProvisioningStatus = cp.Sub
	store.ProvisioningProgress = cp.Progress
	if cp.IsActive != nil {
		store.IsActive = *cp.IsActive
	}
	return nil
}

func (s *service) createTables(ctx context.Context, store *models.Store, _ Options) error {
	handle, err := s.tenants.Get(ctx, store.ID)
	if err != nil {
		return err
	}
	if err := db.WithTx(ctx, handle.DB(ctx), func(tx *gorm.DB) error {
		return tenantschema.ApplyBaseline(ctx, tx)
	}); err != nil {
		return fmt.Errorf("apply baseline: %w", err)
	}
	_, err = s.migrations.ApplyPending(ctx, store.ID)
	return err
}

func (s *service) seed(ctx context.Context, store *models.Store, opts Options) error {
	handle, err := s.tenants.Get(ctx, store.ID)
	if err != nil {
		return err
	}
	input := tenantschema.SeedInput{
		StoreName:    store.Name,
		Slug:         store.Slug,
		Currency:     opts.Currency,
		LanguageCode: opts.LanguageCode,
	}
	if store.Country != nil {
		input.Country = *store.Country
	}
	if store.ThemePreset != nil {
		input.ThemePreset = *store.ThemePreset
	}
	return db.WithTx(ctx, handle.DB(ctx), func(tx *gorm.DB) error {
		return tenantschema.Seed(ctx, tx, input)
	})
}

func (s *service) loadDemo(ctx context.Context, store *models.Store, _ Options) error {
	handle, err := s.tenants.Get(ctx, store.ID)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, handle.DB(ctx), func(tx *gorm.DB) error {
		return tenantschema.ApplyDemo(ctx, tx)
	})
}
