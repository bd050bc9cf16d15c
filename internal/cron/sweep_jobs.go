package cron

import (
	"context"
	"fmt"
	"sort"

	"github.com/angelmondragon/storegrid-backend/internal/provisioning"
	"github.com/angelmondragon/storegrid-backend/internal/tenantmigrations"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

type stalledResumer interface {
	ResumeStalled(ctx context.Context) (*provisioning.SweepReport, error)
}

type migrationSweeper interface {
	Sweep(ctx context.Context) (*tenantmigrations.SweepReport, error)
}

// combineStoreErrors folds per-store failures into one error with a stable order.
func combineStoreErrors(failed map[uuid.UUID]error) error {
	ids := make([]uuid.UUID, 0, len(failed))
	for id := range failed {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, fmt.Errorf("store %s: %w", id, failed[id]))
	}
	return errs
}

// NewProvisioningSweepJob resumes provisioning runs left behind by a crash or
// restart.
func NewProvisioningSweepJob(logg *logger.Logger, resumer stalledResumer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if resumer == nil {
		return nil, fmt.Errorf("provisioning service required")
	}
	return &provisioningSweepJob{logg: logg, resumer: resumer}, nil
}

type provisioningSweepJob struct {
	logg    *logger.Logger
	resumer stalledResumer
}

func (j *provisioningSweepJob) Name() string { return "provisioning-sweep" }

func (j *provisioningSweepJob) Run(ctx context.Context) error {
	report, err := j.resumer.ResumeStalled(ctx)
	if err != nil {
		return fmt.Errorf("provisioning sweep: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"resumed":   report.Resumed,
		"completed": report.Completed,
		"busy":      report.Busy,
		"failed":    len(report.Failed),
	}), "provisioning sweep complete")
	return combineStoreErrors(report.Failed)
}

// NewMigrationSweepJob applies pending tenant migrations across the fleet.
func NewMigrationSweepJob(logg *logger.Logger, sweeper migrationSweeper) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("migration service required")
	}
	return &migrationSweepJob{logg: logg, sweeper: sweeper}, nil
}

type migrationSweepJob struct {
	logg    *logger.Logger
	sweeper migrationSweeper
}

func (j *migrationSweepJob) Name() string { return "migration-sweep" }

func (j *migrationSweepJob) Run(ctx context.Context) error {
	report, err := j.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("migration sweep: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"flagged":   report.Flagged,
		"attempted": report.Attempted,
		"succeeded": report.Succeeded,
		"busy":      report.Busy,
		"failed":    len(report.Failed),
	}), "migration sweep complete")
	return combineStoreErrors(report.Failed)
}
