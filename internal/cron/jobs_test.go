package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/storegrid-backend/internal/credits"
	"github.com/angelmondragon/storegrid-backend/internal/provisioning"
	"github.com/angelmondragon/storegrid-backend/internal/tenantdb"
	"github.com/angelmondragon/storegrid-backend/internal/tenantmigrations"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

type stubResumer struct {
	report *provisioning.SweepReport
	err    error
	calls  int
}

func (s *stubResumer) ResumeStalled(context.Context) (*provisioning.SweepReport, error) {
	s.calls++
	return s.report, s.err
}

type stubSweeper struct {
	report *tenantmigrations.SweepReport
	err    error
}

func (s *stubSweeper) Sweep(context.Context) (*tenantmigrations.SweepReport, error) {
	return s.report, s.err
}

type stubChecker struct {
	results []tenantdb.HealthResult
}

func (s *stubChecker) CheckHealth(context.Context) []tenantdb.HealthResult {
	return s.results
}

type stubCharger struct {
	day    time.Time
	report *credits.HostingReport
	err    error
}

func (s *stubCharger) ChargeDailyHosting(_ context.Context, day time.Time) (*credits.HostingReport, error) {
	s.day = day
	return s.report, s.err
}

func TestProvisioningSweepJobCombinesStoreFailures(t *testing.T) {
	resumer := &stubResumer{report: &provisioning.SweepReport{
		Resumed: 3,
		Failed: map[uuid.UUID]error{
			uuid.New(): errors.New("tenant unreachable"),
			uuid.New(): errors.New("seed failed"),
		},
	}}
	job, err := NewProvisioningSweepJob(testLogger(), resumer)
	if err != nil {
		t.Fatalf("NewProvisioningSweepJob: %v", err)
	}
	err = job.Run(context.Background())
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 store failures, got %d (%v)", got, err)
	}

	resumer.report = &provisioning.SweepReport{Resumed: 1, Failed: map[uuid.UUID]error{}}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("clean sweep should succeed: %v", err)
	}

	resumer.err = errors.New("registry down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected listing failure to propagate")
	}
}

func TestMigrationSweepJob(t *testing.T) {
	broken := uuid.New()
	sweeper := &stubSweeper{report: &tenantmigrations.SweepReport{
		Flagged:   2,
		Attempted: 2,
		Succeeded: 1,
		Failed:    map[uuid.UUID]error{broken: errors.New("0003 failed")},
	}}
	job, err := NewMigrationSweepJob(testLogger(), sweeper)
	if err != nil {
		t.Fatalf("NewMigrationSweepJob: %v", err)
	}
	err = job.Run(context.Background())
	if err == nil {
		t.Fatal("expected failure for the broken tenant")
	}
	if got := err.Error(); got != "store "+broken.String()+": 0003 failed" {
		t.Fatalf("unexpected error text %q", got)
	}
}

func TestConnectionHealthJobReportsWithoutFailing(t *testing.T) {
	checker := &stubChecker{results: []tenantdb.HealthResult{
		{StoreID: uuid.New()},
		{StoreID: uuid.New(), Err: errors.New("connection reset")},
	}}
	job, err := NewConnectionHealthJob(testLogger(), checker)
	if err != nil {
		t.Fatalf("NewConnectionHealthJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestDailyHostingJobBillsCurrentUTCDay(t *testing.T) {
	charger := &stubCharger{report: &credits.HostingReport{Charged: 4, Insufficient: 1}}
	jobIface, err := NewDailyHostingJob(testLogger(), charger)
	if err != nil {
		t.Fatalf("NewDailyHostingJob: %v", err)
	}
	job := jobIface.(*dailyHostingJob)
	local := time.FixedZone("UTC-6", -6*60*60)
	job.now = func() time.Time { return time.Date(2026, 10, 14, 20, 0, 0, 0, local) }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC); !charger.day.Equal(want) || charger.day.Location() != time.UTC {
		t.Fatalf("expected UTC day %s, got %s", want, charger.day)
	}

	charger.report = &credits.HostingReport{Failed: map[uuid.UUID]string{uuid.New(): "boom"}}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected billing failures to fail the job")
	}
}
