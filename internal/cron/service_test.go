package cron

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/angelmondragon/storegrid-backend/internal/locks"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
	"go.uber.org/multierr"
)

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	service, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry: registry,
		Lock:     lock,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return service
}

func TestRunOnceRunsAllJobsEvenOnFailure(t *testing.T) {
	locker := locks.NewMemoryLocker()
	lock, err := NewLeaseLock(locker, "cycle")
	if err != nil {
		t.Fatalf("lease lock: %v", err)
	}
	first := &testJob{name: "first", err: errors.New("boom")}
	second := &testJob{name: "second"}
	third := &testJob{name: "third", err: errors.New("bang")}
	service := newTestService(t, lock, first, second, third)

	err = service.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected combined job error")
	}
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("expected 2 combined errors, got %d", got)
	}
	for _, job := range []*testJob{first, second, third} {
		if job.runs != 1 {
			t.Fatalf("expected %s to run once, ran %d", job.name, job.runs)
		}
	}
	if locker.Held(LockScope, "cycle") {
		t.Fatal("cycle lease should be released after the run")
	}
}

func TestRunOnceSkipsWhenAnotherWorkerHoldsTheLease(t *testing.T) {
	locker := locks.NewMemoryLocker()
	held, ok, err := locker.TryLock(context.Background(), LockScope, "cycle")
	if err != nil || !ok {
		t.Fatalf("pre-acquire lease: ok=%v err=%v", ok, err)
	}
	defer held.Release(context.Background())

	lock, err := NewLeaseLock(locker, "cycle")
	if err != nil {
		t.Fatalf("lease lock: %v", err)
	}
	job := &testJob{name: "job"}
	service := newTestService(t, lock, job)

	if err := service.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("expected job to be skipped, ran %d", job.runs)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	lock, err := NewLeaseLock(locks.NewMemoryLocker(), "cycle")
	if err != nil {
		t.Fatalf("lease lock: %v", err)
	}
	job := &testJob{name: "job"}
	service := newTestService(t, lock, job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if job.runs != 0 {
		t.Fatalf("cancelled run should not start jobs, ran %d", job.runs)
	}
}

func TestNewServiceRequiresLock(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})})
	if err == nil {
		t.Fatal("expected missing lock to be rejected")
	}
}
