package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storegrid-backend/internal/tenantdb"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
)

type healthChecker interface {
	CheckHealth(ctx context.Context) []tenantdb.HealthResult
}

// NewConnectionHealthJob pings pooled tenant handles. Unhealthy handles are
// marked stale by the manager; the job only reports.
func NewConnectionHealthJob(logg *logger.Logger, checker healthChecker) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if checker == nil {
		return nil, fmt.Errorf("connection manager required")
	}
	return &connectionHealthJob{logg: logg, checker: checker}, nil
}

type connectionHealthJob struct {
	logg    *logger.Logger
	checker healthChecker
}

func (j *connectionHealthJob) Name() string { return "connection-health" }

func (j *connectionHealthJob) Run(ctx context.Context) error {
	results := j.checker.CheckHealth(ctx)
	unhealthy := 0
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		unhealthy++
		j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
			"store_id": res.StoreID.String(),
			"error":    res.Err.Error(),
		}), "tenant connection unhealthy")
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"checked":   len(results),
		"unhealthy": unhealthy,
	}), "connection health check complete")
	return ctx.Err()
}
