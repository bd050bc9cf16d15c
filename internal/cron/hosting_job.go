package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storegrid-backend/internal/credits"
	"github.com/angelmondragon/storegrid-backend/pkg/logger"
)

type hostingCharger interface {
	ChargeDailyHosting(ctx context.Context, day time.Time) (*credits.HostingReport, error)
}

// NewDailyHostingJob bills the hosting fee for the current UTC day. The ledger
// key makes every cycle after the first one a no-op for that day.
func NewDailyHostingJob(logg *logger.Logger, charger hostingCharger) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if charger == nil {
		return nil, fmt.Errorf("credit service required")
	}
	return &dailyHostingJob{logg: logg, charger: charger, now: time.Now}, nil
}

type dailyHostingJob struct {
	logg    *logger.Logger
	charger hostingCharger
	now     func() time.Time
}

func (j *dailyHostingJob) Name() string { return "daily-hosting" }

func (j *dailyHostingJob) Run(ctx context.Context) error {
	report, err := j.charger.ChargeDailyHosting(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("daily hosting: %w", err)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("daily hosting: %d stores failed to bill", len(report.Failed))
	}
	return nil
}
