package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storegrid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storegrid-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const hostingBatch = 100

// HostingReport summarizes one daily hosting run.
type HostingReport struct {
	Day          string               `json:"day"`
	Charged      int                  `json:"charged"`
	Replayed     int                  `json:"replayed"`
	Insufficient int                  `json:"insufficient"`
	Failed       map[uuid.UUID]string `json:"failed,omitempty"`
}

func hostingKey(storeID uuid.UUID, day string) string {
	return fmt.Sprintf("daily_hosting:%s:%s", storeID, day)
}

// ChargeDailyHosting bills every active store's owner for the UTC day. Running
// it twice for the same day charges nothing new.
func (s *service) ChargeDailyHosting(ctx context.Context, day time.Time) (*HostingReport, error) {
	stamp := day.UTC().Format(time.DateOnly)
	report := &HostingReport{Day: stamp, Failed: map[uuid.UUID]string{}}
	refType := enums.CreditReferenceStore

	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		batch, err := s.repo.ListBillableStores(ctx, after, hostingBatch)
		if err != nil {
			return report, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list billable stores")
		}
		for _, row := range batch {
			storeID := row.StoreID
			key := hostingKey(storeID, stamp)
			ref := storeID.String()
			result, err := s.charge(ctx, ChargeInput{
				UserID:         row.UserID,
				StoreID:        &storeID,
				UsageType:      s.cfg.DailyHostingKey,
				ReferenceID:    &ref,
				ReferenceType:  &refType,
				Quantity:       decimal.NewFromInt(1),
				IdempotencyKey: &key,
				Metadata:       map[string]any{"day": stamp},
			})
			switch {
			case err == nil && result.Replayed:
				report.Replayed++
			case err == nil:
				report.Charged++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientCredits):
				report.Insufficient++
			default:
				report.Failed[storeID] = err.Error()
				s.logg.Error(s.logg.WithStoreID(ctx, storeID.String()), "daily hosting charge failed", err)
			}
		}
		if len(batch) < hostingBatch {
			break
		}
		after = batch[len(batch)-1].StoreID
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"day":          stamp,
		"charged":      report.Charged,
		"replayed":     report.Replayed,
		"insufficient": report.Insufficient,
		"failed":       len(report.Failed),
	}), "daily hosting run finished")
	return report, nil
}
