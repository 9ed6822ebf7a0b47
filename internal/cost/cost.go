// Package cost derives rough spend figures from recorded uptime.
// Rates are on-demand us-east-1 hourly prices; good enough for a
// "how much is this costing me" embed, not for billing.
package cost

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
)

var hourlyRates = map[string]float64{
	"t2.micro":   0.0116,
	"t2.small":   0.023,
	"t2.medium":  0.0464,
	"t3.micro":   0.0104,
	"t3.small":   0.0208,
	"t3.medium":  0.0416,
	"t3a.micro":  0.0094,
	"t3a.small":  0.0188,
	"t3a.medium": 0.0376,
	"t4g.micro":  0.0084,
	"t4g.small":  0.0168,
	"t4g.medium": 0.0336,
}

// HourlyRate reports the known rate for an instance class.
// Unknown classes get 0 so estimates degrade to "unknown" instead of guessing.
func HourlyRate(instanceClass string) (float64, bool) {
	r, ok := hourlyRates[instanceClass]
	return r, ok
}

func Estimate(instanceClass string, uptime time.Duration) float64 {
	rate, _ := HourlyRate(instanceClass)
	return rate * uptime.Hours()
}

func FormatUSD(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

// UptimeSource is the slice of the session tracker the reporter needs.
type UptimeSource interface {
	DailyUptime(ctx context.Context, resourceID string, date time.Time) (time.Duration, error)
}

// Reporter turns session history into persisted daily cost estimates.
type Reporter struct {
	costs repo.CostStore
	meta  repo.MetadataStore
	up    UptimeSource
	log   *zap.Logger
}

func NewReporter(costs repo.CostStore, meta repo.MetadataStore, up UptimeSource, log *zap.Logger) *Reporter {
	return &Reporter{costs: costs, meta: meta, up: up, log: log}
}

// RecordDaily computes and stores the estimate for one resource on one UTC day.
func (r *Reporter) RecordDaily(ctx context.Context, resourceID string, date time.Time) (*domain.CostEstimate, error) {
	uptime, err := r.up.DailyUptime(ctx, resourceID, date)
	if err != nil {
		return nil, fmt.Errorf("daily uptime for %s: %w", resourceID, err)
	}

	m, err := r.meta.GetMetadata(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("metadata for %s: %w", resourceID, err)
	}
	var class, region string
	if m != nil {
		class = m.InstanceClass
		region = m.Region
	}

	est := &domain.CostEstimate{
		ResourceID:    resourceID,
		Date:          date.UTC().Format("2006-01-02"),
		EstimatedUSD:  Estimate(class, uptime),
		InstanceClass: class,
		Region:        region,
		CreatedAt:     time.Now().UTC(),
	}
	if err := r.costs.RecordCostEstimate(ctx, est); err != nil {
		return nil, fmt.Errorf("record estimate: %w", err)
	}
	r.log.Debug("cost_estimate_recorded",
		zap.String("resource_id", resourceID),
		zap.String("date", est.Date),
		zap.Float64("usd", est.EstimatedUSD))
	return est, nil
}

// MonthTotal sums stored estimates for a calendar month.
func (r *Reporter) MonthTotal(ctx context.Context, year int, month time.Month) (float64, []domain.CostEstimate, error) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	rows, err := r.costs.CostsBetween(ctx, from.Format("2006-01-02"), to.Format("2006-01-02"))
	if err != nil {
		return 0, nil, fmt.Errorf("costs between: %w", err)
	}
	var total float64
	for _, row := range rows {
		total += row.EstimatedUSD
	}
	return total, rows, nil
}
