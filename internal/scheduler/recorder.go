package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/cost"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
)

// Recorder persists one cost estimate per known resource per UTC day.
// It ticks often but writes only after a day rollover, pricing the day
// that just ended. Estimates are upserts, so a restart that replays a
// day overwrites instead of duplicating.
type Recorder struct {
	Logger   *zap.Logger
	Reporter *cost.Reporter
	Metadata repo.MetadataStore
	Interval time.Duration

	now      func() time.Time
	lastDate string
}

func NewRecorder(logger *zap.Logger, reporter *cost.Reporter, meta repo.MetadataStore, interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Recorder{
		Logger:   logger,
		Reporter: reporter,
		Metadata: meta,
		Interval: interval,
		now:      time.Now,
	}
}

func (r *Recorder) Run(ctx context.Context) {
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	r.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("recorder_stopped")
			return
		case <-t.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Recorder) runOnce(ctx context.Context) {
	today := r.now().UTC().Format("2006-01-02")
	if today == r.lastDate {
		return
	}
	day := r.now().UTC().AddDate(0, 0, -1)

	metas, err := r.Metadata.ListMetadata(ctx)
	if err != nil {
		r.Logger.Warn("recorder_list_error", zap.Error(err))
		return
	}

	failed := false
	for _, m := range metas {
		est, err := r.Reporter.RecordDaily(ctx, m.ResourceID, day)
		if err != nil {
			failed = true
			r.Logger.Warn("recorder_estimate_error",
				zap.String("resource_id", m.ResourceID),
				zap.Error(err),
			)
			continue
		}
		r.Logger.Debug("recorder_estimate_saved",
			zap.String("resource_id", m.ResourceID),
			zap.String("date", est.Date),
			zap.Float64("usd", est.EstimatedUSD),
		)
	}
	// A failed resource leaves the date unset so the next tick retries
	// the whole day; successful rows are simply overwritten.
	if !failed {
		r.lastDate = today
	}
}
