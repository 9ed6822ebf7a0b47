package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/cache"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/gateway"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/metrics"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/session"
)

// Poller drives the uptime tracker: every tick it lists the managed
// resources, fetches a fresh state for each, and feeds the observations
// to the session tracker. Metadata for running resources is kept current
// so cost estimates have an instance class to price.
type Poller struct {
	Logger   *zap.Logger
	Gateway  *gateway.Gateway
	Tracker  *session.Tracker
	Metadata repo.MetadataStore
	Region   string
	Interval time.Duration
}

func NewPoller(
	logger *zap.Logger,
	gw *gateway.Gateway,
	tracker *session.Tracker,
	meta repo.MetadataStore,
	region string,
	interval time.Duration,
) *Poller {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Poller{
		Logger:   logger,
		Gateway:  gw,
		Tracker:  tracker,
		Metadata: meta,
		Region:   region,
		Interval: interval,
	}
}

// Run starts the loop. It does an immediate pass, then runs each tick.
// Stops when ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	t := time.NewTicker(p.Interval)
	defer t.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.Logger.Info("poller_stopped")
			return
		case <-t.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.PollDuration.Observe(time.Since(started).Seconds())
	}()

	ids, err := p.Gateway.ListResources(ctx, true)
	if err != nil {
		p.Logger.Warn("poller_list_error", zap.Error(err))
		return
	}

	for _, id := range ids {
		state, err := p.Gateway.GetState(ctx, id, true)
		if err != nil {
			p.Logger.Warn("poller_describe_error",
				zap.String("resource_id", id),
				zap.Error(err),
			)
			continue
		}

		if err := p.Tracker.Reconcile(ctx, id, state); err != nil {
			p.Logger.Warn("poller_reconcile_error",
				zap.String("resource_id", id),
				zap.Error(err),
			)
			continue
		}

		if state.Status == domain.StatusRunning {
			meta := &domain.ResourceMetadata{
				ResourceID:    id,
				InstanceClass: state.InstanceClass,
				Region:        p.Region,
				LaunchTime:    state.LaunchTime,
				Tags:          state.Metadata,
				UpdatedAt:     state.ObservedAt,
			}
			if err := p.Metadata.SaveMetadata(ctx, meta); err != nil {
				p.Logger.Warn("poller_metadata_error",
					zap.String("resource_id", id),
					zap.Error(err),
				)
			}
		}

		p.Logger.Debug("poller_observed",
			zap.String("resource_id", id),
			zap.String("status", string(state.Status)),
		)
	}

	open, err := p.Tracker.OpenSessions(ctx)
	if err == nil {
		metrics.OpenSessions.Set(float64(len(open)))
	}
}

// Sweeper evicts expired cache entries in the background so stale keys
// do not pile up between reads. It also refreshes the cache gauges.
type Sweeper struct {
	Logger   *zap.Logger
	Cache    *cache.Cache
	Interval time.Duration
}

func NewSweeper(logger *zap.Logger, c *cache.Cache, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{Logger: logger, Cache: c, Interval: interval}
}

func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("sweeper_stopped")
			return
		case <-t.C:
			removed := s.Cache.Sweep(time.Now())
			stats := s.Cache.Stats()
			metrics.CacheHits.Set(float64(stats.Hits))
			metrics.CacheMisses.Set(float64(stats.Misses))
			metrics.CacheEntries.Set(float64(stats.Entries))
			if removed > 0 {
				s.Logger.Debug("sweeper_evicted", zap.Int("removed", removed))
			}
		}
	}
}
