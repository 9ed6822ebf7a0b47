package alert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/metrics"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
)

// Decision says whether a threshold evaluation should notify.
type Decision int

const (
	DecisionNone Decision = iota
	DecisionFirstFire
	DecisionReminder
)

func (d Decision) String() string {
	switch d {
	case DecisionFirstFire:
		return "first_fire"
	case DecisionReminder:
		return "reminder"
	default:
		return "none"
	}
}

// Notification is the payload handed to the caller for delivery after a
// fire decision. The firing row is already persisted by then; a delivery
// failure never rolls it back.
type Notification struct {
	FiringID       int64
	Decision       Decision
	ResourceID     string
	ConfigName     string
	ChannelID      string
	ThresholdHours float64
	ReminderHours  float64
	Uptime         time.Duration
	PublicAddress  string
}

// UptimeSource is the slice of the session tracker the engine needs.
type UptimeSource interface {
	OpenSessions(ctx context.Context) ([]domain.UptimeSession, error)
}

// StateSource resolves a resource's address for the notification payload.
type StateSource interface {
	GetState(ctx context.Context, resourceID string, forceRefresh bool) (domain.ResourceState, error)
}

// Engine evaluates configured long-running-resource alerts. It owns all
// AlertFiring writes and reads configs and session data to decide.
type Engine struct {
	store  repo.AlertStore
	uptime UptimeSource
	states StateSource
	log    *zap.Logger
	now    func() time.Time
}

func NewEngine(store repo.AlertStore, uptime UptimeSource, states StateSource, log *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		uptime: uptime,
		states: states,
		log:    log,
		now:    time.Now,
	}
}

// ShouldFire applies the threshold and reminder rules for one (config,
// resource) pair and, on a fire decision, appends the firing row before
// returning. The firing exists at decision time, not delivery time, which
// guarantees at most one decision per reminder interval even when
// delivery is down.
func (e *Engine) ShouldFire(ctx context.Context, cfg domain.AlertConfig, resourceID string, uptime time.Duration, now time.Time) (Decision, *domain.AlertFiring, error) {
	if uptime < cfg.Threshold() {
		return DecisionNone, nil, nil
	}

	last, err := e.store.LoadLastFiring(ctx, cfg.ID, resourceID)
	if err != nil {
		return DecisionNone, nil, &domain.StoreError{Op: "load_last_firing", Err: err}
	}

	decision := DecisionNone
	switch {
	case last == nil:
		decision = DecisionFirstFire
	case cfg.ReminderIntervalHours == 0:
		// fired once, never repeats
	case now.Sub(last.FiredAt) >= cfg.ReminderInterval():
		decision = DecisionReminder
	}
	if decision == DecisionNone {
		return DecisionNone, nil, nil
	}

	firing := &domain.AlertFiring{
		AlertID:       cfg.ID,
		ResourceID:    resourceID,
		FiredAt:       now,
		UptimeSeconds: int64(uptime / time.Second),
	}
	if err := e.store.SaveAlertFiring(ctx, firing); err != nil {
		// no firing row means no decision happened; the next tick retries
		return DecisionNone, nil, &domain.StoreError{Op: "save_alert_firing", Err: err}
	}

	metrics.AlertFirings.WithLabelValues(decision.String()).Inc()
	e.log.Info("alert_fired",
		zap.String("decision", decision.String()),
		zap.Int64("alert_id", cfg.ID),
		zap.String("alert_name", cfg.Name),
		zap.String("resource_id", resourceID),
		zap.Int64("uptime_seconds", firing.UptimeSeconds),
	)
	return decision, firing, nil
}

// EvaluateAll runs every enabled config against every resource with an
// open session and returns the notifications to deliver. Store failures
// on one pair do not stop the others; they are joined into the returned
// error and retried on the next tick.
func (e *Engine) EvaluateAll(ctx context.Context, now time.Time) ([]Notification, error) {
	configs, err := e.store.LoadAlertConfigs(ctx, true)
	if err != nil {
		return nil, &domain.StoreError{Op: "load_alert_configs", Err: err}
	}
	if len(configs) == 0 {
		return nil, nil
	}

	open, err := e.uptime.OpenSessions(ctx)
	if err != nil {
		return nil, err
	}

	var out []Notification
	var errs error
	for _, s := range open {
		uptime := s.Duration(now)
		for _, cfg := range configs {
			decision, firing, err := e.ShouldFire(ctx, cfg, s.ResourceID, uptime, now)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", cfg.Name, s.ResourceID, err))
				continue
			}
			if decision == DecisionNone {
				continue
			}

			n := Notification{
				FiringID:       firing.ID,
				Decision:       decision,
				ResourceID:     s.ResourceID,
				ConfigName:     cfg.Name,
				ChannelID:      cfg.ChannelID,
				ThresholdHours: cfg.ThresholdHours,
				ReminderHours:  cfg.ReminderIntervalHours,
				Uptime:         uptime,
			}
			// address is best-effort payload decoration; a cached snapshot is fine
			if st, err := e.states.GetState(ctx, s.ResourceID, false); err == nil {
				n.PublicAddress = st.PublicAddress
			}
			out = append(out, n)
		}
	}
	return out, errs
}
