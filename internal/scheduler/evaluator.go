package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/alert"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/notify"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
)

// Evaluator periodically asks the alert engine for due notifications and
// pushes them out. A failed delivery is logged and left undelivered in
// history; the firing itself is already recorded by the engine.
type Evaluator struct {
	Logger *zap.Logger
	Engine *alert.Engine
	Alerts repo.AlertStore

	// Notifier is nil when no delivery channel is configured; firings are
	// then left undelivered instead of being marked sent.
	Notifier notify.Notifier
	Interval time.Duration
}

func NewEvaluator(
	logger *zap.Logger,
	engine *alert.Engine,
	alerts repo.AlertStore,
	notifier notify.Notifier,
	interval time.Duration,
) *Evaluator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Evaluator{
		Logger:   logger,
		Engine:   engine,
		Alerts:   alerts,
		Notifier: notifier,
		Interval: interval,
	}
}

func (e *Evaluator) Run(ctx context.Context) {
	t := time.NewTicker(e.Interval)
	defer t.Stop()

	e.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			e.Logger.Info("evaluator_stopped")
			return
		case <-t.C:
			e.runOnce(ctx)
		}
	}
}

func (e *Evaluator) runOnce(ctx context.Context) {
	notifications, err := e.Engine.EvaluateAll(ctx, time.Now().UTC())
	if err != nil {
		e.Logger.Warn("evaluator_evaluate_error", zap.Error(err))
		// EvaluateAll returns whatever it decided before failing; deliver those.
	}

	if e.Notifier == nil {
		// No channel configured. Firings stay recorded and undelivered
		// so history shows what was never sent.
		if len(notifications) > 0 {
			e.Logger.Warn("evaluator_no_notifier",
				zap.Int("undelivered", len(notifications)))
		}
		return
	}

	for _, n := range notifications {
		title, text := FormatNotification(n)
		if err := e.Notifier.Send(ctx, title, text); err != nil {
			e.Logger.Warn("evaluator_send_error",
				zap.String("resource_id", n.ResourceID),
				zap.String("config", n.ConfigName),
				zap.Error(err),
			)
			continue
		}
		if err := e.Alerts.MarkFiringDelivered(ctx, n.FiringID, true); err != nil {
			e.Logger.Warn("evaluator_mark_delivered_error",
				zap.Int64("firing_id", n.FiringID),
				zap.Error(err),
			)
		}
		e.Logger.Info("evaluator_notified",
			zap.String("resource_id", n.ResourceID),
			zap.String("config", n.ConfigName),
			zap.String("decision", n.Decision.String()),
		)
	}
}

// FormatNotification renders the outbound message for one firing.
func FormatNotification(n alert.Notification) (title, text string) {
	title = fmt.Sprintf("⏰ Uptime Alert: %s", n.ConfigName)
	if n.Decision == alert.DecisionReminder {
		title = fmt.Sprintf("🔁 Uptime Reminder: %s", n.ConfigName)
	}

	text = fmt.Sprintf(
		"Instance: %s\nRunning for: %s\nThreshold: %.1fh",
		n.ResourceID, formatDuration(n.Uptime), n.ThresholdHours,
	)
	if n.ReminderHours > 0 {
		text += fmt.Sprintf("\nReminds every: %.1fh", n.ReminderHours)
	}
	if n.PublicAddress != "" {
		text += fmt.Sprintf("\nAddress: %s", n.PublicAddress)
	}
	return title, text
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
