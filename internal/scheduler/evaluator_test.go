package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/alert"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo/memory"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/session"
)

type fakeStates struct{}

func (fakeStates) GetState(ctx context.Context, resourceID string, forceRefresh bool) (domain.ResourceState, error) {
	return domain.ResourceState{
		ResourceID:    resourceID,
		Status:        domain.StatusRunning,
		PublicAddress: "203.0.113.7",
		ObservedAt:    time.Now().UTC(),
	}, nil
}

type captureNotifier struct {
	mu     sync.Mutex
	titles []string
	texts  []string
	err    error
}

func (c *captureNotifier) Send(ctx context.Context, title, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.titles = append(c.titles, title)
	c.texts = append(c.texts, text)
	return nil
}

func seedLongSession(t *testing.T, store *memory.Store, resourceID string, runningFor time.Duration) {
	t.Helper()
	err := store.SaveSession(context.Background(), &domain.UptimeSession{
		ID:         "sess-" + resourceID,
		ResourceID: resourceID,
		StartTime:  time.Now().UTC().Add(-runningFor),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestEvaluator_DeliversAndMarksDelivered(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()
	store := memory.New()

	cfg := &domain.AlertConfig{Name: "4h-warning", ThresholdHours: 4, Enabled: true}
	if err := store.SaveAlertConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	seedLongSession(t, store, "i-long", 5*time.Hour)

	tracker := session.NewTracker(store, log)
	engine := alert.NewEngine(store, tracker, fakeStates{}, log)
	sink := &captureNotifier{}

	e := NewEvaluator(log, engine, store, sink, time.Minute)
	e.runOnce(ctx)

	if len(sink.titles) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sink.titles))
	}
	if !strings.Contains(sink.titles[0], "4h-warning") {
		t.Fatalf("title should name the config: %q", sink.titles[0])
	}
	if !strings.Contains(sink.texts[0], "i-long") || !strings.Contains(sink.texts[0], "203.0.113.7") {
		t.Fatalf("text missing instance or address: %q", sink.texts[0])
	}

	firings, err := store.LoadFirings(ctx, "i-long", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(firings) != 1 || !firings[0].Delivered {
		t.Fatalf("expected one delivered firing, got %+v", firings)
	}
}

func TestEvaluator_DeliveryFailureKeepsFiring(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()
	store := memory.New()

	cfg := &domain.AlertConfig{Name: "4h-warning", ThresholdHours: 4, Enabled: true}
	if err := store.SaveAlertConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	seedLongSession(t, store, "i-long", 5*time.Hour)

	tracker := session.NewTracker(store, log)
	engine := alert.NewEngine(store, tracker, fakeStates{}, log)
	sink := &captureNotifier{err: errors.New("webhook down")}

	e := NewEvaluator(log, engine, store, sink, time.Minute)
	e.runOnce(ctx)

	firings, err := store.LoadFirings(ctx, "i-long", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(firings) != 1 {
		t.Fatalf("firing must be recorded even when delivery fails, got %d", len(firings))
	}
	if firings[0].Delivered {
		t.Fatalf("failed delivery must not be marked delivered")
	}

	// The decision already happened; the next tick does not fire again
	// (reminder interval is zero).
	e.runOnce(ctx)
	firings, _ = store.LoadFirings(ctx, "i-long", 10)
	if len(firings) != 1 {
		t.Fatalf("expected no second firing, got %d", len(firings))
	}
}

func TestEvaluator_NoNotifierLeavesUndelivered(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()
	store := memory.New()

	cfg := &domain.AlertConfig{Name: "4h-warning", ThresholdHours: 4, Enabled: true}
	if err := store.SaveAlertConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	seedLongSession(t, store, "i-long", 5*time.Hour)

	tracker := session.NewTracker(store, log)
	engine := alert.NewEngine(store, tracker, fakeStates{}, log)

	e := NewEvaluator(log, engine, store, nil, time.Minute)
	e.runOnce(ctx)

	firings, err := store.LoadFirings(ctx, "i-long", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(firings) != 1 {
		t.Fatalf("firing must still be recorded, got %d", len(firings))
	}
	if firings[0].Delivered {
		t.Fatalf("nothing was sent, firing must stay undelivered")
	}
}

func TestFormatNotification_Reminder(t *testing.T) {
	title, text := FormatNotification(alert.Notification{
		Decision:       alert.DecisionReminder,
		ResourceID:     "i-1",
		ConfigName:     "nightly",
		ThresholdHours: 4,
		ReminderHours:  2,
		Uptime:         6*time.Hour + 10*time.Minute,
	})
	if !strings.Contains(title, "Reminder") {
		t.Fatalf("reminder title expected, got %q", title)
	}
	if !strings.Contains(text, "6h 10m") {
		t.Fatalf("duration not rendered: %q", text)
	}
	if !strings.Contains(text, "Reminds every: 2.0h") {
		t.Fatalf("reminder cadence missing: %q", text)
	}
}
