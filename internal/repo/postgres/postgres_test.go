package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
)

func TestPostgresStore_SessionLifecycle(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	store, err := New(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("New store: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	// Unique resource per run so reruns against the same DB stay isolated.
	resourceID := fmt.Sprintf("i-test%d", time.Now().UTC().UnixNano())
	start := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)

	sess := &domain.UptimeSession{
		ID:         fmt.Sprintf("sess-%d", time.Now().UTC().UnixNano()),
		ResourceID: resourceID,
		StartTime:  start,
	}
	if err := store.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	open, err := store.OpenSession(ctx, resourceID)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if open == nil || open.ID != sess.ID {
		t.Fatalf("expected open session %s, got %+v", sess.ID, open)
	}
	if !open.StartTime.Equal(start) {
		t.Fatalf("start time changed on round trip: want %v got %v", start, open.StartTime)
	}

	dup := &domain.UptimeSession{
		ID:         fmt.Sprintf("dup-%d", time.Now().UTC().UnixNano()),
		ResourceID: resourceID,
		StartTime:  start.Add(time.Minute),
	}
	err = store.SaveSession(ctx, dup)
	var conflict *domain.StateConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflict for a second open row, got %v", err)
	}

	stop := start.Add(90 * time.Minute)
	if err := store.CloseSession(ctx, sess.ID, stop, true); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if err := store.CloseSession(ctx, sess.ID, stop, false); err == nil {
		t.Fatalf("expected error closing an already closed session")
	}

	open, err = store.OpenSession(ctx, resourceID)
	if err != nil {
		t.Fatalf("OpenSession after close: %v", err)
	}
	if open != nil {
		t.Fatalf("expected no open session, got %+v", open)
	}

	overlapping, err := store.SessionsOverlapping(ctx, resourceID, start.Add(-time.Hour), stop.Add(time.Hour))
	if err != nil {
		t.Fatalf("SessionsOverlapping: %v", err)
	}
	if len(overlapping) != 1 {
		t.Fatalf("expected 1 overlapping session, got %d", len(overlapping))
	}
	if !overlapping[0].Recovered {
		t.Fatalf("expected recovered flag to persist")
	}
}

func TestPostgresStore_AlertConfigAndFirings(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx := context.Background()
	store, err := New(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("New store: %v", err)
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	cfg := &domain.AlertConfig{
		Name:                  fmt.Sprintf("itest-%d", time.Now().UTC().UnixNano()),
		ThresholdHours:        4,
		ReminderIntervalHours: 2,
		Enabled:               true,
	}
	if err := store.SaveAlertConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveAlertConfig: %v", err)
	}
	if cfg.ID == 0 {
		t.Fatalf("expected config ID to be assigned")
	}
	defer store.DeleteAlertConfig(ctx, cfg.ID)

	resourceID := fmt.Sprintf("i-fire%d", time.Now().UTC().UnixNano())

	last, err := store.LoadLastFiring(ctx, cfg.ID, resourceID)
	if err != nil {
		t.Fatalf("LoadLastFiring: %v", err)
	}
	if last != nil {
		t.Fatalf("expected no firing yet, got %+v", last)
	}

	firing := &domain.AlertFiring{
		AlertID:       cfg.ID,
		ResourceID:    resourceID,
		FiredAt:       time.Now().UTC().Truncate(time.Second),
		UptimeSeconds: 4 * 3600,
	}
	if err := store.SaveAlertFiring(ctx, firing); err != nil {
		t.Fatalf("SaveAlertFiring: %v", err)
	}
	if err := store.MarkFiringDelivered(ctx, firing.ID, true); err != nil {
		t.Fatalf("MarkFiringDelivered: %v", err)
	}

	last, err = store.LoadLastFiring(ctx, cfg.ID, resourceID)
	if err != nil {
		t.Fatalf("LoadLastFiring: %v", err)
	}
	if last == nil || last.ID != firing.ID {
		t.Fatalf("expected firing %d, got %+v", firing.ID, last)
	}
	if !last.Delivered {
		t.Fatalf("expected delivered=true after mark")
	}
}
