package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
)

func TestSessions_OpenCloseAndOverlap(t *testing.T) {
	ctx := context.Background()
	m := New()
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	sess := &domain.UptimeSession{ID: "s1", ResourceID: "i-1", StartTime: start}
	if err := m.SaveSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	open, err := m.OpenSession(ctx, "i-1")
	if err != nil || open == nil || open.ID != "s1" {
		t.Fatalf("OpenSession: %v %+v", err, open)
	}

	// Mutating the returned copy must not touch the stored row.
	open.ResourceID = "i-other"
	again, _ := m.OpenSession(ctx, "i-1")
	if again == nil {
		t.Fatalf("stored session mutated through returned copy")
	}

	if err := m.CloseSession(ctx, "s1", start.Add(2*time.Hour), false); err != nil {
		t.Fatal(err)
	}
	if err := m.CloseSession(ctx, "s1", start.Add(3*time.Hour), false); err == nil {
		t.Fatalf("closing twice should fail")
	}

	// Window entirely before the session.
	rows, _ := m.SessionsOverlapping(ctx, "i-1", start.Add(-2*time.Hour), start.Add(-time.Hour))
	if len(rows) != 0 {
		t.Fatalf("expected no overlap before start, got %d", len(rows))
	}
	// Window straddling the session.
	rows, _ = m.SessionsOverlapping(ctx, "i-1", start.Add(time.Hour), start.Add(4*time.Hour))
	if len(rows) != 1 {
		t.Fatalf("expected 1 overlap, got %d", len(rows))
	}
}

func TestAlertConfigs_EnabledFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	m := New()

	for _, c := range []*domain.AlertConfig{
		{Name: "late", ThresholdHours: 8, Enabled: true},
		{Name: "early", ThresholdHours: 2, Enabled: true},
		{Name: "off", ThresholdHours: 4, Enabled: false},
	} {
		if err := m.SaveAlertConfig(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := m.LoadAlertConfigs(ctx, false)
	if len(all) != 3 {
		t.Fatalf("expected 3 configs, got %d", len(all))
	}
	enabled, _ := m.LoadAlertConfigs(ctx, true)
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled configs, got %d", len(enabled))
	}
	if enabled[0].Name != "early" || enabled[1].Name != "late" {
		t.Fatalf("configs not ordered by threshold: %+v", enabled)
	}
}

func TestFirings_LastAndHistory(t *testing.T) {
	ctx := context.Background()
	m := New()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		f := &domain.AlertFiring{
			AlertID:    1,
			ResourceID: "i-1",
			FiredAt:    base.Add(time.Duration(i) * time.Hour),
		}
		if err := m.SaveAlertFiring(ctx, f); err != nil {
			t.Fatal(err)
		}
	}

	last, err := m.LoadLastFiring(ctx, 1, "i-1")
	if err != nil || last == nil {
		t.Fatalf("LoadLastFiring: %v %+v", err, last)
	}
	if !last.FiredAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("expected most recent firing, got %v", last.FiredAt)
	}

	if last, _ := m.LoadLastFiring(ctx, 2, "i-1"); last != nil {
		t.Fatalf("wrong alert id should have no firing")
	}

	history, _ := m.LoadFirings(ctx, "i-1", 2)
	if len(history) != 2 {
		t.Fatalf("limit ignored: got %d", len(history))
	}
	if !history[0].FiredAt.After(history[1].FiredAt) {
		t.Fatalf("history should be newest first")
	}
}

func TestSaveSession_RejectsSecondOpenRow(t *testing.T) {
	ctx := context.Background()
	m := New()
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if err := m.SaveSession(ctx, &domain.UptimeSession{ID: "s1", ResourceID: "i-1", StartTime: start}); err != nil {
		t.Fatal(err)
	}

	err := m.SaveSession(ctx, &domain.UptimeSession{ID: "s2", ResourceID: "i-1", StartTime: start.Add(time.Hour)})
	var conflict *domain.StateConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflict for a second open row, got %v", err)
	}

	// A different resource is unaffected.
	if err := m.SaveSession(ctx, &domain.UptimeSession{ID: "s3", ResourceID: "i-2", StartTime: start}); err != nil {
		t.Fatal(err)
	}

	// Once closed, the resource can open again.
	if err := m.CloseSession(ctx, "s1", start.Add(2*time.Hour), false); err != nil {
		t.Fatal(err)
	}
	if err := m.SaveSession(ctx, &domain.UptimeSession{ID: "s4", ResourceID: "i-1", StartTime: start.Add(3 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateAlertConfig_NotFound(t *testing.T) {
	ctx := context.Background()
	m := New()

	err := m.UpdateAlertConfig(ctx, &domain.AlertConfig{ID: 42, Name: "ghost", ThresholdHours: 4})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListMetadata_ReturnsAllSorted(t *testing.T) {
	ctx := context.Background()
	m := New()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for _, id := range []string{"i-b", "i-a"} {
		if err := m.SaveMetadata(ctx, &domain.ResourceMetadata{ResourceID: id, InstanceClass: "t3.micro", UpdatedAt: now}); err != nil {
			t.Fatal(err)
		}
	}

	all, err := m.ListMetadata(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ResourceID != "i-a" || all[1].ResourceID != "i-b" {
		t.Fatalf("bad listing: %+v", all)
	}
}

func TestRecordCostEstimate_UpsertsByResourceAndDate(t *testing.T) {
	ctx := context.Background()
	m := New()

	e := &domain.CostEstimate{ResourceID: "i-1", Date: "2025-06-01", EstimatedUSD: 0.10, InstanceClass: "t3.micro"}
	if err := m.RecordCostEstimate(ctx, e); err != nil {
		t.Fatal(err)
	}
	firstID := e.ID

	e2 := &domain.CostEstimate{ResourceID: "i-1", Date: "2025-06-01", EstimatedUSD: 0.25, InstanceClass: "t3.micro"}
	if err := m.RecordCostEstimate(ctx, e2); err != nil {
		t.Fatal(err)
	}
	if e2.ID != firstID {
		t.Fatalf("replay must keep the row id, got %d want %d", e2.ID, firstID)
	}

	rows, err := m.CostsBetween(ctx, "2025-06-01", "2025-07-01")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].EstimatedUSD != 0.25 {
		t.Fatalf("expected one overwritten row, got %+v", rows)
	}
}
