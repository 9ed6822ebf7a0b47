package cost

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo/memory"
)

type fixedUptime struct {
	d time.Duration
}

func (f fixedUptime) DailyUptime(ctx context.Context, resourceID string, date time.Time) (time.Duration, error) {
	return f.d, nil
}

func TestEstimate_KnownAndUnknownClass(t *testing.T) {
	got := Estimate("t3.micro", 10*time.Hour)
	if math.Abs(got-0.104) > 1e-9 {
		t.Fatalf("t3.micro 10h: want 0.104, got %v", got)
	}
	if got := Estimate("m5.24xlarge", 10*time.Hour); got != 0 {
		t.Fatalf("unknown class should estimate 0, got %v", got)
	}
	if _, ok := HourlyRate("nope"); ok {
		t.Fatalf("unknown class should not report a rate")
	}
}

func TestFormatUSD(t *testing.T) {
	if s := FormatUSD(0.104); s != "$0.10" {
		t.Fatalf("got %q", s)
	}
}

func TestReporter_RecordDailyAndMonthTotal(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	log := zap.NewNop()

	err := store.SaveMetadata(ctx, &domain.ResourceMetadata{
		ResourceID:    "i-abc",
		InstanceClass: "t3.small",
		Region:        "eu-west-1",
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("SaveMetadata: %v", err)
	}

	r := NewReporter(store, store, fixedUptime{d: 5 * time.Hour}, log)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	est, err := r.RecordDaily(ctx, "i-abc", day)
	if err != nil {
		t.Fatalf("RecordDaily: %v", err)
	}
	if est.Date != "2025-03-10" {
		t.Fatalf("unexpected date %q", est.Date)
	}
	want := 0.0208 * 5
	if math.Abs(est.EstimatedUSD-want) > 1e-9 {
		t.Fatalf("want %v, got %v", want, est.EstimatedUSD)
	}
	if est.InstanceClass != "t3.small" || est.Region != "eu-west-1" {
		t.Fatalf("metadata not carried onto estimate: %+v", est)
	}

	// A second day in the same month plus one outside it.
	if _, err := r.RecordDaily(ctx, "i-abc", day.AddDate(0, 0, 1)); err != nil {
		t.Fatalf("RecordDaily day2: %v", err)
	}
	if _, err := r.RecordDaily(ctx, "i-abc", day.AddDate(0, 1, 0)); err != nil {
		t.Fatalf("RecordDaily next month: %v", err)
	}

	total, rows, err := r.MonthTotal(ctx, 2025, time.March)
	if err != nil {
		t.Fatalf("MonthTotal: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 March rows, got %d", len(rows))
	}
	if math.Abs(total-2*want) > 1e-9 {
		t.Fatalf("want total %v, got %v", 2*want, total)
	}
}

func TestReporter_NoMetadataStillRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	r := NewReporter(store, store, fixedUptime{d: 3 * time.Hour}, zap.NewNop())
	est, err := r.RecordDaily(ctx, "i-unseen", time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RecordDaily: %v", err)
	}
	if est.EstimatedUSD != 0 {
		t.Fatalf("no metadata means unknown class, want 0, got %v", est.EstimatedUSD)
	}
}
