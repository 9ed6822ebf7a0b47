package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/backoff"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/cache"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/cost"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/gateway"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/httpapi/middleware"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/remote"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo/memory"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/session"
)

type fakeRemote struct {
	status string
	err    error
	starts int
	stops  int
}

func (f *fakeRemote) Describe(ctx context.Context, id string) (remote.RawState, error) {
	if f.err != nil {
		return remote.RawState{}, f.err
	}
	return remote.RawState{ResourceID: id, Status: f.status, InstanceClass: "t3.micro"}, nil
}

func (f *fakeRemote) ListByTag(ctx context.Context, key, value string) ([]string, error) {
	return []string{"i-1", "i-2"}, nil
}

func (f *fakeRemote) Start(ctx context.Context, id string) error { f.starts++; return f.err }
func (f *fakeRemote) Stop(ctx context.Context, id string) error  { f.stops++; return f.err }
func (f *fakeRemote) Reboot(ctx context.Context, id string) error {
	return f.err
}

func testServer(f *fakeRemote, store *memory.Store) *Server {
	log := zap.NewNop()
	c := cache.New()
	p := backoff.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}
	gw := gateway.New(f, c, p, 30*time.Second, "guild", "g-1", log)
	tracker := session.NewTracker(store, log)
	costs := cost.NewReporter(store, store, tracker, log)
	return NewServer(log, gw, tracker, store, costs, c, middleware.Keys{})
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestListResources(t *testing.T) {
	s := testServer(&fakeRemote{status: "running"}, memory.New())
	h := s.Router()

	rec, out := doJSON(t, h, http.MethodGet, "/api/resources", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	ids, ok := out["resources"].([]any)
	if !ok || len(ids) != 2 {
		t.Fatalf("expected 2 resources, got %v", out)
	}
}

func TestGetState(t *testing.T) {
	s := testServer(&fakeRemote{status: "running"}, memory.New())
	h := s.Router()

	rec, out := doJSON(t, h, http.MethodGet, "/api/resources/i-1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if out["status"] != "running" || out["resource_id"] != "i-1" {
		t.Fatalf("unexpected payload: %v", out)
	}
}

func TestStartAction_AuditsCommand(t *testing.T) {
	f := &fakeRemote{status: "running"}
	store := memory.New()
	s := testServer(f, store)
	h := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/resources/i-1/start", nil)
	req.Header.Set("X-User-ID", "42")
	req.Header.Set("X-User-Name", "ops")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if f.starts != 1 {
		t.Fatalf("expected one start call, got %d", f.starts)
	}

	records, err := store.RecentCommands(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(records))
	}
	if records[0].Command != "start" || records[0].Username != "ops" || !records[0].Success {
		t.Fatalf("unexpected audit record: %+v", records[0])
	}
}

func TestStopAction_FailureAuditedAndMapped(t *testing.T) {
	f := &fakeRemote{status: "running", err: remote.PermanentErr("stop", "i-1", "UnauthorizedOperation", context.DeadlineExceeded)}
	store := memory.New()
	s := testServer(f, store)
	h := s.Router()

	rec, _ := doJSON(t, h, http.MethodPost, "/api/resources/i-1/stop", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for a permanent remote error, got %d", rec.Code)
	}

	records, _ := store.RecentCommands(context.Background(), 10)
	if len(records) != 1 || records[0].Success {
		t.Fatalf("expected one failed audit record, got %+v", records)
	}
}

func TestAlertCRUD(t *testing.T) {
	s := testServer(&fakeRemote{status: "running"}, memory.New())
	h := s.Router()

	rec, out := doJSON(t, h, http.MethodPost, "/api/alerts",
		`{"name":"4h","threshold_hours":4,"reminder_interval_hours":2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	if out["enabled"] != true {
		t.Fatalf("enabled should default true: %v", out)
	}
	id := int64(out["id"].(float64))
	if id == 0 {
		t.Fatalf("expected assigned id")
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/alerts", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}

	rec, _ = doJSON(t, h, http.MethodPut, "/api/alerts/1",
		`{"name":"4h","threshold_hours":6,"reminder_interval_hours":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", rec.Code, rec.Body.String())
	}

	rec, _ = doJSON(t, h, http.MethodDelete, "/api/alerts/1", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status %d", rec.Code)
	}
}

func TestCreateAlert_Validation(t *testing.T) {
	s := testServer(&fakeRemote{status: "running"}, memory.New())
	h := s.Router()

	for _, body := range []string{
		`{"threshold_hours":4}`,
		`{"name":"x","threshold_hours":0}`,
		`{"name":"x","threshold_hours":4,"reminder_interval_hours":-1}`,
		`not json`,
	} {
		rec, _ := doJSON(t, h, http.MethodPost, "/api/alerts", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestDailyUptime(t *testing.T) {
	store := memory.New()
	s := testServer(&fakeRemote{status: "running"}, store)
	h := s.Router()

	day := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	start := day.Add(8 * time.Hour)
	stop := day.Add(11 * time.Hour)
	sess := &domain.UptimeSession{ID: "s1", ResourceID: "i-1", StartTime: start}
	if err := store.SaveSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	if err := store.CloseSession(context.Background(), "s1", stop, false); err != nil {
		t.Fatal(err)
	}

	rec, out := doJSON(t, h, http.MethodGet, "/api/resources/i-1/uptime/daily?date=2025-05-10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if got := int64(out["uptime_seconds"].(float64)); got != 3*3600 {
		t.Fatalf("expected 3h, got %ds", got)
	}

	rec, _ = doJSON(t, h, http.MethodGet, "/api/resources/i-1/uptime/daily?date=10-05-2025", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date should 400, got %d", rec.Code)
	}
}

func TestRangeUptime_Validation(t *testing.T) {
	s := testServer(&fakeRemote{status: "running"}, memory.New())
	h := s.Router()

	rec, _ := doJSON(t, h, http.MethodGet, "/api/resources/i-1/uptime/range?from=2025-05-10T00:00:00Z&to=2025-05-09T00:00:00Z", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("inverted range should 400, got %d", rec.Code)
	}
}

func TestCacheStats(t *testing.T) {
	s := testServer(&fakeRemote{status: "running"}, memory.New())
	h := s.Router()

	// One describe populates the cache; a second read hits it.
	doJSON(t, h, http.MethodGet, "/api/resources/i-1/state", "")
	doJSON(t, h, http.MethodGet, "/api/resources/i-1/state", "")

	rec, out := doJSON(t, h, http.MethodGet, "/api/cache/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if out["hits"].(float64) < 1 {
		t.Fatalf("expected at least one cache hit: %v", out)
	}
}

func TestAuthTiers(t *testing.T) {
	store := memory.New()
	s := testServer(&fakeRemote{status: "running"}, store)
	s.Keys = middleware.Keys{Public: []string{"pub"}, Admin: []string{"adm"}}
	h := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/resources", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated read should 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/resources", nil)
	req.Header.Set("X-API-Key", "pub")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("public read should pass, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/resources/i-1/start", nil)
	req.Header.Set("X-API-Key", "pub")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("public key on admin route should 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/resources/i-1/start", nil)
	req.Header.Set("X-API-Key", "adm")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin key on admin route should pass, got %d", rec.Code)
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz should be unauthenticated, got %d", rec.Code)
	}
}

type failingAlertStore struct {
	*memory.Store
}

func (f *failingAlertStore) UpdateAlertConfig(ctx context.Context, c *domain.AlertConfig) error {
	return errors.New("disk full")
}

func TestUpdateAlert_NotFoundVersusStoreError(t *testing.T) {
	store := memory.New()
	s := testServer(&fakeRemote{status: "running"}, store)
	h := s.Router()

	body := `{"name":"4h","threshold_hours":4}`
	rec, _ := doJSON(t, h, http.MethodPut, "/api/alerts/99", body)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing row should be 404, got %d", rec.Code)
	}

	s.Store = &failingAlertStore{Store: store}
	rec, _ = doJSON(t, s.Router(), http.MethodPut, "/api/alerts/99", body)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("store failure should be 500, got %d", rec.Code)
	}
}
