package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/cache"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/cost"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/gateway"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/httpapi/middleware"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/session"
)

type Server struct {
	Logger  *zap.Logger
	Gateway *gateway.Gateway
	Tracker *session.Tracker
	Store   repo.Store
	Costs   *cost.Reporter
	Cache   *cache.Cache
	Keys    middleware.Keys

	// Requests per minute and burst for the IP limiter; 0 disables.
	RPM   int
	Burst int
}

func NewServer(
	l *zap.Logger,
	gw *gateway.Gateway,
	tracker *session.Tracker,
	store repo.Store,
	costs *cost.Reporter,
	c *cache.Cache,
	keys middleware.Keys,
) *Server {
	return &Server{
		Logger:  l,
		Gateway: gw,
		Tracker: tracker,
		Store:   store,
		Costs:   costs,
		Cache:   c,
		Keys:    keys,
		RPM:     120,
		Burst:   60,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Read surface: any configured key.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.RPM, s.Burst))
		r.Use(middleware.RequireKey(s.Keys))

		r.Get("/api/resources", s.handleListResources)
		r.Get("/api/resources/{id}/state", s.handleGetState)
		r.Get("/api/resources/{id}/uptime/current", s.handleCurrentUptime)
		r.Get("/api/resources/{id}/uptime/daily", s.handleDailyUptime)
		r.Get("/api/resources/{id}/uptime/range", s.handleRangeUptime)
		r.Get("/api/resources/{id}/alerts/history", s.handleFiringHistory)
		r.Get("/api/alerts", s.handleListAlerts)
		r.Get("/api/cache/stats", s.handleCacheStats)
		r.Get("/api/costs/monthly", s.handleMonthlyCosts)
	})

	// Mutations and audit: admin key only.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.RPM, s.Burst))
		r.Use(middleware.RequireAdmin(s.Keys))

		r.Post("/api/resources/{id}/start", s.handleAction("start"))
		r.Post("/api/resources/{id}/stop", s.handleAction("stop"))
		r.Post("/api/resources/{id}/reboot", s.handleAction("reboot"))
		r.Post("/api/alerts", s.handleCreateAlert)
		r.Put("/api/alerts/{id}", s.handleUpdateAlert)
		r.Delete("/api/alerts/{id}", s.handleDeleteAlert)
		r.Get("/api/audit", s.handleAudit)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusFor maps control-plane failures onto HTTP codes. A retry series
// that never succeeded is a timeout; a permanent rejection is the remote
// refusing us, not our fault.
func statusFor(err error) int {
	var conflict *domain.StateConflict
	if errors.As(err, &conflict) {
		return http.StatusConflict
	}
	if domain.Exhausted(err) {
		return http.StatusGatewayTimeout
	}
	if domain.IsPermanent(err) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "1"
	ids, err := s.Gateway.ListResources(r.Context(), refresh)
	if err != nil {
		writeError(w, statusFor(err), "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": ids})
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	refresh := r.URL.Query().Get("refresh") == "1"

	state, err := s.Gateway.GetState(r.Context(), id, refresh)
	if err != nil {
		writeError(w, statusFor(err), "describe failed")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type actionResponse struct {
	gateway.ActionResult
	Waited      bool          `json:"waited,omitempty"`
	ReachedWant bool          `json:"reached_want,omitempty"`
	WantStatus  domain.Status `json:"want_status,omitempty"`
}

func (s *Server) handleAction(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx := r.Context()

		var res gateway.ActionResult
		var err error
		switch op {
		case "start":
			res, err = s.Gateway.Start(ctx, id)
		case "stop":
			res, err = s.Gateway.Stop(ctx, id)
		case "reboot":
			res, err = s.Gateway.Reboot(ctx, id)
		}

		s.audit(r, op, id, err)

		if err != nil {
			writeError(w, statusFor(err), op+" failed")
			return
		}

		resp := actionResponse{ActionResult: res}
		if r.URL.Query().Get("wait") == "1" {
			want := domain.StatusRunning
			if op == "stop" {
				want = domain.StatusStopped
			}
			reached, werr := s.Gateway.WaitForStatus(ctx, id, want, 2*time.Minute, 5*time.Second)
			if werr != nil {
				s.Logger.Warn("wait_for_status_error",
					zap.String("resource_id", id),
					zap.Error(werr),
				)
			}
			resp.Waited = true
			resp.ReachedWant = reached
			resp.WantStatus = want
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// audit records the command outcome. Identity comes from the panel via
// headers; an ingest failure is logged, never surfaced to the caller.
func (s *Server) audit(r *http.Request, op, resourceID string, opErr error) {
	rec := &domain.CommandRecord{
		UserID:     r.Header.Get("X-User-ID"),
		Username:   r.Header.Get("X-User-Name"),
		Command:    op,
		ResourceID: resourceID,
		Success:    opErr == nil,
		ExecutedAt: time.Now().UTC(),
	}
	if rec.Username == "" {
		rec.Username = "panel"
	}
	if opErr != nil {
		rec.Error = opErr.Error()
	}
	if err := s.Store.LogCommand(r.Context(), rec); err != nil {
		s.Logger.Warn("audit_log_error", zap.String("command", op), zap.Error(err))
	}
}

func (s *Server) handleCurrentUptime(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, running, err := s.Tracker.CurrentSessionDuration(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "uptime lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id":    id,
		"running":        running,
		"uptime_seconds": int64(d / time.Second),
	})
}

func (s *Server) handleDailyUptime(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	date := time.Now().UTC()
	if q := r.URL.Query().Get("date"); q != "" {
		parsed, err := time.Parse("2006-01-02", q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	d, err := s.Tracker.DailyUptime(r.Context(), id, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "uptime lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id":    id,
		"date":           date.Format("2006-01-02"),
		"uptime_seconds": int64(d / time.Second),
	})
}

func (s *Server) handleRangeUptime(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	from, err1 := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	to, err2 := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err1 != nil || err2 != nil || !to.After(from) {
		writeError(w, http.StatusBadRequest, "from and to must be RFC3339 with from < to")
		return
	}

	d, err := s.Tracker.RangeUptime(r.Context(), id, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "uptime lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id":    id,
		"from":           from,
		"to":             to,
		"uptime_seconds": int64(d / time.Second),
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Cache.Stats())
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	configs, err := s.Store.LoadAlertConfigs(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load failed")
		return
	}
	writeJSON(w, http.StatusOK, configs)
}

type alertPayload struct {
	Name                  string  `json:"name"`
	ThresholdHours        float64 `json:"threshold_hours"`
	ReminderIntervalHours float64 `json:"reminder_interval_hours"`
	Enabled               *bool   `json:"enabled"`
	ChannelID             string  `json:"channel_id"`
}

func (p *alertPayload) validate() string {
	if p.Name == "" {
		return "name is required"
	}
	if p.ThresholdHours <= 0 {
		return "threshold_hours must be positive"
	}
	if p.ReminderIntervalHours < 0 {
		return "reminder_interval_hours must not be negative"
	}
	return ""
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var p alertPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if msg := p.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	cfg := &domain.AlertConfig{
		Name:                  p.Name,
		ThresholdHours:        p.ThresholdHours,
		ReminderIntervalHours: p.ReminderIntervalHours,
		Enabled:               p.Enabled == nil || *p.Enabled,
		ChannelID:             p.ChannelID,
		CreatedAt:             time.Now().UTC(),
	}
	if err := s.Store.SaveAlertConfig(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	s.Logger.Info("alert_config_created",
		zap.Int64("id", cfg.ID),
		zap.String("name", cfg.Name),
		zap.Float64("threshold_hours", cfg.ThresholdHours),
	)
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad alert id")
		return
	}

	var p alertPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if msg := p.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	cfg := &domain.AlertConfig{
		ID:                    id,
		Name:                  p.Name,
		ThresholdHours:        p.ThresholdHours,
		ReminderIntervalHours: p.ReminderIntervalHours,
		Enabled:               p.Enabled == nil || *p.Enabled,
		ChannelID:             p.ChannelID,
	}
	if err := s.Store.UpdateAlertConfig(r.Context(), cfg); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad alert id")
		return
	}
	if err := s.Store.DeleteAlertConfig(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFiringHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	firings, err := s.Store.LoadFirings(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load failed")
		return
	}
	writeJSON(w, http.StatusOK, firings)
}

func (s *Server) handleMonthlyCosts(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	year := now.Year()
	month := now.Month()

	if q := r.URL.Query().Get("year"); q != "" {
		y, err := strconv.Atoi(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad year")
			return
		}
		year = y
	}
	if q := r.URL.Query().Get("month"); q != "" {
		m, err := strconv.Atoi(q)
		if err != nil || m < 1 || m > 12 {
			writeError(w, http.StatusBadRequest, "bad month")
			return
		}
		month = time.Month(m)
	}

	total, rows, err := s.Costs.MonthTotal(r.Context(), year, month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cost lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"year":      year,
		"month":     int(month),
		"total_usd": total,
		"formatted": cost.FormatUSD(total),
		"estimates": rows,
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.Store.RecentCommands(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}
