package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// Store keeps everything in process memory. Used in tests and when no
// database is configured.
type Store struct {
	mu         sync.RWMutex
	sessions   []*domain.UptimeSession
	configs    map[int64]*domain.AlertConfig
	firings    []*domain.AlertFiring
	commands   []*domain.CommandRecord
	metadata   map[string]*domain.ResourceMetadata
	costs      []*domain.CostEstimate
	nextConfig int64
	nextFiring int64
	nextCmd    int64
	nextCost   int64
}

func New() *Store {
	return &Store{
		configs:  make(map[int64]*domain.AlertConfig),
		metadata: make(map[string]*domain.ResourceMetadata),
	}
}

// ---- SessionStore ----

func (m *Store) SaveSession(ctx context.Context, s *domain.UptimeSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.ResourceID == s.ResourceID && existing.StopTime == nil {
			return &domain.StateConflict{ResourceID: s.ResourceID, Detail: "open session already exists"}
		}
	}
	cp := *s
	m.sessions = append(m.sessions, &cp)
	return nil
}

func (m *Store) CloseSession(ctx context.Context, sessionID string, stopTime time.Time, recovered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == sessionID && s.StopTime == nil {
			t := stopTime
			s.StopTime = &t
			s.Recovered = recovered
			return nil
		}
	}
	return &domain.StoreError{Op: "close_session", Err: errNoOpenRow(sessionID)}
}

func (m *Store) OpenSession(ctx context.Context, resourceID string) (*domain.UptimeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.ResourceID == resourceID && s.StopTime == nil {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *Store) LoadOpenSessions(ctx context.Context) ([]domain.UptimeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.UptimeSession
	for _, s := range m.sessions {
		if s.StopTime == nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *Store) SessionsOverlapping(ctx context.Context, resourceID string, from, to time.Time) ([]domain.UptimeSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.UptimeSession
	for _, s := range m.sessions {
		if s.ResourceID != resourceID {
			continue
		}
		if !s.StartTime.Before(to) {
			continue
		}
		if s.StopTime != nil && !s.StopTime.After(from) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// ---- AlertStore ----

func (m *Store) SaveAlertConfig(ctx context.Context, c *domain.AlertConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextConfig++
	c.ID = m.nextConfig
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	cp := *c
	m.configs[c.ID] = &cp
	return nil
}

func (m *Store) UpdateAlertConfig(ctx context.Context, c *domain.AlertConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[c.ID]; !ok {
		return fmt.Errorf("update alert config %d: %w", c.ID, repo.ErrNotFound)
	}
	cp := *c
	m.configs[c.ID] = &cp
	return nil
}

func (m *Store) DeleteAlertConfig(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, id)
	return nil
}

func (m *Store) LoadAlertConfigs(ctx context.Context, enabledOnly bool) ([]domain.AlertConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AlertConfig
	for _, c := range m.configs {
		if enabledOnly && !c.Enabled {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ThresholdHours < out[j].ThresholdHours })
	return out, nil
}

func (m *Store) SaveAlertFiring(ctx context.Context, f *domain.AlertFiring) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFiring++
	f.ID = m.nextFiring
	cp := *f
	m.firings = append(m.firings, &cp)
	return nil
}

func (m *Store) MarkFiringDelivered(ctx context.Context, firingID int64, delivered bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.firings {
		if f.ID == firingID {
			f.Delivered = delivered
			return nil
		}
	}
	return nil
}

func (m *Store) LoadLastFiring(ctx context.Context, alertID int64, resourceID string) (*domain.AlertFiring, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *domain.AlertFiring
	for _, f := range m.firings {
		if f.AlertID != alertID || f.ResourceID != resourceID {
			continue
		}
		if last == nil || f.FiredAt.After(last.FiredAt) {
			last = f
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (m *Store) LoadFirings(ctx context.Context, resourceID string, limit int) ([]domain.AlertFiring, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AlertFiring
	for i := len(m.firings) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.firings[i].ResourceID == resourceID {
			out = append(out, *m.firings[i])
		}
	}
	return out, nil
}

// ---- AuditStore ----

func (m *Store) LogCommand(ctx context.Context, rec *domain.CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCmd++
	rec.ID = m.nextCmd
	cp := *rec
	m.commands = append(m.commands, &cp)
	return nil
}

func (m *Store) RecentCommands(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.CommandRecord
	for i := len(m.commands) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.commands[i])
	}
	return out, nil
}

// ---- MetadataStore ----

func (m *Store) SaveMetadata(ctx context.Context, md *domain.ResourceMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *md
	m.metadata[md.ResourceID] = &cp
	return nil
}

func (m *Store) GetMetadata(ctx context.Context, resourceID string) (*domain.ResourceMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.metadata[resourceID]
	if !ok {
		return nil, nil
	}
	cp := *md
	return &cp, nil
}

func (m *Store) ListMetadata(ctx context.Context) ([]domain.ResourceMetadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ResourceMetadata
	for _, md := range m.metadata {
		out = append(out, *md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

// ---- CostStore ----

func (m *Store) RecordCostEstimate(ctx context.Context, e *domain.CostEstimate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.costs {
		if c.ResourceID == e.ResourceID && c.Date == e.Date {
			e.ID = c.ID
			cp := *e
			m.costs[i] = &cp
			return nil
		}
	}
	m.nextCost++
	e.ID = m.nextCost
	cp := *e
	m.costs = append(m.costs, &cp)
	return nil
}

func (m *Store) CostsBetween(ctx context.Context, fromDate, toDate string) ([]domain.CostEstimate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.CostEstimate
	for _, c := range m.costs {
		if c.Date >= fromDate && c.Date < toDate {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

type errNoOpenRow string

func (e errNoOpenRow) Error() string { return "no matching row: " + string(e) }
