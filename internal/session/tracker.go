package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
)

// Tracker records start/stop uptime sessions per resource. The store is
// the durable truth; the tracker serializes transitions per resource id so
// two concurrent observations can never open two sessions for the same
// resource.
type Tracker struct {
	store repo.SessionStore
	log   *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewTracker(store repo.SessionStore, log *zap.Logger) *Tracker {
	return &Tracker{
		store: store,
		log:   log,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

// lockFor serializes transitions for one resource without stalling others.
func (t *Tracker) lockFor(resourceID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[resourceID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[resourceID] = l
	}
	return l
}

// Reconcile applies one observation to the session state machine:
// NoSession/Closed -> Open when the resource is seen running, Open ->
// Closed when it leaves running. A store failure aborts the transition;
// the next tick retries it.
func (t *Tracker) Reconcile(ctx context.Context, resourceID string, observed domain.ResourceState) error {
	return t.reconcile(ctx, resourceID, observed, false)
}

func (t *Tracker) reconcile(ctx context.Context, resourceID string, observed domain.ResourceState, recovered bool) error {
	l := t.lockFor(resourceID)
	l.Lock()
	defer l.Unlock()

	open, err := t.store.OpenSession(ctx, resourceID)
	if err != nil {
		return &domain.StoreError{Op: "open_session", Err: err}
	}

	running := observed.Status == domain.StatusRunning

	switch {
	case open == nil && running:
		startAt := observed.ObservedAt
		if startAt.IsZero() {
			startAt = t.now()
		}
		s := &domain.UptimeSession{
			ID:         uuid.NewString(),
			ResourceID: resourceID,
			StartTime:  startAt.UTC(),
		}
		if err := t.store.SaveSession(ctx, s); err != nil {
			return &domain.StoreError{Op: "save_session", Err: err}
		}
		t.log.Info("session_opened",
			zap.String("resource_id", resourceID),
			zap.String("session_id", s.ID),
			zap.Time("start_time", s.StartTime),
		)

	case open != nil && !running:
		stopAt := observed.ObservedAt
		if stopAt.IsZero() {
			stopAt = t.now()
		}
		if stopAt.Before(open.StartTime) {
			stopAt = open.StartTime
		}
		if err := t.store.CloseSession(ctx, open.ID, stopAt.UTC(), recovered); err != nil {
			return &domain.StoreError{Op: "close_session", Err: err}
		}
		t.log.Info("session_closed",
			zap.String("resource_id", resourceID),
			zap.String("session_id", open.ID),
			zap.Duration("duration", stopAt.Sub(open.StartTime)),
			zap.Bool("recovered", recovered),
		)
	}
	// open && running: session continues; nil && !running: nothing to do
	return nil
}

// Restore re-derives open sessions after a process restart. Every resource
// with a store-recorded open session is reconciled against the live state:
// still running keeps the session open with its original start time, not
// running closes it at "now" with the recovered flag, since the true stop
// time inside the outage window is unknowable.
func (t *Tracker) Restore(ctx context.Context, observe func(context.Context, string) (domain.ResourceState, error)) error {
	open, err := t.store.LoadOpenSessions(ctx)
	if err != nil {
		return &domain.StoreError{Op: "load_open_sessions", Err: err}
	}
	for _, s := range open {
		st, err := observe(ctx, s.ResourceID)
		if err != nil {
			// leave the session open; the next poll tick settles it
			t.log.Warn("restore_observe_failed",
				zap.String("resource_id", s.ResourceID),
				zap.Error(err),
			)
			continue
		}
		st.ObservedAt = t.now()
		if err := t.reconcile(ctx, s.ResourceID, st, true); err != nil {
			return fmt.Errorf("restore %s: %w", s.ResourceID, err)
		}
	}
	return nil
}

// CurrentSessionDuration returns now - start_time for an open session, so
// reports show the live running total instead of zero. ok is false when
// the resource has no open session.
func (t *Tracker) CurrentSessionDuration(ctx context.Context, resourceID string) (time.Duration, bool, error) {
	open, err := t.store.OpenSession(ctx, resourceID)
	if err != nil {
		return 0, false, &domain.StoreError{Op: "open_session", Err: err}
	}
	if open == nil {
		return 0, false, nil
	}
	return open.Duration(t.now()), true, nil
}

// OpenSessions lists every currently open session.
func (t *Tracker) OpenSessions(ctx context.Context) ([]domain.UptimeSession, error) {
	open, err := t.store.LoadOpenSessions(ctx)
	if err != nil {
		return nil, &domain.StoreError{Op: "load_open_sessions", Err: err}
	}
	return open, nil
}

// DailyUptime sums the clipped durations of every session overlapping the
// UTC day containing date, including the live portion of an open session.
func (t *Tracker) DailyUptime(ctx context.Context, resourceID string, date time.Time) (time.Duration, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	return t.RangeUptime(ctx, resourceID, day, day.Add(24*time.Hour))
}

// RangeUptime sums clipped session durations over [from, to).
func (t *Tracker) RangeUptime(ctx context.Context, resourceID string, from, to time.Time) (time.Duration, error) {
	sessions, err := t.store.SessionsOverlapping(ctx, resourceID, from, to)
	if err != nil {
		return 0, &domain.StoreError{Op: "sessions_overlapping", Err: err}
	}
	now := t.now()
	var total time.Duration
	for i := range sessions {
		total += sessions[i].Clipped(from, to, now)
	}
	return total, nil
}
