package repo

import (
	"context"
	"errors"
	"time"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
)

// Ports (interfaces) — swap in any DB adapter later. Every operation is
// atomic at the single-row level; no multi-row transactions are required.

// ErrNotFound is returned by row-targeting writes when no row matched.
// Adapters wrap it so callers can tell a missing row from a failed query.
var ErrNotFound = errors.New("not found")

// SessionStore owns the uptime session rows. Only the session tracker
// writes through it.
type SessionStore interface {
	// SaveSession inserts a new open session row. It fails with a
	// domain.StateConflict when the resource already has an open row.
	SaveSession(ctx context.Context, s *domain.UptimeSession) error
	// CloseSession persists stop_time and the recovered flag on an open row.
	CloseSession(ctx context.Context, sessionID string, stopTime time.Time, recovered bool) error
	// OpenSession returns nil, nil when the resource has no open session.
	OpenSession(ctx context.Context, resourceID string) (*domain.UptimeSession, error)
	LoadOpenSessions(ctx context.Context) ([]domain.UptimeSession, error)
	// SessionsOverlapping returns every session (open or closed) whose
	// interval intersects [from, to). Clipping happens in the tracker.
	SessionsOverlapping(ctx context.Context, resourceID string, from, to time.Time) ([]domain.UptimeSession, error)
}

// AlertStore holds alert configs (owned by the config surface) and the
// append-only firing history (written only by the alert engine).
type AlertStore interface {
	SaveAlertConfig(ctx context.Context, c *domain.AlertConfig) error
	UpdateAlertConfig(ctx context.Context, c *domain.AlertConfig) error
	DeleteAlertConfig(ctx context.Context, id int64) error
	LoadAlertConfigs(ctx context.Context, enabledOnly bool) ([]domain.AlertConfig, error)

	SaveAlertFiring(ctx context.Context, f *domain.AlertFiring) error
	// MarkFiringDelivered records the send outcome after the fact; the
	// firing row itself is never rolled back.
	MarkFiringDelivered(ctx context.Context, firingID int64, delivered bool) error
	// LoadLastFiring returns nil, nil when the pair never fired.
	LoadLastFiring(ctx context.Context, alertID int64, resourceID string) (*domain.AlertFiring, error)
	LoadFirings(ctx context.Context, resourceID string, limit int) ([]domain.AlertFiring, error)
}

// AuditStore records front-end actions.
type AuditStore interface {
	LogCommand(ctx context.Context, rec *domain.CommandRecord) error
	RecentCommands(ctx context.Context, limit int) ([]domain.CommandRecord, error)
}

// MetadataStore keeps the last-seen description per resource.
type MetadataStore interface {
	SaveMetadata(ctx context.Context, m *domain.ResourceMetadata) error
	// GetMetadata returns nil, nil for a resource never seen running.
	GetMetadata(ctx context.Context, resourceID string) (*domain.ResourceMetadata, error)
	// ListMetadata returns every resource ever seen running. The cost
	// recorder walks this set when a day rolls over.
	ListMetadata(ctx context.Context) ([]domain.ResourceMetadata, error)
}

// CostStore keeps derived daily cost estimates.
type CostStore interface {
	RecordCostEstimate(ctx context.Context, e *domain.CostEstimate) error
	CostsBetween(ctx context.Context, fromDate, toDate string) ([]domain.CostEstimate, error)
}

// Store is the full persistence surface a backend provides.
type Store interface {
	SessionStore
	AlertStore
	AuditStore
	MetadataStore
	CostStore
}
