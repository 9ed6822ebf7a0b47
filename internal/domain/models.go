package domain

import "time"

// Status is the lifecycle state reported by the remote compute API.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusStopping   Status = "stopping"
	StatusStopped    Status = "stopped"
	StatusTerminated Status = "terminated"
	StatusUnknown    Status = "unknown"
)

// ParseStatus maps a raw remote state string onto the known set. Anything
// the remote API reports that we do not recognize becomes StatusUnknown.
func ParseStatus(raw string) Status {
	switch Status(raw) {
	case StatusPending, StatusRunning, StatusStopping, StatusStopped, StatusTerminated:
		return Status(raw)
	default:
		return StatusUnknown
	}
}

// ResourceState is an immutable snapshot of one compute resource.
// A fresh observation replaces the old snapshot entirely.
type ResourceState struct {
	ResourceID    string            `json:"resource_id"`
	Status        Status            `json:"status"`
	PublicAddress string            `json:"public_address,omitempty"`
	InstanceClass string            `json:"instance_class"`
	LaunchTime    *time.Time        `json:"launch_time,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ObservedAt    time.Time         `json:"observed_at"`
}

// UptimeSession is one contiguous interval during which a resource was
// observed running. StopTime is nil while the session is open.
type UptimeSession struct {
	ID         string     `json:"id"`
	ResourceID string     `json:"resource_id"`
	StartTime  time.Time  `json:"start_time"`
	StopTime   *time.Time `json:"stop_time,omitempty"`
	// Recovered marks a session closed during restart reconciliation,
	// where the true stop time inside the outage window is unknowable.
	Recovered bool `json:"recovered,omitempty"`
}

func (s *UptimeSession) Open() bool { return s.StopTime == nil }

// Duration returns the elapsed time of the session. Open sessions are
// measured against now; duration is always derived, never stored alone.
func (s *UptimeSession) Duration(now time.Time) time.Duration {
	end := now
	if s.StopTime != nil {
		end = *s.StopTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// Clipped returns the portion of the session that falls inside [from, to).
// Open sessions are bounded by now before clipping.
func (s *UptimeSession) Clipped(from, to, now time.Time) time.Duration {
	start := s.StartTime
	end := now
	if s.StopTime != nil {
		end = *s.StopTime
	}
	if start.Before(from) {
		start = from
	}
	if end.After(to) {
		end = to
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

// AlertConfig describes one long-running-resource alert.
// ReminderIntervalHours == 0 means fire once and never repeat.
type AlertConfig struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	ThresholdHours        float64   `json:"threshold_hours"`
	ReminderIntervalHours float64   `json:"reminder_interval_hours"`
	Enabled               bool      `json:"enabled"`
	ChannelID             string    `json:"channel_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

func (c *AlertConfig) Threshold() time.Duration {
	return time.Duration(c.ThresholdHours * float64(time.Hour))
}

func (c *AlertConfig) ReminderInterval() time.Duration {
	return time.Duration(c.ReminderIntervalHours * float64(time.Hour))
}

// AlertFiring is one row of alert history. Append-only, never mutated,
// except for the best-effort delivery flag set after the send attempt.
type AlertFiring struct {
	ID            int64     `json:"id"`
	AlertID       int64     `json:"alert_id"`
	ResourceID    string    `json:"resource_id"`
	FiredAt       time.Time `json:"fired_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Delivered     bool      `json:"delivered"`
}

// CommandRecord is one audited front-end action.
type CommandRecord struct {
	ID         int64     `json:"id"`
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Command    string    `json:"command"`
	ResourceID string    `json:"resource_id,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// ResourceMetadata is the last persisted description of a resource,
// refreshed on every poll that observes it running.
type ResourceMetadata struct {
	ResourceID    string            `json:"resource_id"`
	InstanceClass string            `json:"instance_class"`
	Region        string            `json:"region"`
	LaunchTime    *time.Time        `json:"launch_time,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// CostEstimate is a derived per-day cost figure for one resource.
type CostEstimate struct {
	ID            int64     `json:"id"`
	ResourceID    string    `json:"resource_id"`
	Date          string    `json:"date"` // YYYY-MM-DD, UTC
	EstimatedUSD  float64   `json:"estimated_usd"`
	InstanceClass string    `json:"instance_class"`
	Region        string    `json:"region"`
	CreatedAt     time.Time `json:"created_at"`
}
