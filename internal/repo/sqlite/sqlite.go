// Package sqlite implements the repo ports on modernc.org/sqlite (CGO-free).
// The path is a filesystem location; use ":memory:" for tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// busy timeout rides out short concurrent locks
	if _, err := db.Exec("PRAGMA busy_timeout=3000;"); err != nil {
		return nil, fmt.Errorf("busy_timeout: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS uptime_sessions(
			id TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			start_time TIMESTAMP NOT NULL,
			stop_time TIMESTAMP NULL,
			recovered BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_resource ON uptime_sessions(resource_id);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_open ON uptime_sessions(resource_id) WHERE stop_time IS NULL;`,
		`CREATE TABLE IF NOT EXISTS alert_config(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			threshold_hours REAL NOT NULL,
			reminder_interval_hours REAL NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			channel_id TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS alert_history(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id INTEGER NOT NULL,
			resource_id TEXT NOT NULL,
			fired_at TIMESTAMP NOT NULL,
			uptime_seconds INTEGER NOT NULL,
			delivered BOOLEAN NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_pair ON alert_history(alert_id, resource_id, fired_at);`,
		`CREATE TABLE IF NOT EXISTS command_log(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			command TEXT NOT NULL,
			resource_id TEXT,
			success BOOLEAN NOT NULL,
			error_message TEXT,
			executed_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cmdlog_executed ON command_log(executed_at);`,
		`CREATE TABLE IF NOT EXISTS resource_metadata(
			resource_id TEXT PRIMARY KEY,
			instance_class TEXT,
			region TEXT,
			launch_time TIMESTAMP NULL,
			tags TEXT,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cost_estimates(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			resource_id TEXT NOT NULL,
			date TEXT NOT NULL,
			estimated_usd REAL NOT NULL,
			instance_class TEXT,
			region TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_costs_date ON cost_estimates(date);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_costs_resource_date ON cost_estimates(resource_id, date);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ---- SessionStore ----

func (s *Store) SaveSession(ctx context.Context, sess *domain.UptimeSession) error {
	var open int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM uptime_sessions
		WHERE resource_id=? AND stop_time IS NULL;`, sess.ResourceID).Scan(&open)
	if err != nil {
		return fmt.Errorf("check open session: %w", err)
	}
	if open > 0 {
		return &domain.StateConflict{ResourceID: sess.ResourceID, Detail: "open session already exists"}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO uptime_sessions(id, resource_id, start_time, stop_time, recovered)
		VALUES(?, ?, ?, NULL, 0);`,
		sess.ID, sess.ResourceID, sess.StartTime.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID string, stopTime time.Time, recovered bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE uptime_sessions
		SET stop_time=?, recovered=?
		WHERE id=? AND stop_time IS NULL;`,
		stopTime.UTC(), recovered, sessionID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("close session %s: no open row", sessionID)
	}
	return nil
}

func (s *Store) OpenSession(ctx context.Context, resourceID string) (*domain.UptimeSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, start_time, stop_time, recovered
		FROM uptime_sessions
		WHERE resource_id=? AND stop_time IS NULL
		ORDER BY start_time DESC LIMIT 1;`, resourceID)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sess, err
}

func (s *Store) LoadOpenSessions(ctx context.Context) ([]domain.UptimeSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, start_time, stop_time, recovered
		FROM uptime_sessions WHERE stop_time IS NULL ORDER BY start_time;`)
	if err != nil {
		return nil, fmt.Errorf("load open sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Store) SessionsOverlapping(ctx context.Context, resourceID string, from, to time.Time) ([]domain.UptimeSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, start_time, stop_time, recovered
		FROM uptime_sessions
		WHERE resource_id=?
		  AND start_time < ?
		  AND (stop_time IS NULL OR stop_time > ?)
		ORDER BY start_time;`,
		resourceID, to.UTC(), from.UTC())
	if err != nil {
		return nil, fmt.Errorf("sessions overlapping: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSession(r rowScanner) (*domain.UptimeSession, error) {
	var sess domain.UptimeSession
	var stop sql.NullTime
	if err := r.Scan(&sess.ID, &sess.ResourceID, &sess.StartTime, &stop, &sess.Recovered); err != nil {
		return nil, err
	}
	if stop.Valid {
		t := stop.Time
		sess.StopTime = &t
	}
	return &sess, nil
}

func collectSessions(rows *sql.Rows) ([]domain.UptimeSession, error) {
	var out []domain.UptimeSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// ---- AlertStore ----

func (s *Store) SaveAlertConfig(ctx context.Context, c *domain.AlertConfig) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_config(name, threshold_hours, reminder_interval_hours, enabled, channel_id, created_at)
		VALUES(?, ?, ?, ?, ?, ?);`,
		c.Name, c.ThresholdHours, c.ReminderIntervalHours, c.Enabled, nullStr(c.ChannelID), c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert config: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *Store) UpdateAlertConfig(ctx context.Context, c *domain.AlertConfig) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_config
		SET name=?, threshold_hours=?, reminder_interval_hours=?, enabled=?, channel_id=?
		WHERE id=?;`,
		c.Name, c.ThresholdHours, c.ReminderIntervalHours, c.Enabled, nullStr(c.ChannelID), c.ID)
	if err != nil {
		return fmt.Errorf("update alert config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update alert config %d: %w", c.ID, repo.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteAlertConfig(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alert_config WHERE id=?;`, id)
	if err != nil {
		return fmt.Errorf("delete alert config: %w", err)
	}
	return nil
}

func (s *Store) LoadAlertConfigs(ctx context.Context, enabledOnly bool) ([]domain.AlertConfig, error) {
	q := `SELECT id, name, threshold_hours, reminder_interval_hours, enabled, channel_id, created_at
	      FROM alert_config`
	if enabledOnly {
		q += ` WHERE enabled=1`
	}
	q += ` ORDER BY threshold_hours;`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load alert configs: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertConfig
	for rows.Next() {
		var c domain.AlertConfig
		var channel sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.ThresholdHours, &c.ReminderIntervalHours, &c.Enabled, &channel, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert config: %w", err)
		}
		c.ChannelID = channel.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveAlertFiring(ctx context.Context, f *domain.AlertFiring) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history(alert_id, resource_id, fired_at, uptime_seconds, delivered)
		VALUES(?, ?, ?, ?, ?);`,
		f.AlertID, f.ResourceID, f.FiredAt.UTC(), f.UptimeSeconds, f.Delivered)
	if err != nil {
		return fmt.Errorf("insert firing: %w", err)
	}
	f.ID, err = res.LastInsertId()
	return err
}

func (s *Store) MarkFiringDelivered(ctx context.Context, firingID int64, delivered bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alert_history SET delivered=? WHERE id=?;`, delivered, firingID)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (s *Store) LoadLastFiring(ctx context.Context, alertID int64, resourceID string) (*domain.AlertFiring, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, alert_id, resource_id, fired_at, uptime_seconds, delivered
		FROM alert_history
		WHERE alert_id=? AND resource_id=?
		ORDER BY fired_at DESC LIMIT 1;`, alertID, resourceID)

	var f domain.AlertFiring
	err := row.Scan(&f.ID, &f.AlertID, &f.ResourceID, &f.FiredAt, &f.UptimeSeconds, &f.Delivered)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load last firing: %w", err)
	}
	return &f, nil
}

func (s *Store) LoadFirings(ctx context.Context, resourceID string, limit int) ([]domain.AlertFiring, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, resource_id, fired_at, uptime_seconds, delivered
		FROM alert_history WHERE resource_id=?
		ORDER BY fired_at DESC LIMIT ?;`, resourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("load firings: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertFiring
	for rows.Next() {
		var f domain.AlertFiring
		if err := rows.Scan(&f.ID, &f.AlertID, &f.ResourceID, &f.FiredAt, &f.UptimeSeconds, &f.Delivered); err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ---- AuditStore ----

func (s *Store) LogCommand(ctx context.Context, rec *domain.CommandRecord) error {
	if rec.ExecutedAt.IsZero() {
		rec.ExecutedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO command_log(user_id, username, command, resource_id, success, error_message, executed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		rec.UserID, rec.Username, rec.Command, nullStr(rec.ResourceID), rec.Success, nullStr(rec.Error), rec.ExecutedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	rec.ID, err = res.LastInsertId()
	return err
}

func (s *Store) RecentCommands(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, username, command, resource_id, success, error_message, executed_at
		FROM command_log ORDER BY executed_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent commands: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandRecord
	for rows.Next() {
		var r domain.CommandRecord
		var resID, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.UserID, &r.Username, &r.Command, &resID, &r.Success, &errMsg, &r.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		r.ResourceID = resID.String
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- MetadataStore ----

func (s *Store) SaveMetadata(ctx context.Context, m *domain.ResourceMetadata) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	var launch any
	if m.LaunchTime != nil {
		launch = m.LaunchTime.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resource_metadata(resource_id, instance_class, region, launch_time, tags, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			instance_class=excluded.instance_class,
			region=excluded.region,
			launch_time=excluded.launch_time,
			tags=excluded.tags,
			updated_at=excluded.updated_at;`,
		m.ResourceID, m.InstanceClass, m.Region, launch, string(tags), m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert metadata: %w", err)
	}
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, resourceID string) (*domain.ResourceMetadata, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT resource_id, instance_class, region, launch_time, tags, updated_at
		FROM resource_metadata WHERE resource_id=?;`, resourceID)

	var m domain.ResourceMetadata
	var launch sql.NullTime
	var tags string
	err := row.Scan(&m.ResourceID, &m.InstanceClass, &m.Region, &launch, &tags, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	if launch.Valid {
		t := launch.Time
		m.LaunchTime = &t
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &m, nil
}

func (s *Store) ListMetadata(ctx context.Context) ([]domain.ResourceMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, instance_class, region, launch_time, tags, updated_at
		FROM resource_metadata ORDER BY resource_id;`)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	defer rows.Close()

	var out []domain.ResourceMetadata
	for rows.Next() {
		var m domain.ResourceMetadata
		var launch sql.NullTime
		var tags string
		if err := rows.Scan(&m.ResourceID, &m.InstanceClass, &m.Region, &launch, &tags, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		if launch.Valid {
			t := launch.Time
			m.LaunchTime = &t
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ---- CostStore ----

func (s *Store) RecordCostEstimate(ctx context.Context, e *domain.CostEstimate) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cost_estimates(resource_id, date, estimated_usd, instance_class, region, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id, date) DO UPDATE SET
			estimated_usd=excluded.estimated_usd,
			instance_class=excluded.instance_class,
			region=excluded.region,
			created_at=excluded.created_at
		RETURNING id;`,
		e.ResourceID, e.Date, e.EstimatedUSD, e.InstanceClass, e.Region, e.CreatedAt.UTC()).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("upsert cost: %w", err)
	}
	return nil
}

func (s *Store) CostsBetween(ctx context.Context, fromDate, toDate string) ([]domain.CostEstimate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, resource_id, date, estimated_usd, instance_class, region, created_at
		FROM cost_estimates WHERE date >= ? AND date < ? ORDER BY date;`,
		fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("costs between: %w", err)
	}
	defer rows.Close()

	var out []domain.CostEstimate
	for rows.Next() {
		var e domain.CostEstimate
		if err := rows.Scan(&e.ID, &e.ResourceID, &e.Date, &e.EstimatedUSD, &e.InstanceClass, &e.Region, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cost: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
