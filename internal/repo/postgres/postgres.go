package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/iEdgir01/aws-ec2-discord-controller/internal/domain"
	"github.com/iEdgir01/aws-ec2-discord-controller/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS uptime_sessions(
			id TEXT PRIMARY KEY,
			resource_id TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			stop_time TIMESTAMPTZ,
			recovered BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_resource ON uptime_sessions(resource_id)`,
		`CREATE TABLE IF NOT EXISTS alert_config(
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			threshold_hours DOUBLE PRECISION NOT NULL,
			reminder_interval_hours DOUBLE PRECISION NOT NULL DEFAULT 0,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			channel_id TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alert_history(
			id BIGSERIAL PRIMARY KEY,
			alert_id BIGINT NOT NULL,
			resource_id TEXT NOT NULL,
			fired_at TIMESTAMPTZ NOT NULL,
			uptime_seconds BIGINT NOT NULL,
			delivered BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_pair ON alert_history(alert_id, resource_id, fired_at)`,
		`CREATE TABLE IF NOT EXISTS command_log(
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			command TEXT NOT NULL,
			resource_id TEXT,
			success BOOLEAN NOT NULL,
			error_message TEXT,
			executed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS resource_metadata(
			resource_id TEXT PRIMARY KEY,
			instance_class TEXT,
			region TEXT,
			launch_time TIMESTAMPTZ,
			tags JSONB,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cost_estimates(
			id BIGSERIAL PRIMARY KEY,
			resource_id TEXT NOT NULL,
			date TEXT NOT NULL,
			estimated_usd DOUBLE PRECISION NOT NULL,
			instance_class TEXT,
			region TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_costs_resource_date ON cost_estimates(resource_id, date)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ---- SessionStore ----

func (s *Store) SaveSession(ctx context.Context, sess *domain.UptimeSession) error {
	var open int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM uptime_sessions
		  WHERE resource_id=$1 AND stop_time IS NULL`, sess.ResourceID).Scan(&open)
	if err != nil {
		return fmt.Errorf("check open session: %w", err)
	}
	if open > 0 {
		return &domain.StateConflict{ResourceID: sess.ResourceID, Detail: "open session already exists"}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO uptime_sessions (id, resource_id, start_time)
		 VALUES ($1, $2, $3)`,
		sess.ID, sess.ResourceID, sess.StartTime.UTC())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) CloseSession(ctx context.Context, sessionID string, stopTime time.Time, recovered bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE uptime_sessions SET stop_time=$1, recovered=$2
		 WHERE id=$3 AND stop_time IS NULL`,
		stopTime.UTC(), recovered, sessionID)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("close session %s: no open row", sessionID)
	}
	return nil
}

func (s *Store) OpenSession(ctx context.Context, resourceID string) (*domain.UptimeSession, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, resource_id, start_time, stop_time, recovered
		   FROM uptime_sessions
		  WHERE resource_id=$1 AND stop_time IS NULL
		  ORDER BY start_time DESC LIMIT 1`, resourceID)

	var sess domain.UptimeSession
	err := row.Scan(&sess.ID, &sess.ResourceID, &sess.StartTime, &sess.StopTime, &sess.Recovered)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("open session: %w", err)
	}
	return &sess, nil
}

func (s *Store) LoadOpenSessions(ctx context.Context) ([]domain.UptimeSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, resource_id, start_time, stop_time, recovered
		   FROM uptime_sessions WHERE stop_time IS NULL ORDER BY start_time`)
	if err != nil {
		return nil, fmt.Errorf("load open sessions: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *Store) SessionsOverlapping(ctx context.Context, resourceID string, from, to time.Time) ([]domain.UptimeSession, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, resource_id, start_time, stop_time, recovered
		   FROM uptime_sessions
		  WHERE resource_id=$1
		    AND start_time < $2
		    AND (stop_time IS NULL OR stop_time > $3)
		  ORDER BY start_time`,
		resourceID, to.UTC(), from.UTC())
	if err != nil {
		return nil, fmt.Errorf("sessions overlapping: %w", err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func collectSessions(rows pgx.Rows) ([]domain.UptimeSession, error) {
	var out []domain.UptimeSession
	for rows.Next() {
		var sess domain.UptimeSession
		if err := rows.Scan(&sess.ID, &sess.ResourceID, &sess.StartTime, &sess.StopTime, &sess.Recovered); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// ---- AlertStore ----

func (s *Store) SaveAlertConfig(ctx context.Context, c *domain.AlertConfig) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO alert_config (name, threshold_hours, reminder_interval_hours, enabled, channel_id, created_at)
		 VALUES ($1,$2,$3,$4,NULLIF($5,''),$6) RETURNING id`,
		c.Name, c.ThresholdHours, c.ReminderIntervalHours, c.Enabled, c.ChannelID, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert alert config: %w", err)
	}
	return nil
}

func (s *Store) UpdateAlertConfig(ctx context.Context, c *domain.AlertConfig) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alert_config
		    SET name=$1, threshold_hours=$2, reminder_interval_hours=$3, enabled=$4, channel_id=NULLIF($5,'')
		  WHERE id=$6`,
		c.Name, c.ThresholdHours, c.ReminderIntervalHours, c.Enabled, c.ChannelID, c.ID)
	if err != nil {
		return fmt.Errorf("update alert config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update alert config %d: %w", c.ID, repo.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteAlertConfig(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM alert_config WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete alert config: %w", err)
	}
	return nil
}

func (s *Store) LoadAlertConfigs(ctx context.Context, enabledOnly bool) ([]domain.AlertConfig, error) {
	q := `SELECT id, name, threshold_hours, reminder_interval_hours, enabled, COALESCE(channel_id,''), created_at
	        FROM alert_config`
	if enabledOnly {
		q += ` WHERE enabled`
	}
	q += ` ORDER BY threshold_hours`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load alert configs: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertConfig
	for rows.Next() {
		var c domain.AlertConfig
		if err := rows.Scan(&c.ID, &c.Name, &c.ThresholdHours, &c.ReminderIntervalHours, &c.Enabled, &c.ChannelID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert config: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) SaveAlertFiring(ctx context.Context, f *domain.AlertFiring) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO alert_history (alert_id, resource_id, fired_at, uptime_seconds, delivered)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		f.AlertID, f.ResourceID, f.FiredAt.UTC(), f.UptimeSeconds, f.Delivered,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("insert firing: %w", err)
	}
	return nil
}

func (s *Store) MarkFiringDelivered(ctx context.Context, firingID int64, delivered bool) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE alert_history SET delivered=$1 WHERE id=$2`, delivered, firingID); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (s *Store) LoadLastFiring(ctx context.Context, alertID int64, resourceID string) (*domain.AlertFiring, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, alert_id, resource_id, fired_at, uptime_seconds, delivered
		   FROM alert_history
		  WHERE alert_id=$1 AND resource_id=$2
		  ORDER BY fired_at DESC LIMIT 1`, alertID, resourceID)

	var f domain.AlertFiring
	err := row.Scan(&f.ID, &f.AlertID, &f.ResourceID, &f.FiredAt, &f.UptimeSeconds, &f.Delivered)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load last firing: %w", err)
	}
	return &f, nil
}

func (s *Store) LoadFirings(ctx context.Context, resourceID string, limit int) ([]domain.AlertFiring, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, alert_id, resource_id, fired_at, uptime_seconds, delivered
		   FROM alert_history WHERE resource_id=$1
		  ORDER BY fired_at DESC LIMIT $2`, resourceID, limit)
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
	err := s.pool.QueryRow(ctx,
		`INSERT INTO command_log (user_id, username, command, resource_id, success, error_message, executed_at)
		 VALUES ($1,$2,$3,NULLIF($4,''),$5,NULLIF($6,''),$7) RETURNING id`,
		rec.UserID, rec.Username, rec.Command, rec.ResourceID, rec.Success, rec.Error, rec.ExecutedAt.UTC(),
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

func (s *Store) RecentCommands(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, username, command, COALESCE(resource_id,''), success, COALESCE(error_message,''), executed_at
		   FROM command_log ORDER BY executed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent commands: %w", err)
	}
	defer rows.Close()

	var out []domain.CommandRecord
	for rows.Next() {
		var r domain.CommandRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.Username, &r.Command, &r.ResourceID, &r.Success, &r.Error, &r.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
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
	_, err = s.pool.Exec(ctx,
		`INSERT INTO resource_metadata (resource_id, instance_class, region, launch_time, tags, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (resource_id)
		 DO UPDATE SET instance_class=EXCLUDED.instance_class, region=EXCLUDED.region,
		               launch_time=EXCLUDED.launch_time, tags=EXCLUDED.tags, updated_at=EXCLUDED.updated_at`,
		m.ResourceID, m.InstanceClass, m.Region, m.LaunchTime, tags, m.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert metadata: %w", err)
	}
	return nil
}

func (s *Store) GetMetadata(ctx context.Context, resourceID string) (*domain.ResourceMetadata, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT resource_id, instance_class, region, launch_time, tags, updated_at
		   FROM resource_metadata WHERE resource_id=$1`, resourceID)

	var m domain.ResourceMetadata
	var tags []byte
	err := row.Scan(&m.ResourceID, &m.InstanceClass, &m.Region, &m.LaunchTime, &tags, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &m.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &m, nil
}

func (s *Store) ListMetadata(ctx context.Context) ([]domain.ResourceMetadata, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT resource_id, instance_class, region, launch_time, tags, updated_at
		   FROM resource_metadata ORDER BY resource_id`)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	defer rows.Close()

	var out []domain.ResourceMetadata
	for rows.Next() {
		var m domain.ResourceMetadata
		var tags []byte
		if err := rows.Scan(&m.ResourceID, &m.InstanceClass, &m.Region, &m.LaunchTime, &tags, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		if len(tags) > 0 {
			if err := json.Unmarshal(tags, &m.Tags); err != nil {
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
	err := s.pool.QueryRow(ctx,
		`INSERT INTO cost_estimates (resource_id, date, estimated_usd, instance_class, region, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (resource_id, date)
		 DO UPDATE SET estimated_usd=EXCLUDED.estimated_usd, instance_class=EXCLUDED.instance_class,
		               region=EXCLUDED.region, created_at=EXCLUDED.created_at
		 RETURNING id`,
		e.ResourceID, e.Date, e.EstimatedUSD, e.InstanceClass, e.Region, e.CreatedAt.UTC(),
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("upsert cost: %w", err)
	}
	return nil
}

func (s *Store) CostsBetween(ctx context.Context, fromDate, toDate string) ([]domain.CostEstimate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, resource_id, date, estimated_usd, COALESCE(instance_class,''), COALESCE(region,''), created_at
		   FROM cost_estimates WHERE date >= $1 AND date < $2 ORDER BY date`,
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
