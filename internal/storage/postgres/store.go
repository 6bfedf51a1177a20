// Package postgres provides the Postgres-backed monitor.Store.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/source-monitor/internal/id/uuid"
	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// Schema creates every table the store uses. Statements are idempotent.
//
//go:embed schema.sql
var Schema string

const foreignKeyViolation = "23503"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store implements monitor.Store on Postgres.
type Store struct {
	pool pool
	ids  monitor.IDGenerator
}

// New connects a pgx pool using cfg.
func New(ctx context.Context, cfg Config, ids monitor.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(p, ids)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, ids monitor.IDGenerator) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		ids = uuid.New()
	}
	return &Store{pool: p, ids: ids}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) newID() (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}

const runColumns = `id, org_id, source_id, status, attempts, last_error, dead_lettered,
	next_attempt_at, created_at, started_at, finished_at, lease_expires_at`

func scanRun(row pgx.Row) (monitor.Run, error) {
	var (
		run    monitor.Run
		status string
	)
	err := row.Scan(
		&run.ID,
		&run.OrgID,
		&run.SourceID,
		&status,
		&run.Attempts,
		&run.LastError,
		&run.DeadLettered,
		&run.NextAttemptAt,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
		&run.LeaseExpiresAt,
	)
	run.Status = monitor.RunStatus(status)
	return run, err
}

// CreateRun implements monitor.RunStore. The partial unique index on active
// runs turns a duplicate insert into a lookup of the run already queued.
func (s *Store) CreateRun(ctx context.Context, orgID, sourceID string, at time.Time) (string, error) {
	id, err := s.newID()
	if err != nil {
		return "", err
	}
	query := `
		WITH inserted AS (
			INSERT INTO monitor_runs (id, org_id, source_id, status, next_attempt_at, created_at)
			VALUES ($1, $2, $3, 'queued', $4, $4)
			ON CONFLICT (source_id) WHERE status IN ('queued', 'running') DO NOTHING
			RETURNING id
		)
		SELECT id FROM inserted
		UNION ALL
		SELECT id FROM monitor_runs WHERE source_id = $3 AND status IN ('queued', 'running')
		LIMIT 1;
	`
	var runID string
	if err := s.pool.QueryRow(ctx, query, id, orgID, sourceID, at).Scan(&runID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return "", fmt.Errorf("source %s: %w", sourceID, monitor.ErrNotFound)
		}
		return "", fmt.Errorf("create run: %w", err)
	}
	return runID, nil
}

// EnqueueDueRuns implements monitor.RunStore. A source is due when the later
// of its last fetch and its newest run is at least one cadence old.
func (s *Store) EnqueueDueRuns(ctx context.Context, now time.Time, limit int) (int, error) {
	query := `
		SELECT s.id, s.org_id
		FROM sources s
		LEFT JOIN LATERAL (
			SELECT max(r.created_at) AS last_run_at,
				bool_or(r.status IN ('queued', 'running')) AS active
			FROM monitor_runs r
			WHERE r.source_id = s.id
		) runs ON TRUE
		WHERE s.enabled
			AND NOT COALESCE(runs.active, FALSE)
			AND (
				GREATEST(s.last_fetched_at, runs.last_run_at) IS NULL
				OR GREATEST(s.last_fetched_at, runs.last_run_at)
					+ make_interval(secs => CASE WHEN s.cadence_seconds > 0 THEN s.cadence_seconds ELSE $3 END) <= $1
			)
		ORDER BY GREATEST(s.last_fetched_at, runs.last_run_at) NULLS FIRST, s.id
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, query, now, limit, int64(monitor.DefaultCadence/time.Second))
	if err != nil {
		return 0, fmt.Errorf("select due sources: %w", err)
	}
	type dueSource struct{ id, orgID string }
	due := make([]dueSource, 0, limit)
	for rows.Next() {
		var d dueSource
		if err := rows.Scan(&d.id, &d.orgID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan due source: %w", err)
		}
		due = append(due, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("select due sources: %w", err)
	}

	insert := `
		INSERT INTO monitor_runs (id, org_id, source_id, status, next_attempt_at, created_at)
		VALUES ($1, $2, $3, 'queued', $4, $4)
		ON CONFLICT (source_id) WHERE status IN ('queued', 'running') DO NOTHING;
	`
	created := 0
	for _, d := range due {
		id, err := s.newID()
		if err != nil {
			return created, err
		}
		tag, err := s.pool.Exec(ctx, insert, id, d.orgID, d.id, now)
		if err != nil {
			return created, fmt.Errorf("enqueue run for %s: %w", d.id, err)
		}
		created += int(tag.RowsAffected())
	}
	return created, nil
}

// ClaimDueRuns implements monitor.RunStore. Concurrent claimers skip rows
// locked by each other.
func (s *Store) ClaimDueRuns(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]monitor.Run, error) {
	var leaseExpiresAt *time.Time
	if lease > 0 {
		t := now.Add(lease)
		leaseExpiresAt = &t
	}
	query := `
		UPDATE monitor_runs
		SET status = 'running', lease_expires_at = $3
		WHERE id IN (
			SELECT id FROM monitor_runs
			WHERE (status = 'queued' AND next_attempt_at <= $1)
				OR (status = 'running' AND lease_expires_at <= $1)
			ORDER BY next_attempt_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + runColumns
	rows, err := s.pool.Query(ctx, query, now, limit, leaseExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("claim due runs: %w", err)
	}
	defer rows.Close()

	runs := make([]monitor.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim due runs: %w", err)
	}
	return runs, nil
}

// MarkRunAttemptStarted implements monitor.RunStore.
func (s *Store) MarkRunAttemptStarted(ctx context.Context, runID string, attempt int, at time.Time) error {
	query := `
		UPDATE monitor_runs
		SET attempts = $2, started_at = COALESCE(started_at, $3)
		WHERE id = $1 AND status = 'running';
	`
	tag, err := s.pool.Exec(ctx, query, runID, attempt, at)
	if err != nil {
		return fmt.Errorf("mark attempt started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark attempt started %s: %w", runID, monitor.ErrInvalidTransition)
	}
	return nil
}

// SetRunState implements monitor.RunStore.
func (s *Store) SetRunState(
	ctx context.Context,
	runID string,
	status monitor.RunStatus,
	errText string,
	deadLetter bool,
	at time.Time,
) error {
	var finished *time.Time
	if status.Terminal() {
		finished = &at
	}
	query := `
		UPDATE monitor_runs
		SET status = $2, last_error = $3, dead_lettered = $4,
			finished_at = COALESCE($5, finished_at),
			lease_expires_at = CASE WHEN $5::timestamptz IS NULL THEN lease_expires_at END
		WHERE id = $1 AND status NOT IN ('succeeded', 'failed');
	`
	tag, err := s.pool.Exec(ctx, query, runID, string(status), errText, deadLetter, finished)
	if err != nil {
		return fmt.Errorf("set run state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set run state %s: %w", runID, monitor.ErrInvalidTransition)
	}
	return nil
}

// ScheduleRunRetry implements monitor.RunStore.
func (s *Store) ScheduleRunRetry(ctx context.Context, runID string, nextAttemptAt time.Time, errText string) error {
	query := `
		UPDATE monitor_runs
		SET status = 'queued', next_attempt_at = $2, last_error = $3, lease_expires_at = NULL
		WHERE id = $1 AND status NOT IN ('succeeded', 'failed');
	`
	tag, err := s.pool.Exec(ctx, query, runID, nextAttemptAt, errText)
	if err != nil {
		return fmt.Errorf("schedule run retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("schedule run retry %s: %w", runID, monitor.ErrInvalidTransition)
	}
	return nil
}

// GetRun implements monitor.RunStore.
func (s *Store) GetRun(ctx context.Context, runID string) (monitor.Run, error) {
	query := `SELECT ` + runColumns + ` FROM monitor_runs WHERE id = $1;`
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Run{}, monitor.ErrNotFound
		}
		return monitor.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// GetSource implements monitor.SourceStore.
func (s *Store) GetSource(ctx context.Context, sourceID string) (monitor.Source, error) {
	query := `
		SELECT id, org_id, url, kind, config, enabled, cadence_seconds, severity,
			etag, last_modified, last_content_hash, last_fetched_at
		FROM sources
		WHERE id = $1;
	`
	var (
		src     monitor.Source
		kind    string
		config  []byte
		cadence int64
	)
	err := s.pool.QueryRow(ctx, query, sourceID).Scan(
		&src.ID,
		&src.OrgID,
		&src.URL,
		&kind,
		&config,
		&src.Enabled,
		&cadence,
		&src.Severity,
		&src.ETag,
		&src.LastModified,
		&src.LastContentHash,
		&src.LastFetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monitor.Source{}, monitor.ErrNotFound
		}
		return monitor.Source{}, fmt.Errorf("get source: %w", err)
	}
	src.Kind = monitor.SourceKind(kind)
	src.Cadence = time.Duration(cadence) * time.Second
	if len(config) > 0 {
		if err := json.Unmarshal(config, &src.Config); err != nil {
			return monitor.Source{}, fmt.Errorf("decode source config: %w", err)
		}
	}
	return src, nil
}

// UpdateSourceFetchMeta implements monitor.SourceStore.
func (s *Store) UpdateSourceFetchMeta(
	ctx context.Context,
	sourceID, etag, lastModified, contentHash string,
	fetchedAt time.Time,
) error {
	query := `
		UPDATE sources
		SET etag = $2, last_modified = $3, last_content_hash = $4, last_fetched_at = $5
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, sourceID, etag, lastModified, contentHash, fetchedAt)
	if err != nil {
		return fmt.Errorf("update source fetch meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

const snapshotColumns = `id, org_id, source_id, run_id, content_hash, raw_bytes_hash,
	text_fingerprint, text_preview, text, title, item_id, item_published_at,
	etag, last_modified, status_code, content_type, byte_length, raw_ref,
	not_modified, changed, fetched_at`

// GetLatestSnapshot implements monitor.SnapshotStore.
func (s *Store) GetLatestSnapshot(ctx context.Context, sourceID, excludeRunID string) (*monitor.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE source_id = $1 AND run_id <> $2
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1;`
	var snap monitor.Snapshot
	err := s.pool.QueryRow(ctx, query, sourceID, excludeRunID).Scan(
		&snap.ID,
		&snap.OrgID,
		&snap.SourceID,
		&snap.RunID,
		&snap.ContentHash,
		&snap.RawBytesHash,
		&snap.TextFingerprint,
		&snap.TextPreview,
		&snap.Text,
		&snap.Title,
		&snap.ItemID,
		&snap.ItemPublishedAt,
		&snap.ETag,
		&snap.LastModified,
		&snap.StatusCode,
		&snap.ContentType,
		&snap.ByteLength,
		&snap.RawRef,
		&snap.NotModified,
		&snap.Changed,
		&snap.FetchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	return &snap, nil
}

// InsertSnapshot implements monitor.SnapshotStore. A second write for the
// same run overwrites the first and keeps its id.
func (s *Store) InsertSnapshot(ctx context.Context, snap monitor.Snapshot) (string, error) {
	id := snap.ID
	if id == "" {
		var err error
		if id, err = s.newID(); err != nil {
			return "", err
		}
	}
	query := `
		INSERT INTO snapshots (` + snapshotColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (run_id) DO UPDATE SET
			content_hash = EXCLUDED.content_hash,
			raw_bytes_hash = EXCLUDED.raw_bytes_hash,
			text_fingerprint = EXCLUDED.text_fingerprint,
			text_preview = EXCLUDED.text_preview,
			text = EXCLUDED.text,
			title = EXCLUDED.title,
			item_id = EXCLUDED.item_id,
			item_published_at = EXCLUDED.item_published_at,
			etag = EXCLUDED.etag,
			last_modified = EXCLUDED.last_modified,
			status_code = EXCLUDED.status_code,
			content_type = EXCLUDED.content_type,
			byte_length = EXCLUDED.byte_length,
			raw_ref = EXCLUDED.raw_ref,
			not_modified = EXCLUDED.not_modified,
			changed = EXCLUDED.changed,
			fetched_at = EXCLUDED.fetched_at
		RETURNING id;
	`
	args := []any{
		id,
		snap.OrgID,
		snap.SourceID,
		snap.RunID,
		snap.ContentHash,
		snap.RawBytesHash,
		snap.TextFingerprint,
		snap.TextPreview,
		snap.Text,
		snap.Title,
		snap.ItemID,
		snap.ItemPublishedAt,
		snap.ETag,
		snap.LastModified,
		snap.StatusCode,
		snap.ContentType,
		snap.ByteLength,
		snap.RawRef,
		snap.NotModified,
		snap.Changed,
		snap.FetchedAt,
	}
	var stored string
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&stored); err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return stored, nil
}

// UpsertFinding implements monitor.FindingStore.
func (s *Store) UpsertFinding(ctx context.Context, f monitor.Finding) (string, error) {
	id := f.ID
	if id == "" {
		var err error
		if id, err = s.newID(); err != nil {
			return "", err
		}
	}
	citations, err := json.Marshal(citationsOrEmpty(f.Citations))
	if err != nil {
		return "", fmt.Errorf("marshal citations: %w", err)
	}
	insert := `
		INSERT INTO findings (
			id, org_id, source_id, run_id, snapshot_id, title, summary,
			diff_preview, citations, severity, fingerprint, raw_ref, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (source_id, fingerprint) DO NOTHING
		RETURNING id;
	`
	var stored string
	err = s.pool.QueryRow(ctx, insert,
		id,
		f.OrgID,
		f.SourceID,
		f.RunID,
		f.SnapshotID,
		f.Title,
		f.Summary,
		f.DiffPreview,
		citations,
		f.Severity,
		f.Fingerprint,
		f.RawRef,
		f.CreatedAt,
	).Scan(&stored)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("insert finding: %w", err)
	}

	existing := `SELECT id FROM findings WHERE source_id = $1 AND fingerprint = $2;`
	if err := s.pool.QueryRow(ctx, existing, f.SourceID, f.Fingerprint).Scan(&stored); err != nil {
		return "", fmt.Errorf("select existing finding: %w", err)
	}
	return stored, nil
}

func citationsOrEmpty(c []monitor.Citation) []monitor.Citation {
	if c == nil {
		return []monitor.Citation{}
	}
	return c
}

// UpsertAlertForFinding implements monitor.FindingStore.
func (s *Store) UpsertAlertForFinding(ctx context.Context, orgID, findingID string, at time.Time) (string, bool, error) {
	id, err := s.newID()
	if err != nil {
		return "", false, err
	}
	insert := `
		INSERT INTO alerts (id, org_id, finding_id, status, created_at)
		VALUES ($1, $2, $3, 'open', $4)
		ON CONFLICT (finding_id) WHERE status = 'open' DO NOTHING
		RETURNING id;
	`
	var stored string
	err = s.pool.QueryRow(ctx, insert, id, orgID, findingID, at).Scan(&stored)
	if err == nil {
		return stored, true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return "", false, fmt.Errorf("finding %s: %w", findingID, monitor.ErrNotFound)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("insert alert: %w", err)
	}

	existing := `SELECT id FROM alerts WHERE finding_id = $1 AND status = 'open';`
	if err := s.pool.QueryRow(ctx, existing, findingID).Scan(&stored); err != nil {
		return "", false, fmt.Errorf("select open alert: %w", err)
	}
	return stored, false, nil
}

// ListSLAOrgIDs implements monitor.TaskStore.
func (s *Store) ListSLAOrgIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT org_id FROM tasks
		WHERE status <> ALL($1)
		ORDER BY org_id;
	`
	rows, err := s.pool.Query(ctx, query, monitor.ClosedTaskStatuses)
	if err != nil {
		return nil, fmt.Errorf("list sla orgs: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, fmt.Errorf("scan sla org: %w", err)
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sla orgs: %w", err)
	}
	return orgs, nil
}

// SelectOpenTasksForSLA implements monitor.TaskStore.
func (s *Store) SelectOpenTasksForSLA(ctx context.Context, orgID string) ([]monitor.Task, error) {
	query := `
		SELECT id, org_id, title, priority, status, created_at, due_at, sla_state
		FROM tasks
		WHERE org_id = $1 AND status <> ALL($2)
		ORDER BY id;
	`
	rows, err := s.pool.Query(ctx, query, orgID, monitor.ClosedTaskStatuses)
	if err != nil {
		return nil, fmt.Errorf("select sla tasks: %w", err)
	}
	defer rows.Close()

	var tasks []monitor.Task
	for rows.Next() {
		var (
			task  monitor.Task
			state string
		)
		if err := rows.Scan(
			&task.ID,
			&task.OrgID,
			&task.Title,
			&task.Priority,
			&task.Status,
			&task.CreatedAt,
			&task.DueAt,
			&state,
		); err != nil {
			return nil, fmt.Errorf("scan sla task: %w", err)
		}
		task.SLAState = monitor.SLAState(state)
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select sla tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskSLAState implements monitor.TaskStore.
func (s *Store) UpdateTaskSLAState(ctx context.Context, taskID string, state monitor.SLAState) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tasks SET sla_state = $2 WHERE id = $1;`, taskID, string(state))
	if err != nil {
		return fmt.Errorf("update task sla state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrNotFound
	}
	return nil
}

// CreateEscalationIfAbsent implements monitor.TaskStore.
func (s *Store) CreateEscalationIfAbsent(
	ctx context.Context,
	orgID, taskID string,
	kind monitor.EscalationKind,
	windowStart time.Time,
	at time.Time,
) (*monitor.Escalation, error) {
	id, err := s.newID()
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO task_escalations (id, org_id, task_id, kind, window_start, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (task_id, kind, window_start) DO NOTHING
		RETURNING id;
	`
	var stored string
	err = s.pool.QueryRow(ctx, query, id, orgID, taskID, string(kind), windowStart, at).Scan(&stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("create escalation: %w", err)
	}
	return &monitor.Escalation{
		ID:          stored,
		OrgID:       orgID,
		TaskID:      taskID,
		Kind:        kind,
		WindowStart: windowStart,
		CreatedAt:   at,
	}, nil
}

// EnqueueNotificationJob implements monitor.NotificationStore.
func (s *Store) EnqueueNotificationJob(
	ctx context.Context,
	orgID, jobType string,
	payload map[string]any,
	at time.Time,
) (string, error) {
	id, err := s.newID()
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal notification payload: %w", err)
	}
	query := `
		INSERT INTO notification_jobs (id, org_id, type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, 'queued', $5);
	`
	if _, err := s.pool.Exec(ctx, query, id, orgID, jobType, body, at); err != nil {
		return "", fmt.Errorf("enqueue notification job: %w", err)
	}
	return id, nil
}

var _ monitor.Store = (*Store)(nil)
