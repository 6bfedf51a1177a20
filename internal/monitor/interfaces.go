package monitor

import (
	"context"
	"io"
	"time"
)

// RunStore claims and transitions monitor runs.
type RunStore interface {
	// CreateRun queues a new run for the source that is due at at. When the
	// source already has a queued or running run, its id is returned instead.
	CreateRun(ctx context.Context, orgID, sourceID string, at time.Time) (string, error)
	// EnqueueDueRuns creates a queued run for up to limit enabled sources
	// that are due at now and have no queued or running run. It returns the
	// number of runs created.
	EnqueueDueRuns(ctx context.Context, now time.Time, limit int) (int, error)
	// ClaimDueRuns atomically moves up to limit runs into running and
	// returns them: queued runs whose NextAttemptAt is not after now, and
	// running runs whose lease expired. Claimed runs hold a lease until
	// now+lease; a non-positive lease claims without one.
	ClaimDueRuns(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]Run, error)
	// MarkRunAttemptStarted durably records that attempt number attempt began.
	MarkRunAttemptStarted(ctx context.Context, runID string, attempt int, at time.Time) error
	// SetRunState moves a run to status. Terminal runs are never changed.
	SetRunState(ctx context.Context, runID string, status RunStatus, errText string, deadLetter bool, at time.Time) error
	ScheduleRunRetry(ctx context.Context, runID string, nextAttemptAt time.Time, errText string) error
	GetRun(ctx context.Context, runID string) (Run, error)
}

// SourceStore reads sources and records fetch metadata after a run.
type SourceStore interface {
	// GetSource returns ErrNotFound when no source has the id.
	GetSource(ctx context.Context, sourceID string) (Source, error)
	UpdateSourceFetchMeta(ctx context.Context, sourceID, etag, lastModified, contentHash string, fetchedAt time.Time) error
}

// SnapshotStore persists extracted snapshots.
type SnapshotStore interface {
	// GetLatestSnapshot returns the newest snapshot for the source written by
	// a run other than excludeRunID, or nil without error when none exists.
	GetLatestSnapshot(ctx context.Context, sourceID, excludeRunID string) (*Snapshot, error)
	// InsertSnapshot stores one snapshot per run; a retried run replaces the
	// snapshot written by its earlier attempt.
	InsertSnapshot(ctx context.Context, snap Snapshot) (string, error)
}

// FindingStore persists findings and their alerts.
type FindingStore interface {
	// UpsertFinding returns the id of the existing finding with the same
	// source and fingerprint, or inserts a new one.
	UpsertFinding(ctx context.Context, finding Finding) (string, error)
	// UpsertAlertForFinding returns the open alert id for the finding and
	// whether it was created by this call.
	UpsertAlertForFinding(ctx context.Context, orgID, findingID string, at time.Time) (string, bool, error)
}

// TaskStore exposes the task verbs used by the SLA scan.
type TaskStore interface {
	ListSLAOrgIDs(ctx context.Context) ([]string, error)
	SelectOpenTasksForSLA(ctx context.Context, orgID string) ([]Task, error)
	UpdateTaskSLAState(ctx context.Context, taskID string, state SLAState) error
	// CreateEscalationIfAbsent inserts the escalation and returns it, or
	// returns nil when one already exists for (task, kind, window).
	CreateEscalationIfAbsent(
		ctx context.Context,
		orgID, taskID string,
		kind EscalationKind,
		windowStart time.Time,
		at time.Time,
	) (*Escalation, error)
}

// NotificationStore queues outbound notification jobs.
type NotificationStore interface {
	EnqueueNotificationJob(ctx context.Context, orgID, jobType string, payload map[string]any, at time.Time) (string, error)
}

// Store bundles every storage verb consumed by the core.
type Store interface {
	RunStore
	SourceStore
	SnapshotStore
	FindingStore
	TaskStore
	NotificationStore
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes domain events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Processor is one job type driven by the scheduler.
type Processor interface {
	Name() string
	ProcessDue(ctx context.Context, now time.Time) BatchResult
}
