package monitor

import (
	"slices"
	"time"
)

// SourceKind selects the content adapter used for a source.
type SourceKind string

// Supported adapter kinds.
const (
	KindHTML           SourceKind = "html"
	KindRSS            SourceKind = "rss"
	KindPDF            SourceKind = "pdf"
	KindGitHubReleases SourceKind = "github_releases"
)

// Normalize returns the kind, defaulting an empty value to html.
func (k SourceKind) Normalize() SourceKind {
	if k == "" {
		return KindHTML
	}
	return k
}

// Source is a monitored external document owned by an org.
type Source struct {
	ID              string            `json:"id"`
	OrgID           string            `json:"org_id"`
	URL             string            `json:"url"`
	Kind            SourceKind        `json:"kind"`
	Config          map[string]string `json:"config,omitempty"`
	Enabled         bool              `json:"enabled"`
	Cadence         time.Duration     `json:"cadence"`
	Severity        string            `json:"severity,omitempty"`
	ETag            string            `json:"etag,omitempty"`
	LastModified    string            `json:"last_modified,omitempty"`
	LastContentHash string            `json:"last_content_hash,omitempty"`
	LastFetchedAt   *time.Time        `json:"last_fetched_at,omitempty"`
}

// DefaultCadence applies to sources stored without a positive cadence.
const DefaultCadence = time.Hour

// NextDueAt returns when the source should next be polled. lastRunAt is the
// creation time of the newest run for the source, zero when it has none. A
// source never fetched nor run is due from the zero time.
func (s Source) NextDueAt(lastRunAt time.Time) time.Time {
	last := lastRunAt
	if s.LastFetchedAt != nil && s.LastFetchedAt.After(last) {
		last = *s.LastFetchedAt
	}
	if last.IsZero() {
		return time.Time{}
	}
	cadence := s.Cadence
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	return last.Add(cadence)
}

// DueAt reports whether an enabled source needs a new run at now.
func (s Source) DueAt(now, lastRunAt time.Time) bool {
	return s.Enabled && !s.NextDueAt(lastRunAt).After(now)
}

// RunStatus represents the lifecycle state of a monitor run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Run is one polling attempt for one source.
type Run struct {
	ID            string     `json:"id"`
	OrgID         string     `json:"org_id"`
	SourceID      string     `json:"source_id"`
	Status        RunStatus  `json:"status"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"last_error,omitempty"`
	DeadLettered  bool       `json:"dead_lettered"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	// LeaseExpiresAt is set while a run is claimed. A running run whose
	// lease has passed is claimable again.
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
}

// Identity tells change detection which field carries the content identity.
type Identity string

// Identity values.
const (
	// IdentityHash compares ContentHash against the previous snapshot.
	IdentityHash Identity = "hash"
	// IdentityItem compares ItemID against the previous snapshot.
	IdentityItem Identity = "item"
)

// ResponseMeta is the HTTP metadata observed by an adapter fetch.
type ResponseMeta struct {
	StatusCode   int    `json:"status_code"`
	ContentType  string `json:"content_type"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	ByteLength   int    `json:"byte_length"`
	FetchedURL   string `json:"fetched_url"`
}

// AdapterResult is the ephemeral output of one adapter invocation.
type AdapterResult struct {
	Title           string
	Text            string
	ItemID          string
	ItemPublishedAt *time.Time
	Meta            ResponseMeta
	RawBytesHash    string
	ContentHash     string
	Identity        Identity
	NotModified     bool
	// Raw holds the fetched bytes for archival. Empty on 304.
	Raw []byte
}

// Snapshot is the extracted state recorded by a run.
type Snapshot struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	SourceID        string     `json:"source_id"`
	RunID           string     `json:"run_id"`
	ContentHash     string     `json:"content_hash"`
	RawBytesHash    string     `json:"raw_bytes_hash,omitempty"`
	TextFingerprint string     `json:"text_fingerprint,omitempty"`
	TextPreview     string     `json:"text_preview,omitempty"`
	Text            string     `json:"text,omitempty"`
	Title           string     `json:"title,omitempty"`
	ItemID          string     `json:"item_id,omitempty"`
	ItemPublishedAt *time.Time `json:"item_published_at,omitempty"`
	ETag            string     `json:"etag,omitempty"`
	LastModified    string     `json:"last_modified,omitempty"`
	StatusCode      int        `json:"status_code"`
	ContentType     string     `json:"content_type,omitempty"`
	ByteLength      int        `json:"byte_length"`
	RawRef          string     `json:"raw_ref,omitempty"`
	NotModified     bool       `json:"not_modified"`
	Changed         bool       `json:"changed"`
	FetchedAt       time.Time  `json:"fetched_at"`
}

// Citation quotes one changed line together with its diff hunk header.
type Citation struct {
	Hunk   string `json:"hunk"`
	Quote  string `json:"quote"`
	Change string `json:"change"`
}

// Finding records a detected content change.
type Finding struct {
	ID          string     `json:"id"`
	OrgID       string     `json:"org_id"`
	SourceID    string     `json:"source_id"`
	RunID       string     `json:"run_id"`
	SnapshotID  string     `json:"snapshot_id"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	DiffPreview string     `json:"diff_preview,omitempty"`
	Citations   []Citation `json:"citations,omitempty"`
	Severity    string     `json:"severity"`
	Fingerprint string     `json:"fingerprint"`
	RawRef      string     `json:"raw_ref,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// AlertStatus tracks whether an alert still needs attention.
type AlertStatus string

// Alert statuses.
const (
	AlertStatusOpen     AlertStatus = "open"
	AlertStatusResolved AlertStatus = "resolved"
)

// Alert is the deduplicated, actionable record derived from a finding.
type Alert struct {
	ID        string      `json:"id"`
	OrgID     string      `json:"org_id"`
	FindingID string      `json:"finding_id"`
	Status    AlertStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// SLAState is the escalation state of an open task.
type SLAState string

// SLA states in forward order.
const (
	SLAOnTrack SLAState = "on_track"
	SLADueSoon SLAState = "due_soon"
	SLAOverdue SLAState = "overdue"
)

// Rank orders SLA states so transitions can be kept monotonic.
func (s SLAState) Rank() int {
	switch s {
	case SLADueSoon:
		return 1
	case SLAOverdue:
		return 2
	default:
		return 0
	}
}

// Task is an open work item tracked against an SLA.
type Task struct {
	ID        string     `json:"id"`
	OrgID     string     `json:"org_id"`
	Title     string     `json:"title"`
	Priority  string     `json:"priority"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	SLAState  SLAState   `json:"sla_state"`
}

// ClosedTaskStatuses are the task statuses excluded from SLA scans.
var ClosedTaskStatuses = []string{"done", "closed", "canceled", "cancelled", "resolved"}

// Open reports whether the task still counts against its SLA.
func (t Task) Open() bool {
	return !slices.Contains(ClosedTaskStatuses, t.Status)
}

// EscalationKind names the SLA condition being escalated.
type EscalationKind string

// Escalation kinds.
const (
	EscalationDueSoon EscalationKind = "due_soon"
	EscalationOverdue EscalationKind = "overdue"
)

// Escalation deduplicates SLA notifications per (task, kind, window).
type Escalation struct {
	ID          string         `json:"id"`
	OrgID       string         `json:"org_id"`
	TaskID      string         `json:"task_id"`
	Kind        EscalationKind `json:"kind"`
	WindowStart time.Time      `json:"window_start"`
	CreatedAt   time.Time      `json:"created_at"`
}

// NotificationJob is a queued outbound notification for downstream delivery.
type NotificationJob struct {
	ID        string         `json:"id"`
	OrgID     string         `json:"org_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// Notification job types emitted by the core.
const (
	NotificationAlertCreated  = "alert.created"
	NotificationSLAEscalation = "task.sla_escalation"
)

// BatchResult summarizes one processor invocation so the scheduler can
// isolate failures per job type.
type BatchResult struct {
	Job          string
	Claimed      int
	Succeeded    int
	Retried      int
	DeadLettered int
	// Failed counts items whose error could not be recorded or, for scans,
	// items that failed and will be retried by the next scan.
	Failed int
	Err    error
}
