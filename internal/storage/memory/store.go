// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/source-monitor/internal/id/uuid"
	"github.com/JakeFAU/source-monitor/internal/monitor"
)

type escalationKey struct {
	taskID      string
	kind        monitor.EscalationKind
	windowStart int64
}

type findingKey struct {
	sourceID    string
	fingerprint string
}

// Store implements monitor.Store. A single mutex makes every verb atomic,
// which gives claims and escalation inserts their exactly-once semantics.
type Store struct {
	mu  sync.Mutex
	ids monitor.IDGenerator

	sources       map[string]monitor.Source
	runs          map[string]monitor.Run
	snapshots     map[string]monitor.Snapshot
	findings      map[string]monitor.Finding
	findingIndex  map[findingKey]string
	alerts        map[string]monitor.Alert
	tasks         map[string]monitor.Task
	escalations   map[escalationKey]monitor.Escalation
	notifications []monitor.NotificationJob
}

// NewStore constructs an empty Store. A nil ids selects UUIDv7.
func NewStore(ids monitor.IDGenerator) *Store {
	if ids == nil {
		ids = uuid.New()
	}
	return &Store{
		ids:          ids,
		sources:      make(map[string]monitor.Source),
		runs:         make(map[string]monitor.Run),
		snapshots:    make(map[string]monitor.Snapshot),
		findings:     make(map[string]monitor.Finding),
		findingIndex: make(map[findingKey]string),
		alerts:       make(map[string]monitor.Alert),
		tasks:        make(map[string]monitor.Task),
		escalations:  make(map[escalationKey]monitor.Escalation),
	}
}

// PutSource creates or replaces a source.
func (s *Store) PutSource(src monitor.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
}

// EnqueueRun stores a queued run. An empty ID is generated. Unlike CreateRun
// it does not check for an active run on the same source.
func (s *Store) EnqueueRun(run monitor.Run) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRunLocked(run)
}

func (s *Store) insertRunLocked(run monitor.Run) (string, error) {
	if run.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return "", err
		}
		run.ID = id
	}
	if _, exists := s.runs[run.ID]; exists {
		return "", fmt.Errorf("run %s already exists", run.ID)
	}
	if run.Status == "" {
		run.Status = monitor.RunStatusQueued
	}
	if run.NextAttemptAt.IsZero() {
		run.NextAttemptAt = run.CreatedAt
	}
	s.runs[run.ID] = run
	return run.ID, nil
}

// PutTask creates or replaces a task.
func (s *Store) PutTask(task monitor.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

// CreateRun implements monitor.RunStore.
func (s *Store) CreateRun(_ context.Context, orgID, sourceID string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.activeRunLocked(sourceID); ok {
		return id, nil
	}
	return s.insertRunLocked(monitor.Run{OrgID: orgID, SourceID: sourceID, CreatedAt: at})
}

// EnqueueDueRuns implements monitor.RunStore.
func (s *Store) EnqueueDueRuns(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]bool)
	lastRun := make(map[string]time.Time)
	for _, run := range s.runs {
		if !run.Status.Terminal() {
			active[run.SourceID] = true
		}
		if run.CreatedAt.After(lastRun[run.SourceID]) {
			lastRun[run.SourceID] = run.CreatedAt
		}
	}

	type dueSource struct {
		src   monitor.Source
		dueAt time.Time
	}
	due := make([]dueSource, 0)
	for _, src := range s.sources {
		if active[src.ID] || !src.DueAt(now, lastRun[src.ID]) {
			continue
		}
		due = append(due, dueSource{src: src, dueAt: src.NextDueAt(lastRun[src.ID])})
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].dueAt.Equal(due[j].dueAt) {
			return due[i].dueAt.Before(due[j].dueAt)
		}
		return due[i].src.ID < due[j].src.ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i, d := range due {
		if _, err := s.insertRunLocked(monitor.Run{OrgID: d.src.OrgID, SourceID: d.src.ID, CreatedAt: now}); err != nil {
			return i, err
		}
	}
	return len(due), nil
}

func (s *Store) activeRunLocked(sourceID string) (string, bool) {
	for _, run := range s.runs {
		if run.SourceID == sourceID && !run.Status.Terminal() {
			return run.ID, true
		}
	}
	return "", false
}

// ClaimDueRuns implements monitor.RunStore.
func (s *Store) ClaimDueRuns(_ context.Context, now time.Time, limit int, lease time.Duration) ([]monitor.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]monitor.Run, 0)
	for _, run := range s.runs {
		if claimable(run, now) {
			due = append(due, run)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		due[i].Status = monitor.RunStatusRunning
		due[i].LeaseExpiresAt = nil
		if lease > 0 {
			due[i].LeaseExpiresAt = pointerTime(now.Add(lease))
		}
		s.runs[due[i].ID] = due[i]
	}
	return due, nil
}

func claimable(run monitor.Run, now time.Time) bool {
	switch run.Status {
	case monitor.RunStatusQueued:
		return !run.NextAttemptAt.After(now)
	case monitor.RunStatusRunning:
		return run.LeaseExpiresAt != nil && !run.LeaseExpiresAt.After(now)
	default:
		return false
	}
}

// MarkRunAttemptStarted implements monitor.RunStore.
func (s *Store) MarkRunAttemptStarted(_ context.Context, runID string, attempt int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, monitor.ErrNotFound)
	}
	if run.Status != monitor.RunStatusRunning {
		return fmt.Errorf("run %s is %s: %w", runID, run.Status, monitor.ErrInvalidTransition)
	}
	run.Attempts = attempt
	if run.StartedAt == nil {
		run.StartedAt = pointerTime(at)
	}
	s.runs[runID] = run
	return nil
}

// SetRunState implements monitor.RunStore.
func (s *Store) SetRunState(
	_ context.Context,
	runID string,
	status monitor.RunStatus,
	errText string,
	deadLetter bool,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, monitor.ErrNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s is %s: %w", runID, run.Status, monitor.ErrInvalidTransition)
	}
	run.Status = status
	run.LastError = errText
	run.DeadLettered = deadLetter
	if status.Terminal() {
		run.FinishedAt = pointerTime(at)
		run.LeaseExpiresAt = nil
	}
	s.runs[runID] = run
	return nil
}

// ScheduleRunRetry implements monitor.RunStore.
func (s *Store) ScheduleRunRetry(_ context.Context, runID string, nextAttemptAt time.Time, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, monitor.ErrNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s is %s: %w", runID, run.Status, monitor.ErrInvalidTransition)
	}
	run.Status = monitor.RunStatusQueued
	run.NextAttemptAt = nextAttemptAt
	run.LastError = errText
	run.LeaseExpiresAt = nil
	s.runs[runID] = run
	return nil
}

// GetRun implements monitor.RunStore.
func (s *Store) GetRun(_ context.Context, runID string) (monitor.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return monitor.Run{}, fmt.Errorf("run %s: %w", runID, monitor.ErrNotFound)
	}
	return run, nil
}

// GetSource implements monitor.SourceStore.
func (s *Store) GetSource(_ context.Context, sourceID string) (monitor.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok {
		return monitor.Source{}, fmt.Errorf("source %s: %w", sourceID, monitor.ErrNotFound)
	}
	return src, nil
}

// UpdateSourceFetchMeta implements monitor.SourceStore.
func (s *Store) UpdateSourceFetchMeta(
	_ context.Context,
	sourceID, etag, lastModified, contentHash string,
	fetchedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[sourceID]
	if !ok {
		return fmt.Errorf("source %s: %w", sourceID, monitor.ErrNotFound)
	}
	src.ETag = etag
	src.LastModified = lastModified
	src.LastContentHash = contentHash
	src.LastFetchedAt = pointerTime(fetchedAt)
	s.sources[sourceID] = src
	return nil
}

// GetLatestSnapshot implements monitor.SnapshotStore.
func (s *Store) GetLatestSnapshot(_ context.Context, sourceID, excludeRunID string) (*monitor.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *monitor.Snapshot
	for _, snap := range s.snapshots {
		if snap.SourceID != sourceID || (excludeRunID != "" && snap.RunID == excludeRunID) {
			continue
		}
		if latest == nil || snap.FetchedAt.After(latest.FetchedAt) ||
			(snap.FetchedAt.Equal(latest.FetchedAt) && snap.ID > latest.ID) {
			cp := snap
			latest = &cp
		}
	}
	return latest, nil
}

// InsertSnapshot implements monitor.SnapshotStore.
func (s *Store) InsertSnapshot(_ context.Context, snap monitor.Snapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.snapshots {
		if snap.RunID != "" && existing.RunID == snap.RunID {
			snap.ID = id
			s.snapshots[id] = snap
			return id, nil
		}
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", err
	}
	snap.ID = id
	s.snapshots[id] = snap
	return id, nil
}

// UpsertFinding implements monitor.FindingStore.
func (s *Store) UpsertFinding(_ context.Context, finding monitor.Finding) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := findingKey{sourceID: finding.SourceID, fingerprint: finding.Fingerprint}
	if id, ok := s.findingIndex[key]; ok {
		return id, nil
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", err
	}
	finding.ID = id
	s.findings[id] = finding
	s.findingIndex[key] = id
	return id, nil
}

// UpsertAlertForFinding implements monitor.FindingStore.
func (s *Store) UpsertAlertForFinding(_ context.Context, orgID, findingID string, at time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.findings[findingID]; !ok {
		return "", false, fmt.Errorf("finding %s: %w", findingID, monitor.ErrNotFound)
	}
	for id, alert := range s.alerts {
		if alert.FindingID == findingID && alert.Status == monitor.AlertStatusOpen {
			return id, false, nil
		}
	}
	id, err := s.ids.NewID()
	if err != nil {
		return "", false, err
	}
	s.alerts[id] = monitor.Alert{
		ID:        id,
		OrgID:     orgID,
		FindingID: findingID,
		Status:    monitor.AlertStatusOpen,
		CreatedAt: at,
	}
	return id, true, nil
}

// ListSLAOrgIDs implements monitor.TaskStore.
func (s *Store) ListSLAOrgIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, task := range s.tasks {
		if task.Open() && !seen[task.OrgID] {
			seen[task.OrgID] = true
			out = append(out, task.OrgID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SelectOpenTasksForSLA implements monitor.TaskStore.
func (s *Store) SelectOpenTasksForSLA(_ context.Context, orgID string) ([]monitor.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]monitor.Task, 0)
	for _, task := range s.tasks {
		if task.OrgID == orgID && task.Open() {
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateTaskSLAState implements monitor.TaskStore.
func (s *Store) UpdateTaskSLAState(_ context.Context, taskID string, state monitor.SLAState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, monitor.ErrNotFound)
	}
	task.SLAState = state
	s.tasks[taskID] = task
	return nil
}

// CreateEscalationIfAbsent implements monitor.TaskStore.
func (s *Store) CreateEscalationIfAbsent(
	_ context.Context,
	orgID, taskID string,
	kind monitor.EscalationKind,
	windowStart time.Time,
	at time.Time,
) (*monitor.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := escalationKey{taskID: taskID, kind: kind, windowStart: windowStart.UTC().UnixNano()}
	if _, exists := s.escalations[key]; exists {
		return nil, nil
	}
	id, err := s.ids.NewID()
	if err != nil {
		return nil, err
	}
	esc := monitor.Escalation{
		ID:          id,
		OrgID:       orgID,
		TaskID:      taskID,
		Kind:        kind,
		WindowStart: windowStart.UTC(),
		CreatedAt:   at,
	}
	s.escalations[key] = esc
	return &esc, nil
}

// EnqueueNotificationJob implements monitor.NotificationStore.
func (s *Store) EnqueueNotificationJob(
	_ context.Context,
	orgID, jobType string,
	payload map[string]any,
	at time.Time,
) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.ids.NewID()
	if err != nil {
		return "", err
	}
	s.notifications = append(s.notifications, monitor.NotificationJob{
		ID:        id,
		OrgID:     orgID,
		Type:      jobType,
		Payload:   payload,
		Status:    "queued",
		CreatedAt: at,
	})
	return id, nil
}

// Source returns a copy of a stored source.
func (s *Store) Source(id string) (monitor.Source, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	return src, ok
}

// Task returns a copy of a stored task.
func (s *Store) Task(id string) (monitor.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	return task, ok
}

// Snapshots returns the snapshots for a source ordered by fetch time.
func (s *Store) Snapshots(sourceID string) []monitor.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]monitor.Snapshot, 0)
	for _, snap := range s.snapshots {
		if snap.SourceID == sourceID {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FetchedAt.Before(out[j].FetchedAt) })
	return out
}

// Findings returns every stored finding ordered by creation time.
func (s *Store) Findings() []monitor.Finding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]monitor.Finding, 0, len(s.findings))
	for _, f := range s.findings {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Alerts returns every stored alert.
func (s *Store) Alerts() []monitor.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]monitor.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		out = append(out, a)
	}
	return out
}

// Escalations returns every stored escalation.
func (s *Store) Escalations() []monitor.Escalation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]monitor.Escalation, 0, len(s.escalations))
	for _, e := range s.escalations {
		out = append(out, e)
	}
	return out
}

// Notifications returns the queued notification jobs in insertion order.
func (s *Store) Notifications() []monitor.NotificationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]monitor.NotificationJob(nil), s.notifications...)
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

var _ monitor.Store = (*Store)(nil)
