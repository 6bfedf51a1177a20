// Package worker implements the monitor run pipeline: claim due runs, fetch
// through the source's adapter, detect change, and persist snapshots,
// findings and alerts.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/source-monitor/internal/adapter"
	"github.com/JakeFAU/source-monitor/internal/diff"
	"github.com/JakeFAU/source-monitor/internal/hash/sha256"
	"github.com/JakeFAU/source-monitor/internal/metrics"
	"github.com/JakeFAU/source-monitor/internal/monitor"
	"github.com/JakeFAU/source-monitor/internal/normalize"
	"github.com/JakeFAU/source-monitor/internal/retry"
)

// JobName identifies the processor in batch results and metrics.
const JobName = "monitor_runs"

// EventFindingCreated is the type of events published for new alerts.
const EventFindingCreated = "finding.created"

const (
	defaultSeverity = "medium"
	// DefaultLease bounds how long a claimed run may stay running before
	// another claimer takes it over.
	DefaultLease = 15 * time.Minute
	// stateWriteTimeout bounds outcome writes, which outlive the run context.
	stateWriteTimeout = 10 * time.Second
)

var tracer = otel.Tracer("github.com/JakeFAU/source-monitor/internal/worker")

// Config controls Processor behavior.
type Config struct {
	BatchSize   int
	Concurrency int
	// Lease is how long a claim holds a run. It must exceed the longest
	// expected attempt.
	Lease        time.Duration
	BlobPrefix   string
	Topic        string
	PreviewChars int
}

// AdapterRegistry resolves the adapter for a source kind.
type AdapterRegistry interface {
	Lookup(kind monitor.SourceKind) (adapter.Adapter, error)
}

// RateLimiter paces fetches per host.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Deps are the collaborators of a Processor. Limiter, Blobs and Publisher
// are optional.
type Deps struct {
	Store     monitor.Store
	Adapters  AdapterRegistry
	Explainer *diff.Explainer
	Policy    *retry.Policy
	Hasher    monitor.Hasher
	Limiter   RateLimiter
	Blobs     monitor.BlobStore
	Publisher monitor.Publisher
}

// Processor executes monitor runs.
type Processor struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Processor.
func New(deps Deps, cfg Config, logger *zap.Logger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = normalize.DefaultPreviewChars
	}
	if deps.Policy == nil {
		deps.Policy = retry.NewPolicy(0, nil)
	}
	if deps.Explainer == nil {
		deps.Explainer = diff.New(diff.Options{})
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{deps: deps, cfg: cfg, logger: logger}
}

// Name implements monitor.Processor.
func (p *Processor) Name() string { return JobName }

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeRetried
	outcomeDeadLettered
	outcomeFailed
)

// ProcessDue claims up to BatchSize due runs and processes them on a bounded
// pool. Per-run failures are recorded on the run and never fail the batch.
func (p *Processor) ProcessDue(ctx context.Context, now time.Time) monitor.BatchResult {
	res := monitor.BatchResult{Job: JobName}
	runs, err := p.deps.Store.ClaimDueRuns(ctx, now, p.cfg.BatchSize, p.cfg.Lease)
	if err != nil {
		res.Err = fmt.Errorf("claim due runs: %w", err)
		return res
	}
	res.Claimed = len(runs)
	if len(runs) == 0 {
		return res
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.cfg.Concurrency)
	for _, run := range runs {
		g.Go(func() error {
			o := p.processRun(ctx, run, now)
			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeSucceeded:
				res.Succeeded++
			case outcomeRetried:
				res.Retried++
			case outcomeDeadLettered:
				res.DeadLettered++
			default:
				res.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Debug("run batch processed",
		zap.Int("claimed", res.Claimed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("retried", res.Retried),
		zap.Int("dead_lettered", res.DeadLettered),
		zap.Int("failed", res.Failed),
	)
	return res
}

func (p *Processor) processRun(ctx context.Context, run monitor.Run, now time.Time) outcome {
	logger := p.logger.With(zap.String("run_id", run.ID), zap.String("source_id", run.SourceID))
	attempt := run.Attempts + 1
	if err := p.deps.Store.MarkRunAttemptStarted(ctx, run.ID, attempt, now); err != nil {
		logger.Error("record attempt start failed", zap.Int("attempt", attempt), zap.Error(err))
		metrics.ObserveRun("unknown", "failed")
		return outcomeFailed
	}

	ctx, span := tracer.Start(ctx, "monitor.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", run.ID),
		attribute.String("source_id", run.SourceID),
		attribute.Int("attempt", attempt),
	)

	kind, err := p.execute(ctx, run, now, logger)
	span.SetAttributes(attribute.String("source_kind", kind))

	// The outcome must be recorded even when shutdown canceled the attempt.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateWriteTimeout)
	defer cancel()
	if err == nil {
		if err := p.deps.Store.SetRunState(wctx, run.ID, monitor.RunStatusSucceeded, "", false, now); err != nil {
			logger.Error("mark run succeeded failed", zap.Error(err))
			metrics.ObserveRun(kind, "failed")
			return outcomeFailed
		}
		metrics.ObserveRun(kind, "succeeded")
		return outcomeSucceeded
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "run attempt failed")
	decision := p.deps.Policy.Decide(attempt, err, now)
	switch decision.Outcome {
	case retry.OutcomeRetry:
		logger.Warn("run failed, retry scheduled",
			zap.Int("attempt", attempt),
			zap.Time("next_attempt_at", decision.NextAttemptAt),
			zap.String("error", decision.Error),
		)
		if serr := p.deps.Store.ScheduleRunRetry(wctx, run.ID, decision.NextAttemptAt, decision.Error); serr != nil {
			logger.Error("schedule retry failed", zap.Error(serr))
			metrics.ObserveRun(kind, "failed")
			return outcomeFailed
		}
		metrics.ObserveRun(kind, "retried")
		return outcomeRetried
	default:
		logger.Error("run dead-lettered",
			zap.Int("attempt", attempt),
			zap.Bool("permanent", monitor.IsPermanent(err)),
			zap.String("error", decision.Error),
		)
		if serr := p.deps.Store.SetRunState(wctx, run.ID, monitor.RunStatusFailed, decision.Error, true, now); serr != nil {
			logger.Error("mark run dead-lettered failed", zap.Error(serr))
			metrics.ObserveRun(kind, "failed")
			return outcomeFailed
		}
		metrics.ObserveRun(kind, "dead_lettered")
		return outcomeDeadLettered
	}
}

// execute runs one attempt and returns the source kind for metrics.
func (p *Processor) execute(ctx context.Context, run monitor.Run, now time.Time, logger *zap.Logger) (string, error) {
	src, err := p.loadSource(ctx, run)
	if err != nil {
		return "unknown", err
	}
	kind := src.Kind.Normalize()
	a, err := p.deps.Adapters.Lookup(kind)
	if err != nil {
		return string(kind), err
	}

	prev, err := p.deps.Store.GetLatestSnapshot(ctx, src.ID, run.ID)
	if err != nil {
		return string(kind), fmt.Errorf("load previous snapshot: %w", err)
	}
	if p.deps.Limiter != nil {
		if err := p.deps.Limiter.Wait(ctx, src.URL); err != nil {
			return string(kind), err
		}
	}
	result, err := a.Fetch(ctx, src, prev)
	if err != nil {
		return string(kind), fmt.Errorf("fetch %s: %w", kind, err)
	}

	changed := Changed(prev, result)
	snap, err := p.buildSnapshot(ctx, run, src, prev, result, changed, now)
	if err != nil {
		return string(kind), err
	}
	snapID, err := p.deps.Store.InsertSnapshot(ctx, snap)
	if err != nil {
		return string(kind), fmt.Errorf("insert snapshot: %w", err)
	}
	snap.ID = snapID

	if changed {
		if err := p.emitFinding(ctx, src, prev, snap, now, logger); err != nil {
			return string(kind), err
		}
	}

	if err := p.deps.Store.UpdateSourceFetchMeta(ctx, src.ID, snap.ETag, snap.LastModified, snap.ContentHash, now); err != nil {
		return string(kind), fmt.Errorf("update source fetch meta: %w", err)
	}
	logger.Debug("run completed",
		zap.String("kind", string(kind)),
		zap.Bool("changed", changed),
		zap.Bool("not_modified", result.NotModified),
	)
	return string(kind), nil
}

func (p *Processor) loadSource(ctx context.Context, run monitor.Run) (monitor.Source, error) {
	src, err := p.deps.Store.GetSource(ctx, run.SourceID)
	if errors.Is(err, monitor.ErrNotFound) {
		return monitor.Source{}, fmt.Errorf("%w: %s", monitor.ErrSourceNotFound, run.SourceID)
	}
	if err != nil {
		return monitor.Source{}, fmt.Errorf("load source: %w", err)
	}
	if src.OrgID != run.OrgID {
		return monitor.Source{}, fmt.Errorf("%w: source %s", monitor.ErrTenantMismatch, src.ID)
	}
	if !src.Enabled {
		return monitor.Source{}, fmt.Errorf("%w: %s", monitor.ErrSourceDisabled, src.ID)
	}
	return src, nil
}

// Changed reports whether result differs from the previous snapshot. The
// first snapshot of a source is a baseline and never a change.
func Changed(prev *monitor.Snapshot, result monitor.AdapterResult) bool {
	if prev == nil || result.NotModified {
		return false
	}
	if result.Identity == monitor.IdentityItem {
		return result.ItemID != "" && result.ItemID != prev.ItemID
	}
	return result.ContentHash != "" && result.ContentHash != prev.ContentHash
}

func (p *Processor) buildSnapshot(
	ctx context.Context,
	run monitor.Run,
	src monitor.Source,
	prev *monitor.Snapshot,
	result monitor.AdapterResult,
	changed bool,
	now time.Time,
) (monitor.Snapshot, error) {
	snap := monitor.Snapshot{
		OrgID:           src.OrgID,
		SourceID:        src.ID,
		RunID:           run.ID,
		ContentHash:     result.ContentHash,
		RawBytesHash:    result.RawBytesHash,
		Text:            result.Text,
		Title:           result.Title,
		ItemID:          result.ItemID,
		ItemPublishedAt: result.ItemPublishedAt,
		ETag:            result.Meta.ETag,
		LastModified:    result.Meta.LastModified,
		StatusCode:      result.Meta.StatusCode,
		ContentType:     result.Meta.ContentType,
		ByteLength:      result.Meta.ByteLength,
		NotModified:     result.NotModified,
		Changed:         changed,
		FetchedAt:       now,
	}
	// Unchanged feed polls return no text; keep the last seen item as the
	// baseline for the next diff.
	if !changed && prev != nil {
		if snap.Text == "" {
			snap.Text = prev.Text
			snap.Title = firstNonEmpty(snap.Title, prev.Title)
		}
		snap.ContentHash = firstNonEmpty(snap.ContentHash, prev.ContentHash)
		snap.RawBytesHash = firstNonEmpty(snap.RawBytesHash, prev.RawBytesHash)
		snap.ETag = firstNonEmpty(snap.ETag, prev.ETag)
		snap.LastModified = firstNonEmpty(snap.LastModified, prev.LastModified)
		if result.NotModified {
			snap.RawRef = prev.RawRef
		}
	}
	if snap.Text != "" {
		fp, err := p.deps.Hasher.Hash([]byte(snap.Text))
		if err != nil {
			return monitor.Snapshot{}, fmt.Errorf("fingerprint text: %w", err)
		}
		snap.TextFingerprint = fp
		snap.TextPreview = normalize.Preview(snap.Text, p.cfg.PreviewChars)
	}
	if len(result.Raw) > 0 && p.deps.Blobs != nil {
		uri, err := p.archiveRaw(ctx, src, result)
		if err != nil {
			return monitor.Snapshot{}, err
		}
		snap.RawRef = uri
	}
	return snap, nil
}

func (p *Processor) archiveRaw(ctx context.Context, src monitor.Source, result monitor.AdapterResult) (string, error) {
	rawHash := result.RawBytesHash
	if rawHash == "" {
		rawHash = sha256.Sum(result.Raw)
	}
	contentType := result.Meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	uri, err := p.deps.Blobs.PutObject(ctx, p.blobPath(src, rawHash), contentType, bytes.NewReader(result.Raw))
	if err != nil {
		return "", fmt.Errorf("put raw object: %w", err)
	}
	return uri, nil
}

func (p *Processor) blobPath(src monitor.Source, rawHash string) string {
	prefix := strings.Trim(p.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.bin", src.OrgID, src.ID, rawHash)
	}
	return fmt.Sprintf("%s/%s/%s/%s.bin", prefix, src.OrgID, src.ID, rawHash)
}

// emitFinding records the finding, then its alert. A newly opened alert
// queues a notification and publishes an event.
func (p *Processor) emitFinding(
	ctx context.Context,
	src monitor.Source,
	prev *monitor.Snapshot,
	snap monitor.Snapshot,
	now time.Time,
	logger *zap.Logger,
) error {
	exp := p.deps.Explainer.Explain(prev.Text, snap.Text)
	finding := monitor.Finding{
		OrgID:       src.OrgID,
		SourceID:    src.ID,
		RunID:       snap.RunID,
		SnapshotID:  snap.ID,
		Title:       findingTitle(src, snap),
		Summary:     exp.Summary,
		DiffPreview: exp.DiffPreview,
		Citations:   exp.Citations,
		Severity:    firstNonEmpty(src.Severity, defaultSeverity),
		Fingerprint: FindingFingerprint(src.ID, snap.ContentHash),
		RawRef:      snap.RawRef,
		CreatedAt:   now,
	}
	findingID, err := p.deps.Store.UpsertFinding(ctx, finding)
	if err != nil {
		return fmt.Errorf("upsert finding: %w", err)
	}
	alertID, created, err := p.deps.Store.UpsertAlertForFinding(ctx, src.OrgID, findingID, now)
	if err != nil {
		return fmt.Errorf("upsert alert: %w", err)
	}
	metrics.ObserveFinding(string(src.Kind.Normalize()), created)
	if !created {
		return nil
	}

	payload := map[string]any{
		"alert_id":   alertID,
		"finding_id": findingID,
		"source_id":  src.ID,
		"run_id":     snap.RunID,
		"title":      finding.Title,
		"summary":    finding.Summary,
		"severity":   finding.Severity,
	}
	if _, err := p.deps.Store.EnqueueNotificationJob(ctx, src.OrgID, monitor.NotificationAlertCreated, payload, now); err != nil {
		return fmt.Errorf("enqueue alert notification: %w", err)
	}
	p.publishFinding(ctx, src, findingID, alertID, finding, logger)
	logger.Info("finding created",
		zap.String("finding_id", findingID),
		zap.String("alert_id", alertID),
		zap.String("summary", finding.Summary),
	)
	return nil
}

func (p *Processor) publishFinding(
	ctx context.Context,
	src monitor.Source,
	findingID, alertID string,
	finding monitor.Finding,
	logger *zap.Logger,
) {
	if p.cfg.Topic == "" || p.deps.Publisher == nil {
		return
	}
	event := map[string]any{
		"type":       EventFindingCreated,
		"org_id":     src.OrgID,
		"source_id":  src.ID,
		"source_url": src.URL,
		"finding_id": findingID,
		"alert_id":   alertID,
		"run_id":     finding.RunID,
		"title":      finding.Title,
		"summary":    finding.Summary,
		"severity":   finding.Severity,
		"raw_ref":    finding.RawRef,
		"timestamp":  finding.CreatedAt.Format(time.RFC3339),
	}
	if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, event); err != nil {
		logger.Warn("publish finding event failed", zap.String("finding_id", findingID), zap.Error(err))
	}
}

// FindingFingerprint identifies the finding raised for a source reaching a
// content hash. Repeated runs over the same content map to one finding.
func FindingFingerprint(sourceID, contentHash string) string {
	return sha256.SumFields(":", sourceID, contentHash)
}

func findingTitle(src monitor.Source, snap monitor.Snapshot) string {
	subject := firstNonEmpty(snap.Title, src.URL, src.ID)
	switch src.Kind.Normalize() {
	case monitor.KindRSS:
		return "New feed entry: " + subject
	case monitor.KindGitHubReleases:
		return "New release: " + subject
	default:
		return "Content changed: " + subject
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
