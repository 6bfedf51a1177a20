package sla

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/source-monitor/internal/metrics"
	"github.com/JakeFAU/source-monitor/internal/monitor"
	"github.com/JakeFAU/source-monitor/internal/retry"
)

// JobName identifies the processor in batch results and metrics.
const JobName = "sla_scan"

// Store is the storage surface used by the scan.
type Store interface {
	monitor.TaskStore
	monitor.NotificationStore
}

// Config holds the default policy and per-org overrides.
type Config struct {
	Default Policy
	Orgs    map[string]Policy
}

// Processor scans open tasks and escalates SLA breaches.
type Processor struct {
	store  Store
	cfg    Config
	logger *zap.Logger
}

// New constructs a Processor.
func New(store Store, cfg Config, logger *zap.Logger) *Processor {
	cfg.Default = cfg.Default.Merge(DefaultPolicy)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: store, cfg: cfg, logger: logger}
}

// Name implements monitor.Processor.
func (p *Processor) Name() string { return JobName }

// PolicyFor returns the effective policy for org. Override keys loaded from
// config files are lowercased, so a case-folded match is also accepted.
func (p *Processor) PolicyFor(orgID string) Policy {
	override, ok := p.cfg.Orgs[orgID]
	if !ok {
		override, ok = p.cfg.Orgs[strings.ToLower(orgID)]
	}
	if ok {
		return override.Merge(p.cfg.Default)
	}
	return p.cfg.Default
}

// ProcessDue runs one scan over every org with open tasks. A failing task
// is counted and logged; the scan continues.
func (p *Processor) ProcessDue(ctx context.Context, now time.Time) monitor.BatchResult {
	res := monitor.BatchResult{Job: JobName}
	orgs, err := p.store.ListSLAOrgIDs(ctx)
	if err != nil {
		res.Err = fmt.Errorf("list sla orgs: %w", err)
		return res
	}

	var orgErrs []error
	for _, orgID := range orgs {
		tasks, err := p.store.SelectOpenTasksForSLA(ctx, orgID)
		if err != nil {
			p.logger.Error("select sla tasks failed", zap.String("org_id", orgID), zap.Error(err))
			orgErrs = append(orgErrs, fmt.Errorf("org %s: %w", orgID, err))
			continue
		}
		policy := p.PolicyFor(orgID)
		for _, task := range tasks {
			res.Claimed++
			if err := p.processTask(ctx, orgID, task, policy, now); err != nil {
				res.Failed++
				p.logger.Warn("sla task failed",
					zap.String("org_id", orgID),
					zap.String("task_id", task.ID),
					zap.String("error", retry.Sanitize(err, "sla evaluation failed")),
				)
				continue
			}
			res.Succeeded++
		}
	}
	res.Err = errors.Join(orgErrs...)
	return res
}

func (p *Processor) processTask(ctx context.Context, orgID string, task monitor.Task, policy Policy, now time.Time) error {
	dueAt := policy.DueAt(task)
	threshold := time.Duration(policy.DueSoonThresholdHours) * time.Hour
	computed := Evaluate(dueAt, now, threshold)
	applied := Advance(task.SLAState, computed)
	if applied != task.SLAState {
		if err := p.store.UpdateTaskSLAState(ctx, task.ID, applied); err != nil {
			return fmt.Errorf("update sla state: %w", err)
		}
	}

	var kind monitor.EscalationKind
	switch computed {
	case monitor.SLAOverdue:
		kind = monitor.EscalationOverdue
	case monitor.SLADueSoon:
		kind = monitor.EscalationDueSoon
	default:
		return nil
	}

	window := policy.Window(kind, now)
	esc, err := p.store.CreateEscalationIfAbsent(ctx, orgID, task.ID, kind, window, now)
	if err != nil {
		return fmt.Errorf("create escalation: %w", err)
	}
	if esc == nil {
		return nil
	}

	payload := map[string]any{
		"escalation_id": esc.ID,
		"task_id":       task.ID,
		"title":         task.Title,
		"priority":      task.Priority,
		"kind":          string(kind),
		"sla_state":     string(applied),
		"due_at":        dueAt.Format(time.RFC3339),
		"window_start":  window.Format(time.RFC3339),
	}
	if _, err := p.store.EnqueueNotificationJob(ctx, orgID, monitor.NotificationSLAEscalation, payload, now); err != nil {
		return fmt.Errorf("enqueue escalation notification: %w", err)
	}
	metrics.ObserveEscalation(string(kind))
	p.logger.Info("sla escalation queued",
		zap.String("org_id", orgID),
		zap.String("task_id", task.ID),
		zap.String("kind", string(kind)),
		zap.Time("window_start", window),
	)
	return nil
}
