// Package sla recomputes task SLA states and records deduplicated escalations.
package sla

import (
	"strings"
	"time"

	"github.com/JakeFAU/source-monitor/internal/monitor"
)

// Policy holds the SLA parameters for one org. Durations are whole hours.
type Policy struct {
	DueHoursHigh            int `mapstructure:"due_hours_high"`
	DueHoursMedium          int `mapstructure:"due_hours_medium"`
	DueHoursLow             int `mapstructure:"due_hours_low"`
	DueSoonThresholdHours   int `mapstructure:"due_soon_threshold_hours"`
	OverdueRemindEveryHours int `mapstructure:"overdue_remind_every_hours"`
}

// DefaultPolicy applies when neither the config nor an org override sets a value.
var DefaultPolicy = Policy{
	DueHoursHigh:            24,
	DueHoursMedium:          72,
	DueHoursLow:             168,
	DueSoonThresholdHours:   12,
	OverdueRemindEveryHours: 24,
}

// Merge returns p with zero fields taken from base.
func (p Policy) Merge(base Policy) Policy {
	pick := func(v, fallback int) int {
		if v > 0 {
			return v
		}
		return fallback
	}
	return Policy{
		DueHoursHigh:            pick(p.DueHoursHigh, base.DueHoursHigh),
		DueHoursMedium:          pick(p.DueHoursMedium, base.DueHoursMedium),
		DueHoursLow:             pick(p.DueHoursLow, base.DueHoursLow),
		DueSoonThresholdHours:   pick(p.DueSoonThresholdHours, base.DueSoonThresholdHours),
		OverdueRemindEveryHours: pick(p.OverdueRemindEveryHours, base.OverdueRemindEveryHours),
	}
}

// DueHours returns the allowed hours for a task priority. Unknown
// priorities are treated as medium.
func (p Policy) DueHours(priority string) int {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "high", "urgent", "critical":
		return p.DueHoursHigh
	case "low":
		return p.DueHoursLow
	default:
		return p.DueHoursMedium
	}
}

// DueAt returns the explicit due date or one derived from priority.
func (p Policy) DueAt(task monitor.Task) time.Time {
	if task.DueAt != nil {
		return task.DueAt.UTC()
	}
	return task.CreatedAt.UTC().Add(time.Duration(p.DueHours(task.Priority)) * time.Hour)
}

// Evaluate computes the SLA state of a task due at dueAt.
func Evaluate(dueAt, now time.Time, threshold time.Duration) monitor.SLAState {
	switch {
	case now.After(dueAt):
		return monitor.SLAOverdue
	case dueAt.Sub(now) <= threshold:
		return monitor.SLADueSoon
	default:
		return monitor.SLAOnTrack
	}
}

// Advance returns the later of the current and computed states so a task
// never moves backward.
func Advance(current, computed monitor.SLAState) monitor.SLAState {
	if current.Rank() > computed.Rank() {
		return current
	}
	return computed
}

// FloorWindow aligns now to the start of its period, counted from the Unix
// epoch.
func FloorWindow(now time.Time, period time.Duration) time.Time {
	if period <= 0 {
		period = time.Hour
	}
	ns := now.UTC().UnixNano()
	return time.Unix(0, ns-ns%int64(period)).UTC()
}

// Window returns the escalation dedupe window for kind.
func (p Policy) Window(kind monitor.EscalationKind, now time.Time) time.Time {
	if kind == monitor.EscalationOverdue {
		return FloorWindow(now, time.Duration(p.OverdueRemindEveryHours)*time.Hour)
	}
	return FloorWindow(now, time.Hour)
}
