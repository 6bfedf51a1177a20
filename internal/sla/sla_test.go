package sla

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/source-monitor/internal/monitor"
	"github.com/JakeFAU/source-monitor/internal/storage/memory"
)

var now = time.Date(2024, 5, 1, 13, 37, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func TestEvaluate(t *testing.T) {
	t.Parallel()

	threshold := 12 * time.Hour
	require.Equal(t, monitor.SLADueSoon, Evaluate(now.Add(10*time.Hour), now, threshold))
	require.Equal(t, monitor.SLADueSoon, Evaluate(now.Add(12*time.Hour), now, threshold))
	require.Equal(t, monitor.SLAOnTrack, Evaluate(now.Add(13*time.Hour), now, threshold))
	require.Equal(t, monitor.SLAOverdue, Evaluate(now.Add(-2*time.Hour), now, threshold))
	require.Equal(t, monitor.SLADueSoon, Evaluate(now, now, threshold), "due exactly now is not yet overdue")
}

func TestAdvanceIsMonotonic(t *testing.T) {
	t.Parallel()

	require.Equal(t, monitor.SLAOverdue, Advance(monitor.SLAOverdue, monitor.SLAOnTrack))
	require.Equal(t, monitor.SLADueSoon, Advance(monitor.SLADueSoon, monitor.SLAOnTrack))
	require.Equal(t, monitor.SLAOverdue, Advance(monitor.SLADueSoon, monitor.SLAOverdue))
	require.Equal(t, monitor.SLADueSoon, Advance("", monitor.SLADueSoon))
}

func TestWindows(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy
	require.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), p.Window(monitor.EscalationOverdue, now))
	require.Equal(t, time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC), p.Window(monitor.EscalationDueSoon, now))

	p.OverdueRemindEveryHours = 6
	require.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), p.Window(monitor.EscalationOverdue, now))
}

func TestPolicyDueAtAndMerge(t *testing.T) {
	t.Parallel()

	p := Policy{DueHoursHigh: 4}.Merge(DefaultPolicy)
	require.Equal(t, 4, p.DueHoursHigh)
	require.Equal(t, 72, p.DueHoursMedium)
	require.Equal(t, 12, p.DueSoonThresholdHours)

	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, created.Add(4*time.Hour), p.DueAt(monitor.Task{Priority: "High", CreatedAt: created}))
	require.Equal(t, created.Add(72*time.Hour), p.DueAt(monitor.Task{Priority: "whatever", CreatedAt: created}))
	require.Equal(t, created.Add(168*time.Hour), p.DueAt(monitor.Task{Priority: "low", CreatedAt: created}))

	explicit := created.Add(time.Hour)
	require.Equal(t, explicit, p.DueAt(monitor.Task{Priority: "low", CreatedAt: created, DueAt: &explicit}))
}

func TestProcessDueEscalatesOnce(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(nil)
	store.PutTask(monitor.Task{ID: "soon", OrgID: "org", Status: "open", DueAt: ptr(now.Add(10 * time.Hour))})
	store.PutTask(monitor.Task{ID: "late", OrgID: "org", Status: "open", DueAt: ptr(now.Add(-2 * time.Hour))})
	store.PutTask(monitor.Task{ID: "fine", OrgID: "org", Status: "open", DueAt: ptr(now.Add(48 * time.Hour))})
	store.PutTask(monitor.Task{ID: "closed", OrgID: "org", Status: "done", DueAt: ptr(now.Add(-48 * time.Hour))})

	proc := New(store, Config{Default: Policy{DueSoonThresholdHours: 12, OverdueRemindEveryHours: 24}}, zap.NewNop())
	ctx := context.Background()

	res := proc.ProcessDue(ctx, now)
	require.NoError(t, res.Err)
	require.Equal(t, JobName, res.Job)
	require.Equal(t, 3, res.Claimed)
	require.Equal(t, 3, res.Succeeded)

	soon, _ := store.Task("soon")
	require.Equal(t, monitor.SLADueSoon, soon.SLAState)
	late, _ := store.Task("late")
	require.Equal(t, monitor.SLAOverdue, late.SLAState)
	fine, _ := store.Task("fine")
	require.Equal(t, monitor.SLAOnTrack, fine.SLAState)
	closed, _ := store.Task("closed")
	require.Empty(t, closed.SLAState)

	escs := store.Escalations()
	require.Len(t, escs, 2)
	for _, esc := range escs {
		if esc.TaskID == "late" {
			require.Equal(t, monitor.EscalationOverdue, esc.Kind)
			require.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), esc.WindowStart)
		} else {
			require.Equal(t, "soon", esc.TaskID)
			require.Equal(t, monitor.EscalationDueSoon, esc.Kind)
		}
	}
	jobs := store.Notifications()
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		require.Equal(t, monitor.NotificationSLAEscalation, job.Type)
	}

	// A second scan in the same window creates nothing new.
	res = proc.ProcessDue(ctx, now.Add(10*time.Minute))
	require.NoError(t, res.Err)
	require.Len(t, store.Escalations(), 2)
	require.Len(t, store.Notifications(), 2)

	// The next overdue window reminds again.
	proc.ProcessDue(ctx, now.Add(24*time.Hour))
	var overdue int
	for _, esc := range store.Escalations() {
		if esc.TaskID == "late" {
			overdue++
		}
	}
	require.Equal(t, 2, overdue)
}

func TestProcessDueNeverRegresses(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(nil)
	store.PutTask(monitor.Task{
		ID:       "moved",
		OrgID:    "org",
		Status:   "open",
		SLAState: monitor.SLAOverdue,
		DueAt:    ptr(now.Add(72 * time.Hour)),
	})

	proc := New(store, Config{}, nil)
	res := proc.ProcessDue(context.Background(), now)
	require.NoError(t, res.Err)

	task, _ := store.Task("moved")
	require.Equal(t, monitor.SLAOverdue, task.SLAState)
	require.Empty(t, store.Escalations(), "escalation follows the computed state")
}

func TestPerOrgOverride(t *testing.T) {
	t.Parallel()

	proc := New(memory.NewStore(nil), Config{
		Orgs: map[string]Policy{"fast": {DueHoursHigh: 2}},
	}, nil)
	require.Equal(t, 2, proc.PolicyFor("fast").DueHoursHigh)
	require.Equal(t, 72, proc.PolicyFor("fast").DueHoursMedium)
	require.Equal(t, 24, proc.PolicyFor("other").DueHoursHigh)
}

type failingStore struct {
	*memory.Store
	failTask string
}

func (f *failingStore) UpdateTaskSLAState(ctx context.Context, taskID string, state monitor.SLAState) error {
	if taskID == f.failTask {
		return errors.New("write failed")
	}
	return f.Store.UpdateTaskSLAState(ctx, taskID, state)
}

func TestProcessDueIsolatesTaskFailures(t *testing.T) {
	t.Parallel()

	store := &failingStore{Store: memory.NewStore(nil), failTask: "a"}
	store.PutTask(monitor.Task{ID: "a", OrgID: "org", Status: "open", DueAt: ptr(now.Add(-time.Hour))})
	store.PutTask(monitor.Task{ID: "b", OrgID: "org", Status: "open", DueAt: ptr(now.Add(-time.Hour))})

	res := New(store, Config{}, nil).ProcessDue(context.Background(), now)
	require.NoError(t, res.Err)
	require.Equal(t, 2, res.Claimed)
	require.Equal(t, 1, res.Failed)
	require.Equal(t, 1, res.Succeeded)

	b, _ := store.Task("b")
	require.Equal(t, monitor.SLAOverdue, b.SLAState)
}
