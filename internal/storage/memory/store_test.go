package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/source-monitor/internal/monitor"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	ctx := context.Background()

	id, err := store.EnqueueRun(monitor.Run{OrgID: "org", SourceID: "src", CreatedAt: t0})
	require.NoError(t, err)
	_, err = store.EnqueueRun(monitor.Run{ID: id})
	require.Error(t, err)

	future, err := store.EnqueueRun(monitor.Run{OrgID: "org", SourceID: "src", CreatedAt: t0, NextAttemptAt: t0.Add(time.Hour)})
	require.NoError(t, err)

	claimed, err := store.ClaimDueRuns(ctx, t0, 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, id, claimed[0].ID)
	require.Equal(t, monitor.RunStatusRunning, claimed[0].Status)

	again, err := store.ClaimDueRuns(ctx, t0, 10, time.Hour)
	require.NoError(t, err)
	require.Empty(t, again, "a claimed run is not claimed twice")

	require.NoError(t, store.MarkRunAttemptStarted(ctx, id, 1, t0))
	require.NoError(t, store.ScheduleRunRetry(ctx, id, t0.Add(time.Minute), "boom"))
	run, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, monitor.RunStatusQueued, run.Status)
	require.Equal(t, 1, run.Attempts)
	require.Equal(t, "boom", run.LastError)

	claimed, err = store.ClaimDueRuns(ctx, t0.Add(time.Minute), 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Error(t, store.MarkRunAttemptStarted(ctx, future, 1, t0), "queued runs cannot start")

	require.NoError(t, store.MarkRunAttemptStarted(ctx, id, 2, t0.Add(time.Minute)))
	require.NoError(t, store.SetRunState(ctx, id, monitor.RunStatusSucceeded, "", false, t0.Add(2*time.Minute)))
	run, err = store.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 2, run.Attempts)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, t0, *run.StartedAt)

	err = store.SetRunState(ctx, id, monitor.RunStatusFailed, "late", true, t0)
	require.ErrorIs(t, err, monitor.ErrInvalidTransition)
	err = store.ScheduleRunRetry(ctx, id, t0, "late")
	require.ErrorIs(t, err, monitor.ErrInvalidTransition)

	_, err = store.GetRun(ctx, "missing")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestClaimDueRunsIsExclusiveUnderConcurrency(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	for i := 0; i < 50; i++ {
		_, err := store.EnqueueRun(monitor.Run{OrgID: "org", SourceID: "src", CreatedAt: t0})
		require.NoError(t, err)
	}

	var (
		mu    sync.Mutex
		seen  = make(map[string]int)
		wg    sync.WaitGroup
		total int
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runs, err := store.ClaimDueRuns(context.Background(), t0, 7, time.Hour)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range runs {
				seen[r.ID]++
				total++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, len(seen), total)
	for id, n := range seen {
		require.Equal(t, 1, n, id)
	}
}

func TestClaimDueRunsReclaimsExpiredLease(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	ctx := context.Background()
	id, err := store.EnqueueRun(monitor.Run{OrgID: "org", SourceID: "src", CreatedAt: t0})
	require.NoError(t, err)

	claimed, err := store.ClaimDueRuns(ctx, t0, 10, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, t0.Add(15*time.Minute), *claimed[0].LeaseExpiresAt)
	require.NoError(t, store.MarkRunAttemptStarted(ctx, id, 1, t0))

	// The worker holding the claim never records an outcome.
	held, err := store.ClaimDueRuns(ctx, t0.Add(14*time.Minute), 10, 15*time.Minute)
	require.NoError(t, err)
	require.Empty(t, held, "a run inside its lease stays with its claimer")

	reclaimed, err := store.ClaimDueRuns(ctx, t0.Add(15*time.Minute), 10, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	require.Equal(t, id, reclaimed[0].ID)
	require.Equal(t, 1, reclaimed[0].Attempts, "the lost attempt still counts")
	require.Equal(t, t0.Add(30*time.Minute), *reclaimed[0].LeaseExpiresAt)

	require.NoError(t, store.ScheduleRunRetry(ctx, id, t0.Add(time.Hour), "boom"))
	run, err := store.GetRun(ctx, id)
	require.NoError(t, err)
	require.Nil(t, run.LeaseExpiresAt)

	// Claims without a lease are never reclaimed.
	claimed, err = store.ClaimDueRuns(ctx, t0.Add(time.Hour), 10, 0)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	again, err := store.ClaimDueRuns(ctx, t0.Add(48*time.Hour), 10, 0)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestCreateRunReturnsActiveRun(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	ctx := context.Background()

	first, err := store.CreateRun(ctx, "org", "src", t0)
	require.NoError(t, err)
	second, err := store.CreateRun(ctx, "org", "src", t0.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = store.ClaimDueRuns(ctx, t0, 10, time.Minute)
	require.NoError(t, err)
	third, err := store.CreateRun(ctx, "org", "src", t0.Add(2*time.Second))
	require.NoError(t, err)
	require.Equal(t, first, third, "a running run also blocks a duplicate")

	require.NoError(t, store.SetRunState(ctx, first, monitor.RunStatusSucceeded, "", false, t0))
	fourth, err := store.CreateRun(ctx, "org", "src", t0.Add(3*time.Second))
	require.NoError(t, err)
	require.NotEqual(t, first, fourth)
}

func TestEnqueueDueRunsHonoursCadence(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	ctx := context.Background()
	fetched := t0.Add(-30 * time.Minute)
	store.PutSource(monitor.Source{ID: "new", OrgID: "org", Enabled: true, Cadence: time.Hour})
	store.PutSource(monitor.Source{ID: "fresh", OrgID: "org", Enabled: true, Cadence: time.Hour, LastFetchedAt: &fetched})
	store.PutSource(monitor.Source{ID: "stale", OrgID: "org", Enabled: true, Cadence: 20 * time.Minute, LastFetchedAt: &fetched})
	store.PutSource(monitor.Source{ID: "off", OrgID: "org", Enabled: false})

	n, err := store.EnqueueDueRuns(ctx, t0, 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	claimed, err := store.ClaimDueRuns(ctx, t0, 10, time.Minute)
	require.NoError(t, err)
	sources := []string{claimed[0].SourceID, claimed[1].SourceID}
	require.ElementsMatch(t, []string{"new", "stale"}, sources)

	n, err = store.EnqueueDueRuns(ctx, t0, 10)
	require.NoError(t, err)
	require.Zero(t, n, "sources with an active run are skipped")

	for _, run := range claimed {
		require.NoError(t, store.SetRunState(ctx, run.ID, monitor.RunStatusFailed, "boom", true, t0))
	}
	n, err = store.EnqueueDueRuns(ctx, t0.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Zero(t, n, "a failed run still starts the cadence window")

	n, err = store.EnqueueDueRuns(ctx, t0.Add(30*time.Minute), 1)
	require.NoError(t, err)
	require.Equal(t, 1, n, "limit bounds the batch")
}

func TestSnapshotsPerRun(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	ctx := context.Background()

	latest, err := store.GetLatestSnapshot(ctx, "src", "")
	require.NoError(t, err)
	require.Nil(t, latest)

	firstID, err := store.InsertSnapshot(ctx, monitor.Snapshot{SourceID: "src", RunID: "r1", ContentHash: "a", FetchedAt: t0})
	require.NoError(t, err)
	_, err = store.InsertSnapshot(ctx, monitor.Snapshot{SourceID: "src", RunID: "r2", ContentHash: "b", FetchedAt: t0.Add(time.Hour)})
	require.NoError(t, err)

	latest, err = store.GetLatestSnapshot(ctx, "src", "")
	require.NoError(t, err)
	require.Equal(t, "b", latest.ContentHash)

	latest, err = store.GetLatestSnapshot(ctx, "src", "r2")
	require.NoError(t, err)
	require.Equal(t, firstID, latest.ID)

	// A retried run replaces its own snapshot.
	_, err = store.InsertSnapshot(ctx, monitor.Snapshot{SourceID: "src", RunID: "r2", ContentHash: "c", FetchedAt: t0.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, store.Snapshots("src"), 2)
}

func TestFindingAndAlertUpsertAreIdempotent(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	ctx := context.Background()

	f := monitor.Finding{OrgID: "org", SourceID: "src", Fingerprint: "fp", CreatedAt: t0}
	id1, err := store.UpsertFinding(ctx, f)
	require.NoError(t, err)
	id2, err := store.UpsertFinding(ctx, f)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Len(t, store.Findings(), 1)

	alertID, created, err := store.UpsertAlertForFinding(ctx, "org", id1, t0)
	require.NoError(t, err)
	require.True(t, created)
	again, created, err := store.UpsertAlertForFinding(ctx, "org", id1, t0)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, alertID, again)

	_, _, err = store.UpsertAlertForFinding(ctx, "org", "missing", t0)
	require.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestEscalationInsertIfAbsent(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	ctx := context.Background()
	window := t0.Truncate(time.Hour)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			esc, err := store.CreateEscalationIfAbsent(ctx, "org", "task", monitor.EscalationOverdue, window, t0)
			if err == nil && esc != nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)

	esc, err := store.CreateEscalationIfAbsent(ctx, "org", "task", monitor.EscalationDueSoon, window, t0)
	require.NoError(t, err)
	require.NotNil(t, esc, "different kind is a different key")

	esc, err = store.CreateEscalationIfAbsent(ctx, "org", "task", monitor.EscalationOverdue, window.Add(time.Hour), t0)
	require.NoError(t, err)
	require.NotNil(t, esc, "next window is a different key")
	require.Len(t, store.Escalations(), 3)
}

func TestTasksAndNotifications(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	ctx := context.Background()
	store.PutTask(monitor.Task{ID: "t1", OrgID: "b", Status: "open"})
	store.PutTask(monitor.Task{ID: "t2", OrgID: "a", Status: "open"})
	store.PutTask(monitor.Task{ID: "t3", OrgID: "c", Status: "done"})

	orgs, err := store.ListSLAOrgIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, orgs)

	tasks, err := store.SelectOpenTasksForSLA(ctx, "b")
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, store.UpdateTaskSLAState(ctx, "t1", monitor.SLADueSoon))
	task, ok := store.Task("t1")
	require.True(t, ok)
	require.Equal(t, monitor.SLADueSoon, task.SLAState)
	require.ErrorIs(t, store.UpdateTaskSLAState(ctx, "missing", monitor.SLAOverdue), monitor.ErrNotFound)

	_, err = store.EnqueueNotificationJob(ctx, "b", monitor.NotificationSLAEscalation, map[string]any{"task_id": "t1"}, t0)
	require.NoError(t, err)
	jobs := store.Notifications()
	require.Len(t, jobs, 1)
	require.Equal(t, "queued", jobs[0].Status)
}

func TestSourceFetchMeta(t *testing.T) {
	t.Parallel()

	store := NewStore(nil)
	ctx := context.Background()
	store.PutSource(monitor.Source{ID: "src", OrgID: "org"})

	require.NoError(t, store.UpdateSourceFetchMeta(ctx, "src", `"e"`, "Mon", "hash", t0))
	src, err := store.GetSource(ctx, "src")
	require.NoError(t, err)
	require.Equal(t, `"e"`, src.ETag)
	require.Equal(t, "hash", src.LastContentHash)
	require.Equal(t, t0, *src.LastFetchedAt)

	_, err = store.GetSource(ctx, "missing")
	require.ErrorIs(t, err, monitor.ErrNotFound)
}
