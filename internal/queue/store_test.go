package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"quaver/internal/queue"
	"quaver/internal/testsupport"
)

func forEachBackend(t *testing.T, fn func(t *testing.T, store queue.Store)) {
	t.Run("sqlite", func(t *testing.T) {
		cfg := testsupport.NewConfig(t)
		fn(t, testsupport.MustOpenStore(t, cfg))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, queue.NewMemoryStore())
	})
}

func newJob(t *testing.T) *queue.Job {
	t.Helper()
	return &queue.Job{
		ID:         uuid.NewString(),
		Kind:       queue.KindSheetToAudio,
		Options:    map[string]string{"instrument": "piano"},
		SourcePath: "/tmp/score.png",
		Stages: []queue.StageRecord{
			{Name: "recognize-notation", Tool: "audiveris", Status: queue.StagePending},
			{Name: "convert-score", Tool: "mscore", Status: queue.StagePending},
			{Name: "synthesize-audio", Tool: "fluidsynth", Status: queue.StagePending},
		},
	}
}

func TestCreateAndGetJob(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob(t)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}

		fetched, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if fetched == nil {
			t.Fatal("expected job to be found")
		}
		if fetched.Kind != queue.KindSheetToAudio {
			t.Fatalf("expected kind sheet-to-audio, got %s", fetched.Kind)
		}
		if fetched.Status != queue.StatusQueued {
			t.Fatalf("expected queued status, got %s", fetched.Status)
		}
		if fetched.SourcePath != "/tmp/score.png" {
			t.Fatalf("unexpected source path %q", fetched.SourcePath)
		}
		if fetched.Options["instrument"] != "piano" {
			t.Fatalf("expected options to round trip, got %#v", fetched.Options)
		}
		if len(fetched.Stages) != 3 || fetched.Stages[0].Name != "recognize-notation" {
			t.Fatalf("expected planned stages to round trip, got %#v", fetched.Stages)
		}
		if fetched.CreatedAt.IsZero() {
			t.Fatal("expected created_at to be stamped")
		}
	})
}

func TestGetJobMissingReturnsNil(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		fetched, err := store.GetJob(context.Background(), uuid.NewString())
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if fetched != nil {
			t.Fatalf("expected nil for unknown id, got %#v", fetched)
		}
	})
}

func TestUpdateJobDerivesStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob(t)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}

		job.Stages[0].Status = queue.StageRunning
		if err := store.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
		fetched, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if fetched.Status != queue.StatusRunning {
			t.Fatalf("expected derived running status, got %s", fetched.Status)
		}
		if fetched.FinishedAt != nil {
			t.Fatal("expected no finish time while running")
		}

		for i := range job.Stages {
			job.Stages[i].Status = queue.StageSucceeded
		}
		if err := store.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
		fetched, err = store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if fetched.Status != queue.StatusCompleted {
			t.Fatalf("expected derived completed status, got %s", fetched.Status)
		}
		if fetched.FinishedAt == nil {
			t.Fatal("expected finish time on terminal transition")
		}
	})
}

func TestUpdateJobMissingReturnsNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		err := store.UpdateJob(context.Background(), newJob(t))
		if !errors.Is(err, queue.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestClaimAssignsOldestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		older := newJob(t)
		older.CreatedAt = time.Now().Add(-2 * time.Minute).UTC()
		newer := newJob(t)
		newer.CreatedAt = time.Now().Add(-1 * time.Minute).UTC()
		for _, job := range []*queue.Job{newer, older} {
			if err := store.CreateJob(ctx, job); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}
		}

		first, err := store.Claim(ctx, "worker-1")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if first == nil || first.ID != older.ID {
			t.Fatalf("expected oldest job claimed first, got %#v", first)
		}
		if first.ClaimedBy != "worker-1" || first.LastHeartbeat == nil {
			t.Fatalf("expected claim metadata set, got %#v", first)
		}
		if first.Status != queue.StatusQueued {
			t.Fatalf("claim must not advance status, got %s", first.Status)
		}

		second, err := store.Claim(ctx, "worker-2")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if second == nil || second.ID != newer.ID {
			t.Fatalf("expected second job claimed, got %#v", second)
		}

		third, err := store.Claim(ctx, "worker-3")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if third != nil {
			t.Fatalf("expected empty claim, got %#v", third)
		}
	})
}

func TestClaimSkipsTerminalJobs(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		done := newJob(t)
		if err := store.CreateJob(ctx, done); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		for i := range done.Stages {
			done.Stages[i].Status = queue.StageSucceeded
		}
		if err := store.UpdateJob(ctx, done); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		claimed, err := store.Claim(ctx, "worker-1")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if claimed != nil {
			t.Fatalf("expected completed job to stay unclaimed, got %#v", claimed)
		}
	})
}

func TestClaimResumesReleasedJob(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob(t)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}

		// A previous worker finished the first stage before its claim was
		// released; the job sits mid-pipeline with nobody on it.
		job.Stages[0].Status = queue.StageSucceeded
		job.Stages[0].Artifact = &queue.ArtifactRef{Kind: "musicxml", Path: "stage-0/score.musicxml"}
		if err := store.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		claimed, err := store.Claim(ctx, "worker-2")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if claimed == nil || claimed.ID != job.ID {
			t.Fatalf("expected mid-pipeline job claimed, got %#v", claimed)
		}
		if claimed.Status != queue.StatusRunning {
			t.Fatalf("expected running status preserved, got %s", claimed.Status)
		}
		if idx := claimed.NextStageIndex(); idx != 1 {
			t.Fatalf("expected resume at stage 1, got %d", idx)
		}
	})
}

func TestCancelUnclaimedFinalizesJob(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob(t)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}

		cancelled, err := store.CancelUnclaimed(ctx, job.ID)
		if err != nil {
			t.Fatalf("CancelUnclaimed: %v", err)
		}
		if !cancelled {
			t.Fatal("expected queued job to cancel immediately")
		}

		fetched, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if fetched.Status != queue.StatusCancelled {
			t.Fatalf("expected cancelled status, got %s", fetched.Status)
		}
		for _, stage := range fetched.Stages {
			if stage.Status != queue.StageSkipped {
				t.Fatalf("expected all stages skipped, got %#v", fetched.Stages)
			}
		}
		if fetched.FinishedAt == nil || !fetched.CancelRequested {
			t.Fatalf("expected finalized cancel metadata, got %#v", fetched)
		}

		again, err := store.CancelUnclaimed(ctx, job.ID)
		if err != nil {
			t.Fatalf("CancelUnclaimed: %v", err)
		}
		if again {
			t.Fatal("expected terminal job cancel to be a no-op")
		}

		claimed, err := store.Claim(ctx, "worker-1")
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if claimed != nil {
			t.Fatalf("expected cancelled job to stay unclaimed, got %#v", claimed)
		}
	})
}

func TestCancelFallsBackWhenClaimed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob(t)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if _, err := store.Claim(ctx, "worker-1"); err != nil {
			t.Fatalf("Claim: %v", err)
		}

		cancelled, err := store.CancelUnclaimed(ctx, job.ID)
		if err != nil {
			t.Fatalf("CancelUnclaimed: %v", err)
		}
		if cancelled {
			t.Fatal("expected claimed job to refuse immediate cancel")
		}

		flagged, err := store.MarkCancelRequested(ctx, job.ID)
		if err != nil {
			t.Fatalf("MarkCancelRequested: %v", err)
		}
		if !flagged {
			t.Fatal("expected cancel request to be recorded")
		}

		fetched, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if !fetched.CancelRequested {
			t.Fatal("expected cancel_requested flag set")
		}
		if fetched.Status != queue.StatusQueued {
			t.Fatalf("flagging must not change status, got %s", fetched.Status)
		}
	})
}

func TestMarkCancelRequestedIgnoresTerminal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob(t)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		for i := range job.Stages {
			job.Stages[i].Status = queue.StageSucceeded
		}
		if err := store.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		flagged, err := store.MarkCancelRequested(ctx, job.ID)
		if err != nil {
			t.Fatalf("MarkCancelRequested: %v", err)
		}
		if flagged {
			t.Fatal("expected terminal job to ignore cancel request")
		}
	})
}

func TestReclaimStaleReleasesDeadWorkers(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()

		stale := newJob(t)
		if err := store.CreateJob(ctx, stale); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		claimed, err := store.Claim(ctx, "worker-dead")
		if err != nil || claimed == nil {
			t.Fatalf("Claim: %v %#v", err, claimed)
		}
		past := time.Now().Add(-2 * time.Hour).UTC()
		claimed.Stages[0].Status = queue.StageRunning
		claimed.LastHeartbeat = &past
		if err := store.UpdateJob(ctx, claimed); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		fresh := newJob(t)
		if err := store.CreateJob(ctx, fresh); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if _, err := store.Claim(ctx, "worker-alive"); err != nil {
			t.Fatalf("Claim: %v", err)
		}

		count, err := store.ReclaimStale(ctx, time.Now().Add(-1*time.Hour))
		if err != nil {
			t.Fatalf("ReclaimStale: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 job reclaimed, got %d", count)
		}

		released, err := store.GetJob(ctx, stale.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if released.ClaimedBy != "" || released.LastHeartbeat != nil {
			t.Fatalf("expected claim cleared, got %#v", released)
		}
		if released.Stages[0].Status != queue.StagePending {
			t.Fatalf("expected running stage reset, got %s", released.Stages[0].Status)
		}
		if released.Status != queue.StatusQueued {
			t.Fatalf("expected queued after reclaim, got %s", released.Status)
		}

		untouched, err := store.GetJob(ctx, fresh.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if untouched.ClaimedBy != "worker-alive" {
			t.Fatalf("expected live claim untouched, got %#v", untouched)
		}
	})
}

func TestResetStuckRunningKeepsCompletedStages(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob(t)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		claimed, err := store.Claim(ctx, "worker-1")
		if err != nil || claimed == nil {
			t.Fatalf("Claim: %v %#v", err, claimed)
		}
		claimed.Stages[0].Status = queue.StageSucceeded
		claimed.Stages[0].Artifact = &queue.ArtifactRef{Kind: "musicxml", Path: "stage-0/score.musicxml"}
		claimed.Stages[1].Status = queue.StageRunning
		if err := store.UpdateJob(ctx, claimed); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		count, err := store.ResetStuckRunning(ctx)
		if err != nil {
			t.Fatalf("ResetStuckRunning: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 job released, got %d", count)
		}

		released, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if released.ClaimedBy != "" {
			t.Fatalf("expected claim cleared, got %q", released.ClaimedBy)
		}
		if released.Stages[0].Status != queue.StageSucceeded || released.Stages[0].Artifact == nil {
			t.Fatalf("expected published stage kept, got %#v", released.Stages[0])
		}
		if released.Stages[1].Status != queue.StagePending {
			t.Fatalf("expected interrupted stage reset, got %s", released.Stages[1].Status)
		}
		if released.Status != queue.StatusRunning {
			t.Fatalf("expected mid-pipeline job to stay running, got %s", released.Status)
		}
	})
}

func TestRetryFailed(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob(t)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		job.Stages[0].Status = queue.StageSucceeded
		job.Stages[1].Status = queue.StageFailed
		job.Stages[1].Error = &queue.StageError{Kind: "tool_failure", Message: "mscore exited 1", Attempts: 3}
		job.Stages[2].Status = queue.StageSkipped
		if err := store.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		count, err := store.RetryFailed(ctx)
		if err != nil {
			t.Fatalf("RetryFailed: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 job retried, got %d", count)
		}

		retried, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if retried.Stages[0].Status != queue.StageSucceeded {
			t.Fatalf("expected succeeded stage kept, got %s", retried.Stages[0].Status)
		}
		if retried.Stages[1].Status != queue.StagePending || retried.Stages[1].Error != nil {
			t.Fatalf("expected failed stage reset, got %#v", retried.Stages[1])
		}
		if retried.Stages[2].Status != queue.StagePending {
			t.Fatalf("expected skipped stage reset, got %s", retried.Stages[2].Status)
		}
		if retried.Status != queue.StatusRunning {
			t.Fatalf("expected mid-pipeline status after retry, got %s", retried.Status)
		}
		if retried.FinishedAt != nil {
			t.Fatal("expected finish time cleared on retry")
		}

		// Targeted retry only touches the named ids.
		retried.Stages[1].Status = queue.StageFailed
		retried.Stages[1].Error = &queue.StageError{Kind: "tool_failure", Message: "mscore exited 1", Attempts: 3}
		if err := store.UpdateJob(ctx, retried); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
		count, err = store.RetryFailed(ctx, uuid.NewString())
		if err != nil {
			t.Fatalf("RetryFailed targeted miss: %v", err)
		}
		if count != 0 {
			t.Fatalf("expected no jobs retried, got %d", count)
		}
		count, err = store.RetryFailed(ctx, job.ID)
		if err != nil {
			t.Fatalf("RetryFailed targeted: %v", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 job retried, got %d", count)
		}
	})
}

func TestListSupportsStatusFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		a := newJob(t)
		a.CreatedAt = time.Now().Add(-3 * time.Minute).UTC()
		b := newJob(t)
		b.CreatedAt = time.Now().Add(-2 * time.Minute).UTC()
		c := newJob(t)
		c.CreatedAt = time.Now().Add(-1 * time.Minute).UTC()
		for _, job := range []*queue.Job{a, b, c} {
			if err := store.CreateJob(ctx, job); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}
		}
		c.Stages[0].Status = queue.StageFailed
		c.Stages[0].Error = &queue.StageError{Kind: "invalid_input", Message: "unreadable image", Attempts: 1}
		if err := store.UpdateJob(ctx, c); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		all, err := store.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 jobs, got %d", len(all))
		}
		if all[0].ID != a.ID || all[1].ID != b.ID || all[2].ID != c.ID {
			t.Fatalf("expected creation order, got %s,%s,%s", all[0].ID, all[1].ID, all[2].ID)
		}

		failed, err := store.List(ctx, queue.StatusFailed)
		if err != nil {
			t.Fatalf("List filtered: %v", err)
		}
		if len(failed) != 1 || failed[0].ID != c.ID {
			t.Fatalf("expected only failed job, got %#v", failed)
		}
	})
}

func TestListFinishedBefore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		old := newJob(t)
		if err := store.CreateJob(ctx, old); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		for i := range old.Stages {
			old.Stages[i].Status = queue.StageSucceeded
		}
		past := time.Now().Add(-2 * time.Hour).UTC()
		old.FinishedAt = &past
		if err := store.UpdateJob(ctx, old); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		recent := newJob(t)
		if err := store.CreateJob(ctx, recent); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		for i := range recent.Stages {
			recent.Stages[i].Status = queue.StageSucceeded
		}
		if err := store.UpdateJob(ctx, recent); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		expired, err := store.ListFinishedBefore(ctx, queue.StatusCompleted, time.Now().Add(-1*time.Hour))
		if err != nil {
			t.Fatalf("ListFinishedBefore: %v", err)
		}
		if len(expired) != 1 || expired[0].ID != old.ID {
			t.Fatalf("expected only the old job, got %#v", expired)
		}
	})
}

func TestRemove(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob(t)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}

		removed, err := store.Remove(ctx, job.ID)
		if err != nil {
			t.Fatalf("Remove: %v", err)
		}
		if !removed {
			t.Fatal("expected job removed")
		}
		removed, err = store.Remove(ctx, job.ID)
		if err != nil {
			t.Fatalf("Remove again: %v", err)
		}
		if removed {
			t.Fatal("expected second remove to report nothing deleted")
		}
	})
}

func TestStatsAndHealth(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		for i := 0; i < 2; i++ {
			if err := store.CreateJob(ctx, newJob(t)); err != nil {
				t.Fatalf("CreateJob: %v", err)
			}
		}
		failed := newJob(t)
		if err := store.CreateJob(ctx, failed); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		failed.Stages[0].Status = queue.StageFailed
		failed.Stages[0].Error = &queue.StageError{Kind: "tool_failure", Message: "boom", Attempts: 3}
		if err := store.UpdateJob(ctx, failed); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}

		stats, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats[queue.StatusQueued] != 2 || stats[queue.StatusFailed] != 1 {
			t.Fatalf("unexpected stats %#v", stats)
		}

		health, err := store.Health(ctx)
		if err != nil {
			t.Fatalf("Health: %v", err)
		}
		if health.Total != 3 || health.Queued != 2 || health.Failed != 1 {
			t.Fatalf("unexpected health %#v", health)
		}
	})
}

func TestUpdateHeartbeat(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store queue.Store) {
		ctx := context.Background()
		job := newJob(t)
		if err := store.CreateJob(ctx, job); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if err := store.UpdateHeartbeat(ctx, job.ID); err != nil {
			t.Fatalf("UpdateHeartbeat: %v", err)
		}

		fetched, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if fetched.LastHeartbeat == nil {
			t.Fatal("expected heartbeat to be set")
		}
	})
}
