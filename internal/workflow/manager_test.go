package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"quaver/internal/notifications"
	"quaver/internal/queue"
	"quaver/internal/services"
	"quaver/internal/testsupport"
	"quaver/internal/workflow"
)

func TestSubmitValidatesBeforeCreatingState(t *testing.T) {
	fx := newFixture(t, &scriptedExecutor{script: []func(string, []string) error{failWith(errors.New("must not run"))}}, nil)
	ctx := context.Background()

	source := filepath.Join(testsupport.BaseDir(fx.cfg), "score.png")
	testsupport.WriteFile(t, source, 128)
	empty := filepath.Join(testsupport.BaseDir(fx.cfg), "empty.png")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write empty file: %v", err)
	}

	cases := []struct {
		name string
		req  workflow.SubmitRequest
	}{
		{"unknown kind", workflow.SubmitRequest{Kind: "audio-to-audio", Source: source}},
		{"missing source", workflow.SubmitRequest{Kind: queue.KindSheetToAudio, Source: ""}},
		{"nonexistent source", workflow.SubmitRequest{Kind: queue.KindSheetToAudio, Source: source + ".missing"}},
		{"directory source", workflow.SubmitRequest{Kind: queue.KindSheetToAudio, Source: testsupport.BaseDir(fx.cfg)}},
		{"empty source", workflow.SubmitRequest{Kind: queue.KindSheetToAudio, Source: empty}},
		{"unknown instrument", workflow.SubmitRequest{
			Kind:    queue.KindSheetToAudio,
			Source:  source,
			Options: map[string]string{"instrument": "kazoo"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := fx.manager.Submit(ctx, tc.req); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	jobs, err := fx.manager.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("rejected submissions must not create jobs, found %d", len(jobs))
	}
	if fx.notifier.count(notifications.EventJobQueued) != 0 {
		t.Fatal("rejected submissions must not notify")
	}
}

func TestSubmitIngestsSourceIntoNamespace(t *testing.T) {
	fx := newFixture(t, &succeedingExecutor{}, nil)
	ctx := context.Background()

	source := filepath.Join(testsupport.BaseDir(fx.cfg), "score.png")
	testsupport.WriteFile(t, source, 512)
	job, err := fx.manager.Submit(ctx, workflow.SubmitRequest{
		Kind:   queue.KindSheetToAudio,
		Source: source,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if job.Status != queue.StatusQueued {
		t.Fatalf("expected queued job, got %s", job.Status)
	}
	if job.Options["instrument"] != "piano" {
		t.Fatalf("expected default instrument, got %q", job.Options["instrument"])
	}
	wantStages := []string{"recognize-notation", "convert-score", "map-instruments", "synthesize-audio"}
	if len(job.Stages) != len(wantStages) {
		t.Fatalf("expected %d planned stages, got %d", len(wantStages), len(job.Stages))
	}
	for i, name := range wantStages {
		if job.Stages[i].Name != name {
			t.Fatalf("stage %d: expected %s, got %s", i, name, job.Stages[i].Name)
		}
		if job.Stages[i].Status != queue.StagePending {
			t.Fatalf("stage %d: expected pending, got %s", i, job.Stages[i].Status)
		}
	}

	// The ingested copy keeps the job runnable after the original is gone.
	ingested := filepath.Join(fx.namespace(t, job.ID), "score.png")
	info, err := os.Stat(ingested)
	if err != nil {
		t.Fatalf("stat ingested source: %v", err)
	}
	if info.Size() != 512 {
		t.Fatalf("expected 512 ingested bytes, got %d", info.Size())
	}
	if err := os.Remove(source); err != nil {
		t.Fatalf("remove original: %v", err)
	}
	if _, err := os.Stat(ingested); err != nil {
		t.Fatalf("ingested copy must survive original deletion: %v", err)
	}

	if fx.notifier.count(notifications.EventJobQueued) != 1 {
		t.Fatal("expected one queued notification")
	}
}

func TestJobUnknownIDReturnsNotFound(t *testing.T) {
	fx := newFixture(t, &succeedingExecutor{}, nil)

	_, err := fx.manager.Job(context.Background(), "no-such-job")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResultBeforeCompletionNotReady(t *testing.T) {
	fx := newFixture(t, &succeedingExecutor{}, nil)
	job := fx.submit(t, queue.KindSheetToAudio)

	_, err := fx.manager.Result(context.Background(), job.ID)
	if !errors.Is(err, services.ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
}

func TestCancelQueuedJobFinalizesImmediately(t *testing.T) {
	fx := newFixture(t, &succeedingExecutor{}, nil)
	ctx := context.Background()
	job := fx.submit(t, queue.KindSheetToAudio)

	cancelled, err := fx.manager.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.FinishedAt == nil {
		t.Fatal("expected finished timestamp on cancelled job")
	}
	for i, stage := range cancelled.Stages {
		if stage.Status != queue.StageSkipped {
			t.Fatalf("stage %d: expected skipped, got %s", i, stage.Status)
		}
	}

	if _, err := os.Stat(fx.namespace(t, job.ID)); !os.IsNotExist(err) {
		t.Fatalf("expected namespace purged, stat err=%v", err)
	}
	if fx.notifier.count(notifications.EventJobCancelled) != 1 {
		t.Fatal("expected one cancelled notification")
	}

	if _, err := fx.manager.Result(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("cancelled job must have no result, got %v", err)
	}

	// Cancel acknowledges settled jobs without touching them.
	again, err := fx.manager.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("second cancel must ack, got %v", err)
	}
	if again.Status != queue.StatusCancelled {
		t.Fatalf("expected cancelled after repeat cancel, got %s", again.Status)
	}
	if fx.notifier.count(notifications.EventJobCancelled) != 1 {
		t.Fatal("repeat cancel must not renotify")
	}
}

func TestCancelUnknownJobReturnsNotFound(t *testing.T) {
	fx := newFixture(t, &succeedingExecutor{}, nil)

	_, err := fx.manager.Cancel(context.Background(), "no-such-job")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteRequiresTerminalJob(t *testing.T) {
	fx := newFixture(t, &succeedingExecutor{}, nil)
	ctx := context.Background()
	job := fx.submit(t, queue.KindSheetToAudio)

	err := fx.manager.Delete(ctx, job.ID)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("deleting a live job must be rejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "cancel") {
		t.Fatalf("expected the rejection to point at cancel, got %q", err)
	}

	if _, err := fx.manager.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := fx.manager.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fx.manager.Job(ctx, job.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("deleted job must be gone, got %v", err)
	}
}

func TestRetryValidatesJobState(t *testing.T) {
	fx := newFixture(t, &succeedingExecutor{}, nil)
	ctx := context.Background()
	job := fx.submit(t, queue.KindSheetToAudio)

	if _, err := fx.manager.Retry(ctx, job.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("retrying a queued job must be rejected, got %v", err)
	}
	if _, err := fx.manager.Retry(ctx, "no-such-job"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatsCountJobsByStatus(t *testing.T) {
	fx := newFixture(t, &succeedingExecutor{}, nil)
	ctx := context.Background()

	kept := fx.submit(t, queue.KindSheetToAudio)
	dropped := fx.submit(t, queue.KindAudioToSheet)
	if _, err := fx.manager.Cancel(ctx, dropped.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	stats, err := fx.manager.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusQueued] != 1 {
		t.Fatalf("expected 1 queued job, got %d", stats[queue.StatusQueued])
	}
	if stats[queue.StatusCancelled] != 1 {
		t.Fatalf("expected 1 cancelled job, got %d", stats[queue.StatusCancelled])
	}

	queued, err := fx.manager.List(ctx, queue.StatusQueued)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != kept.ID {
		t.Fatalf("expected filtered list with %s, got %+v", kept.ID, queued)
	}
}

func TestHealthFlagsStoppedManager(t *testing.T) {
	fx := newFixture(t, &succeedingExecutor{}, nil)
	fx.submit(t, queue.KindSheetToAudio)

	report := fx.manager.Health(context.Background())
	if report.Healthy() {
		t.Fatal("a stopped manager must not report healthy")
	}
	found := false
	for _, problem := range report.Problems {
		if strings.Contains(problem, "not running") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a not-running problem, got %v", report.Problems)
	}
	if report.Queue.Queued != 1 {
		t.Fatalf("expected 1 queued job in summary, got %d", report.Queue.Queued)
	}

	fx.start(t)
	waitForStatus(t, fx.store, mustFirstJobID(t, fx), queue.StatusCompleted)
	report = fx.manager.Health(context.Background())
	if !report.Running {
		t.Fatal("expected running manager in report")
	}
}

func mustFirstJobID(t *testing.T, fx *fixture) string {
	t.Helper()
	jobs, err := fx.manager.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) == 0 {
		t.Fatal("expected at least one job")
	}
	return jobs[0].ID
}
