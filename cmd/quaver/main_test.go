package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"quaver/internal/daemon"
	"quaver/internal/testsupport"
)

func TestCLIVersion(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "missing.toml")
	stdout, _, err := runCLI(t, configPath, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	requireContains(t, stdout, "quaver "+appVersion)
}

func TestCLIListShowsJobs(t *testing.T) {
	env := setupCLITestEnv(t)
	completed := seedCompletedJob(t, env, uuid.NewString(), "final.wav")
	failed := seedFailedJob(t, env, uuid.NewString())

	stdout, _, err := runCLI(t, env.configPath, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, stdout, completed.ID)
	requireContains(t, stdout, failed.ID)
	requireContains(t, stdout, "Completed")
	requireContains(t, stdout, "Failed")
	requireContains(t, stdout, "Sheet-To-Audio")
	requireContains(t, stdout, "score.pdf")
}

func TestCLIListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLI(t, env.configPath, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, stdout, "No jobs")
}

func TestCLIListFiltersByStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	completed := seedCompletedJob(t, env, uuid.NewString(), "final.wav")
	failed := seedFailedJob(t, env, uuid.NewString())

	stdout, _, err := runCLI(t, env.configPath, "list", "--status", "failed")
	if err != nil {
		t.Fatalf("list --status failed: %v", err)
	}
	requireContains(t, stdout, failed.ID)
	requireNotContains(t, stdout, completed.ID)
}

func TestCLIListJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	completed := seedCompletedJob(t, env, uuid.NewString(), "final.wav")

	stdout, _, err := runCLI(t, env.configPath, "list", "--json")
	if err != nil {
		t.Fatalf("list --json: %v", err)
	}
	var views []daemon.JobView
	if err := json.Unmarshal([]byte(stdout), &views); err != nil {
		t.Fatalf("decode list output: %v\n%s", err, stdout)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 job, got %d", len(views))
	}
	if views[0].ID != completed.ID || views[0].Status != "completed" {
		t.Fatalf("unexpected view %+v", views[0])
	}
}

func TestCLIStatusShowsStageTable(t *testing.T) {
	env := setupCLITestEnv(t)
	completed := seedCompletedJob(t, env, uuid.NewString(), "final.wav")

	stdout, _, err := runCLI(t, env.configPath, "status", completed.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, stdout, "== Job "+completed.ID+" ==")
	requireContains(t, stdout, "[OK] Completed")
	requireContains(t, stdout, "recognize-notation")
	requireContains(t, stdout, "audiveris")
	requireContains(t, stdout, "Succeeded")
	requireContains(t, stdout, "final.wav (2.0 KiB)")
	requireContains(t, stdout, "30s")
	requireContains(t, stdout, "instrument=piano")
}

func TestCLIStatusShowsFailureDetail(t *testing.T) {
	env := setupCLITestEnv(t)
	failed := seedFailedJob(t, env, uuid.NewString())

	stdout, _, err := runCLI(t, env.configPath, "status", failed.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, stdout, "[ERROR] Failed")
	requireContains(t, stdout, "mscore exited with code 1 (3 attempts)")
}

func TestCLIStatusJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	completed := seedCompletedJob(t, env, uuid.NewString(), "final.wav")

	stdout, _, err := runCLI(t, env.configPath, "status", completed.ID, "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var view daemon.JobView
	if err := json.Unmarshal([]byte(stdout), &view); err != nil {
		t.Fatalf("decode status output: %v\n%s", err, stdout)
	}
	if view.ID != completed.ID || len(view.Stages) != 3 {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestCLIStatusUnknownJob(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env.configPath, "status", "no-such-job")
	if err == nil {
		t.Fatal("expected an error for an unknown job")
	}
	requireContains(t, err.Error(), "job no-such-job")
}

func TestCLIResultDownloadsArtifact(t *testing.T) {
	env := setupCLITestEnv(t)
	completed := seedCompletedJob(t, env, uuid.NewString(), "final.wav")
	destination := filepath.Join(env.baseDir, "downloaded.wav")

	stdout, _, err := runCLI(t, env.configPath, "result", completed.ID, "--output", destination)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	requireContains(t, stdout, "Saved "+destination)
	requireContains(t, stdout, "2.0 KiB")

	info, err := os.Stat(destination)
	if err != nil {
		t.Fatalf("stat download: %v", err)
	}
	if info.Size() != 2048 {
		t.Fatalf("expected 2048 bytes, got %d", info.Size())
	}
}

func TestCLIResultUsesSuggestedNameInDirectory(t *testing.T) {
	env := setupCLITestEnv(t)
	completed := seedCompletedJob(t, env, uuid.NewString(), "final.wav")
	destDir := filepath.Join(env.baseDir, "downloads")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		t.Fatalf("mkdir downloads: %v", err)
	}

	stdout, _, err := runCLI(t, env.configPath, "result", completed.ID, "--output", destDir)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	expected := filepath.Join(destDir, "final.wav")
	requireContains(t, stdout, "Saved "+expected)
	if _, err := os.Stat(expected); err != nil {
		t.Fatalf("stat download: %v", err)
	}
}

func TestCLIResultForFailedJob(t *testing.T) {
	env := setupCLITestEnv(t)
	failed := seedFailedJob(t, env, uuid.NewString())

	_, _, err := runCLI(t, env.configPath, "result", failed.ID)
	if err == nil {
		t.Fatal("expected an error for a failed job")
	}
	requireContains(t, err.Error(), "job failed: mscore exited with code 1")
}

func TestCLICancelUnknownJob(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, env.configPath, "cancel", "ghost")
	if err == nil {
		t.Fatal("expected an error for an unknown job")
	}
	requireContains(t, err.Error(), "job ghost")
}

func TestCLICancelFinishedJobIsNoOp(t *testing.T) {
	env := setupCLITestEnv(t)
	completed := seedCompletedJob(t, env, uuid.NewString(), "final.wav")

	stdout, _, err := runCLI(t, env.configPath, "cancel", completed.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	requireContains(t, stdout, "already finished (completed)")
	requireContains(t, stdout, "nothing to cancel")
}

func TestCLIListFallsBackWhenDaemonDown(t *testing.T) {
	env := setupOfflineEnv(t)
	completed := seedCompletedJob(t, env, uuid.NewString(), "final.wav")

	stdout, _, err := runCLI(t, env.configPath, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	requireContains(t, stdout, completed.ID)
	requireContains(t, stdout, "Completed")
}

func TestCLIListRejectsUnknownStatusOffline(t *testing.T) {
	env := setupOfflineEnv(t)

	_, _, err := runCLI(t, env.configPath, "list", "--status", "bogus")
	if err == nil {
		t.Fatal("expected an error for an unknown status")
	}
	requireContains(t, err.Error(), `unknown status "bogus"`)
}

func TestCLIStatusFallsBackWhenDaemonDown(t *testing.T) {
	env := setupOfflineEnv(t)
	failed := seedFailedJob(t, env, uuid.NewString())

	stdout, _, err := runCLI(t, env.configPath, "status", failed.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, stdout, "== Job "+failed.ID+" ==")
	requireContains(t, stdout, "[ERROR] Failed")

	_, _, err = runCLI(t, env.configPath, "status", "missing")
	if err == nil {
		t.Fatal("expected an error for an unknown job")
	}
	requireContains(t, err.Error(), "job missing not found")
}

func TestCLICancelRequiresDaemon(t *testing.T) {
	env := setupOfflineEnv(t)
	failed := seedFailedJob(t, env, uuid.NewString())

	_, _, err := runCLI(t, env.configPath, "cancel", failed.ID)
	if err == nil {
		t.Fatal("expected an unreachable daemon error")
	}
	requireContains(t, err.Error(), "is not reachable (start it with `quaverd`)")
}

func TestCLISubmitRequiresDaemon(t *testing.T) {
	env := setupOfflineEnv(t)
	source := filepath.Join(env.baseDir, "score.pdf")
	testsupport.WriteFile(t, source, 128)

	_, _, err := runCLI(t, env.configPath, "submit", "sheet-to-audio", source)
	if err == nil {
		t.Fatal("expected an unreachable daemon error")
	}
	requireContains(t, err.Error(), "is not reachable (start it with `quaverd`)")
}
