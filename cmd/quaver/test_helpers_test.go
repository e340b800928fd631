package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"quaver/internal/artifacts"
	"quaver/internal/config"
	"quaver/internal/daemon"
	"quaver/internal/logging"
	"quaver/internal/queue"
	"quaver/internal/testsupport"
	"quaver/internal/tools"
	"quaver/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      queue.Store
	daemon     *daemon.Daemon
	configPath string
	baseDir    string
}

// setupCLITestEnv starts a real daemon on an ephemeral port and writes a
// config file pointing at it, so commands run exactly the way a user would
// invoke them.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t,
		testsupport.WithWorkerCount(1),
		testsupport.WithStubbedBinaries(),
	)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	store := testsupport.MustOpenStore(t, cfg)
	artifactStore, err := artifacts.NewStore(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("artifacts.NewStore: %v", err)
	}
	registry, err := tools.NewRegistry(cfg)
	if err != nil {
		t.Fatalf("tools.NewRegistry: %v", err)
	}
	manager := workflow.NewManager(cfg, store, artifactStore, registry, logging.NewNop())
	d, err := daemon.New(cfg, store, registry, manager, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	// The port is only known after Start, so the config file the CLI reads
	// is written afterwards with the bound address.
	bound := *cfg
	bound.Paths.APIBind = d.Addr()
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, &bound)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		daemon:     d,
		configPath: configPath,
		baseDir:    testsupport.BaseDir(cfg),
	}
}

// setupOfflineEnv builds a registry with no daemon behind it. The config
// points the API at a dead port so unreachable handling is exercised for
// real rather than simulated.
func setupOfflineEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = "127.0.0.1:1"
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	store := testsupport.MustOpenStore(t, cfg)

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		store:      store,
		configPath: configPath,
		baseDir:    testsupport.BaseDir(cfg),
	}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	encoded, err := toml.Marshal(*cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, configPath string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// seedCompletedJob persists a finished job whose final artifact exists on
// disk, so result downloads stream real bytes.
func seedCompletedJob(t *testing.T, env *cliTestEnv, id, artifactName string) *queue.Job {
	t.Helper()

	artifactPath := filepath.Join(env.cfg.Paths.ArtifactsDir, id, artifactName)
	testsupport.WriteFile(t, artifactPath, 2048)

	started := time.Now().UTC().Add(-2 * time.Minute)
	midpoint := started.Add(30 * time.Second)
	finished := started.Add(time.Minute)
	job := &queue.Job{
		ID:         id,
		Kind:       queue.KindSheetToAudio,
		Options:    map[string]string{"instrument": "piano"},
		SourcePath: filepath.Join(env.baseDir, "score.pdf"),
		Stages: []queue.StageRecord{
			{
				Name: "recognize-notation", Tool: "audiveris", Status: queue.StageSucceeded,
				StartedAt: &started, FinishedAt: &midpoint,
				Artifact: &queue.ArtifactRef{Kind: "score", Path: artifactPath, SizeBytes: 2048},
			},
			{
				Name: "convert-score", Tool: "mscore", Status: queue.StageSucceeded,
				StartedAt: &midpoint, FinishedAt: &finished,
				Artifact: &queue.ArtifactRef{Kind: "midi", Path: artifactPath, SizeBytes: 2048},
			},
			{
				Name: "synthesize-audio", Tool: "fluidsynth", Status: queue.StageSucceeded,
				StartedAt: &finished, FinishedAt: &finished,
				Artifact: &queue.ArtifactRef{
					Kind: "audio", Path: artifactPath,
					ContentType: "audio/wav", SizeBytes: 2048,
				},
			},
		},
		CreatedAt:  started,
		FinishedAt: &finished,
	}
	if err := env.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed completed job: %v", err)
	}
	return job
}

func seedFailedJob(t *testing.T, env *cliTestEnv, id string) *queue.Job {
	t.Helper()

	started := time.Now().UTC().Add(-time.Minute)
	finished := started.Add(20 * time.Second)
	job := &queue.Job{
		ID:         id,
		Kind:       queue.KindAudioToSheet,
		SourcePath: filepath.Join(env.baseDir, "performance.wav"),
		Stages: []queue.StageRecord{
			{
				Name: "transcribe-audio", Tool: "basic-pitch", Status: queue.StageSucceeded,
				StartedAt: &started, FinishedAt: &finished,
				Artifact: &queue.ArtifactRef{Kind: "midi", Path: filepath.Join(env.baseDir, "gone.mid")},
			},
			{
				Name: "convert-notes", Tool: "mscore", Status: queue.StageFailed,
				StartedAt: &finished, FinishedAt: &finished,
				Error: &queue.StageError{Kind: "tool_failure", Message: "mscore exited with code 1", Attempts: 3},
			},
			{Name: "render-notation", Tool: "lilypond", Status: queue.StageSkipped},
		},
		CreatedAt:  started,
		FinishedAt: &finished,
	}
	if err := env.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("seed failed job: %v", err)
	}
	return job
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func requireNotContains(t *testing.T, output, substr string) {
	t.Helper()
	if strings.Contains(output, substr) {
		t.Fatalf("expected %q to not contain %q", output, substr)
	}
}
