package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quaver/internal/artifacts"
	"quaver/internal/config"
	"quaver/internal/logging"
	"quaver/internal/notifications"
	"quaver/internal/queue"
	"quaver/internal/testsupport"
	"quaver/internal/tools"
	"quaver/internal/workflow"
)

// fixture bundles a manager with the collaborators tests observe directly.
type fixture struct {
	cfg       *config.Config
	store     queue.Store
	artifacts *artifacts.Store
	manager   *workflow.Manager
	notifier  *stubNotifier
}

func newFixture(t *testing.T, toolExec tools.Executor, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithWorkerCount(1))
	if mutate != nil {
		mutate(cfg)
	}
	store := testsupport.MustOpenStore(t, cfg)
	artifactStore, err := artifacts.NewStore(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("artifacts.NewStore: %v", err)
	}
	registry, err := tools.NewRegistry(cfg, tools.WithExecutor(toolExec))
	if err != nil {
		t.Fatalf("tools.NewRegistry: %v", err)
	}
	notifier := &stubNotifier{}
	mgr := workflow.NewManager(cfg, store, artifactStore, registry, logging.NewNop(),
		workflow.WithNotifier(notifier),
	)
	return &fixture{
		cfg:       cfg,
		store:     store,
		artifacts: artifactStore,
		manager:   mgr,
		notifier:  notifier,
	}
}

// start launches workers and registers shutdown with test cleanup.
func (fx *fixture) start(t *testing.T) {
	t.Helper()
	if err := fx.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(fx.manager.Stop)
}

// submit creates a plausible source file for the kind and submits it.
func (fx *fixture) submit(t *testing.T, kind queue.Kind) *queue.Job {
	t.Helper()
	name := "input.png"
	if kind == queue.KindAudioToSheet {
		name = "input.wav"
	}
	source := filepath.Join(testsupport.BaseDir(fx.cfg), name)
	testsupport.WriteFile(t, source, 256)

	job, err := fx.manager.Submit(context.Background(), workflow.SubmitRequest{
		Kind:   kind,
		Source: source,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return job
}

// namespace returns the job's artifact directory without creating it.
func (fx *fixture) namespace(t *testing.T, jobID string) string {
	t.Helper()
	dir, err := fx.artifacts.Namespace(jobID)
	if err != nil {
		t.Fatalf("Namespace: %v", err)
	}
	return dir
}

// waitForStatus polls the registry until the job reaches the wanted status,
// failing fast when it lands on a different terminal status instead.
func waitForStatus(t *testing.T, store queue.Store, id string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for job %s to reach %s", id, want)
		default:
		}
		job, err := store.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job != nil {
			if job.Status == want {
				return job
			}
			if job.IsTerminal() {
				t.Fatalf("job %s finished %s, wanted %s", id, job.Status, want)
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
}

// waitFor polls an arbitrary condition with the shared test deadline.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(25 * time.Millisecond)
		}
	}
}

// stubNotifier records published events in order.
type stubNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubNotifier) Test(context.Context) error { return nil }

func (s *stubNotifier) Close() {}

func (s *stubNotifier) count(event notifications.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

// toolOutput emulates the real binary's output convention: where each tool
// writes and how it names the result must match what the stage executor
// collects afterwards.
func toolOutput(binary string, args []string) error {
	switch binary {
	case "audiveris":
		// Exports into the -output directory under its own name.
		return os.WriteFile(filepath.Join(args[3], "export.xml"), []byte("<score-partwise/>"), 0o644)
	case "mscore":
		for i, arg := range args {
			if arg == "-o" && i+1 < len(args) {
				return os.WriteFile(args[i+1], []byte("MThd-converted"), 0o644)
			}
		}
		return errors.New("mscore args missing -o")
	case "quaver-remap":
		return os.WriteFile(args[len(args)-1], []byte("MThd-mapped"), 0o644)
	case "fluidsynth":
		return os.WriteFile(args[3], []byte("RIFF-rendered"), 0o644)
	case "basic-pitch":
		// Writes <stem>_basic_pitch.mid into the target directory.
		return os.WriteFile(filepath.Join(args[0], "performance_basic_pitch.mid"), []byte("MThd-transcribed"), 0o644)
	case "lilypond":
		return os.WriteFile(args[2]+".pdf", []byte("%PDF-1.7"), 0o644)
	default:
		return fmt.Errorf("unexpected binary %s", binary)
	}
}

// succeedingExecutor emulates every tool writing plausible output.
type succeedingExecutor struct {
	mu    sync.Mutex
	calls []string
}

func (s *succeedingExecutor) Run(_ context.Context, binary string, args []string, _ func(string)) error {
	s.mu.Lock()
	s.calls = append(s.calls, binary)
	s.mu.Unlock()
	return toolOutput(binary, args)
}

func (s *succeedingExecutor) callsFor(binary string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.calls {
		if b == binary {
			n++
		}
	}
	return n
}

// scriptedExecutor runs one scripted response per call, repeating the last
// entry when the script runs out.
type scriptedExecutor struct {
	mu     sync.Mutex
	calls  int
	script []func(binary string, args []string) error
}

func (s *scriptedExecutor) Run(_ context.Context, binary string, args []string, _ func(string)) error {
	s.mu.Lock()
	s.calls++
	index := s.calls - 1
	if index >= len(s.script) {
		index = len(s.script) - 1
	}
	step := s.script[index]
	s.mu.Unlock()
	return step(binary, args)
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// succeed writes the tool's conventional output.
func succeed() func(string, []string) error {
	return toolOutput
}

func failWith(err error) func(string, []string) error {
	return func(string, []string) error { return err }
}

// exitWith produces a genuine exit error with the given code.
func exitWith(code int) func(string, []string) error {
	return func(string, []string) error {
		return exec.Command("sh", "-c", fmt.Sprintf("exit %d", code)).Run()
	}
}

// blockingExecutor holds every run until its context is cancelled, and
// closes started the first time a tool is observably running.
type blockingExecutor struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	once    sync.Once
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{started: make(chan struct{})}
}

func (b *blockingExecutor) Run(ctx context.Context, _ string, _ []string, _ func(string)) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingExecutor) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
