package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"quaver/internal/pipeline"
	"quaver/internal/services"
)

// Invocation names the files one tool run consumes and produces, plus the
// normalized job options the tool may honor.
type Invocation struct {
	InputPath  string
	OutputPath string
	Options    map[string]string
}

// Tool runs one external collaborator under the uniform
// input-file-to-output-file contract.
type Tool interface {
	ID() pipeline.ToolID
	Command() string
	// Timeout returns the per-tool timeout override, zero when the stage
	// default applies.
	Timeout() time.Duration
	// RetryAttempts returns the per-tool attempt override for tool
	// failures, zero when the retry default applies.
	RetryAttempts() int
	Run(ctx context.Context, inv Invocation) error
	Health(ctx context.Context) Health
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// argsFunc builds the binary's argument list for one invocation.
type argsFunc func(inv Invocation, extraArgs []string) []string

// locateFunc moves a tool-named output file to the requested output path
// after a successful run. Nil when the tool writes the output path directly.
type locateFunc func(inv Invocation) error

type commandTool struct {
	id        pipeline.ToolID
	binary    string
	extraArgs []string
	timeout   time.Duration
	attempts  int
	buildArgs argsFunc
	locate    locateFunc
	exec      Executor
}

func (t *commandTool) ID() pipeline.ToolID { return t.id }

func (t *commandTool) Command() string { return t.binary }

func (t *commandTool) Timeout() time.Duration { return t.timeout }

func (t *commandTool) RetryAttempts() int { return t.attempts }

func (t *commandTool) Run(ctx context.Context, inv Invocation) error {
	if strings.TrimSpace(inv.InputPath) == "" {
		return services.Wrap(services.ErrInternal, string(t.id), "run", "invocation without input path", nil)
	}
	if strings.TrimSpace(inv.OutputPath) == "" {
		return services.Wrap(services.ErrInternal, string(t.id), "run", "invocation without output path", nil)
	}

	tail := newOutputTail(outputTailLines)
	args := t.buildArgs(inv, t.extraArgs)
	if err := t.exec.Run(ctx, t.binary, args, tail.Add); err != nil {
		return t.classify(ctx, err, tail)
	}
	if t.locate != nil {
		if err := t.locate(inv); err != nil {
			return services.Wrap(services.ErrToolFailure, string(t.id), "collect output", err.Error(), nil)
		}
	}

	info, err := os.Stat(inv.OutputPath)
	if err != nil {
		return services.Wrap(services.ErrToolFailure, string(t.id), "collect output",
			fmt.Sprintf("%s exited successfully but wrote no output", t.binary), err)
	}
	if info.Size() == 0 {
		return services.Wrap(services.ErrToolFailure, string(t.id), "collect output",
			fmt.Sprintf("%s produced an empty output file", t.binary), nil)
	}
	return nil
}

// Health reports whether the tool's binary is resolvable on PATH.
func (t *commandTool) Health(_ context.Context) Health {
	if _, err := exec.LookPath(t.binary); err != nil {
		return Unhealthy(string(t.id), fmt.Sprintf("binary %q not found on PATH", t.binary))
	}
	return Healthy(string(t.id))
}

const outputTailLines = 12

// outputTail keeps the last few lines of combined tool output for error
// messages.
type outputTail struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newOutputTail(max int) *outputTail {
	return &outputTail{max: max}
}

func (o *outputTail) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = append(o.lines, line)
	if len(o.lines) > o.max {
		o.lines = o.lines[len(o.lines)-o.max:]
	}
}

func (o *outputTail) Lines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.lines...)
}

func (o *outputTail) String() string {
	return strings.Join(o.Lines(), " | ")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onOutput != nil {
				onOutput(scanner.Text())
			}
		}
		if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	wg.Wait()
	waitErr := cmd.Wait()
	if waitErr != nil {
		return waitErr
	}
	if scanErr != nil {
		return fmt.Errorf("scan output: %w", scanErr)
	}
	return nil
}
