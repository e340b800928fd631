package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"quaver/internal/pipeline"
	"quaver/internal/services"
)

// exitError produces a genuine *exec.ExitError with the requested code.
func exitError(t *testing.T, code int) error {
	t.Helper()
	err := exec.Command("sh", "-c", fmt.Sprintf("exit %d", code)).Run()
	if err == nil {
		t.Fatalf("expected exit %d to fail", code)
	}
	return err
}

func testTool() *commandTool {
	return &commandTool{id: pipeline.ToolSynthesizer, binary: "fluidsynth"}
}

func TestClassifyInvalidInputExitCodes(t *testing.T) {
	tool := testTool()
	for _, code := range []int{64, 65, 66} {
		err := tool.classify(context.Background(), exitError(t, code), newOutputTail(4))
		if !errors.Is(err, services.ErrInvalidInput) {
			t.Fatalf("exit %d: expected invalid input, got %v", code, err)
		}
	}

	err := tool.classify(context.Background(), exitError(t, 1), newOutputTail(4))
	if !errors.Is(err, services.ErrToolFailure) {
		t.Fatalf("exit 1: expected tool failure, got %v", err)
	}
}

func TestClassifyResourceMarkersInOutput(t *testing.T) {
	tool := testTool()
	tail := newOutputTail(4)
	tail.Add("fluidsynth: error: No space left on device")

	err := tool.classify(context.Background(), exitError(t, 1), tail)
	if !errors.Is(err, services.ErrResourceExhausted) {
		t.Fatalf("expected resource exhaustion, got %v", err)
	}
}

func TestClassifyDeadlineBecomesTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	err := testTool().classify(ctx, errors.New("signal: killed"), newOutputTail(4))
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestClassifyCancellationPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := testTool().classify(ctx, errors.New("signal: killed"), newOutputTail(4))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation to pass through, got %v", err)
	}
	if kind := services.Classify(err); kind == services.KindTimeout || kind == services.KindInvalidInput {
		t.Fatalf("cancellation must not classify as %s", kind)
	}
}

func TestClassifyMissingBinary(t *testing.T) {
	_, lookErr := exec.LookPath("quaver-test-missing-binary")
	if lookErr == nil {
		t.Skip("improbable binary exists on PATH")
	}

	err := testTool().classify(context.Background(), lookErr, newOutputTail(4))
	if !errors.Is(err, services.ErrToolFailure) {
		t.Fatalf("expected tool failure for missing binary, got %v", err)
	}
}

func TestOutputTailKeepsRecentLines(t *testing.T) {
	tail := newOutputTail(3)
	for i := 0; i < 6; i++ {
		tail.Add(fmt.Sprintf("line-%d", i))
	}
	tail.Add("   ")

	lines := tail.Lines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 retained lines, got %d", len(lines))
	}
	if lines[0] != "line-3" || lines[2] != "line-5" {
		t.Fatalf("unexpected retained lines %v", lines)
	}
}
