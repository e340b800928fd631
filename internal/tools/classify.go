package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"quaver/internal/services"
)

// sysexits codes tools use to signal a rejected input rather than a crash.
const (
	exitUsage   = 64
	exitDataErr = 65
	exitNoInput = 66
)

var resourceMarkers = []string{
	"no space left",
	"disk full",
	"out of memory",
	"cannot allocate memory",
}

// classify maps a failed run to the error taxonomy. Cancellation passes
// through unclassified so the caller can tell an operator stop apart from a
// tool problem.
func (t *commandTool) classify(ctx context.Context, err error, tail *outputTail) error {
	stage := string(t.id)
	detail := tail.String()
	if detail == "" {
		detail = err.Error()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, stage, "run "+t.binary,
				"stage deadline exceeded; the external process was killed", ctxErr)
		}
		return fmt.Errorf("%s interrupted: %w", t.binary, ctxErr)
	}

	if errors.Is(err, exec.ErrNotFound) {
		return services.Wrap(services.ErrToolFailure, stage, "run "+t.binary,
			fmt.Sprintf("binary %q not found; install it or adjust the [tools] config", t.binary), err)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case exitUsage, exitDataErr, exitNoInput:
			return services.Wrap(services.ErrInvalidInput, stage, "run "+t.binary, detail, err)
		}
	}

	lowered := strings.ToLower(detail)
	for _, marker := range resourceMarkers {
		if strings.Contains(lowered, marker) {
			return services.Wrap(services.ErrResourceExhausted, stage, "run "+t.binary, detail, err)
		}
	}

	return services.Wrap(services.ErrToolFailure, stage, "run "+t.binary, detail, err)
}
