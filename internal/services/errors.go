package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks a malformed submission. Raised synchronously; no
	// job is created.
	ErrValidation = errors.New("validation error")
	// ErrInvalidInput marks a stage input the external tool rejected as
	// malformed or unsupported. Never retried.
	ErrInvalidInput = errors.New("invalid input")
	// ErrToolFailure marks an external tool crash or unexpected failure.
	// Retried up to the configured attempt bound.
	ErrToolFailure = errors.New("tool failure")
	// ErrTimeout marks a stage that exceeded its deadline. Retried once.
	ErrTimeout = errors.New("timeout")
	// ErrResourceExhausted marks disk or memory limits. Never retried.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrNotFound marks lookups of unknown or purged jobs and artifacts.
	ErrNotFound = errors.New("not found")
	// ErrNotReady marks result fetches before the job has completed.
	ErrNotReady = errors.New("not ready")
	// ErrInternal marks an orchestration invariant violation. Fatal to the
	// affected job, never to the process.
	ErrInternal = errors.New("internal error")
)

// ErrorKind is the wire-level name of a classified error, carried on stage
// records and surfaced through the API and metrics labels.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindToolFailure       ErrorKind = "tool_failure"
	KindTimeout           ErrorKind = "timeout"
	KindResourceExhausted ErrorKind = "resource_exhausted"
	KindNotFound          ErrorKind = "not_found"
	KindNotReady          ErrorKind = "not_ready"
	KindInternal          ErrorKind = "internal"
)

func (k ErrorKind) String() string { return string(k) }

// Sentinel returns the marker error a kind classifies to, or nil for an
// unknown kind. It is the inverse of Classify, used to rebuild typed
// errors from wire responses.
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindInvalidInput:
		return ErrInvalidInput
	case KindToolFailure:
		return ErrToolFailure
	case KindTimeout:
		return ErrTimeout
	case KindResourceExhausted:
		return ErrResourceExhausted
	case KindNotFound:
		return ErrNotFound
	case KindNotReady:
		return ErrNotReady
	case KindInternal:
		return ErrInternal
	}
	return nil
}

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrInternal
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its taxonomy kind. Unrecognized errors are
// treated as tool failures so they stay retryable rather than poisoning a
// job on an incidental wrapper error.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrInternal):
		return KindInternal
	default:
		return KindToolFailure
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
