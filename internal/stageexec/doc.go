// Package stageexec runs single pipeline stages against their external
// tools.
//
// The executor owns the per-stage deadline, the retry loop, and the atomic
// hand-off of tool output into the artifact store. Retry behavior follows
// the error classification: tool failures retry up to the configured
// attempt bound with doubling backoff, timeouts retry exactly once, and
// invalid input or exhausted resources surface immediately. Cancellation
// passes through unclassified so the workflow can mark the stage skipped
// rather than failed.
//
// The executor never writes to the job registry. It reports the published
// artifact and the attempt count; persisting stage records is the
// workflow's job.
package stageexec
