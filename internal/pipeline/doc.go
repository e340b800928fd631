// Package pipeline declares the fixed conversion pipelines and the artifact
// kinds that flow through them.
//
// The two definitions, sheet-to-audio and audio-to-sheet, are closed: stages
// are declared data, not pluggable handlers, so the full set of stage names,
// tool bindings, and artifact hand-offs is known at compile time and checked
// once at startup. A definition whose chain does not line up (a stage
// consuming a kind the previous stage does not produce) refuses to start the
// daemon rather than failing mid-job.
//
// The package also owns the submission option schemas. Options are validated
// synchronously at submit so a typo is rejected before a job exists.
package pipeline
