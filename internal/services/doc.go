// Package services defines the error taxonomy and context plumbing shared by
// every quaver component.
//
// Sentinel markers classify failures so callers can route on errors.Is
// without inspecting messages: submission validation, the four stage failure
// kinds (invalid input, tool failure, timeout, resource exhaustion), lookup
// misses, premature result fetches, and orchestration invariant violations.
// Wrap tags an error with a marker plus stage and operation context in one
// call.
//
// The context helpers annotate a context with job, stage, worker, and request
// identifiers; logging.WithContext reads them back so log lines stay
// correlated across package boundaries.
package services
