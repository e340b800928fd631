// Package preflight provides readiness checks for the filesystem paths and
// external tool binaries the conversion pipelines depend on.
//
// The daemon runs the full set once at startup and refuses to accept work
// when a required check fails; the CLI doctor command renders the same
// results for operators.
package preflight
