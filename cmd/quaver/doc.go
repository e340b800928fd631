// Package main hosts the quaver CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the quaverd API: job submission, status and listing, result
// downloads, cancellation, queue maintenance, health diagnosis, and
// configuration scaffolding. Read-only commands fall back to direct registry
// access when the daemon is down; every mutation goes through the daemon so
// the registry keeps a single writer.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
