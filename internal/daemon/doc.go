// Package daemon coordinates the long-running quaver process.
//
// It wires configuration, the job registry, the tool registry, and the
// workflow manager into a single lifecycle with flock-based locking to
// prevent multiple instances, and serves the HTTP API the CLI talks to.
//
// Keep orchestration logic here: pipeline semantics live in workflow and
// stageexec while the daemon focuses on startup, shutdown, and the API
// surface.
package daemon
