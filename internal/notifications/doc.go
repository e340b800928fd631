// Package notifications delivers job lifecycle events via pluggable sinks.
//
// Two transports are supported: ntfy push messages for humans and NATS JSON
// events for downstream automation. Either, both, or neither may be
// configured; with nothing configured the service degrades to a no-op.
// Per-event toggles in config.toml suppress individual lifecycle events
// before they reach any sink.
//
// Workflow code depends only on the Service interface. Delivery failures are
// the caller's to log and ignore; a lost notification must never affect a
// job's outcome.
package notifications
