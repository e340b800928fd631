// Package queue persists conversion jobs and exposes helpers for driving
// their lifecycle.
//
// The Store interface is the registry boundary: the workflow manager is its
// single writer, everything else reads. Two backends implement it, a SQLite
// store for durable daemon runs and an in-memory store for tests and
// throwaway sessions; the configured registry backend selects between them.
//
// A job's status is never stored independently of its stages. DeriveStatus
// computes it from the stage records and every write re-derives it, so a
// reader can trust that the status column and the stages always agree.
// Scheduling metadata (claims, heartbeats, the cancel flag) lives beside the
// stages but never feeds the derivation.
//
// The database is treated as transient storage for in-flight jobs rather than
// a long-term archive. Schema changes bump the version in sqlite.go; users
// clear the database to adopt the new schema.
package queue
