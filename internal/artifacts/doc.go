// Package artifacts manages the on-disk artifact store.
//
// Every job owns a namespace directory under the configured artifacts root,
// named by its job id. Stage outputs land in a per-stage scratch workspace
// first and only become visible through Publish, which copies the file into
// the namespace under a temporary name, fsyncs it, and renames it into
// place. The rename is the commit point: readers either see a complete
// artifact or none at all, and an interrupted publish leaves nothing behind
// except a temp file the next purge removes.
//
// PurgeNamespace is idempotent so retention sweeps and cancellation can
// both call it without coordinating. Paths handed back out of the store are
// validated against the root before any read or delete to keep stale
// registry rows from escaping the artifacts tree.
package artifacts
