// Package workflow drives conversion jobs from submission to a terminal
// state.
//
// The Manager owns the full job lifecycle: Submit validates a request,
// ingests the source into the job's artifact namespace, and enqueues the
// job; a pool of workers claims queued jobs and walks their stages through
// the stage executor, persisting every transition so the registry always
// reflects reality; Cancel finalizes unclaimed jobs immediately and
// cooperatively interrupts claimed ones. A maintenance loop reclaims work
// from dead workers via heartbeats and sweeps expired terminal jobs.
//
// The manager is the single writer to the job registry. API handlers and
// the CLI read through it but never mutate job rows themselves, which keeps
// the stage records and the derived status column consistent without
// cross-process locking.
package workflow
