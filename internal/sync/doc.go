// Package sync moves work items between the local store and external
// services.
//
// Overview
//
// The Engine owns four flows:
//
//	Pull          external items  → new local tasks (dedup on source+sourceId)
//	Push          local task      → new external item, task becomes linked
//	ChangeStatus  local status    → committed locally, then advised outward
//	DrainQueue    queued advisory steps → retried until done or dropped
//
// Only imports and the initial push cross the boundary as whole records.
// After that only status changes travel outward, and they are advisory: a
// failure never rolls back the local change, it is queued for retry.
//
// Error Handling
//
// Provider failures during a pull are isolated per collection and reported
// in PullResult.Failures. A rejected credential stops the remaining
// collections of that integration only. Store failures abort the operation
// and are returned.
//
// Concurrency
//
// Pull, Push, ChangeStatus and DrainQueue hold a per-user lock for their
// whole duration, so two passes for the same user never interleave and the
// dedup set built at the start of a pass stays accurate. Different users
// sync in parallel.
package sync
