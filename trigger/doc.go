// Package trigger provides distributed schedule-driven firing with
// leader election.
//
// Trigger entries are stored in the database and fired only by the
// cluster leader. This guarantees at-most-once firing even when
// multiple coordinator instances are running.
//
// # Entry
//
// An [Entry] binds a cron schedule to a job:
//   - Schedule: standard cron expression (e.g., "0 9 * * 1-5") or a
//     descriptor like "@every 30s"
//   - JobID: the job to fire when the entry comes due
//   - Enabled: whether the entry fires
//   - LockedBy / LockedUntil: distributed lock fields (managed internally)
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, acquires a
// distributed lock on each, computes the fire-time window (previous,
// current, next), and hands the fire to the coordinator through
// [FireFunc]. The [ext.TriggerFired] extension hook fires after each
// dispatch. A global rate limiter caps how many fires one tick may
// start.
package trigger
