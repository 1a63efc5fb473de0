// Package cluster tracks the worker processes of each application and
// elects the scheduling leader among server nodes.
//
// # Worker Entity
//
// Each worker process registers itself as a [Worker] with:
//   - a unique [id.WorkerID]
//   - the application it executes shards for
//   - its hostname
//   - a state: [WorkerActive], [WorkerDraining], or [WorkerDead]
//
// Workers send periodic heartbeats. A worker whose heartbeat is older
// than the alive threshold no longer counts for admission control: a
// fire event for an application with no alive workers is skipped.
//
// # Leader Election
//
// One server node at a time holds leadership. The leader runs the
// trigger tick loop so that a fire happens exactly once across nodes.
// Leadership is managed by [Store.AcquireLeadership] with a TTL; if it
// is lost mid-operation, [antares.ErrLeadershipLost] is returned.
package cluster
