// Package ext defines the extension system for Antares.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnInstanceFinished(ctx context.Context, j *job.Job, inst *instance.Instance, elapsed time.Duration) error {
//	    log.Printf("instance %s of %s finished in %s", inst.ID, j.Key(), elapsed)
//	    return nil
//	}
//
// # Fire Lifecycle Hooks
//
//   - [JobFired] — a fire was admitted and execution of the job began
//   - [FireSkipped] — a fire was rejected by admission control
//   - [InstanceCreated] — an instance and its shards were persisted
//   - [InstanceFinished] — an instance reached a terminal status
//   - [InstanceFailed] — an instance was failed by containment
//   - [ShardFinished] — one shard reached a terminal status
//
// # Other Hooks
//
//   - [TriggerFired] — a trigger entry came due and a fire was started
//   - [Shutdown] — the server is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
