// Package audit is an extension that bridges scheduling lifecycle
// events to an immutable audit trail backend.
//
// Every fire, instance, shard, and trigger hook emits a structured
// audit event through the [Recorder] interface. The extension assigns
// severity levels (info for normal operations, warning for skipped
// fires and failed shards, critical for failed instances) and rich
// metadata (job key, instance ID, elapsed time, errors).
//
// # Usage
//
//	ext := audit.New(audit.RecorderFunc(func(ctx context.Context, evt *audit.Event) error {
//	    return trail.Write(ctx, evt.Action, evt.Resource, evt.ResourceID, evt.Metadata)
//	}))
//	eng, _ := engine.Build(srv, engine.WithExtension(ext))
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionInstanceFailed,
//	        audit.ActionFireSkipped,
//	    ),
//	)
package audit
