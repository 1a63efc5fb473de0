package ext

import (
	"context"
	"time"

	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobFired is called after a fire passes admission and the job moves to
// the running state.
type JobFired interface {
	OnJobFired(ctx context.Context, j *job.Job) error
}

// FireSkipped is called when admission control rejects a fire. Reason
// names the failed check, e.g. "no alive workers" or "instance exists".
type FireSkipped interface {
	OnFireSkipped(ctx context.Context, j *job.Job, reason string) error
}

// InstanceCreated is called after an instance and its shards are
// persisted.
type InstanceCreated interface {
	OnInstanceCreated(ctx context.Context, j *job.Job, inst *instance.Instance) error
}

// InstanceFinished is called when an instance reaches a terminal status
// through the barrier.
type InstanceFinished interface {
	OnInstanceFinished(ctx context.Context, j *job.Job, inst *instance.Instance, elapsed time.Duration) error
}

// InstanceFailed is called when containment fails an instance after a
// fire error.
type InstanceFailed interface {
	OnInstanceFailed(ctx context.Context, j *job.Job, inst *instance.Instance, fireErr error) error
}

// ShardFinished is called when one shard reaches a terminal status.
type ShardFinished interface {
	OnShardFinished(ctx context.Context, sh *instance.Shard) error
}

// TriggerFired is called when a trigger entry comes due and a fire is
// started.
type TriggerFired interface {
	OnTriggerFired(ctx context.Context, triggerID id.TriggerID, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
