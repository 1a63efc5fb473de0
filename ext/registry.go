package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobFiredEntry struct {
	name string
	hook JobFired
}

type fireSkippedEntry struct {
	name string
	hook FireSkipped
}

type instanceCreatedEntry struct {
	name string
	hook InstanceCreated
}

type instanceFinishedEntry struct {
	name string
	hook InstanceFinished
}

type instanceFailedEntry struct {
	name string
	hook InstanceFailed
}

type shardFinishedEntry struct {
	name string
	hook ShardFinished
}

type triggerFiredEntry struct {
	name string
	hook TriggerFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobFired         []jobFiredEntry
	fireSkipped      []fireSkippedEntry
	instanceCreated  []instanceCreatedEntry
	instanceFinished []instanceFinishedEntry
	instanceFailed   []instanceFailedEntry
	shardFinished    []shardFinishedEntry
	triggerFired     []triggerFiredEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobFired); ok {
		r.jobFired = append(r.jobFired, jobFiredEntry{name, h})
	}
	if h, ok := e.(FireSkipped); ok {
		r.fireSkipped = append(r.fireSkipped, fireSkippedEntry{name, h})
	}
	if h, ok := e.(InstanceCreated); ok {
		r.instanceCreated = append(r.instanceCreated, instanceCreatedEntry{name, h})
	}
	if h, ok := e.(InstanceFinished); ok {
		r.instanceFinished = append(r.instanceFinished, instanceFinishedEntry{name, h})
	}
	if h, ok := e.(InstanceFailed); ok {
		r.instanceFailed = append(r.instanceFailed, instanceFailedEntry{name, h})
	}
	if h, ok := e.(ShardFinished); ok {
		r.shardFinished = append(r.shardFinished, shardFinishedEntry{name, h})
	}
	if h, ok := e.(TriggerFired); ok {
		r.triggerFired = append(r.triggerFired, triggerFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobFired notifies all extensions that implement JobFired.
func (r *Registry) EmitJobFired(ctx context.Context, j *job.Job) {
	for _, e := range r.jobFired {
		if err := e.hook.OnJobFired(ctx, j); err != nil {
			r.logHookError("OnJobFired", e.name, err)
		}
	}
}

// EmitFireSkipped notifies all extensions that implement FireSkipped.
func (r *Registry) EmitFireSkipped(ctx context.Context, j *job.Job, reason string) {
	for _, e := range r.fireSkipped {
		if err := e.hook.OnFireSkipped(ctx, j, reason); err != nil {
			r.logHookError("OnFireSkipped", e.name, err)
		}
	}
}

// EmitInstanceCreated notifies all extensions that implement InstanceCreated.
func (r *Registry) EmitInstanceCreated(ctx context.Context, j *job.Job, inst *instance.Instance) {
	for _, e := range r.instanceCreated {
		if err := e.hook.OnInstanceCreated(ctx, j, inst); err != nil {
			r.logHookError("OnInstanceCreated", e.name, err)
		}
	}
}

// EmitInstanceFinished notifies all extensions that implement InstanceFinished.
func (r *Registry) EmitInstanceFinished(ctx context.Context, j *job.Job, inst *instance.Instance, elapsed time.Duration) {
	for _, e := range r.instanceFinished {
		if err := e.hook.OnInstanceFinished(ctx, j, inst, elapsed); err != nil {
			r.logHookError("OnInstanceFinished", e.name, err)
		}
	}
}

// EmitInstanceFailed notifies all extensions that implement InstanceFailed.
func (r *Registry) EmitInstanceFailed(ctx context.Context, j *job.Job, inst *instance.Instance, fireErr error) {
	for _, e := range r.instanceFailed {
		if err := e.hook.OnInstanceFailed(ctx, j, inst, fireErr); err != nil {
			r.logHookError("OnInstanceFailed", e.name, err)
		}
	}
}

// EmitShardFinished notifies all extensions that implement ShardFinished.
func (r *Registry) EmitShardFinished(ctx context.Context, sh *instance.Shard) {
	for _, e := range r.shardFinished {
		if err := e.hook.OnShardFinished(ctx, sh); err != nil {
			r.logHookError("OnShardFinished", e.name, err)
		}
	}
}

// EmitTriggerFired notifies all extensions that implement TriggerFired.
func (r *Registry) EmitTriggerFired(ctx context.Context, triggerID id.TriggerID, jobID id.JobID) {
	for _, e := range r.triggerFired {
		if err := e.hook.OnTriggerFired(ctx, triggerID, jobID); err != nil {
			r.logHookError("OnTriggerFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block a fire.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
