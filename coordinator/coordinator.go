// Package coordinator drives one fire from trigger to settled instance:
// admission control, the job state transition, instance and shard
// creation, dispatch, the completion wait, and failure containment.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/barrier"
	"github.com/fannyfinal/antares/cluster"
	"github.com/fannyfinal/antares/ext"
	"github.com/fannyfinal/antares/firetime"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
	"github.com/fannyfinal/antares/middleware"
	"github.com/fannyfinal/antares/state"
)

// InstanceCreateError reports that the instance or its shards could not
// be persisted. The cause message is capped before storage and
// reporting.
type InstanceCreateError struct {
	JobKey string
	Cause  error
}

// Error implements the error interface.
func (e *InstanceCreateError) Error() string {
	return fmt.Sprintf("create instance for job %s: %v", e.JobKey, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *InstanceCreateError) Unwrap() error { return e.Cause }

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecorder sets the fire-time recorder. Without one, fire-time
// bookkeeping is skipped.
func WithRecorder(r *firetime.Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(reg *ext.Registry) Option {
	return func(c *Coordinator) { c.extensions = reg }
}

// WithMiddleware sets the middleware applied around each fire.
func WithMiddleware(mw middleware.Middleware) Option {
	return func(c *Coordinator) { c.chain = mw }
}

// WithMaxErrorLength caps the persisted failure cause.
func WithMaxErrorLength(n int) Option {
	return func(c *Coordinator) { c.maxErrorLength = n }
}

// WithHostname sets the server name stamped on created instances.
func WithHostname(name string) Option {
	return func(c *Coordinator) { c.hostname = name }
}

// Coordinator executes fires. It is safe for concurrent use; each fire
// is independent.
type Coordinator struct {
	jobs      job.Store
	instances instance.Store
	states    *state.Controller
	workers   *cluster.Registry
	barrier   *barrier.Barrier

	recorder   *firetime.Recorder
	extensions *ext.Registry
	chain      middleware.Middleware

	maxErrorLength int
	hostname       string
	logger         *slog.Logger

	now func() time.Time
}

// New creates a Coordinator.
func New(
	jobs job.Store,
	instances instance.Store,
	states *state.Controller,
	workers *cluster.Registry,
	bar *barrier.Barrier,
	logger *slog.Logger,
	opts ...Option,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		jobs:           jobs,
		instances:      instances,
		states:         states,
		workers:        workers,
		barrier:        bar,
		extensions:     ext.NewRegistry(logger),
		maxErrorLength: antares.DefaultConfig().MaxErrorLength,
		logger:         logger,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fire loads the job and executes one fire. It satisfies
// trigger.FireFunc so the scheduler can hand fires to the coordinator
// directly.
func (c *Coordinator) Fire(ctx context.Context, jobID id.JobID, ft firetime.Info) error {
	j, err := c.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fire job %s: %w", jobID, err)
	}
	return c.FireJob(ctx, j, ft)
}

// FireJob executes one fire for an already-loaded job.
func (c *Coordinator) FireJob(ctx context.Context, j *job.Job, ft firetime.Info) error {
	// Fire-time bookkeeping is off the critical path: a full recorder
	// queue drops the write instead of delaying the fire.
	if c.recorder != nil {
		c.recorder.Submit(j.ID, ft)
	}

	if c.chain == nil {
		return c.runFire(ctx, j)
	}
	return c.chain(ctx, j, func(ctx context.Context) error {
		return c.runFire(ctx, j)
	})
}

// runFire is the core fire sequence.
func (c *Coordinator) runFire(ctx context.Context, j *job.Job) (err error) {
	// A panic below, in a collaborator or a lifecycle hook, must not
	// strand the job in running: recover here so containment still
	// runs. created is set once the instance is persisted so its
	// footprint gets cleaned up too.
	var created *instance.Instance
	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("fire panic for %s: %v", j.Key(), r)
			c.logger.Error("fire panicked, containing",
				slog.String("job", j.Key()),
				slog.Any("panic", r),
			)
			c.contain(ctx, j, created, panicErr)
			err = panicErr
		}
	}()

	// Admission: the fire is pointless without workers to execute it,
	// and forbidden while a previous instance is still live.
	alive, err := c.workers.HasAliveWorkers(ctx, j.AppName)
	if err != nil {
		return fmt.Errorf("admission check for %s: %w", j.Key(), err)
	}
	if !alive {
		c.logger.Warn("fire skipped, no alive workers", slog.String("job", j.Key()))
		c.extensions.EmitFireSkipped(ctx, j, "no alive workers")
		return nil
	}

	live, err := c.states.HasLiveInstance(ctx, j)
	if err != nil {
		return fmt.Errorf("live instance check for %s: %w", j.Key(), err)
	}
	if live {
		c.logger.Warn("fire skipped, previous instance still live", slog.String("job", j.Key()))
		c.extensions.EmitFireSkipped(ctx, j, "live instance")
		return nil
	}

	// Move the job to running. An illegal transition (paused, stopped,
	// or already running) silently ends the fire: the operator's state
	// wins over the schedule.
	if err := c.states.UpdateDirectly(ctx, j, job.StateRunning); err != nil {
		if errors.Is(err, antares.ErrStateTransferInvalid) {
			c.logger.Warn("fire skipped, job not in a fireable state",
				slog.String("job", j.Key()),
				slog.String("state", string(j.State)),
			)
			c.extensions.EmitFireSkipped(ctx, j, "not fireable")
			return nil
		}
		return fmt.Errorf("transition %s to running: %w", j.Key(), err)
	}
	// From here on a failure must put the job back to waiting.

	inst := &instance.Instance{
		Entity:    antares.NewEntity(),
		ID:        id.NewInstanceID(),
		JobID:     j.ID,
		Status:    instance.StatusRunning,
		Server:    c.hostname,
		StartedAt: c.now().UTC(),
	}
	shards := instance.BuildShards(inst.ID, instance.ShardConfig{
		AppName:     j.AppName,
		Class:       j.Class,
		ShardCount:  j.Config.ShardCount,
		ShardParams: j.Config.ShardParams,
		MaxRetries:  j.Config.MaxShardRetries,
	})

	if err := c.instances.CreateInstanceAndShards(ctx, inst, shards); err != nil {
		createErr := &InstanceCreateError{
			JobKey: j.Key(),
			Cause:  errors.New(truncate(err.Error(), c.maxErrorLength)),
		}
		c.contain(ctx, j, nil, createErr)
		return createErr
	}
	created = inst

	c.extensions.EmitJobFired(ctx, j)
	c.extensions.EmitInstanceCreated(ctx, j, inst)
	c.logger.Info("instance created",
		slog.String("job", j.Key()),
		slog.String("instance_id", inst.ID.String()),
		slog.Int("shards", len(shards)),
	)

	c.barrier.Dispatch(ctx, j, inst, shards)

	outcome, err := c.barrier.AwaitCompletion(ctx, j, inst)
	if err != nil {
		c.contain(ctx, j, inst, err)
		return fmt.Errorf("await completion for %s: %w", j.Key(), err)
	}

	switch outcome {
	case barrier.OutcomeCompleted:
		c.settle(ctx, j, inst)
	case barrier.OutcomeTimedOut:
		c.logger.Warn("instance timed out",
			slog.String("job", j.Key()),
			slog.String("instance_id", inst.ID.String()),
		)
		c.finishAbandoned(ctx, j, inst, instance.StatusTimeout)
		c.extensions.EmitInstanceFailed(ctx, j, inst, errors.New("instance timed out"))
	case barrier.OutcomeInterrupted:
		// The operator moved the job out of running; their state is
		// authoritative, so the job state is left alone.
		c.logger.Info("instance interrupted",
			slog.String("job", j.Key()),
			slog.String("instance_id", inst.ID.String()),
		)
		c.releaseInterrupted(ctx, j, inst)
	}
	return nil
}

// settle handles a completed instance: emit, release the footprint, and
// return the job to waiting.
func (c *Coordinator) settle(ctx context.Context, j *job.Job, inst *instance.Instance) {
	elapsed := c.now().UTC().Sub(inst.StartedAt)
	c.extensions.EmitInstanceFinished(ctx, j, inst, elapsed)
	c.logger.Info("instance finished",
		slog.String("job", j.Key()),
		slog.String("instance_id", inst.ID.String()),
		slog.String("status", string(inst.Status)),
		slog.Duration("elapsed", elapsed),
	)

	if err := c.instances.ReleaseInstance(ctx, inst.ID); err != nil {
		c.logger.Warn("instance release failed",
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := c.states.UpdateSafely(ctx, j, job.StateRunning, job.StateWaiting); err != nil {
		c.logger.Warn("job state restore failed",
			slog.String("job", j.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// finishAbandoned stamps a terminal status on an instance the barrier
// gave up on, releases its footprint, and returns the job to waiting.
func (c *Coordinator) finishAbandoned(ctx context.Context, j *job.Job, inst *instance.Instance, status instance.Status) {
	if err := c.instances.FinishInstance(ctx, inst.ID, status, c.now().UTC()); err != nil {
		c.logger.Warn("instance finish failed",
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := c.instances.ReleaseInstance(ctx, inst.ID); err != nil {
		c.logger.Warn("instance release failed",
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := c.states.UpdateSafely(ctx, j, job.StateRunning, job.StateWaiting); err != nil {
		c.logger.Warn("job state restore failed",
			slog.String("job", j.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// releaseInterrupted cancels and releases an instance whose job was
// moved out of running by an operator. The job state is not touched.
func (c *Coordinator) releaseInterrupted(ctx context.Context, j *job.Job, inst *instance.Instance) {
	if err := c.instances.FinishInstance(ctx, inst.ID, instance.StatusCancelled, c.now().UTC()); err != nil {
		c.logger.Warn("instance finish failed",
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if err := c.instances.ReleaseInstance(ctx, inst.ID); err != nil {
		c.logger.Warn("instance release failed",
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	_ = j // state deliberately untouched
}

// contain bounds the blast radius of a failed fire: the instance (when
// one exists) is marked failed with a capped cause, and the job is
// moved back to waiting so the next fire is not blocked. Secondary
// failures are logged, never propagated.
func (c *Coordinator) contain(ctx context.Context, j *job.Job, inst *instance.Instance, cause error) {
	if inst != nil {
		if err := c.instances.MarkInstanceFailed(ctx, inst.ID, truncate(cause.Error(), c.maxErrorLength)); err != nil {
			c.logger.Warn("instance fail mark failed",
				slog.String("instance_id", inst.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		c.extensions.EmitInstanceFailed(ctx, j, inst, cause)
		if err := c.instances.ReleaseInstance(ctx, inst.ID); err != nil {
			c.logger.Warn("instance release failed",
				slog.String("instance_id", inst.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := c.states.UpdateSafely(ctx, j, job.StateRunning, job.StateWaiting); err != nil {
		c.logger.Warn("job state recovery failed",
			slog.String("job", j.Key()),
			slog.String("error", err.Error()),
		)
	}
}

// truncate caps s at n characters, never splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
