// Package state owns job state mutations. All transitions go through the
// Controller so that "direct" vs "safe" semantics and the legal-transition
// table are enforced in one place; no other component writes job state.
package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
)

// Controller enforces legal job state transitions and answers the
// instance-liveness question admission control asks.
type Controller struct {
	jobs      job.Store
	instances instance.Store
	logger    *slog.Logger
}

// NewController creates a Controller.
func NewController(jobs job.Store, instances instance.Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{jobs: jobs, instances: instances, logger: logger}
}

// UpdateDirectly transitions the job unconditionally to newState after
// checking the legal-transition table. It is used when the caller has
// just established exclusive ownership of the job (post-admission) or
// must force recovery. An illegal transition returns
// antares.ErrStateTransferInvalid.
func (c *Controller) UpdateDirectly(ctx context.Context, j *job.Job, newState job.State) error {
	current, err := c.jobs.GetJobState(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("get state of job %s: %w", j.Key(), err)
	}

	if !job.CanTransfer(current, newState) {
		return fmt.Errorf("job %s: %s -> %s: %w",
			j.Key(), current, newState, antares.ErrStateTransferInvalid)
	}

	if err := c.jobs.SetJobState(ctx, j.ID, newState); err != nil {
		return fmt.Errorf("set state of job %s: %w", j.Key(), err)
	}

	j.State = newState
	return nil
}

// UpdateSafely transitions the job from the expected state to newState,
// but only if the job is still in that state. Losing the race to a
// concurrent operator action (pause, stop) is a normal outcome, silently
// accepted: the method returns nil and leaves the job untouched. This is
// what keeps a job stopped mid-run from being resumed by the fire that
// was interrupted.
func (c *Controller) UpdateSafely(ctx context.Context, j *job.Job, from, newState job.State) error {
	if !job.CanTransfer(from, newState) {
		c.logger.Warn("illegal transition requested in safe update, skipping",
			slog.String("job", j.Key()),
			slog.String("from", string(from)),
			slog.String("requested", string(newState)),
		)
		return nil
	}

	applied, err := c.jobs.CompareAndSetJobState(ctx, j.ID, from, newState)
	if err != nil {
		return fmt.Errorf("compare-and-set state of job %s: %w", j.Key(), err)
	}
	if !applied {
		// The job moved away from the expected state concurrently;
		// also a normal outcome.
		c.logger.Warn("job state changed during safe update",
			slog.String("job", j.Key()),
			slog.String("expected", string(from)),
			slog.String("requested", string(newState)),
		)
		return nil
	}

	j.State = newState
	return nil
}

// HasLiveInstance reports whether a running instance already exists for
// the job. Used by admission control to serialize fires per job.
func (c *Controller) HasLiveInstance(ctx context.Context, j *job.Job) (bool, error) {
	return c.instances.HasRunningInstance(ctx, j.ID)
}
