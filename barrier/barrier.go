// Package barrier implements the dispatch-and-wait phase of a fire:
// shards are pushed to workers, then the caller blocks until every
// shard of the instance reaches a terminal status, the job is moved
// out of the running state, or the instance deadline passes.
package barrier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fannyfinal/antares/event"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
)

// Outcome is the reason AwaitCompletion returned.
type Outcome int

const (
	// OutcomeCompleted means every shard reached a terminal status and
	// the instance was stamped with its terminal status.
	OutcomeCompleted Outcome = iota
	// OutcomeInterrupted means the job left the running state while the
	// instance was in flight (operator pause or stop).
	OutcomeInterrupted
	// OutcomeTimedOut means the instance deadline passed with shards
	// still in flight.
	OutcomeTimedOut
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeTimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Notifier pushes a dispatched instance to the workers of an
// application. The push is a latency optimization: workers also poll
// for pullable shards, so a failed push delays execution rather than
// losing it.
type Notifier interface {
	NotifyInstance(ctx context.Context, appName string, inst *instance.Instance, shards []*instance.Shard) error
}

// Barrier dispatches instances and blocks fires until their instances
// settle.
type Barrier struct {
	jobs           job.Store
	instances      instance.Store
	bus            *event.Bus
	notifier       Notifier
	checkInterval  time.Duration
	defaultTimeout time.Duration
	logger         *slog.Logger

	now func() time.Time
}

// New creates a Barrier. checkInterval bounds how long the wait loop
// sleeps between store checks when no shard-finished event arrives;
// defaultTimeout applies to jobs without a configured timeout.
func New(jobs job.Store, instances instance.Store, bus *event.Bus, notifier Notifier,
	checkInterval, defaultTimeout time.Duration, logger *slog.Logger) *Barrier {
	if checkInterval <= 0 {
		checkInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Barrier{
		jobs:           jobs,
		instances:      instances,
		bus:            bus,
		notifier:       notifier,
		checkInterval:  checkInterval,
		defaultTimeout: defaultTimeout,
		logger:         logger,
		now:            time.Now,
	}
}

// Dispatch pushes the instance's shards to the application's workers.
// Notify failures are logged and swallowed: the shards are already
// persisted as pullable, so polling workers will pick them up.
func (b *Barrier) Dispatch(ctx context.Context, j *job.Job, inst *instance.Instance, shards []*instance.Shard) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.NotifyInstance(ctx, j.AppName, inst, shards); err != nil {
		b.logger.Warn("instance push failed, workers will pull",
			slog.String("job", j.Key()),
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// AwaitCompletion blocks until the instance settles. On OutcomeCompleted
// the instance has been stamped with the terminal status derived from
// its shards; for the other outcomes the instance record is left to the
// caller. Store errors abort the wait.
func (b *Barrier) AwaitCompletion(ctx context.Context, j *job.Job, inst *instance.Instance) (Outcome, error) {
	timeout := j.Config.Timeout
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	deadline := b.now().Add(timeout)

	for {
		shards, err := b.instances.ListShards(ctx, inst.ID)
		if err != nil {
			return 0, fmt.Errorf("list shards of instance %s: %w", inst.ID, err)
		}
		if done, status := instance.Finished(shards); done {
			endedAt := b.now().UTC()
			if err := b.instances.FinishInstance(ctx, inst.ID, status, endedAt); err != nil {
				return 0, fmt.Errorf("finish instance %s: %w", inst.ID, err)
			}
			inst.Status = status
			inst.EndedAt = &endedAt
			return OutcomeCompleted, nil
		}

		current, err := b.jobs.GetJobState(ctx, j.ID)
		if err != nil {
			return 0, fmt.Errorf("get state of job %s: %w", j.Key(), err)
		}
		if current != job.StateRunning {
			b.logger.Info("job left running state, releasing barrier",
				slog.String("job", j.Key()),
				slog.String("state", string(current)),
				slog.String("instance_id", inst.ID.String()),
			)
			return OutcomeInterrupted, nil
		}

		remaining := deadline.Sub(b.now())
		if remaining <= 0 {
			return OutcomeTimedOut, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		wait := b.checkInterval
		if remaining < wait {
			wait = remaining
		}
		evt, err := b.bus.Subscribe(ctx, event.ShardFinished(inst.ID), wait)
		if err != nil {
			return 0, fmt.Errorf("wait for shard events of instance %s: %w", inst.ID, err)
		}
		if evt != nil {
			if err := b.bus.Ack(ctx, evt.ID); err != nil {
				b.logger.Warn("failed to ack shard event",
					slog.String("event_id", evt.ID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
