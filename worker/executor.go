package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fannyfinal/antares/backoff"
	"github.com/fannyfinal/antares/event"
	"github.com/fannyfinal/antares/ext"
	"github.com/fannyfinal/antares/instance"
)

// Executor runs a single shard through its registered handler with
// in-process retries, then persists the terminal status and publishes
// the shard-finished event the dispatch barrier wakes on.
type Executor struct {
	registry   *Registry
	instances  instance.Store
	bus        *event.Bus
	extensions *ext.Registry
	backoff    backoff.Strategy
	logger     *slog.Logger
}

// NewExecutor creates an Executor. A nil backoff strategy falls back to
// backoff.DefaultStrategy.
func NewExecutor(
	registry *Registry,
	instances instance.Store,
	bus *event.Bus,
	extensions *ext.Registry,
	bo backoff.Strategy,
	logger *slog.Logger,
) *Executor {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry:   registry,
		instances:  instances,
		bus:        bus,
		extensions: extensions,
		backoff:    bo,
		logger:     logger,
	}
}

// Execute runs one pulled shard to a terminal status. The returned
// error reports the handler outcome; the terminal status has already
// been persisted either way.
func (e *Executor) Execute(ctx context.Context, sh *instance.Shard) error {
	handler, ok := e.registry.Get(sh.JobClass)
	if !ok {
		err := fmt.Errorf("no handler registered for job class %q", sh.JobClass)
		e.finish(ctx, sh, instance.ShardFailed, err.Error())
		return err
	}

	sc := ShardContext{
		InstanceID: sh.InstanceID,
		ShardID:    sh.ID,
		Item:       sh.Item,
		Param:      sh.Param,
	}

	var lastErr error
	for attempt := 0; attempt <= sh.MaxRetries; attempt++ {
		sc.Attempt = attempt
		lastErr = runAttempt(ctx, handler, sc)
		if lastErr == nil {
			e.finish(ctx, sh, instance.ShardSuccess, "")
			return nil
		}

		if attempt == sh.MaxRetries {
			break
		}
		delay := e.backoff.Delay(attempt + 1)
		e.logger.Info("shard attempt failed, retrying",
			slog.String("shard_id", sh.ID.String()),
			slog.String("class", sh.JobClass),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", sh.MaxRetries),
			slog.Duration("delay", delay),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			e.finish(ctx, sh, instance.ShardFailed, ctx.Err().Error())
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	e.logger.Warn("shard failed after exhausting retries",
		slog.String("shard_id", sh.ID.String()),
		slog.String("class", sh.JobClass),
		slog.Int("item", sh.Item),
		slog.String("error", lastErr.Error()),
	)
	e.finish(ctx, sh, instance.ShardFailed, lastErr.Error())
	return lastErr
}

// runAttempt runs one handler attempt with panic recovery. A panicking
// handler counts as a failed attempt instead of killing the pull
// goroutine and leaving the shard non-terminal.
func runAttempt(ctx context.Context, handler Handler, sc ShardContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, sc)
}

// finish persists the terminal shard status, publishes the
// shard-finished event, and notifies extensions. Publish failures are
// logged, not propagated: the barrier's periodic store check covers a
// lost wake-up.
func (e *Executor) finish(ctx context.Context, sh *instance.Shard, status instance.ShardStatus, errMsg string) {
	if err := e.instances.FinishShard(ctx, sh.ID, status, errMsg); err != nil {
		e.logger.Error("failed to persist shard status",
			slog.String("shard_id", sh.ID.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return
	}
	sh.Status = status
	sh.Error = errMsg

	if e.bus != nil {
		payload := []byte(strconv.Itoa(sh.Item))
		if _, err := e.bus.Publish(ctx, event.ShardFinished(sh.InstanceID), payload); err != nil {
			e.logger.Warn("failed to publish shard-finished event",
				slog.String("shard_id", sh.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.extensions != nil {
		e.extensions.EmitShardFinished(ctx, sh)
	}
}
