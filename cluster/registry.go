package cluster

import (
	"context"
	"log/slog"
	"time"
)

// Registry answers membership questions against the cluster store.
// Firing decisions go through HasAliveWorkers: a job is only admitted
// when at least one worker of its application heartbeated recently.
type Registry struct {
	store     Store
	threshold time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewRegistry creates a registry. Workers unseen for longer than
// aliveThreshold are treated as gone even if not yet reaped.
func NewRegistry(store Store, aliveThreshold time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     store,
		threshold: aliveThreshold,
		logger:    logger,
		now:       time.Now,
	}
}

// HasAliveWorkers reports whether the application has at least one
// active worker within the alive threshold.
func (r *Registry) HasAliveWorkers(ctx context.Context, appName string) (bool, error) {
	workers, err := r.store.ListWorkersByApp(ctx, appName)
	if err != nil {
		return false, err
	}
	cutoff := r.now().Add(-r.threshold)
	for _, w := range workers {
		if w.State == WorkerActive && w.LastSeen.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// AliveWorkers returns the active workers of an application within the
// alive threshold, for shard routing and diagnostics.
func (r *Registry) AliveWorkers(ctx context.Context, appName string) ([]*Worker, error) {
	workers, err := r.store.ListWorkersByApp(ctx, appName)
	if err != nil {
		return nil, err
	}
	cutoff := r.now().Add(-r.threshold)
	alive := make([]*Worker, 0, len(workers))
	for _, w := range workers {
		if w.State == WorkerActive && w.LastSeen.After(cutoff) {
			alive = append(alive, w)
		}
	}
	return alive, nil
}

// Reap marks workers past the alive threshold as dead.
func (r *Registry) Reap(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.threshold)
	n, err := r.store.ReapDeadWorkers(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Warn("reaped dead workers", "count", n)
	}
	return n, nil
}
