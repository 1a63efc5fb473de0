package cluster

import (
	"context"
	"time"
)

// Store persists worker membership and leadership for the trigger scheduler.
type Store interface {
	// RegisterWorker adds or replaces a worker record.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a worker record.
	DeregisterWorker(ctx context.Context, workerID string) error

	// HeartbeatWorker refreshes a worker's last-seen timestamp.
	// Returns antares.ErrWorkerNotFound if the worker is unknown.
	HeartbeatWorker(ctx context.Context, workerID string, seenAt time.Time) error

	// ListWorkersByApp returns all workers registered for an application,
	// regardless of state.
	ListWorkersByApp(ctx context.Context, appName string) ([]*Worker, error)

	// ReapDeadWorkers marks workers unseen since the cutoff as dead and
	// returns how many were reaped.
	ReapDeadWorkers(ctx context.Context, cutoff time.Time) (int, error)

	// AcquireLeadership attempts to claim the scheduler lease for a
	// worker until the given deadline. Returns true if the claim won.
	AcquireLeadership(ctx context.Context, workerID string, until time.Time) (bool, error)

	// RenewLeadership extends an existing lease. Returns
	// antares.ErrLeadershipLost if the worker no longer holds it.
	RenewLeadership(ctx context.Context, workerID string, until time.Time) error

	// GetLeader returns the current lease holder, or nil when no lease
	// is held.
	GetLeader(ctx context.Context) (*Worker, error)
}
