package trigger

import (
	"context"
	"time"

	"github.com/fannyfinal/antares/id"
)

// Store defines the persistence contract for trigger entries.
type Store interface {
	// RegisterTrigger persists a new trigger entry. Returns
	// antares.ErrDuplicateTrigger if the job already has a trigger with
	// the same schedule.
	RegisterTrigger(ctx context.Context, entry *Entry) error

	// GetTrigger retrieves a trigger entry by ID.
	GetTrigger(ctx context.Context, triggerID id.TriggerID) (*Entry, error)

	// ListTriggers returns all trigger entries.
	ListTriggers(ctx context.Context) ([]*Entry, error)

	// UpdateTrigger updates a trigger entry (Enabled, NextRunAt, etc.).
	UpdateTrigger(ctx context.Context, entry *Entry) error

	// DeleteTrigger removes a trigger entry by ID.
	DeleteTrigger(ctx context.Context, triggerID id.TriggerID) error

	// AcquireTriggerLock attempts to acquire the distributed fire lock
	// for a trigger entry. Returns true if the lock was acquired. The
	// lock expires after ttl.
	AcquireTriggerLock(ctx context.Context, triggerID id.TriggerID, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseTriggerLock releases the distributed fire lock.
	ReleaseTriggerLock(ctx context.Context, triggerID id.TriggerID, workerID id.WorkerID) error

	// UpdateTriggerRun records one completed fire: the last-run stamp
	// and the next scheduled run.
	UpdateTriggerRun(ctx context.Context, triggerID id.TriggerID, lastRun time.Time, nextRun *time.Time) error
}
