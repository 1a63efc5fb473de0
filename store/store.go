// Package store defines the aggregate persistence interface. Each
// subsystem (job, instance, trigger, event, cluster) defines its own
// store interface. The composite Store composes them all. Backends:
// Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/fannyfinal/antares/cluster"
	"github.com/fannyfinal/antares/event"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
	"github.com/fannyfinal/antares/trigger"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, redis, memory) implements all of them.
type Store interface {
	job.Store
	instance.Store
	trigger.Store
	event.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
