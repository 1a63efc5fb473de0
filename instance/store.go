package instance

import (
	"context"
	"time"

	"github.com/fannyfinal/antares/id"
)

// Store defines the persistence contract for job instances and shards.
type Store interface {
	// CreateInstanceAndShards atomically persists an instance and its
	// shard set and indexes the instance as the job's running instance.
	// Partial failure (instance written, shards not) must be reported as
	// failure, not partial success.
	CreateInstanceAndShards(ctx context.Context, inst *Instance, shards []*Shard) error

	// GetInstance retrieves an instance by ID.
	GetInstance(ctx context.Context, instanceID id.InstanceID) (*Instance, error)

	// HasRunningInstance reports whether the job currently has a live
	// instance with running status.
	HasRunningInstance(ctx context.Context, jobID id.JobID) (bool, error)

	// FinishInstance stamps a terminal status and end time on an instance.
	FinishInstance(ctx context.Context, instanceID id.InstanceID, status Status, endedAt time.Time) error

	// MarkInstanceFailed persists a terminal failed status with the
	// (already length-capped) failure cause.
	MarkInstanceFailed(ctx context.Context, instanceID id.InstanceID, cause string) error

	// ReleaseInstance removes the transient/distributed representation of
	// an instance — its shards and the job→running-instance index — while
	// keeping the terminal instance record.
	ReleaseInstance(ctx context.Context, instanceID id.InstanceID) error

	// ListShards returns all shards of an instance ordered by item.
	ListShards(ctx context.Context, instanceID id.InstanceID) ([]*Shard, error)

	// PullShard atomically claims the next new shard belonging to a
	// running instance of the given application and marks it running for
	// the worker. Returns nil with a nil error when nothing is pullable.
	PullShard(ctx context.Context, appName string, workerID id.WorkerID) (*Shard, error)

	// FinishShard stamps a terminal status on a shard. The error message,
	// if any, is stored verbatim.
	FinishShard(ctx context.Context, shardID id.ShardID, status ShardStatus, errMsg string) error
}
