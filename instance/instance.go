// Package instance defines the job instance and shard entities — one
// concrete distributed run of a job and its work partitions — and the
// persistence contract the execution core drives them through.
package instance

import (
	"time"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/id"
)

// Status represents the lifecycle status of a job instance.
type Status string

const (
	// StatusRunning means shards of this instance are still in flight.
	StatusRunning Status = "running"
	// StatusSuccess means every shard finished successfully.
	StatusSuccess Status = "success"
	// StatusFailed means at least one shard failed, instance creation
	// failed, or the run was contained after an unexpected failure.
	StatusFailed Status = "failed"
	// StatusCancelled means the run was released because the job was
	// paused or stopped while shards were in flight.
	StatusCancelled Status = "cancelled"
	// StatusTimeout means the dispatch barrier released the wait before
	// all shards reached a terminal status.
	StatusTimeout Status = "timeout"
)

// Terminal reports whether the status is a terminal one.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// Instance is one end-to-end distributed run of a job. The persisted
// terminal record always remains; ReleaseInstance removes only the
// transient footprint (shards and the running index).
type Instance struct {
	antares.Entity

	ID        id.InstanceID `json:"id"`
	JobID     id.JobID      `json:"job_id"`
	Status    Status        `json:"status"`
	Server    string        `json:"server"`
	Cause     string        `json:"cause,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// ShardStatus represents the lifecycle status of a single shard.
type ShardStatus string

const (
	// ShardNew means the shard has not been pulled by any worker yet.
	ShardNew ShardStatus = "new"
	// ShardRunning means a worker has pulled the shard and is executing it.
	ShardRunning ShardStatus = "running"
	// ShardSuccess means the worker reported successful completion.
	ShardSuccess ShardStatus = "success"
	// ShardFailed means the worker reported failure after exhausting retries.
	ShardFailed ShardStatus = "failed"
)

// Terminal reports whether the shard status is a terminal one.
func (s ShardStatus) Terminal() bool {
	return s == ShardSuccess || s == ShardFailed
}

// Shard is one worker-assigned partition of a job instance's work.
// Workers pull shards for their application, execute them, and report a
// terminal status; the instance is finished when all shards are terminal.
type Shard struct {
	antares.Entity

	ID         id.ShardID    `json:"id"`
	InstanceID id.InstanceID `json:"instance_id"`
	AppName    string        `json:"app_name"`
	JobClass   string        `json:"job_class"`
	Item       int           `json:"item"`
	Param      string        `json:"param,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty"`
	Status     ShardStatus   `json:"status"`
	WorkerID   id.WorkerID   `json:"worker_id,omitempty"`
	PulledAt   *time.Time    `json:"pulled_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// ShardConfig is the subset of a job's configuration that shard
// derivation consumes. It mirrors job.Config without importing it, so
// the instance package stays a leaf. AppName, Class, and MaxRetries are
// copied onto every shard so a pulled shard is self-contained for the
// worker and pullable by application without a join.
type ShardConfig struct {
	AppName     string
	Class       string
	ShardCount  int
	ShardParams map[int]string
	MaxRetries  int
}

// BuildShards derives the shard set of a new instance from the job's
// configuration. A non-positive shard count yields a single shard.
func BuildShards(instanceID id.InstanceID, cfg ShardConfig) []*Shard {
	count := cfg.ShardCount
	if count <= 0 {
		count = 1
	}

	shards := make([]*Shard, count)
	for i := range count {
		shards[i] = &Shard{
			Entity:     antares.NewEntity(),
			ID:         id.NewShardID(),
			InstanceID: instanceID,
			AppName:    cfg.AppName,
			JobClass:   cfg.Class,
			Item:       i,
			Param:      cfg.ShardParams[i],
			MaxRetries: cfg.MaxRetries,
			Status:     ShardNew,
		}
	}
	return shards
}

// Finished reports whether every shard is terminal, and if so, the
// instance status they collapse to: success only when all succeeded.
func Finished(shards []*Shard) (bool, Status) {
	status := StatusSuccess
	for _, sh := range shards {
		if !sh.Status.Terminal() {
			return false, StatusRunning
		}
		if sh.Status == ShardFailed {
			status = StatusFailed
		}
	}
	return true, status
}
