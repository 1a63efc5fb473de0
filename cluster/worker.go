package cluster

import (
	"time"

	"github.com/fannyfinal/antares/id"
)

// WorkerState represents the lifecycle state of a worker.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and pulling shards.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight shards
	// but not pulling new ones (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker has stopped heartbeating.
	WorkerDead WorkerState = "dead"
)

// Worker represents one worker process of an application in the cluster.
type Worker struct {
	ID          id.WorkerID       `json:"id"`
	AppName     string            `json:"app_name"`
	Hostname    string            `json:"hostname"`
	State       WorkerState       `json:"state"`
	IsLeader    bool              `json:"is_leader"`
	LeaderUntil *time.Time        `json:"leader_until,omitempty"`
	LastSeen    time.Time         `json:"last_seen"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
