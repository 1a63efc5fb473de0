// Package job defines the Job entity, its logical state machine, and the
// persistence contract for job records and fire-time bookkeeping.
package job

import (
	"time"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/id"
)

// Job is one schedulable unit of the platform, identified by the owning
// application name and the job class identifier. Exactly one Job record
// exists per (app, class) pair. Its State is mutated only through the
// state.Controller so that transition legality is centrally enforced.
type Job struct {
	antares.Entity

	ID       id.JobID  `json:"id"`
	AppName  string    `json:"app_name"`
	Class    string    `json:"class"`
	State    State     `json:"state"`
	Config   Config    `json:"config"`
	FireTime *FireTime `json:"fire_time,omitempty"`
}

// Key returns the (app, class) identity of the job as "app/class",
// the form used in logs.
func (j *Job) Key() string {
	return j.AppName + "/" + j.Class
}

// Config is the shard-derivation input owned by the job definition and
// read-only to the execution core.
type Config struct {
	// ShardCount is the number of work partitions created per instance.
	ShardCount int `json:"shard_count"`

	// ShardParams maps a shard ordinal to its opaque parameter string.
	// Ordinals without an entry get an empty parameter.
	ShardParams map[int]string `json:"shard_params,omitempty"`

	// Timeout bounds how long one instance may take before the barrier
	// releases the wait. Zero falls back to the server-wide default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxShardRetries is the number of worker-side retry attempts for a
	// failing shard before it is reported as failed.
	MaxShardRetries int `json:"max_shard_retries,omitempty"`
}

// FireTime records the previous/current/next scheduled fire timestamps
// of a job. It is overwritten on every fire, off the critical path, and
// has no correctness dependency on the execution flow.
type FireTime struct {
	Prev    *time.Time `json:"prev,omitempty"`
	Current *time.Time `json:"current,omitempty"`
	Next    *time.Time `json:"next,omitempty"`
}
