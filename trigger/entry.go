package trigger

import (
	"time"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/id"
)

// Entry represents a scheduled trigger bound to one job.
type Entry struct {
	antares.Entity

	ID          id.TriggerID `json:"id"`
	JobID       id.JobID     `json:"job_id"`
	Schedule    string       `json:"schedule"`
	LastRunAt   *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time   `json:"next_run_at,omitempty"`
	LockedBy    string       `json:"locked_by,omitempty"`
	LockedUntil *time.Time   `json:"locked_until,omitempty"`
	Enabled     bool         `json:"enabled"`
}
