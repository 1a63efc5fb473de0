package job

import (
	"context"

	"github.com/fannyfinal/antares/id"
)

// Store defines the persistence contract for job records.
type Store interface {
	// CreateJob persists a new job record. Returns
	// antares.ErrJobAlreadyExists if the (app, class) pair is taken.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by its (app, class) identity.
	GetJob(ctx context.Context, appName, class string) (*Job, error)

	// GetJobByID retrieves a job by ID.
	GetJobByID(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns all jobs of an application. An empty appName
	// returns every job.
	ListJobs(ctx context.Context, appName string) ([]*Job, error)

	// DeleteJob removes a job record by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// GetJobState returns the current logical state of a job.
	GetJobState(ctx context.Context, jobID id.JobID) (State, error)

	// SetJobState writes the job state unconditionally.
	SetJobState(ctx context.Context, jobID id.JobID, s State) error

	// CompareAndSetJobState writes the job state only if the current
	// state equals from. Returns whether the write was applied; a false
	// return with a nil error means the state changed concurrently.
	CompareAndSetJobState(ctx context.Context, jobID id.JobID, from, to State) (bool, error)

	// SetJobFireTime overwrites the fire-time bookkeeping of a job.
	SetJobFireTime(ctx context.Context, jobID id.JobID, ft *FireTime) error
}
