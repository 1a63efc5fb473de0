package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/job"
)

const jobColumns = `id, app_name, class, state, config, fire_time, created_at, updated_at`

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	cfg, err := json.Marshal(j.Config)
	if err != nil {
		return fmt.Errorf("antares/postgres: marshal job config: %w", err)
	}
	var ft []byte
	if j.FireTime != nil {
		ft, err = json.Marshal(j.FireTime)
		if err != nil {
			return fmt.Errorf("antares/postgres: marshal fire time: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO antares_jobs (id, app_name, class, state, config, fire_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		j.ID.String(), j.AppName, j.Class, string(j.State), cfg, ft,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return antares.ErrJobAlreadyExists
		}
		return fmt.Errorf("antares/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by its (app, class) identity.
func (s *Store) GetJob(ctx context.Context, appName, class string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM antares_jobs
		WHERE app_name = $1 AND class = $2`,
		appName, class,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, antares.ErrJobNotFound
		}
		return nil, fmt.Errorf("antares/postgres: get job: %w", err)
	}
	return j, nil
}

// GetJobByID retrieves a job by ID.
func (s *Store) GetJobByID(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM antares_jobs
		WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, antares.ErrJobNotFound
		}
		return nil, fmt.Errorf("antares/postgres: get job by id: %w", err)
	}
	return j, nil
}

// ListJobs returns all jobs of an application; empty appName means all.
func (s *Store) ListJobs(ctx context.Context, appName string) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM antares_jobs
		WHERE ($1 = '' OR app_name = $1)
		ORDER BY app_name, class`,
		appName,
	)
	if err != nil {
		return nil, fmt.Errorf("antares/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("antares/postgres: scan job: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job record by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM antares_jobs WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrJobNotFound
	}
	return nil
}

// GetJobState returns the current logical state of a job.
func (s *Store) GetJobState(ctx context.Context, jobID id.JobID) (job.State, error) {
	var state string
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM antares_jobs WHERE id = $1`,
		jobID.String(),
	).Scan(&state)
	if err != nil {
		if isNoRows(err) {
			return "", antares.ErrJobNotFound
		}
		return "", fmt.Errorf("antares/postgres: get job state: %w", err)
	}
	return job.State(state), nil
}

// SetJobState writes the job state unconditionally.
func (s *Store) SetJobState(ctx context.Context, jobID id.JobID, state job.State) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE antares_jobs SET state = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), string(state),
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: set job state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrJobNotFound
	}
	return nil
}

// CompareAndSetJobState writes the state only if the current equals
// from. The conditional UPDATE makes the swap race-free across
// coordinators.
func (s *Store) CompareAndSetJobState(ctx context.Context, jobID id.JobID, from, to job.State) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE antares_jobs SET state = $3, updated_at = NOW() WHERE id = $1 AND state = $2`,
		jobID.String(), string(from), string(to),
	)
	if err != nil {
		return false, fmt.Errorf("antares/postgres: cas job state: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Distinguish a lost race from a missing job.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM antares_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("antares/postgres: cas job exists: %w", err)
	}
	if !exists {
		return false, antares.ErrJobNotFound
	}
	return false, nil
}

// SetJobFireTime overwrites the fire-time bookkeeping of a job.
func (s *Store) SetJobFireTime(ctx context.Context, jobID id.JobID, ft *job.FireTime) error {
	data, err := json.Marshal(ft)
	if err != nil {
		return fmt.Errorf("antares/postgres: marshal fire time: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE antares_jobs SET fire_time = $2, updated_at = NOW() WHERE id = $1`,
		jobID.String(), data,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: set fire time: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrJobNotFound
	}
	return nil
}

// ── helpers ──

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		jID       string
		state     string
		cfg       []byte
		ft        []byte
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&jID, &j.AppName, &j.Class, &state, &cfg, &ft, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	j.ID, err = id.ParseJobID(jID)
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	j.State = job.State(state)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &j.Config); err != nil {
			return nil, fmt.Errorf("unmarshal job config: %w", err)
		}
	}
	if len(ft) > 0 {
		j.FireTime = &job.FireTime{}
		if err := json.Unmarshal(ft, j.FireTime); err != nil {
			return nil, fmt.Errorf("unmarshal fire time: %w", err)
		}
	}
	j.CreatedAt = createdAt
	j.UpdatedAt = updatedAt
	return &j, nil
}
