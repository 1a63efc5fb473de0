package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/trigger"
)

const triggerColumns = `id, job_id, schedule, last_run_at, next_run_at, locked_by, locked_until, enabled, created_at, updated_at`

// RegisterTrigger persists a new trigger entry.
func (s *Store) RegisterTrigger(ctx context.Context, entry *trigger.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO antares_triggers (id, job_id, schedule, last_run_at, next_run_at, locked_by, locked_until, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID.String(), entry.JobID.String(), entry.Schedule,
		entry.LastRunAt, entry.NextRunAt, entry.LockedBy, entry.LockedUntil,
		entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return antares.ErrDuplicateTrigger
		}
		return fmt.Errorf("antares/postgres: register trigger: %w", err)
	}
	return nil
}

// GetTrigger retrieves a trigger entry by ID.
func (s *Store) GetTrigger(ctx context.Context, triggerID id.TriggerID) (*trigger.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+triggerColumns+`
		FROM antares_triggers
		WHERE id = $1`,
		triggerID.String(),
	)

	e, err := scanTrigger(row)
	if err != nil {
		if isNoRows(err) {
			return nil, antares.ErrTriggerNotFound
		}
		return nil, fmt.Errorf("antares/postgres: get trigger: %w", err)
	}
	return e, nil
}

// ListTriggers returns all trigger entries.
func (s *Store) ListTriggers(ctx context.Context) ([]*trigger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+triggerColumns+`
		FROM antares_triggers
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("antares/postgres: list triggers: %w", err)
	}
	defer rows.Close()

	var entries []*trigger.Entry
	for rows.Next() {
		e, scanErr := scanTrigger(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("antares/postgres: scan trigger: %w", scanErr)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateTrigger updates a trigger entry.
func (s *Store) UpdateTrigger(ctx context.Context, entry *trigger.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE antares_triggers SET
			schedule = $2, last_run_at = $3, next_run_at = $4, enabled = $5, updated_at = NOW()
		WHERE id = $1`,
		entry.ID.String(), entry.Schedule, entry.LastRunAt, entry.NextRunAt, entry.Enabled,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: update trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrTriggerNotFound
	}
	return nil
}

// DeleteTrigger removes a trigger entry by ID.
func (s *Store) DeleteTrigger(ctx context.Context, triggerID id.TriggerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM antares_triggers WHERE id = $1`,
		triggerID.String(),
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: delete trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrTriggerNotFound
	}
	return nil
}

// AcquireTriggerLock attempts to acquire the fire lock for an entry.
// The conditional UPDATE succeeds when the lock is free, expired, or
// held by the caller.
func (s *Store) AcquireTriggerLock(ctx context.Context, triggerID id.TriggerID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE antares_triggers
		SET locked_by = $2, locked_until = NOW() + $3
		WHERE id = $1
		  AND (locked_by = '' OR locked_by = $2 OR locked_until < NOW())`,
		triggerID.String(), workerID.String(), ttl,
	)
	if err != nil {
		return false, fmt.Errorf("antares/postgres: acquire trigger lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Distinguish a held lock from a missing entry.
	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM antares_triggers WHERE id = $1)`,
		triggerID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("antares/postgres: acquire lock exists: %w", err)
	}
	if !exists {
		return false, antares.ErrTriggerNotFound
	}
	return false, nil
}

// ReleaseTriggerLock releases the fire lock if held by the worker.
func (s *Store) ReleaseTriggerLock(ctx context.Context, triggerID id.TriggerID, workerID id.WorkerID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE antares_triggers
		SET locked_by = '', locked_until = NULL
		WHERE id = $1 AND locked_by = $2`,
		triggerID.String(), workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: release trigger lock: %w", err)
	}
	return nil
}

// UpdateTriggerRun records one completed fire.
func (s *Store) UpdateTriggerRun(ctx context.Context, triggerID id.TriggerID, lastRun time.Time, nextRun *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE antares_triggers
		SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1`,
		triggerID.String(), lastRun, nextRun,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: update trigger run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrTriggerNotFound
	}
	return nil
}

// ── helpers ──

func scanTrigger(row pgx.Row) (*trigger.Entry, error) {
	var (
		e         trigger.Entry
		tID       string
		jobID     string
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&tID, &jobID, &e.Schedule, &e.LastRunAt, &e.NextRunAt,
		&e.LockedBy, &e.LockedUntil, &e.Enabled, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	e.ID, err = id.ParseTriggerID(tID)
	if err != nil {
		return nil, fmt.Errorf("parse trigger id: %w", err)
	}
	e.JobID, err = id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("parse trigger job id: %w", err)
	}
	e.CreatedAt = createdAt
	e.UpdatedAt = updatedAt
	return &e, nil
}
