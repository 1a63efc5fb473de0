package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
)

const instanceColumns = `id, job_id, status, server, cause, started_at, ended_at, created_at, updated_at`

const shardColumns = `id, instance_id, app_name, job_class, item, param, max_retries,
	status, worker_id, pulled_at, finished_at, error, created_at, updated_at`

// CreateInstanceAndShards atomically persists an instance and its
// shards in one transaction. The partial unique index on running
// instances rejects a second live instance for the same job.
func (s *Store) CreateInstanceAndShards(ctx context.Context, inst *instance.Instance, shards []*instance.Shard) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("antares/postgres: begin create instance: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO antares_instances (id, job_id, status, server, cause, started_at, ended_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inst.ID.String(), inst.JobID.String(), string(inst.Status),
		inst.Server, inst.Cause, inst.StartedAt, inst.EndedAt,
		inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return antares.ErrInstanceAlreadyExists
		}
		return fmt.Errorf("antares/postgres: insert instance: %w", err)
	}

	for _, sh := range shards {
		var workerID any
		if !sh.WorkerID.IsNil() {
			workerID = sh.WorkerID.String()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO antares_shards (id, instance_id, app_name, job_class, item, param, max_retries,
				status, worker_id, pulled_at, finished_at, error, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			sh.ID.String(), sh.InstanceID.String(), sh.AppName, sh.JobClass,
			sh.Item, sh.Param, sh.MaxRetries,
			string(sh.Status), workerID, sh.PulledAt, sh.FinishedAt, sh.Error,
			sh.CreatedAt, sh.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("antares/postgres: insert shard %d: %w", sh.Item, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("antares/postgres: commit create instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, instanceID id.InstanceID) (*instance.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+`
		FROM antares_instances
		WHERE id = $1`,
		instanceID.String(),
	)

	inst, err := scanInstance(row)
	if err != nil {
		if isNoRows(err) {
			return nil, antares.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("antares/postgres: get instance: %w", err)
	}
	return inst, nil
}

// HasRunningInstance reports whether a live instance exists for the job.
func (s *Store) HasRunningInstance(ctx context.Context, jobID id.JobID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM antares_instances WHERE job_id = $1 AND status = 'running')`,
		jobID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("antares/postgres: has running instance: %w", err)
	}
	return exists, nil
}

// FinishInstance stamps a terminal status and end time on an instance.
func (s *Store) FinishInstance(ctx context.Context, instanceID id.InstanceID, status instance.Status, endedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE antares_instances
		SET status = $2, ended_at = $3, updated_at = NOW()
		WHERE id = $1`,
		instanceID.String(), string(status), endedAt,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: finish instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrInstanceNotFound
	}
	return nil
}

// MarkInstanceFailed persists a terminal failed status with the cause.
func (s *Store) MarkInstanceFailed(ctx context.Context, instanceID id.InstanceID, cause string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE antares_instances
		SET status = 'failed', cause = $2, ended_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		instanceID.String(), cause,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: mark instance failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrInstanceNotFound
	}
	return nil
}

// ReleaseInstance deletes the shards of an instance. The terminal
// instance record is kept; the running index is the partial unique
// index, which stops binding as soon as the status turns terminal.
func (s *Store) ReleaseInstance(ctx context.Context, instanceID id.InstanceID) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM antares_instances WHERE id = $1)`,
		instanceID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("antares/postgres: release instance exists: %w", err)
	}
	if !exists {
		return antares.ErrInstanceNotFound
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM antares_shards WHERE instance_id = $1`,
		instanceID.String(),
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: release instance shards: %w", err)
	}
	return nil
}

// ListShards returns all shards of an instance ordered by item.
func (s *Store) ListShards(ctx context.Context, instanceID id.InstanceID) ([]*instance.Shard, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+shardColumns+`
		FROM antares_shards
		WHERE instance_id = $1
		ORDER BY item`,
		instanceID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("antares/postgres: list shards: %w", err)
	}
	defer rows.Close()

	var shards []*instance.Shard
	for rows.Next() {
		sh, scanErr := scanShard(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("antares/postgres: scan shard: %w", scanErr)
		}
		shards = append(shards, sh)
	}
	return shards, rows.Err()
}

// PullShard atomically claims the next new shard of the application.
// SELECT FOR UPDATE SKIP LOCKED lets concurrent workers claim disjoint
// shards without blocking each other.
func (s *Store) PullShard(ctx context.Context, appName string, workerID id.WorkerID) (*instance.Shard, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE antares_shards
		SET status = 'running', worker_id = $2, pulled_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT sh.id FROM antares_shards sh
			JOIN antares_instances i ON i.id = sh.instance_id
			WHERE sh.status = 'new'
			  AND sh.app_name = $1
			  AND i.status = 'running'
			ORDER BY sh.item
			FOR UPDATE OF sh SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+shardColumns,
		appName, workerID.String(),
	)

	sh, err := scanShard(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil // nothing pullable
		}
		return nil, fmt.Errorf("antares/postgres: pull shard: %w", err)
	}
	return sh, nil
}

// FinishShard stamps a terminal status on a shard.
func (s *Store) FinishShard(ctx context.Context, shardID id.ShardID, status instance.ShardStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE antares_shards
		SET status = $2, error = $3, finished_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		shardID.String(), string(status), errMsg,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: finish shard: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrShardNotFound
	}
	return nil
}

// ── helpers ──

func scanInstance(row pgx.Row) (*instance.Instance, error) {
	var (
		inst      instance.Instance
		instID    string
		jobID     string
		status    string
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&instID, &jobID, &status, &inst.Server, &inst.Cause,
		&inst.StartedAt, &inst.EndedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	inst.ID, err = id.ParseInstanceID(instID)
	if err != nil {
		return nil, fmt.Errorf("parse instance id: %w", err)
	}
	inst.JobID, err = id.ParseJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("parse instance job id: %w", err)
	}
	inst.Status = instance.Status(status)
	inst.CreatedAt = createdAt
	inst.UpdatedAt = updatedAt
	return &inst, nil
}

func scanShard(row pgx.Row) (*instance.Shard, error) {
	var (
		sh        instance.Shard
		shID      string
		instID    string
		status    string
		workerID  *string
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&shID, &instID, &sh.AppName, &sh.JobClass, &sh.Item, &sh.Param,
		&sh.MaxRetries, &status, &workerID, &sh.PulledAt, &sh.FinishedAt, &sh.Error,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sh.ID, err = id.ParseShardID(shID)
	if err != nil {
		return nil, fmt.Errorf("parse shard id: %w", err)
	}
	sh.InstanceID, err = id.ParseInstanceID(instID)
	if err != nil {
		return nil, fmt.Errorf("parse shard instance id: %w", err)
	}
	sh.Status = instance.ShardStatus(status)
	if workerID != nil {
		sh.WorkerID, err = id.ParseWorkerID(*workerID)
		if err != nil {
			return nil, fmt.Errorf("parse shard worker id: %w", err)
		}
	}
	sh.CreatedAt = createdAt
	sh.UpdatedAt = updatedAt
	return &sh, nil
}
