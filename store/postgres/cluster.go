package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/cluster"
	"github.com/fannyfinal/antares/id"
)

const workerColumns = `id, app_name, hostname, state, is_leader, leader_until, last_seen, metadata, created_at`

// RegisterWorker adds or replaces a worker record.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	var metadata []byte
	if w.Metadata != nil {
		var err error
		metadata, err = json.Marshal(w.Metadata)
		if err != nil {
			return fmt.Errorf("antares/postgres: marshal worker metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO antares_workers (id, app_name, hostname, state, is_leader, leader_until, last_seen, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			app_name = EXCLUDED.app_name, hostname = EXCLUDED.hostname,
			state = EXCLUDED.state, last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata`,
		w.ID.String(), w.AppName, w.Hostname, string(w.State),
		w.IsLeader, w.LeaderUntil, w.LastSeen, metadata, w.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker record.
func (s *Store) DeregisterWorker(ctx context.Context, workerID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM antares_workers WHERE id = $1`,
		workerID,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: deregister worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker refreshes a worker's last-seen timestamp. A heartbeat
// from a worker previously marked dead revives it.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID string, seenAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE antares_workers SET last_seen = $2, state = 'active' WHERE id = $1`,
		workerID, seenAt,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: heartbeat worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrWorkerNotFound
	}
	return nil
}

// ListWorkersByApp returns all workers registered for an application.
func (s *Store) ListWorkersByApp(ctx context.Context, appName string) ([]*cluster.Worker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workerColumns+`
		FROM antares_workers
		WHERE app_name = $1
		ORDER BY id`,
		appName,
	)
	if err != nil {
		return nil, fmt.Errorf("antares/postgres: list workers: %w", err)
	}
	defer rows.Close()

	var workers []*cluster.Worker
	for rows.Next() {
		w, scanErr := scanWorker(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("antares/postgres: scan worker: %w", scanErr)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// ReapDeadWorkers marks workers unseen since the cutoff as dead.
func (s *Store) ReapDeadWorkers(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE antares_workers SET state = 'dead' WHERE state = 'active' AND last_seen < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("antares/postgres: reap dead workers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AcquireLeadership attempts to claim the scheduler lease. The upsert
// succeeds when no lease row exists, the lease has expired, or the
// caller already holds it.
func (s *Store) AcquireLeadership(ctx context.Context, workerID string, until time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO antares_leader (id, worker_id, until)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET worker_id = EXCLUDED.worker_id, until = EXCLUDED.until
		WHERE antares_leader.until < NOW() OR antares_leader.worker_id = EXCLUDED.worker_id`,
		workerID, until,
	)
	if err != nil {
		return false, fmt.Errorf("antares/postgres: acquire leadership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RenewLeadership extends an existing lease. Returns ErrLeadershipLost
// when the lease is held by someone else or has expired.
func (s *Store) RenewLeadership(ctx context.Context, workerID string, until time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE antares_leader SET until = $2 WHERE id = 1 AND worker_id = $1 AND until >= NOW()`,
		workerID, until,
	)
	if err != nil {
		return fmt.Errorf("antares/postgres: renew leadership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return antares.ErrLeadershipLost
	}
	return nil
}

// GetLeader returns the current lease holder, or nil when none is held.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	var (
		workerID string
		until    time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT worker_id, until FROM antares_leader WHERE id = 1 AND until >= NOW()`,
	).Scan(&workerID, &until)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("antares/postgres: get leader: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+workerColumns+`
		FROM antares_workers
		WHERE id = $1`,
		workerID,
	)
	w, err := scanWorker(row)
	if err != nil {
		if isNoRows(err) {
			// Lease held by an unregistered holder (e.g. the coordinator
			// itself); synthesize a minimal entry.
			parsed, pErr := id.ParseWorkerID(workerID)
			if pErr != nil {
				return nil, nil //nolint:nilnil // no leader to report
			}
			return &cluster.Worker{ID: parsed, IsLeader: true, LeaderUntil: &until}, nil
		}
		return nil, fmt.Errorf("antares/postgres: get leader worker: %w", err)
	}
	return w, nil
}

// ── helpers ──

func scanWorker(row pgx.Row) (*cluster.Worker, error) {
	var (
		w        cluster.Worker
		wID      string
		state    string
		metadata []byte
	)
	err := row.Scan(&wID, &w.AppName, &w.Hostname, &state, &w.IsLeader,
		&w.LeaderUntil, &w.LastSeen, &metadata, &w.CreatedAt)
	if err != nil {
		return nil, err
	}

	w.ID, err = id.ParseWorkerID(wID)
	if err != nil {
		return nil, fmt.Errorf("parse worker id: %w", err)
	}
	w.State = cluster.WorkerState(state)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &w.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal worker metadata: %w", err)
		}
	}
	return &w, nil
}
