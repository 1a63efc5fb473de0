package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/cluster"
	"github.com/fannyfinal/antares/id"
)

// RegisterWorker adds a worker to the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	wID := w.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, workerKey(wID), workerToMap(w))
	pipe.SAdd(ctx, workerIDsKey, wID)
	pipe.SAdd(ctx, appWorkersKey(w.AppName), wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("antares/redis: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID string) error {
	key := workerKey(workerID)

	app, err := s.client.HGet(ctx, key, "app_name").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return antares.ErrWorkerNotFound
		}
		return fmt.Errorf("antares/redis: deregister get app: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, workerIDsKey, workerID)
	pipe.SRem(ctx, appWorkersKey(app), workerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("antares/redis: deregister worker: %w", err)
	}
	return nil
}

// HeartbeatWorker refreshes a worker's last-seen timestamp.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID string, seenAt time.Time) error {
	key := workerKey(workerID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: heartbeat exists: %w", err)
	}
	if exists == 0 {
		return antares.ErrWorkerNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"last_seen", seenAt.Format(time.RFC3339Nano),
		"state", string(cluster.WorkerActive),
	).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: heartbeat worker: %w", err)
	}
	return nil
}

// ListWorkersByApp returns all workers registered for an application.
func (s *Store) ListWorkersByApp(ctx context.Context, appName string) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, appWorkersKey(appName)).Result()
	if err != nil {
		return nil, fmt.Errorf("antares/redis: list workers smembers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(ids))
	for _, wID := range ids {
		vals, getErr := s.client.HGetAll(ctx, workerKey(wID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		w, convErr := mapToWorker(vals)
		if convErr != nil {
			continue
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// ReapDeadWorkers marks workers unseen since the cutoff as dead and
// returns how many were reaped.
func (s *Store) ReapDeadWorkers(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("antares/redis: reap smembers: %w", err)
	}

	reaped := 0
	for _, wID := range ids {
		vals, getErr := s.client.HGetAll(ctx, workerKey(wID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		w, convErr := mapToWorker(vals)
		if convErr != nil {
			continue
		}
		if w.State != cluster.WorkerActive || !w.LastSeen.Before(cutoff) {
			continue
		}
		if hErr := s.client.HSet(ctx, workerKey(wID), "state", string(cluster.WorkerDead)).Err(); hErr != nil {
			s.logger.Warn("failed to mark worker dead", "worker_id", wID, "error", hErr)
			continue
		}
		reaped++
	}
	return reaped, nil
}

// AcquireLeadership attempts to claim the scheduler lease with SET NX.
func (s *Store) AcquireLeadership(ctx context.Context, workerID string, until time.Time) (bool, error) {
	ttl := time.Until(until)
	if ttl <= 0 {
		return false, nil
	}

	ok, err := s.client.SetNX(ctx, leaderKey, workerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("antares/redis: acquire leadership setnx: %w", err)
	}
	if ok {
		s.stampLeaderFields(ctx, workerID, until)
		return true, nil
	}

	// Re-acquire by the current holder extends the lease.
	current, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return false, fmt.Errorf("antares/redis: acquire leadership get: %w", err)
	}
	if current == workerID {
		if eErr := s.client.Expire(ctx, leaderKey, ttl).Err(); eErr != nil {
			s.logger.Warn("failed to extend leader key", "error", eErr)
		}
		s.stampLeaderFields(ctx, workerID, until)
		return true, nil
	}
	return false, nil
}

// RenewLeadership extends an existing lease. Returns ErrLeadershipLost
// when the lease is held by someone else or has expired.
func (s *Store) RenewLeadership(ctx context.Context, workerID string, until time.Time) error {
	current, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return antares.ErrLeadershipLost
		}
		return fmt.Errorf("antares/redis: renew leadership get: %w", err)
	}
	if current != workerID {
		return antares.ErrLeadershipLost
	}

	ttl := time.Until(until)
	if ttl <= 0 {
		return antares.ErrLeadershipLost
	}
	if err := s.client.Expire(ctx, leaderKey, ttl).Err(); err != nil {
		return fmt.Errorf("antares/redis: renew leadership expire: %w", err)
	}
	s.stampLeaderFields(ctx, workerID, until)
	return nil
}

// GetLeader returns the current lease holder, or nil when none is held.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	wID, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("antares/redis: get leader: %w", err)
	}

	vals, err := s.client.HGetAll(ctx, workerKey(wID)).Result()
	if err != nil {
		return nil, fmt.Errorf("antares/redis: get leader worker: %w", err)
	}
	if len(vals) == 0 {
		// Lease held by an unregistered holder (e.g. the coordinator
		// itself); synthesize a minimal entry.
		parsed, pErr := id.ParseWorkerID(wID)
		if pErr != nil {
			return nil, nil
		}
		return &cluster.Worker{ID: parsed, IsLeader: true}, nil
	}
	return mapToWorker(vals)
}

// ── helpers ──

func (s *Store) stampLeaderFields(ctx context.Context, workerID string, until time.Time) {
	exists, err := s.client.Exists(ctx, workerKey(workerID)).Result()
	if err != nil || exists == 0 {
		return
	}
	if hErr := s.client.HSet(ctx, workerKey(workerID),
		"is_leader", "1",
		"leader_until", until.Format(time.RFC3339Nano),
	).Err(); hErr != nil {
		s.logger.Warn("failed to update leader fields", "error", hErr)
	}
}

func workerToMap(w *cluster.Worker) map[string]interface{} {
	m := map[string]interface{}{
		"id":         w.ID.String(),
		"app_name":   w.AppName,
		"hostname":   w.Hostname,
		"state":      string(w.State),
		"is_leader":  boolToStr(w.IsLeader),
		"last_seen":  w.LastSeen.Format(time.RFC3339Nano),
		"metadata":   marshalJSON(w.Metadata),
		"created_at": w.CreatedAt.Format(time.RFC3339Nano),
	}
	if w.LeaderUntil != nil {
		m["leader_until"] = w.LeaderUntil.Format(time.RFC3339Nano)
	}
	return m
}

func mapToWorker(m map[string]string) (*cluster.Worker, error) {
	wID, err := id.ParseWorkerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("antares/redis: parse worker id: %w", err)
	}

	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &cluster.Worker{
		ID:          wID,
		AppName:     m["app_name"],
		Hostname:    m["hostname"],
		State:       cluster.WorkerState(m["state"]),
		IsLeader:    m["is_leader"] == "1",
		LeaderUntil: parseTimePtr(m["leader_until"]),
		LastSeen:    lastSeen,
		Metadata:    unmarshalMap(m["metadata"]),
		CreatedAt:   createdAt,
	}, nil
}
