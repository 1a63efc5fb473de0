package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/trigger"
)

// releaseTriggerLockScript deletes the lock key only when held by the
// releasing worker.
var releaseTriggerLockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RegisterTrigger persists a new trigger entry. Duplicate detection
// rides on HSETNX of the (jobID, schedule) identity hash.
func (s *Store) RegisterTrigger(ctx context.Context, entry *trigger.Entry) error {
	tID := entry.ID.String()
	identity := entry.JobID.String() + "|" + entry.Schedule

	ok, err := s.client.HSetNX(ctx, triggerKeysKey, identity, tID).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: register trigger identity: %w", err)
	}
	if !ok {
		return antares.ErrDuplicateTrigger
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, triggerKey(tID), triggerToMap(entry))
	pipe.SAdd(ctx, triggerIDsKey, tID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("antares/redis: register trigger: %w", err)
	}
	return nil
}

// GetTrigger retrieves a trigger entry by ID.
func (s *Store) GetTrigger(ctx context.Context, triggerID id.TriggerID) (*trigger.Entry, error) {
	vals, err := s.client.HGetAll(ctx, triggerKey(triggerID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("antares/redis: get trigger: %w", err)
	}
	if len(vals) == 0 {
		return nil, antares.ErrTriggerNotFound
	}
	return mapToTrigger(vals)
}

// ListTriggers returns all trigger entries.
func (s *Store) ListTriggers(ctx context.Context) ([]*trigger.Entry, error) {
	ids, err := s.client.SMembers(ctx, triggerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("antares/redis: list triggers smembers: %w", err)
	}

	entries := make([]*trigger.Entry, 0, len(ids))
	for _, tID := range ids {
		vals, getErr := s.client.HGetAll(ctx, triggerKey(tID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToTrigger(vals)
		if convErr != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpdateTrigger updates a trigger entry.
func (s *Store) UpdateTrigger(ctx context.Context, entry *trigger.Entry) error {
	key := triggerKey(entry.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: update trigger exists: %w", err)
	}
	if exists == 0 {
		return antares.ErrTriggerNotFound
	}

	fields := triggerToMap(entry)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("antares/redis: update trigger: %w", err)
	}
	return nil
}

// DeleteTrigger removes a trigger entry by ID.
func (s *Store) DeleteTrigger(ctx context.Context, triggerID id.TriggerID) error {
	tID := triggerID.String()

	e, err := s.GetTrigger(ctx, triggerID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, triggerKey(tID))
	pipe.SRem(ctx, triggerIDsKey, tID)
	pipe.HDel(ctx, triggerKeysKey, e.JobID.String()+"|"+e.Schedule)
	pipe.Del(ctx, triggerLockKey(tID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("antares/redis: delete trigger: %w", err)
	}
	return nil
}

// AcquireTriggerLock attempts to acquire the fire lock with SET NX.
func (s *Store) AcquireTriggerLock(ctx context.Context, triggerID id.TriggerID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, triggerLockKey(triggerID.String()), workerID.String(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("antares/redis: acquire trigger lock: %w", err)
	}
	return ok, nil
}

// ReleaseTriggerLock releases the fire lock if held by the worker.
func (s *Store) ReleaseTriggerLock(ctx context.Context, triggerID id.TriggerID, workerID id.WorkerID) error {
	err := releaseTriggerLockScript.Run(ctx, s.client,
		[]string{triggerLockKey(triggerID.String())},
		workerID.String(),
	).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("antares/redis: release trigger lock: %w", err)
	}
	return nil
}

// UpdateTriggerRun records one completed fire.
func (s *Store) UpdateTriggerRun(ctx context.Context, triggerID id.TriggerID, lastRun time.Time, nextRun *time.Time) error {
	key := triggerKey(triggerID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: update run exists: %w", err)
	}
	if exists == 0 {
		return antares.ErrTriggerNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"last_run_at", lastRun.Format(time.RFC3339Nano),
		"updated_at", now,
	)
	if nextRun != nil {
		pipe.HSet(ctx, key, "next_run_at", nextRun.Format(time.RFC3339Nano))
	} else {
		pipe.HDel(ctx, key, "next_run_at")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("antares/redis: update trigger run: %w", err)
	}
	return nil
}

// ── helpers ──

func triggerToMap(e *trigger.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":         e.ID.String(),
		"job_id":     e.JobID.String(),
		"schedule":   e.Schedule,
		"enabled":    boolToStr(e.Enabled),
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": e.UpdatedAt.Format(time.RFC3339Nano),
	}
	if e.LastRunAt != nil {
		m["last_run_at"] = e.LastRunAt.Format(time.RFC3339Nano)
	}
	if e.NextRunAt != nil {
		m["next_run_at"] = e.NextRunAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToTrigger(m map[string]string) (*trigger.Entry, error) {
	tID, err := id.ParseTriggerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("antares/redis: parse trigger id: %w", err)
	}
	jobID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("antares/redis: parse trigger job id: %w", err)
	}

	e := &trigger.Entry{
		ID:        tID,
		JobID:     jobID,
		Schedule:  m["schedule"],
		Enabled:   m["enabled"] == "1",
		LastRunAt: parseTimePtr(m["last_run_at"]),
		NextRunAt: parseTimePtr(m["next_run_at"]),
	}
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return e, nil
}
