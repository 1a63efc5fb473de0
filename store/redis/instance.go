package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
)

// claimShardScript pops the lowest-item pending shard of an application
// whose instance is still running and claims it for the worker. Stopped
// or finished instances have their pending members discarded as a side
// effect, so a cancelled run does not wedge the pending set.
// Returns the claimed shard ID or false when nothing is pullable.
var claimShardScript = goredis.NewScript(`
local pending = KEYS[1]
local prefix = ARGV[1]
local worker = ARGV[2]
local now = ARGV[3]
while true do
  local popped = redis.call("ZPOPMIN", pending)
  if #popped == 0 then
    return false
  end
  local shard_id = popped[1]
  local shard_key = prefix .. "shard:" .. shard_id
  if redis.call("EXISTS", shard_key) == 1 then
    local inst_id = redis.call("HGET", shard_key, "instance_id")
    local inst_status = redis.call("HGET", prefix .. "inst:" .. inst_id, "status")
    if inst_status == "running" then
      redis.call("HSET", shard_key,
        "status", "running",
        "worker_id", worker,
        "pulled_at", now,
        "updated_at", now)
      return shard_id
    end
  end
end
`)

// CreateInstanceAndShards atomically persists an instance and its shard
// set. The running-instance index is claimed with SET NX so two
// coordinators cannot both create a live instance for the same job.
func (s *Store) CreateInstanceAndShards(ctx context.Context, inst *instance.Instance, shards []*instance.Shard) error {
	instID := inst.ID.String()
	jobID := inst.JobID.String()

	ok, err := s.client.SetNX(ctx, runningInstanceKey(jobID), instID, 0).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: claim running index: %w", err)
	}
	if !ok {
		return antares.ErrInstanceAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, instanceKey(instID), instanceToMap(inst))
	for _, sh := range shards {
		shID := sh.ID.String()
		pipe.HSet(ctx, shardKey(shID), shardToMap(sh))
		pipe.SAdd(ctx, instanceShardsKey(instID), shID)
		pipe.ZAdd(ctx, pendingShardsKey(sh.AppName), goredis.Z{
			Score:  float64(sh.Item),
			Member: shID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Roll back the index claim so the job is not wedged.
		if delErr := s.client.Del(ctx, runningInstanceKey(jobID)).Err(); delErr != nil {
			s.logger.Warn("failed to roll back running index", "job_id", jobID, "error", delErr)
		}
		return fmt.Errorf("antares/redis: create instance and shards: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, instanceID id.InstanceID) (*instance.Instance, error) {
	vals, err := s.client.HGetAll(ctx, instanceKey(instanceID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("antares/redis: get instance: %w", err)
	}
	if len(vals) == 0 {
		return nil, antares.ErrInstanceNotFound
	}
	return mapToInstance(vals)
}

// HasRunningInstance reports whether a live instance exists for the job.
func (s *Store) HasRunningInstance(ctx context.Context, jobID id.JobID) (bool, error) {
	instID, err := s.client.Get(ctx, runningInstanceKey(jobID.String())).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("antares/redis: running index get: %w", err)
	}

	status, err := s.client.HGet(ctx, instanceKey(instID), "status").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("antares/redis: running instance status: %w", err)
	}
	return instance.Status(status) == instance.StatusRunning, nil
}

// FinishInstance stamps a terminal status and end time on an instance.
func (s *Store) FinishInstance(ctx context.Context, instanceID id.InstanceID, status instance.Status, endedAt time.Time) error {
	key := instanceKey(instanceID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: finish instance exists: %w", err)
	}
	if exists == 0 {
		return antares.ErrInstanceNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"status", string(status),
		"ended_at", endedAt.Format(time.RFC3339Nano),
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: finish instance: %w", err)
	}
	return nil
}

// MarkInstanceFailed persists a terminal failed status with the cause.
func (s *Store) MarkInstanceFailed(ctx context.Context, instanceID id.InstanceID, cause string) error {
	key := instanceKey(instanceID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: mark failed exists: %w", err)
	}
	if exists == 0 {
		return antares.ErrInstanceNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"status", string(instance.StatusFailed),
		"cause", cause,
		"ended_at", now,
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: mark instance failed: %w", err)
	}
	return nil
}

// ReleaseInstance removes the transient footprint of an instance: its
// shards, its pending-set members, and the job's running index. The
// terminal instance record is kept.
func (s *Store) ReleaseInstance(ctx context.Context, instanceID id.InstanceID) error {
	instID := instanceID.String()

	inst, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	shardIDs, err := s.client.SMembers(ctx, instanceShardsKey(instID)).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: release smembers: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, shID := range shardIDs {
		app, getErr := s.client.HGet(ctx, shardKey(shID), "app_name").Result()
		if getErr == nil && app != "" {
			pipe.ZRem(ctx, pendingShardsKey(app), shID)
		}
		pipe.Del(ctx, shardKey(shID))
	}
	pipe.Del(ctx, instanceShardsKey(instID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("antares/redis: release instance: %w", err)
	}

	// Clear the running index only if it still points at this instance.
	runKey := runningInstanceKey(inst.JobID.String())
	current, err := s.client.Get(ctx, runKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("antares/redis: release running index get: %w", err)
	}
	if current == instID {
		if err := s.client.Del(ctx, runKey).Err(); err != nil {
			return fmt.Errorf("antares/redis: release running index del: %w", err)
		}
	}
	return nil
}

// ListShards returns all shards of an instance ordered by item.
func (s *Store) ListShards(ctx context.Context, instanceID id.InstanceID) ([]*instance.Shard, error) {
	shardIDs, err := s.client.SMembers(ctx, instanceShardsKey(instanceID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("antares/redis: list shards smembers: %w", err)
	}

	shards := make([]*instance.Shard, 0, len(shardIDs))
	for _, shID := range shardIDs {
		vals, getErr := s.client.HGetAll(ctx, shardKey(shID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		sh, convErr := mapToShard(vals)
		if convErr != nil {
			continue
		}
		shards = append(shards, sh)
	}
	sortShardsByItem(shards)
	return shards, nil
}

// PullShard atomically claims the next new shard of the application via
// a Lua script, so two workers cannot claim the same shard.
func (s *Store) PullShard(ctx context.Context, appName string, workerID id.WorkerID) (*instance.Shard, error) {
	res, err := claimShardScript.Run(ctx, s.client,
		[]string{pendingShardsKey(appName)},
		keyPrefix, workerID.String(), time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil // script returned false: nothing pullable
		}
		return nil, fmt.Errorf("antares/redis: pull shard: %w", err)
	}

	shID, ok := res.(string)
	if !ok || shID == "" {
		return nil, nil
	}

	vals, err := s.client.HGetAll(ctx, shardKey(shID)).Result()
	if err != nil || len(vals) == 0 {
		return nil, fmt.Errorf("antares/redis: pulled shard read: %w", err)
	}
	return mapToShard(vals)
}

// FinishShard stamps a terminal status on a shard.
func (s *Store) FinishShard(ctx context.Context, shardID id.ShardID, status instance.ShardStatus, errMsg string) error {
	key := shardKey(shardID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: finish shard exists: %w", err)
	}
	if exists == 0 {
		return antares.ErrShardNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.HSet(ctx, key,
		"status", string(status),
		"error", errMsg,
		"finished_at", now,
		"updated_at", now,
	).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: finish shard: %w", err)
	}
	return nil
}

// ── helpers ──

func sortShardsByItem(shards []*instance.Shard) {
	for i := 1; i < len(shards); i++ {
		for k := i; k > 0 && shards[k].Item < shards[k-1].Item; k-- {
			shards[k], shards[k-1] = shards[k-1], shards[k]
		}
	}
}

func instanceToMap(inst *instance.Instance) map[string]interface{} {
	m := map[string]interface{}{
		"id":         inst.ID.String(),
		"job_id":     inst.JobID.String(),
		"status":     string(inst.Status),
		"server":     inst.Server,
		"cause":      inst.Cause,
		"started_at": inst.StartedAt.Format(time.RFC3339Nano),
		"created_at": inst.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": inst.UpdatedAt.Format(time.RFC3339Nano),
	}
	if inst.EndedAt != nil {
		m["ended_at"] = inst.EndedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToInstance(m map[string]string) (*instance.Instance, error) {
	instID, err := id.ParseInstanceID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("antares/redis: parse instance id: %w", err)
	}
	jobID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("antares/redis: parse instance job id: %w", err)
	}

	inst := &instance.Instance{
		ID:     instID,
		JobID:  jobID,
		Status: instance.Status(m["status"]),
		Server: m["server"],
		Cause:  m["cause"],
	}
	inst.StartedAt, _ = time.Parse(time.RFC3339Nano, m["started_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	inst.EndedAt = parseTimePtr(m["ended_at"])
	inst.CreatedAt, _ = time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	inst.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return inst, nil
}

func shardToMap(sh *instance.Shard) map[string]interface{} {
	m := map[string]interface{}{
		"id":          sh.ID.String(),
		"instance_id": sh.InstanceID.String(),
		"app_name":    sh.AppName,
		"job_class":   sh.JobClass,
		"item":        itoa(sh.Item),
		"param":       sh.Param,
		"max_retries": itoa(sh.MaxRetries),
		"status":      string(sh.Status),
		"error":       sh.Error,
		"created_at":  sh.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  sh.UpdatedAt.Format(time.RFC3339Nano),
	}
	if !sh.WorkerID.IsNil() {
		m["worker_id"] = sh.WorkerID.String()
	}
	if sh.PulledAt != nil {
		m["pulled_at"] = sh.PulledAt.Format(time.RFC3339Nano)
	}
	if sh.FinishedAt != nil {
		m["finished_at"] = sh.FinishedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToShard(m map[string]string) (*instance.Shard, error) {
	shID, err := id.ParseShardID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("antares/redis: parse shard id: %w", err)
	}
	instID, err := id.ParseInstanceID(m["instance_id"])
	if err != nil {
		return nil, fmt.Errorf("antares/redis: parse shard instance id: %w", err)
	}

	item, _ := strconv.Atoi(m["item"])               //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])  //nolint:errcheck // best-effort parse from trusted Redis data

	sh := &instance.Shard{
		ID:         shID,
		InstanceID: instID,
		AppName:    m["app_name"],
		JobClass:   m["job_class"],
		Item:       item,
		Param:      m["param"],
		MaxRetries: maxRetries,
		Status:     instance.ShardStatus(m["status"]),
		Error:      m["error"],
	}
	if wID := m["worker_id"]; wID != "" {
		sh.WorkerID, _ = id.ParseWorkerID(wID) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	sh.PulledAt = parseTimePtr(m["pulled_at"])
	sh.FinishedAt = parseTimePtr(m["finished_at"])
	sh.CreatedAt, _ = time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	sh.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return sh, nil
}
