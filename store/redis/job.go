package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/job"
)

// casStateScript atomically compares and swaps the "state" field of a
// job hash. Returns 1 when the swap was applied, 0 when the current
// state did not match, -1 when the hash does not exist.
var casStateScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "state") == ARGV[1] then
  redis.call("HSET", KEYS[1], "state", ARGV[2], "updated_at", ARGV[3])
  return 1
end
return 0
`)

// CreateJob stores the job as a Hash and indexes its (app, class)
// identity. Duplicate detection rides on HSETNX of the identity hash.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()

	ok, err := s.client.HSetNX(ctx, jobKeysKey, j.Key(), jID).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: create job identity: %w", err)
	}
	if !ok {
		return antares.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(jID), jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("antares/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by its (app, class) identity.
func (s *Store) GetJob(ctx context.Context, appName, class string) (*job.Job, error) {
	jID, err := s.client.HGet(ctx, jobKeysKey, appName+"/"+class).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, antares.ErrJobNotFound
		}
		return nil, fmt.Errorf("antares/redis: get job identity: %w", err)
	}
	return s.getJobByKey(ctx, jobKey(jID))
}

// GetJobByID retrieves a job by ID.
func (s *Store) GetJobByID(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// ListJobs returns all jobs of an application; empty appName means all.
func (s *Store) ListJobs(ctx context.Context, appName string) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("antares/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if appName != "" && j.AppName != appName {
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	j, err := s.getJobByKey(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.HDel(ctx, jobKeysKey, j.Key())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("antares/redis: delete job: %w", err)
	}
	return nil
}

// GetJobState returns the current logical state of a job.
func (s *Store) GetJobState(ctx context.Context, jobID id.JobID) (job.State, error) {
	state, err := s.client.HGet(ctx, jobKey(jobID.String()), "state").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", antares.ErrJobNotFound
		}
		return "", fmt.Errorf("antares/redis: get job state: %w", err)
	}
	return job.State(state), nil
}

// SetJobState writes the job state unconditionally.
func (s *Store) SetJobState(ctx context.Context, jobID id.JobID, state job.State) error {
	key := jobKey(jobID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: set job state exists: %w", err)
	}
	if exists == 0 {
		return antares.ErrJobNotFound
	}

	_, err = s.client.HSet(ctx, key,
		"state", string(state),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: set job state: %w", err)
	}
	return nil
}

// CompareAndSetJobState swaps the state only if the current equals from.
// The swap runs as a Lua script so concurrent coordinators cannot both
// win the same transition.
func (s *Store) CompareAndSetJobState(ctx context.Context, jobID id.JobID, from, to job.State) (bool, error) {
	res, err := casStateScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		string(from), string(to), time.Now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return false, fmt.Errorf("antares/redis: cas job state: %w", err)
	}
	if res == -1 {
		return false, antares.ErrJobNotFound
	}
	return res == 1, nil
}

// SetJobFireTime overwrites the fire-time bookkeeping of a job.
func (s *Store) SetJobFireTime(ctx context.Context, jobID id.JobID, ft *job.FireTime) error {
	key := jobKey(jobID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: set fire time exists: %w", err)
	}
	if exists == 0 {
		return antares.ErrJobNotFound
	}

	_, err = s.client.HSet(ctx, key, "fire_time", marshalJSON(ft)).Result()
	if err != nil {
		return fmt.Errorf("antares/redis: set fire time: %w", err)
	}
	return nil
}

// ── helpers ──

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("antares/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, antares.ErrJobNotFound
	}
	return mapToJob(vals)
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":         j.ID.String(),
		"app_name":   j.AppName,
		"class":      j.Class,
		"state":      string(j.State),
		"config":     marshalJSON(j.Config),
		"created_at": j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.FireTime != nil {
		m["fire_time"] = marshalJSON(j.FireTime)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("antares/redis: parse job id: %w", err)
	}

	j := &job.Job{
		ID:      jID,
		AppName: m["app_name"],
		Class:   m["class"],
		State:   job.State(m["state"]),
	}
	if cfg := m["config"]; cfg != "" {
		_ = json.Unmarshal([]byte(cfg), &j.Config) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if ft := m["fire_time"]; ft != "" {
		j.FireTime = &job.FireTime{}
		_ = json.Unmarshal([]byte(ft), j.FireTime) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	j.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	return j, nil
}

// itoa keeps shard field maps terse.
func itoa(n int) string { return strconv.Itoa(n) }
