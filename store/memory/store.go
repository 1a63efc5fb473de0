// Package memory provides a fully in-memory store backend. Safe for
// concurrent access; intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/cluster"
	"github.com/fannyfinal/antares/event"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
	"github.com/fannyfinal/antares/trigger"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store      = (*Store)(nil)
	_ instance.Store = (*Store)(nil)
	_ trigger.Store  = (*Store)(nil)
	_ event.Store    = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job // key: job ID
	jobKeys map[string]string   // key: "app/class" → job ID

	instances    map[string]*instance.Instance
	runningByJob map[string]string // job ID → running instance ID
	shards       map[string]*instance.Shard

	triggers map[string]*trigger.Entry
	events   map[string]*event.Event
	workers  map[string]*cluster.Worker

	// leader tracks the current scheduler lease holder.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:         make(map[string]*job.Job),
		jobKeys:      make(map[string]string),
		instances:    make(map[string]*instance.Instance),
		runningByJob: make(map[string]string),
		shards:       make(map[string]*instance.Shard),
		triggers:     make(map[string]*trigger.Entry),
		events:       make(map[string]*event.Event),
		workers:      make(map[string]*cluster.Worker),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job record.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.Key()
	if _, exists := m.jobKeys[key]; exists {
		return antares.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[j.ID.String()] = &cp
	m.jobKeys[key] = j.ID.String()
	return nil
}

// GetJob retrieves a job by its (app, class) identity.
func (m *Store) GetJob(_ context.Context, appName, class string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobID, ok := m.jobKeys[appName+"/"+class]
	if !ok {
		return nil, antares.ErrJobNotFound
	}
	cp := *m.jobs[jobID]
	return &cp, nil
}

// GetJobByID retrieves a job by ID.
func (m *Store) GetJobByID(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, antares.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns all jobs of an application; empty appName means all.
func (m *Store) ListJobs(_ context.Context, appName string) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if appName != "" && j.AppName != appName {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key() < out[k].Key() })
	return out, nil
}

// DeleteJob removes a job record by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return antares.ErrJobNotFound
	}
	delete(m.jobKeys, j.Key())
	delete(m.jobs, jobID.String())
	return nil
}

// GetJobState returns the current logical state of a job.
func (m *Store) GetJobState(_ context.Context, jobID id.JobID) (job.State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return "", antares.ErrJobNotFound
	}
	return j.State, nil
}

// SetJobState writes the job state unconditionally.
func (m *Store) SetJobState(_ context.Context, jobID id.JobID, s job.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return antares.ErrJobNotFound
	}
	j.State = s
	j.Touch()
	return nil
}

// CompareAndSetJobState writes the state only if the current equals from.
func (m *Store) CompareAndSetJobState(_ context.Context, jobID id.JobID, from, to job.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return false, antares.ErrJobNotFound
	}
	if j.State != from {
		return false, nil
	}
	j.State = to
	j.Touch()
	return true, nil
}

// SetJobFireTime overwrites the fire-time bookkeeping of a job.
func (m *Store) SetJobFireTime(_ context.Context, jobID id.JobID, ft *job.FireTime) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return antares.ErrJobNotFound
	}
	cp := *ft
	j.FireTime = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Instance Store
// ──────────────────────────────────────────────────

// CreateInstanceAndShards atomically persists an instance and its shards.
func (m *Store) CreateInstanceAndShards(_ context.Context, inst *instance.Instance, shards []*instance.Shard) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobKey := inst.JobID.String()
	if _, exists := m.runningByJob[jobKey]; exists {
		return antares.ErrInstanceAlreadyExists
	}

	cp := *inst
	m.instances[inst.ID.String()] = &cp
	m.runningByJob[jobKey] = inst.ID.String()
	for _, sh := range shards {
		shCp := *sh
		m.shards[sh.ID.String()] = &shCp
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (m *Store) GetInstance(_ context.Context, instanceID id.InstanceID) (*instance.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return nil, antares.ErrInstanceNotFound
	}
	cp := *inst
	return &cp, nil
}

// HasRunningInstance reports whether a live instance exists for the job.
func (m *Store) HasRunningInstance(_ context.Context, jobID id.JobID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instID, ok := m.runningByJob[jobID.String()]
	if !ok {
		return false, nil
	}
	inst, ok := m.instances[instID]
	return ok && inst.Status == instance.StatusRunning, nil
}

// FinishInstance stamps a terminal status and end time on an instance.
func (m *Store) FinishInstance(_ context.Context, instanceID id.InstanceID, status instance.Status, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return antares.ErrInstanceNotFound
	}
	inst.Status = status
	inst.EndedAt = &endedAt
	inst.Touch()
	return nil
}

// MarkInstanceFailed persists a terminal failed status with the cause.
func (m *Store) MarkInstanceFailed(_ context.Context, instanceID id.InstanceID, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return antares.ErrInstanceNotFound
	}
	now := time.Now().UTC()
	inst.Status = instance.StatusFailed
	inst.Cause = cause
	inst.EndedAt = &now
	inst.Touch()
	return nil
}

// ReleaseInstance removes the transient footprint of an instance.
func (m *Store) ReleaseInstance(_ context.Context, instanceID id.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return antares.ErrInstanceNotFound
	}
	instKey := instanceID.String()
	for key, sh := range m.shards {
		if sh.InstanceID.String() == instKey {
			delete(m.shards, key)
		}
	}
	if m.runningByJob[inst.JobID.String()] == instKey {
		delete(m.runningByJob, inst.JobID.String())
	}
	return nil
}

// ListShards returns all shards of an instance ordered by item.
func (m *Store) ListShards(_ context.Context, instanceID id.InstanceID) ([]*instance.Shard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instKey := instanceID.String()
	out := make([]*instance.Shard, 0, 8)
	for _, sh := range m.shards {
		if sh.InstanceID.String() == instKey {
			cp := *sh
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Item < out[k].Item })
	return out, nil
}

// PullShard atomically claims the next new shard of the application.
func (m *Store) PullShard(_ context.Context, appName string, workerID id.WorkerID) (*instance.Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pick *instance.Shard
	for _, sh := range m.shards {
		if sh.Status != instance.ShardNew || sh.AppName != appName {
			continue
		}
		inst, ok := m.instances[sh.InstanceID.String()]
		if !ok || inst.Status != instance.StatusRunning {
			continue
		}
		if pick == nil || sh.Item < pick.Item {
			pick = sh
		}
	}
	if pick == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	pick.Status = instance.ShardRunning
	pick.WorkerID = workerID
	pick.PulledAt = &now
	pick.Touch()
	cp := *pick
	return &cp, nil
}

// FinishShard stamps a terminal status on a shard.
func (m *Store) FinishShard(_ context.Context, shardID id.ShardID, status instance.ShardStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sh, ok := m.shards[shardID.String()]
	if !ok {
		return antares.ErrShardNotFound
	}
	now := time.Now().UTC()
	sh.Status = status
	sh.Error = errMsg
	sh.FinishedAt = &now
	sh.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// Trigger Store
// ──────────────────────────────────────────────────

// RegisterTrigger persists a new trigger entry.
func (m *Store) RegisterTrigger(_ context.Context, entry *trigger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.triggers {
		if e.JobID == entry.JobID && e.Schedule == entry.Schedule {
			return antares.ErrDuplicateTrigger
		}
	}
	cp := *entry
	m.triggers[entry.ID.String()] = &cp
	return nil
}

// GetTrigger retrieves a trigger entry by ID.
func (m *Store) GetTrigger(_ context.Context, triggerID id.TriggerID) (*trigger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.triggers[triggerID.String()]
	if !ok {
		return nil, antares.ErrTriggerNotFound
	}
	cp := *e
	return &cp, nil
}

// ListTriggers returns all trigger entries.
func (m *Store) ListTriggers(_ context.Context) ([]*trigger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*trigger.Entry, 0, len(m.triggers))
	for _, e := range m.triggers {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID.String() < out[k].ID.String() })
	return out, nil
}

// UpdateTrigger updates a trigger entry.
func (m *Store) UpdateTrigger(_ context.Context, entry *trigger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.triggers[entry.ID.String()]; !ok {
		return antares.ErrTriggerNotFound
	}
	cp := *entry
	m.triggers[entry.ID.String()] = &cp
	return nil
}

// DeleteTrigger removes a trigger entry by ID.
func (m *Store) DeleteTrigger(_ context.Context, triggerID id.TriggerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.triggers[triggerID.String()]; !ok {
		return antares.ErrTriggerNotFound
	}
	delete(m.triggers, triggerID.String())
	return nil
}

// AcquireTriggerLock attempts to acquire the fire lock for an entry.
func (m *Store) AcquireTriggerLock(_ context.Context, triggerID id.TriggerID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.triggers[triggerID.String()]
	if !ok {
		return false, antares.ErrTriggerNotFound
	}
	now := time.Now().UTC()
	if e.LockedBy != "" && e.LockedBy != workerID.String() &&
		e.LockedUntil != nil && e.LockedUntil.After(now) {
		return false, nil
	}
	until := now.Add(ttl)
	e.LockedBy = workerID.String()
	e.LockedUntil = &until
	return true, nil
}

// ReleaseTriggerLock releases the fire lock for an entry.
func (m *Store) ReleaseTriggerLock(_ context.Context, triggerID id.TriggerID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.triggers[triggerID.String()]
	if !ok {
		return antares.ErrTriggerNotFound
	}
	if e.LockedBy == workerID.String() {
		e.LockedBy = ""
		e.LockedUntil = nil
	}
	return nil
}

// UpdateTriggerRun records one completed fire.
func (m *Store) UpdateTriggerRun(_ context.Context, triggerID id.TriggerID, lastRun time.Time, nextRun *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.triggers[triggerID.String()]
	if !ok {
		return antares.ErrTriggerNotFound
	}
	lr := lastRun
	e.LastRunAt = &lr
	if nextRun != nil {
		nr := *nextRun
		e.NextRunAt = &nr
	} else {
		e.NextRunAt = nil
	}
	return nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *evt
	m.events[evt.ID.String()] = &cp
	return nil
}

// SubscribeEvent waits for an unacked event matching the given name.
// Poll-based: loops with 10ms sleep until an event is available or the
// timeout expires.
func (m *Store) SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		m.mu.RLock()
		for _, evt := range m.events {
			if evt.Name == name && !evt.Acked {
				cp := *evt
				m.mu.RUnlock()
				return &cp, nil
			}
		}
		m.mu.RUnlock()

		if time.Now().After(deadline) {
			return nil, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (m *Store) AckEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	evt, ok := m.events[eventID.String()]
	if !ok {
		return antares.ErrEventNotFound
	}
	evt.Acked = true
	return nil
}

// ──────────────────────────────────────────────────
// Cluster Store
// ──────────────────────────────────────────────────

// RegisterWorker adds or replaces a worker record.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

// DeregisterWorker removes a worker record.
func (m *Store) DeregisterWorker(_ context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.workers, workerID)
	if m.leader == workerID {
		m.leader = ""
	}
	return nil
}

// HeartbeatWorker refreshes a worker's last-seen timestamp.
func (m *Store) HeartbeatWorker(_ context.Context, workerID string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID]
	if !ok {
		return antares.ErrWorkerNotFound
	}
	w.LastSeen = seenAt
	if w.State == cluster.WorkerDead {
		w.State = cluster.WorkerActive
	}
	return nil
}

// ListWorkersByApp returns all workers registered for an application.
func (m *Store) ListWorkersByApp(_ context.Context, appName string) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		if w.AppName != appName {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID.String() < out[k].ID.String() })
	return out, nil
}

// ReapDeadWorkers marks workers unseen since the cutoff as dead.
func (m *Store) ReapDeadWorkers(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, w := range m.workers {
		if w.State == cluster.WorkerActive && w.LastSeen.Before(cutoff) {
			w.State = cluster.WorkerDead
			n++
		}
	}
	return n, nil
}

// AcquireLeadership attempts to claim the scheduler lease.
func (m *Store) AcquireLeadership(_ context.Context, workerID string, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if m.leader != "" && m.leaderUntil.After(now) && m.leader != workerID {
		return false, nil
	}

	m.leader = workerID
	m.leaderUntil = until
	if w, ok := m.workers[workerID]; ok {
		w.IsLeader = true
		u := until
		w.LeaderUntil = &u
	}
	return true, nil
}

// RenewLeadership extends an existing lease.
func (m *Store) RenewLeadership(_ context.Context, workerID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.leader != workerID || m.leaderUntil.Before(time.Now().UTC()) {
		return antares.ErrLeadershipLost
	}
	m.leaderUntil = until
	if w, ok := m.workers[workerID]; ok {
		u := until
		w.LeaderUntil = &u
	}
	return nil
}

// GetLeader returns the current lease holder, or nil when none is held.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}
	w, ok := m.workers[m.leader]
	if !ok {
		// Lease held by a worker with no registered record (e.g. the
		// coordinator itself); synthesize a minimal entry.
		wid, err := id.ParseWorkerID(m.leader)
		if err != nil {
			return nil, nil
		}
		u := m.leaderUntil
		return &cluster.Worker{ID: wid, IsLeader: true, LeaderUntil: &u}, nil
	}
	cp := *w
	return &cp, nil
}
