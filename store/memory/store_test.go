package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/cluster"
	"github.com/fannyfinal/antares/event"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
	"github.com/fannyfinal/antares/trigger"
)

func newJob(app, class string) *job.Job {
	return &job.Job{
		ID:      id.NewJobID(),
		AppName: app,
		Class:   class,
		State:   job.StateWaiting,
		Config:  job.Config{ShardCount: 2},
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	j := newJob("billing", "invoice-rollup")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, newJob("billing", "invoice-rollup")); !errors.Is(err, antares.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, "billing", "invoice-rollup")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID {
		t.Fatalf("GetJob ID = %s, want %s", got.ID, j.ID)
	}

	// Mutating the returned copy must not affect the stored record.
	got.State = job.StatePaused
	again, _ := s.GetJobByID(ctx, j.ID)
	if again.State != job.StateWaiting {
		t.Fatalf("stored job state mutated through returned copy")
	}

	if _, err := s.GetJob(ctx, "billing", "nope"); !errors.Is(err, antares.ErrJobNotFound) {
		t.Fatalf("GetJob missing: got %v, want ErrJobNotFound", err)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJobByID(ctx, j.ID); !errors.Is(err, antares.ErrJobNotFound) {
		t.Fatalf("GetJobByID after delete: got %v, want ErrJobNotFound", err)
	}
}

func TestListJobsFiltersByApp(t *testing.T) {
	ctx := context.Background()
	s := New()

	_ = s.CreateJob(ctx, newJob("billing", "a"))
	_ = s.CreateJob(ctx, newJob("billing", "b"))
	_ = s.CreateJob(ctx, newJob("reports", "c"))

	billing, err := s.ListJobs(ctx, "billing")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(billing) != 2 {
		t.Fatalf("ListJobs(billing) = %d jobs, want 2", len(billing))
	}

	all, _ := s.ListJobs(ctx, "")
	if len(all) != 3 {
		t.Fatalf("ListJobs(all) = %d jobs, want 3", len(all))
	}
}

func TestCompareAndSetJobState(t *testing.T) {
	ctx := context.Background()
	s := New()

	j := newJob("billing", "a")
	_ = s.CreateJob(ctx, j)

	applied, err := s.CompareAndSetJobState(ctx, j.ID, job.StateWaiting, job.StateRunning)
	if err != nil || !applied {
		t.Fatalf("CAS waiting→running: applied=%v err=%v", applied, err)
	}

	// Stale expectation does not overwrite.
	applied, err = s.CompareAndSetJobState(ctx, j.ID, job.StateWaiting, job.StatePaused)
	if err != nil {
		t.Fatalf("CAS: %v", err)
	}
	if applied {
		t.Fatal("CAS with stale from-state should not apply")
	}

	state, _ := s.GetJobState(ctx, j.ID)
	if state != job.StateRunning {
		t.Fatalf("state = %s, want running", state)
	}
}

func TestSetJobFireTime(t *testing.T) {
	ctx := context.Background()
	s := New()

	j := newJob("billing", "a")
	_ = s.CreateJob(ctx, j)

	cur := time.Now().UTC()
	next := cur.Add(time.Hour)
	if err := s.SetJobFireTime(ctx, j.ID, &job.FireTime{Current: &cur, Next: &next}); err != nil {
		t.Fatalf("SetJobFireTime: %v", err)
	}

	got, _ := s.GetJobByID(ctx, j.ID)
	if got.FireTime == nil || !got.FireTime.Current.Equal(cur) {
		t.Fatalf("FireTime not persisted: %+v", got.FireTime)
	}
}

func seedInstance(t *testing.T, s *Store, jobID id.JobID, app string) (*instance.Instance, []*instance.Shard) {
	t.Helper()
	inst := &instance.Instance{
		ID:        id.NewInstanceID(),
		JobID:     jobID,
		Status:    instance.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	shards := instance.BuildShards(inst.ID, instance.ShardConfig{
		AppName:     app,
		Class:       "invoice-rollup",
		ShardCount:  2,
		ShardParams: map[int]string{0: "p0", 1: "p1"},
		MaxRetries:  1,
	})
	if err := s.CreateInstanceAndShards(context.Background(), inst, shards); err != nil {
		t.Fatalf("CreateInstanceAndShards: %v", err)
	}
	return inst, shards
}

func TestInstanceCreateAndRunningIndex(t *testing.T) {
	ctx := context.Background()
	s := New()
	jobID := id.NewJobID()

	inst, _ := seedInstance(t, s, jobID, "billing")

	live, err := s.HasRunningInstance(ctx, jobID)
	if err != nil || !live {
		t.Fatalf("HasRunningInstance = %v, %v; want true", live, err)
	}

	// A second instance for the same job is rejected while one is live.
	dup := &instance.Instance{ID: id.NewInstanceID(), JobID: jobID, Status: instance.StatusRunning}
	if err := s.CreateInstanceAndShards(ctx, dup, nil); !errors.Is(err, antares.ErrInstanceAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrInstanceAlreadyExists", err)
	}

	// Finishing clears liveness even before the footprint is released.
	if err := s.FinishInstance(ctx, inst.ID, instance.StatusSuccess, time.Now().UTC()); err != nil {
		t.Fatalf("FinishInstance: %v", err)
	}
	live, _ = s.HasRunningInstance(ctx, jobID)
	if live {
		t.Fatal("HasRunningInstance after finish should be false")
	}
}

func TestReleaseInstanceKeepsTerminalRecord(t *testing.T) {
	ctx := context.Background()
	s := New()
	jobID := id.NewJobID()

	inst, _ := seedInstance(t, s, jobID, "billing")
	_ = s.FinishInstance(ctx, inst.ID, instance.StatusSuccess, time.Now().UTC())

	if err := s.ReleaseInstance(ctx, inst.ID); err != nil {
		t.Fatalf("ReleaseInstance: %v", err)
	}

	shards, _ := s.ListShards(ctx, inst.ID)
	if len(shards) != 0 {
		t.Fatalf("shards after release = %d, want 0", len(shards))
	}

	got, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance after release: %v", err)
	}
	if got.Status != instance.StatusSuccess {
		t.Fatalf("instance status = %s, want success", got.Status)
	}

	// The job may start a fresh instance once released.
	if _, _ = seedInstance(t, s, jobID, "billing"); false {
		t.Fatal("unreachable")
	}
}

func TestPullShardClaimsLowestItem(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, _ = seedInstance(t, s, id.NewJobID(), "billing")
	wid := id.NewWorkerID()

	first, err := s.PullShard(ctx, "billing", wid)
	if err != nil {
		t.Fatalf("PullShard: %v", err)
	}
	if first == nil || first.Item != 0 {
		t.Fatalf("first pull = %+v, want item 0", first)
	}
	if first.Status != instance.ShardRunning || first.WorkerID != wid {
		t.Fatalf("pulled shard not claimed: %+v", first)
	}

	second, _ := s.PullShard(ctx, "billing", wid)
	if second == nil || second.Item != 1 {
		t.Fatalf("second pull = %+v, want item 1", second)
	}

	third, err := s.PullShard(ctx, "billing", wid)
	if err != nil || third != nil {
		t.Fatalf("exhausted pull = %+v, %v; want nil, nil", third, err)
	}
}

func TestPullShardScopedToApp(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, _ = seedInstance(t, s, id.NewJobID(), "billing")

	sh, err := s.PullShard(ctx, "reports", id.NewWorkerID())
	if err != nil || sh != nil {
		t.Fatalf("PullShard(reports) = %+v, %v; want nil, nil", sh, err)
	}
}

func TestPullShardSkipsStoppedInstances(t *testing.T) {
	ctx := context.Background()
	s := New()

	inst, _ := seedInstance(t, s, id.NewJobID(), "billing")
	_ = s.FinishInstance(ctx, inst.ID, instance.StatusCancelled, time.Now().UTC())

	sh, err := s.PullShard(ctx, "billing", id.NewWorkerID())
	if err != nil || sh != nil {
		t.Fatalf("PullShard on cancelled instance = %+v, %v; want nil, nil", sh, err)
	}
}

func TestFinishShard(t *testing.T) {
	ctx := context.Background()
	s := New()

	inst, shards := seedInstance(t, s, id.NewJobID(), "billing")

	if err := s.FinishShard(ctx, shards[0].ID, instance.ShardFailed, "boom"); err != nil {
		t.Fatalf("FinishShard: %v", err)
	}

	got, _ := s.ListShards(ctx, inst.ID)
	if got[0].Status != instance.ShardFailed || got[0].Error != "boom" {
		t.Fatalf("shard 0 = %+v, want failed/boom", got[0])
	}
	if got[0].FinishedAt == nil {
		t.Fatal("FinishedAt not stamped")
	}
}

func TestMarkInstanceFailed(t *testing.T) {
	ctx := context.Background()
	s := New()

	inst, _ := seedInstance(t, s, id.NewJobID(), "billing")
	if err := s.MarkInstanceFailed(ctx, inst.ID, "shard store unreachable"); err != nil {
		t.Fatalf("MarkInstanceFailed: %v", err)
	}

	got, _ := s.GetInstance(ctx, inst.ID)
	if got.Status != instance.StatusFailed || got.Cause != "shard store unreachable" {
		t.Fatalf("instance = %+v, want failed with cause", got)
	}
	if got.EndedAt == nil {
		t.Fatal("EndedAt not stamped")
	}
}

func TestEventPublishSubscribeAck(t *testing.T) {
	ctx := context.Background()
	s := New()

	evt := &event.Event{ID: id.NewEventID(), Name: "shard.finished:x", CreatedAt: time.Now().UTC()}
	if err := s.PublishEvent(ctx, evt); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	got, err := s.SubscribeEvent(ctx, "shard.finished:x", time.Second)
	if err != nil {
		t.Fatalf("SubscribeEvent: %v", err)
	}
	if got == nil || got.ID != evt.ID {
		t.Fatalf("SubscribeEvent = %+v, want %s", got, evt.ID)
	}

	if err := s.AckEvent(ctx, evt.ID); err != nil {
		t.Fatalf("AckEvent: %v", err)
	}

	// Acked events are not redelivered.
	got, err = s.SubscribeEvent(ctx, "shard.finished:x", 30*time.Millisecond)
	if err != nil || got != nil {
		t.Fatalf("SubscribeEvent after ack = %+v, %v; want nil, nil", got, err)
	}
}

func TestSubscribeEventWakesOnLatePublish(t *testing.T) {
	ctx := context.Background()
	s := New()

	evt := &event.Event{ID: id.NewEventID(), Name: "late", CreatedAt: time.Now().UTC()}
	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = s.PublishEvent(context.Background(), evt)
	}()

	got, err := s.SubscribeEvent(ctx, "late", time.Second)
	if err != nil || got == nil {
		t.Fatalf("SubscribeEvent = %+v, %v; want event", got, err)
	}
}

func TestSubscribeEventRespectsContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.SubscribeEvent(ctx, "never", time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("SubscribeEvent = %v, want context.Canceled", err)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	w := &cluster.Worker{
		ID:       id.NewWorkerID(),
		AppName:  "billing",
		State:    cluster.WorkerActive,
		LastSeen: time.Now().UTC(),
	}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}

	list, _ := s.ListWorkersByApp(ctx, "billing")
	if len(list) != 1 {
		t.Fatalf("ListWorkersByApp = %d, want 1", len(list))
	}

	seen := time.Now().UTC().Add(time.Minute)
	if err := s.HeartbeatWorker(ctx, w.ID.String(), seen); err != nil {
		t.Fatalf("HeartbeatWorker: %v", err)
	}
	list, _ = s.ListWorkersByApp(ctx, "billing")
	if !list[0].LastSeen.Equal(seen) {
		t.Fatalf("LastSeen = %v, want %v", list[0].LastSeen, seen)
	}

	if err := s.DeregisterWorker(ctx, w.ID.String()); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}
	list, _ = s.ListWorkersByApp(ctx, "billing")
	if len(list) != 0 {
		t.Fatalf("workers after deregister = %d, want 0", len(list))
	}
}

func TestReapDeadWorkers(t *testing.T) {
	ctx := context.Background()
	s := New()

	stale := &cluster.Worker{ID: id.NewWorkerID(), AppName: "a", State: cluster.WorkerActive, LastSeen: time.Now().Add(-time.Hour)}
	fresh := &cluster.Worker{ID: id.NewWorkerID(), AppName: "a", State: cluster.WorkerActive, LastSeen: time.Now()}
	_ = s.RegisterWorker(ctx, stale)
	_ = s.RegisterWorker(ctx, fresh)

	n, err := s.ReapDeadWorkers(ctx, time.Now().Add(-time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("ReapDeadWorkers = %d, %v; want 1", n, err)
	}

	list, _ := s.ListWorkersByApp(ctx, "a")
	dead := 0
	for _, w := range list {
		if w.State == cluster.WorkerDead {
			dead++
		}
	}
	if dead != 1 {
		t.Fatalf("dead workers = %d, want 1", dead)
	}
}

func TestLeadershipLease(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := id.NewWorkerID()
	b := id.NewWorkerID()
	until := time.Now().UTC().Add(15 * time.Second)

	ok, err := s.AcquireLeadership(ctx, a.String(), until)
	if err != nil || !ok {
		t.Fatalf("AcquireLeadership(a) = %v, %v; want true", ok, err)
	}

	ok, _ = s.AcquireLeadership(ctx, b.String(), until)
	if ok {
		t.Fatal("b acquired leadership while a holds the lease")
	}

	if err := s.RenewLeadership(ctx, a.String(), until.Add(15*time.Second)); err != nil {
		t.Fatalf("RenewLeadership(a): %v", err)
	}
	if err := s.RenewLeadership(ctx, b.String(), until); !errors.Is(err, antares.ErrLeadershipLost) {
		t.Fatalf("RenewLeadership(b) = %v, want ErrLeadershipLost", err)
	}

	leader, err := s.GetLeader(ctx)
	if err != nil {
		t.Fatalf("GetLeader: %v", err)
	}
	if leader == nil || leader.ID != a {
		t.Fatalf("GetLeader = %+v, want %s", leader, a)
	}
}

func TestLeadershipExpires(t *testing.T) {
	ctx := context.Background()
	s := New()

	a := id.NewWorkerID()
	b := id.NewWorkerID()

	// Lease already expired.
	ok, _ := s.AcquireLeadership(ctx, a.String(), time.Now().UTC().Add(-time.Second))
	if !ok {
		t.Fatal("initial acquire failed")
	}

	leader, _ := s.GetLeader(ctx)
	if leader != nil {
		t.Fatalf("GetLeader on expired lease = %+v, want nil", leader)
	}

	ok, _ = s.AcquireLeadership(ctx, b.String(), time.Now().UTC().Add(15*time.Second))
	if !ok {
		t.Fatal("b should take over an expired lease")
	}
	if err := s.RenewLeadership(ctx, a.String(), time.Now().Add(time.Minute)); !errors.Is(err, antares.ErrLeadershipLost) {
		t.Fatalf("RenewLeadership(a) after takeover = %v, want ErrLeadershipLost", err)
	}
}

func TestTriggerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	e := &trigger.Entry{
		ID:       id.NewTriggerID(),
		JobID:    id.NewJobID(),
		Schedule: "*/5 * * * *",
		Enabled:  true,
	}
	if err := s.RegisterTrigger(ctx, e); err != nil {
		t.Fatalf("RegisterTrigger: %v", err)
	}

	dup := &trigger.Entry{ID: id.NewTriggerID(), JobID: e.JobID, Schedule: e.Schedule}
	if err := s.RegisterTrigger(ctx, dup); !errors.Is(err, antares.ErrDuplicateTrigger) {
		t.Fatalf("duplicate RegisterTrigger = %v, want ErrDuplicateTrigger", err)
	}

	e.Enabled = false
	if err := s.UpdateTrigger(ctx, e); err != nil {
		t.Fatalf("UpdateTrigger: %v", err)
	}
	got, _ := s.GetTrigger(ctx, e.ID)
	if got.Enabled {
		t.Fatal("UpdateTrigger did not persist Enabled=false")
	}

	if err := s.DeleteTrigger(ctx, e.ID); err != nil {
		t.Fatalf("DeleteTrigger: %v", err)
	}
	if _, err := s.GetTrigger(ctx, e.ID); !errors.Is(err, antares.ErrTriggerNotFound) {
		t.Fatalf("GetTrigger after delete = %v, want ErrTriggerNotFound", err)
	}
}

func TestTriggerLockContention(t *testing.T) {
	ctx := context.Background()
	s := New()

	e := &trigger.Entry{ID: id.NewTriggerID(), JobID: id.NewJobID(), Schedule: "@hourly", Enabled: true}
	_ = s.RegisterTrigger(ctx, e)

	a := id.NewWorkerID()
	b := id.NewWorkerID()

	ok, err := s.AcquireTriggerLock(ctx, e.ID, a, time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireTriggerLock(a) = %v, %v; want true", ok, err)
	}
	ok, _ = s.AcquireTriggerLock(ctx, e.ID, b, time.Minute)
	if ok {
		t.Fatal("b acquired a held lock")
	}

	// Release by the non-holder is a no-op.
	_ = s.ReleaseTriggerLock(ctx, e.ID, b)
	ok, _ = s.AcquireTriggerLock(ctx, e.ID, b, time.Minute)
	if ok {
		t.Fatal("release by non-holder freed the lock")
	}

	_ = s.ReleaseTriggerLock(ctx, e.ID, a)
	ok, _ = s.AcquireTriggerLock(ctx, e.ID, b, time.Minute)
	if !ok {
		t.Fatal("b could not acquire after release")
	}
}

func TestUpdateTriggerRun(t *testing.T) {
	ctx := context.Background()
	s := New()

	e := &trigger.Entry{ID: id.NewTriggerID(), JobID: id.NewJobID(), Schedule: "@hourly", Enabled: true}
	_ = s.RegisterTrigger(ctx, e)

	last := time.Now().UTC()
	next := last.Add(time.Hour)
	if err := s.UpdateTriggerRun(ctx, e.ID, last, &next); err != nil {
		t.Fatalf("UpdateTriggerRun: %v", err)
	}

	got, _ := s.GetTrigger(ctx, e.ID)
	if got.LastRunAt == nil || !got.LastRunAt.Equal(last) {
		t.Fatalf("LastRunAt = %v, want %v", got.LastRunAt, last)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Fatalf("NextRunAt = %v, want %v", got.NextRunAt, next)
	}
}
