package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/engine"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
	"github.com/fannyfinal/antares/store/memory"
	"github.com/fannyfinal/antares/trigger"
	"github.com/fannyfinal/antares/worker"
)

func testConfig() antares.Config {
	cfg := antares.DefaultConfig()
	cfg.DispatchTimeout = 5 * time.Second
	cfg.CheckInterval = 10 * time.Millisecond
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.AliveThreshold = 2 * time.Second
	return cfg
}

// newNode builds a started single-process node: memory store, one
// worker pool for the given app, and a fast trigger scheduler.
func newNode(t *testing.T, app string, opts ...engine.Option) (*antares.Server, *engine.Engine, *memory.Store) {
	t.Helper()

	st := memory.New()
	srv, err := antares.New(
		antares.WithStore(st),
		antares.WithConfig(testConfig()),
		antares.WithLogger(slog.Default()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	all := append([]engine.Option{
		engine.WithWorkerApp(app, worker.WithConcurrency(2)),
		engine.WithSchedulerOption(trigger.WithTickInterval(20 * time.Millisecond)),
	}, opts...)
	eng, err := engine.Build(srv, all...)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return srv, eng, st
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFireNowRunsJobEndToEnd(t *testing.T) {
	_, eng, st := newNode(t, "billing")

	var executed atomic.Int32
	eng.RegisterHandler("invoice-rollup", func(_ context.Context, sc worker.ShardContext) error {
		executed.Add(1)
		if sc.Param == "" {
			t.Errorf("shard %d: missing param", sc.Item)
		}
		return nil
	})

	j, err := eng.RegisterJob(context.Background(), "billing", "invoice-rollup", job.Config{
		ShardCount:  3,
		ShardParams: map[int]string{0: "a", 1: "b", 2: "c"},
	})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}

	if err := eng.FireNow(context.Background(), "billing", "invoice-rollup"); err != nil {
		t.Fatalf("FireNow: %v", err)
	}

	if got := executed.Load(); got != 3 {
		t.Errorf("executed shards = %d, want 3", got)
	}

	s, err := st.GetJobState(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJobState: %v", err)
	}
	if s != job.StateWaiting {
		t.Errorf("job state after fire = %q, want %q", s, job.StateWaiting)
	}

	live, err := st.HasRunningInstance(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("HasRunningInstance: %v", err)
	}
	if live {
		t.Error("instance still live after fire settled")
	}
}

func TestFireNowFailingHandlerContainsFailure(t *testing.T) {
	_, eng, st := newNode(t, "billing")

	eng.RegisterHandler("flaky", func(context.Context, worker.ShardContext) error {
		return errors.New("downstream unavailable")
	})

	j, err := eng.RegisterJob(context.Background(), "billing", "flaky", job.Config{ShardCount: 1})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}

	if err := eng.FireNow(context.Background(), "billing", "flaky"); err != nil {
		t.Fatalf("FireNow: %v", err)
	}

	// A shard failure is a completed run, not a fire error. The job
	// returns to waiting and no live instance remains.
	s, err := st.GetJobState(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJobState: %v", err)
	}
	if s != job.StateWaiting {
		t.Errorf("job state = %q, want %q", s, job.StateWaiting)
	}
	live, _ := st.HasRunningInstance(context.Background(), j.ID)
	if live {
		t.Error("failed instance left live")
	}
}

func TestRegisterJobIsIdempotent(t *testing.T) {
	_, eng, _ := newNode(t, "billing")

	first, err := eng.RegisterJob(context.Background(), "billing", "invoice-rollup", job.Config{ShardCount: 2})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	second, err := eng.RegisterJob(context.Background(), "billing", "invoice-rollup", job.Config{ShardCount: 9})
	if err != nil {
		t.Fatalf("RegisterJob again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("re-registration created a new job: %s != %s", second.ID, first.ID)
	}
	if second.Config.ShardCount != 2 {
		t.Errorf("re-registration rewrote config: shard count = %d, want 2", second.Config.ShardCount)
	}
}

func TestRegisterTriggerValidatesSchedule(t *testing.T) {
	_, eng, _ := newNode(t, "billing")

	j, err := eng.RegisterJob(context.Background(), "billing", "invoice-rollup", job.Config{ShardCount: 1})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}

	if _, err := eng.RegisterTrigger(context.Background(), j.ID, "not a schedule"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	entry, err := eng.RegisterTrigger(context.Background(), j.ID, "0 2 * * *")
	if err != nil {
		t.Fatalf("RegisterTrigger: %v", err)
	}
	if entry.NextRunAt == nil || !entry.NextRunAt.After(time.Now().Add(-time.Minute)) {
		t.Error("NextRunAt not computed")
	}

	// Same (job, schedule) pair again is a no-op, not an error.
	if _, err := eng.RegisterTrigger(context.Background(), j.ID, "0 2 * * *"); err != nil {
		t.Fatalf("duplicate RegisterTrigger: %v", err)
	}
}

func TestSchedulerFiresRegisteredTrigger(t *testing.T) {
	_, eng, st := newNode(t, "billing")

	var executed atomic.Int32
	eng.RegisterHandler("invoice-rollup", func(context.Context, worker.ShardContext) error {
		executed.Add(1)
		return nil
	})

	j, err := eng.RegisterJob(context.Background(), "billing", "invoice-rollup", job.Config{ShardCount: 1})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	entry, err := eng.RegisterTrigger(context.Background(), j.ID, "@every 1h")
	if err != nil {
		t.Fatalf("RegisterTrigger: %v", err)
	}

	// Pull the next run into the past so the scheduler picks it up on
	// its next tick.
	due := time.Now().Add(-time.Second)
	entry.NextRunAt = &due
	if err := st.UpdateTrigger(context.Background(), entry); err != nil {
		t.Fatalf("UpdateTrigger: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return executed.Load() >= 1 })

	// The fire-time record lands asynchronously after the fire.
	waitFor(t, 2*time.Second, func() bool {
		got, err := st.GetJobByID(context.Background(), j.ID)
		return err == nil && got.FireTime != nil && got.FireTime.Current != nil
	})
}

func TestPauseSkipsFiresAndResumeRestores(t *testing.T) {
	_, eng, st := newNode(t, "billing")

	var executed atomic.Int32
	eng.RegisterHandler("invoice-rollup", func(context.Context, worker.ShardContext) error {
		executed.Add(1)
		return nil
	})

	j, err := eng.RegisterJob(context.Background(), "billing", "invoice-rollup", job.Config{ShardCount: 1})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}

	if err := eng.PauseJob(context.Background(), j.ID); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	if err := eng.FireNow(context.Background(), "billing", "invoice-rollup"); err != nil {
		t.Fatalf("FireNow on paused: %v", err)
	}
	if executed.Load() != 0 {
		t.Error("paused job executed a shard")
	}
	s, _ := st.GetJobState(context.Background(), j.ID)
	if s != job.StatePaused {
		t.Errorf("state = %q, want %q", s, job.StatePaused)
	}

	if err := eng.ResumeJob(context.Background(), j.ID); err != nil {
		t.Fatalf("ResumeJob: %v", err)
	}
	if err := eng.FireNow(context.Background(), "billing", "invoice-rollup"); err != nil {
		t.Fatalf("FireNow after resume: %v", err)
	}
	if executed.Load() != 1 {
		t.Errorf("executed = %d after resume, want 1", executed.Load())
	}
}

func TestStopJobDisablesFires(t *testing.T) {
	_, eng, st := newNode(t, "billing")

	eng.RegisterHandler("invoice-rollup", func(context.Context, worker.ShardContext) error {
		t.Error("stopped job executed a shard")
		return nil
	})

	j, err := eng.RegisterJob(context.Background(), "billing", "invoice-rollup", job.Config{ShardCount: 1})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	if err := eng.StopJob(context.Background(), j.ID); err != nil {
		t.Fatalf("StopJob: %v", err)
	}
	if err := eng.FireNow(context.Background(), "billing", "invoice-rollup"); err != nil {
		t.Fatalf("FireNow on stopped: %v", err)
	}
	s, _ := st.GetJobState(context.Background(), j.ID)
	if s != job.StateStopped {
		t.Errorf("state = %q, want %q", s, job.StateStopped)
	}
}

func TestFireNowWithoutWorkersIsSkipped(t *testing.T) {
	// No WithWorkerApp: the node coordinates only, so admission finds
	// no alive workers and the fire is a no-op.
	st := memory.New()
	srv, err := antares.New(antares.WithStore(st), antares.WithConfig(testConfig()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng, err := engine.Build(srv)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(context.Background())

	j, err := eng.RegisterJob(context.Background(), "billing", "invoice-rollup", job.Config{ShardCount: 1})
	if err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	if err := eng.FireNow(context.Background(), "billing", "invoice-rollup"); err != nil {
		t.Fatalf("FireNow: %v", err)
	}
	s, _ := st.GetJobState(context.Background(), j.ID)
	if s != job.StateWaiting {
		t.Errorf("state = %q, want %q", s, job.StateWaiting)
	}
}

// finishedCapture records the terminal instance and its shard statuses
// from inside the finished hook, before the coordinator releases the
// instance footprint.
type finishedCapture struct {
	eng *engine.Engine

	status   instance.Status
	shards   []instance.ShardStatus
	captured atomic.Bool
}

func (c *finishedCapture) Name() string { return "finished-capture" }

func (c *finishedCapture) OnInstanceFinished(ctx context.Context, _ *job.Job, inst *instance.Instance, _ time.Duration) error {
	shards, err := c.eng.ListShards(ctx, inst.ID)
	if err != nil {
		return err
	}
	c.status = inst.Status
	for _, sh := range shards {
		c.shards = append(c.shards, sh.Status)
	}
	c.captured.Store(true)
	return nil
}

func TestFailedShardFailsInstance(t *testing.T) {
	capture := &finishedCapture{}
	_, eng, _ := newNode(t, "billing", engine.WithExtension(capture))
	capture.eng = eng

	eng.RegisterHandler("invoice-rollup", func(_ context.Context, sc worker.ShardContext) error {
		if sc.Item == 1 {
			return errors.New("boom")
		}
		return nil
	})

	if _, err := eng.RegisterJob(context.Background(), "billing", "invoice-rollup", job.Config{ShardCount: 2}); err != nil {
		t.Fatalf("RegisterJob: %v", err)
	}
	if err := eng.FireNow(context.Background(), "billing", "invoice-rollup"); err != nil {
		t.Fatalf("FireNow: %v", err)
	}

	if !capture.captured.Load() {
		t.Fatal("finished hook never ran")
	}
	if capture.status != instance.StatusFailed {
		t.Errorf("instance status = %q, want %q", capture.status, instance.StatusFailed)
	}
	if len(capture.shards) != 2 {
		t.Fatalf("shards seen = %d, want 2", len(capture.shards))
	}
	failed := 0
	for _, s := range capture.shards {
		if s == instance.ShardFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed shards = %d, want 1", failed)
	}
}

func TestBuildRejectsMissingStore(t *testing.T) {
	srv, err := antares.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := engine.Build(srv); !errors.Is(err, antares.ErrNoStore) {
		t.Errorf("Build error = %v, want ErrNoStore", err)
	}
}

func TestBuildRejectsPartialStore(t *testing.T) {
	srv, err := antares.New(antares.WithStore(lifecycleOnlyStore{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := engine.Build(srv); err == nil {
		t.Error("expected error for store without subsystem interfaces")
	}
}

// lifecycleOnlyStore satisfies antares.Storer but not store.Store.
type lifecycleOnlyStore struct{}

func (lifecycleOnlyStore) Migrate(context.Context) error { return nil }
func (lifecycleOnlyStore) Ping(context.Context) error    { return nil }
func (lifecycleOnlyStore) Close() error                  { return nil }
