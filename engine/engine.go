package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/backoff"
	"github.com/fannyfinal/antares/barrier"
	"github.com/fannyfinal/antares/cluster"
	"github.com/fannyfinal/antares/coordinator"
	"github.com/fannyfinal/antares/event"
	"github.com/fannyfinal/antares/ext"
	"github.com/fannyfinal/antares/firetime"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
	"github.com/fannyfinal/antares/job"
	mw "github.com/fannyfinal/antares/middleware"
	"github.com/fannyfinal/antares/observability"
	"github.com/fannyfinal/antares/state"
	"github.com/fannyfinal/antares/store"
	"github.com/fannyfinal/antares/transport"
	"github.com/fannyfinal/antares/trigger"
	"github.com/fannyfinal/antares/worker"
)

// poolSpec is one in-process worker pool requested via WithWorkerApp.
type poolSpec struct {
	appName string
	opts    []worker.PoolOption
}

// Engine is the fully wired scheduling node: the coordinator and its
// collaborators assembled around one Server and one composite store.
type Engine struct {
	srv   *antares.Server
	store store.Store

	coordinator *coordinator.Coordinator
	scheduler   *trigger.Scheduler
	barrier     *barrier.Barrier
	recorder    *firetime.Recorder
	states      *state.Controller
	members     *cluster.Registry
	bus         *event.Bus
	hub         *transport.Hub
	extensions  *ext.Registry
	handlers    *worker.Registry
	pools       []*worker.Pool

	logger *slog.Logger

	// option state, consumed by Build.
	bo             backoff.Strategy
	mws            []mw.Middleware
	exts           []ext.Extension
	poolSpecs      []poolSpec
	schedulerOpts  []trigger.SchedulerOption
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures the Engine during Build.
type Option func(*Engine)

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.exts = append(eng.exts, e) }
}

// WithMiddleware appends a middleware to the fire chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry backoff strategy for shard handlers run
// by in-process worker pools.
func WithBackoff(bo backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = bo }
}

// WithWorkerApp runs an in-process worker pool for the named
// application. Without it the node coordinates fires only and shard
// execution is left to external worker processes.
func WithWorkerApp(appName string, opts ...worker.PoolOption) Option {
	return func(eng *Engine) {
		eng.poolSpecs = append(eng.poolSpecs, poolSpec{appName: appName, opts: opts})
	}
}

// WithSchedulerOption passes an option through to the trigger scheduler.
func WithSchedulerOption(opt trigger.SchedulerOption) Option {
	return func(eng *Engine) { eng.schedulerOpts = append(eng.schedulerOpts, opt) }
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider for
// the fire tracing middleware. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OpenTelemetry meter provider for the
// fire metrics middleware and the observability extension. Defaults to
// the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build assembles an Engine around the Server. The Server's store must
// implement the composite store.Store interface. Build registers the
// fire-time recorder, the trigger scheduler, and any worker pools as
// Server runners; srv.Start launches them.
func Build(srv *antares.Server, opts ...Option) (*Engine, error) {
	logger := srv.Logger()
	cfg := srv.Config()

	if srv.Store() == nil {
		return nil, antares.ErrNoStore
	}
	st, ok := srv.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("antares: store does not implement store.Store")
	}

	eng := &Engine{
		srv:      srv,
		store:    st,
		handlers: worker.NewRegistry(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Extension registry with the observability extension first, then
	// user extensions in registration order.
	eng.extensions = ext.NewRegistry(logger)
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/fannyfinal/antares/observability")
		eng.extensions.Register(observability.NewMetricsExtensionWithMeter(meter))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}
	for _, e := range eng.exts {
		eng.extensions.Register(e)
	}

	// Fire tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/fannyfinal/antares"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Fire metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/fannyfinal/antares"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default fire chain: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger, cfg.DispatchTimeout),
	}
	allMws = append(allMws, eng.mws...)

	eng.states = state.NewController(st, st, logger)
	eng.members = cluster.NewRegistry(st, cfg.AliveThreshold, logger)
	eng.bus = event.NewBus(st)
	eng.recorder = firetime.NewRecorder(st, cfg.AsyncQueueDepth, logger)

	// Push channel for connected workers. Heartbeat frames refresh the
	// cluster liveness record that admission control reads.
	eng.hub = transport.NewHub(logger, transport.WithHeartbeatFunc(
		func(ctx context.Context, workerID id.WorkerID, seenAt time.Time) error {
			return st.HeartbeatWorker(ctx, workerID.String(), seenAt)
		},
	))

	eng.barrier = barrier.New(st, st, eng.bus, eng.hub,
		cfg.CheckInterval, cfg.DispatchTimeout, logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	eng.coordinator = coordinator.New(st, st, eng.states, eng.members, eng.barrier, logger,
		coordinator.WithRecorder(eng.recorder),
		coordinator.WithExtensions(eng.extensions),
		coordinator.WithMiddleware(mw.Chain(allMws...)),
		coordinator.WithMaxErrorLength(cfg.MaxErrorLength),
		coordinator.WithHostname(hostname),
	)

	// The scheduler gets its own cluster identity; it participates in
	// leader election even on nodes that run no worker pool.
	eng.scheduler = trigger.NewScheduler(st, st, eng.coordinator.Fire,
		eng.extensions, id.NewWorkerID(), logger, eng.schedulerOpts...)

	executor := worker.NewExecutor(eng.handlers, st, eng.bus, eng.extensions, eng.bo, logger)
	for _, spec := range eng.poolSpecs {
		poolOpts := []worker.PoolOption{
			worker.WithPollInterval(cfg.PollInterval),
			worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		}
		poolOpts = append(poolOpts, spec.opts...)
		eng.pools = append(eng.pools, worker.NewPool(spec.appName, st, st, executor, logger, poolOpts...))
	}

	// Recorder first so fire-time bookkeeping is live before the first
	// fire; pools last so shards only start flowing once the scheduler
	// can settle them.
	srv.AddRunner(eng.recorder)
	srv.AddRunner(eng.scheduler)
	for _, p := range eng.pools {
		srv.AddRunner(p)
	}
	srv.SetExtensions(eng.extensions)

	return eng, nil
}

// RegisterJob persists a job definition. Registration is idempotent:
// when the (app, class) pair already exists the stored record is
// returned unchanged.
func (eng *Engine) RegisterJob(ctx context.Context, appName, class string, cfg job.Config) (*job.Job, error) {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 1
	}
	j := &job.Job{
		Entity:  antares.NewEntity(),
		ID:      id.NewJobID(),
		AppName: appName,
		Class:   class,
		State:   job.StateWaiting,
		Config:  cfg,
	}
	if err := eng.store.CreateJob(ctx, j); err != nil {
		if errors.Is(err, antares.ErrJobAlreadyExists) {
			return eng.store.GetJob(ctx, appName, class)
		}
		return nil, fmt.Errorf("register job %s/%s: %w", appName, class, err)
	}

	eng.logger.Info("job registered",
		slog.String("job", j.Key()),
		slog.Int("shard_count", cfg.ShardCount),
	)
	return j, nil
}

// RegisterHandler binds a shard handler to a job class on this node's
// worker pools.
func (eng *Engine) RegisterHandler(class string, h worker.Handler) {
	eng.handlers.Register(class, h)
}

// RegisterTrigger persists a cron trigger for a job. The schedule is
// validated and the first run computed before the entry is stored.
// Re-registering the same (job, schedule) pair is idempotent.
func (eng *Engine) RegisterTrigger(ctx context.Context, jobID id.JobID, schedule string) (*trigger.Entry, error) {
	sched, err := trigger.ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger schedule %q: %w", schedule, err)
	}

	next := sched.Next(time.Now().UTC())
	entry := &trigger.Entry{
		Entity:    antares.NewEntity(),
		ID:        id.NewTriggerID(),
		JobID:     jobID,
		Schedule:  schedule,
		NextRunAt: &next,
		Enabled:   true,
	}
	if err := eng.store.RegisterTrigger(ctx, entry); err != nil {
		if errors.Is(err, antares.ErrDuplicateTrigger) {
			return entry, nil
		}
		return nil, fmt.Errorf("register trigger for job %s: %w", jobID, err)
	}

	eng.logger.Info("trigger registered",
		slog.String("trigger_id", entry.ID.String()),
		slog.String("job_id", jobID.String()),
		slog.String("schedule", schedule),
		slog.Time("next_run_at", next),
	)
	return entry, nil
}

// FireNow fires a job immediately, outside its trigger schedule. The
// fire runs through the full admission and containment path; the
// fire-time record carries only the current timestamp.
func (eng *Engine) FireNow(ctx context.Context, appName, class string) error {
	j, err := eng.store.GetJob(ctx, appName, class)
	if err != nil {
		return fmt.Errorf("fire now %s/%s: %w", appName, class, err)
	}
	return eng.coordinator.FireJob(ctx, j, firetime.Info{Current: time.Now().UTC()})
}

// PauseJob suspends a job. Fires hitting a paused job are skipped by
// admission control.
func (eng *Engine) PauseJob(ctx context.Context, jobID id.JobID) error {
	return eng.transition(ctx, jobID, job.StatePaused)
}

// ResumeJob returns a paused or stopped job to the waiting state.
func (eng *Engine) ResumeJob(ctx context.Context, jobID id.JobID) error {
	return eng.transition(ctx, jobID, job.StateWaiting)
}

// StopJob disables a job. A run in flight is interrupted: the barrier
// observes the state change and the coordinator releases the instance.
func (eng *Engine) StopJob(ctx context.Context, jobID id.JobID) error {
	return eng.transition(ctx, jobID, job.StateStopped)
}

func (eng *Engine) transition(ctx context.Context, jobID id.JobID, to job.State) error {
	j, err := eng.store.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	return eng.states.UpdateDirectly(ctx, j, to)
}

// Coordinator returns the fire coordinator.
func (eng *Engine) Coordinator() *coordinator.Coordinator { return eng.coordinator }

// Scheduler returns the trigger scheduler.
func (eng *Engine) Scheduler() *trigger.Scheduler { return eng.scheduler }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Handlers returns the shard handler registry.
func (eng *Engine) Handlers() *worker.Registry { return eng.handlers }

// Hub returns the worker push hub. Mount it on an HTTP server to accept
// external worker connections.
func (eng *Engine) Hub() *transport.Hub { return eng.hub }

// EventBus returns the store-backed event bus.
func (eng *Engine) EventBus() *event.Bus { return eng.bus }

// Members returns the cluster registry used for admission control.
func (eng *Engine) Members() *cluster.Registry { return eng.members }

// ListShards returns the shard records of an instance, for inspection.
func (eng *Engine) ListShards(ctx context.Context, instanceID id.InstanceID) ([]*instance.Shard, error) {
	return eng.store.ListShards(ctx, instanceID)
}
