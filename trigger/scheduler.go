package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/fannyfinal/antares"
	"github.com/fannyfinal/antares/cluster"
	"github.com/fannyfinal/antares/firetime"
	"github.com/fannyfinal/antares/id"
)

// FireFunc is the callback the scheduler hands due fires to.
// This breaks the import cycle: the engine provides the coordinator's
// OnFire as the implementation.
type FireFunc func(ctx context.Context, jobID id.JobID, ft firetime.Info) error

// Emitter emits trigger lifecycle events.
// ext.Registry satisfies this interface via EmitTriggerFired.
type Emitter interface {
	EmitTriggerFired(ctx context.Context, triggerID id.TriggerID, jobID id.JobID)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL for per-entry distributed locks.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithLeaderTTL sets the TTL for leader election.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// WithFireRateLimit caps how many fires the scheduler starts per
// second, smoothing thundering-herd schedules like "0 0 * * *" across
// many entries.
func WithFireRateLimit(perSecond rate.Limit, burst int) SchedulerOption {
	return func(s *Scheduler) { s.limiter = rate.NewLimiter(perSecond, burst) }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
// Exported for use when registering triggers.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler fires trigger entries on a tick loop. Only the cluster
// leader executes ticks to prevent double-firing.
type Scheduler struct {
	triggers Store
	members  cluster.Store
	fire     FireFunc
	emitter  Emitter
	workerID id.WorkerID
	logger   *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration
	leaderTTL    time.Duration
	limiter      *rate.Limiter

	// parsed caches parsed cron expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	// inFlight guards against refiring an entry whose fire is still
	// running in this process. The store lock only fences other
	// coordinators: some backends let the holder re-acquire.
	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	triggers Store,
	members cluster.Store,
	fire FireFunc,
	emitter Emitter,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		triggers:     triggers,
		members:      members,
		fire:         fire,
		emitter:      emitter,
		workerID:     workerID,
		logger:       logger,
		tickInterval: 1 * time.Second,
		lockTTL:      30 * time.Second,
		leaderTTL:    15 * time.Second,
		limiter:      rate.NewLimiter(rate.Inf, 0),
		parsed:       make(map[string]cronlib.Schedule),
		inFlight:     make(map[string]struct{}),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the leader election and tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("trigger scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for goroutines to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("trigger scheduler stopped")
	return nil
}

// leaderLoop continuously attempts to acquire or renew leadership.
func (s *Scheduler) leaderLoop() {
	defer s.wg.Done()

	renewInterval := s.leaderTTL / 2
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	// Try once immediately at start.
	s.tryLeadership()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Scheduler) tryLeadership() {
	ctx := context.Background()
	until := time.Now().UTC().Add(s.leaderTTL)

	// Try to renew first (cheap if already leader).
	err := s.members.RenewLeadership(ctx, s.workerID.String(), until)
	if err == nil {
		return
	}
	if !errors.Is(err, antares.ErrLeadershipLost) && !errors.Is(err, antares.ErrNotLeader) {
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}

	// Not leader; try to acquire.
	acquired, err := s.members.AcquireLeadership(ctx, s.workerID.String(), until)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired trigger leadership", slog.String("worker_id", s.workerID.String()))
	}
}

// tickLoop fires on each tick interval and processes due entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	leader, err := s.members.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("get leader error", slog.String("error", err.Error()))
		return
	}
	if leader == nil || leader.ID.String() != s.workerID.String() {
		return // Not the leader; skip.
	}

	entries, err := s.triggers.ListTriggers(ctx)
	if err != nil {
		s.logger.Error("list triggers error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		if !s.markInFlight(entry.ID) {
			continue // Still firing from an earlier tick.
		}
		if !s.limiter.Allow() {
			// Over the fire budget for this tick; the entry stays due
			// and fires on a later tick.
			s.clearInFlight(entry.ID)
			s.logger.Warn("fire rate limit reached, deferring trigger",
				slog.String("trigger_id", entry.ID.String()),
			)
			continue
		}
		// Each fire gets its own goroutine: one fire blocks on its
		// barrier wait, and that must not hold up other jobs' triggers.
		// The in-flight set and the store lock guard double-fires.
		s.wg.Add(1)
		go func(entry *Entry) {
			defer s.wg.Done()
			defer s.clearInFlight(entry.ID)
			s.fireEntry(ctx, entry, now)
		}(entry)
	}
}

func (s *Scheduler) markInFlight(triggerID id.TriggerID) bool {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	key := triggerID.String()
	if _, busy := s.inFlight[key]; busy {
		return false
	}
	s.inFlight[key] = struct{}{}
	return true
}

func (s *Scheduler) clearInFlight(triggerID id.TriggerID) {
	s.inFlightMu.Lock()
	defer s.inFlightMu.Unlock()
	delete(s.inFlight, triggerID.String())
}

func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, now time.Time) {
	acquired, err := s.triggers.AcquireTriggerLock(ctx, entry.ID, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Error("acquire trigger lock error",
			slog.String("trigger_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return // Another coordinator got it.
	}
	defer func() {
		if relErr := s.triggers.ReleaseTriggerLock(ctx, entry.ID, s.workerID); relErr != nil {
			s.logger.Error("release trigger lock error",
				slog.String("trigger_id", entry.ID.String()),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	// The fire-time window: the scheduled time this fire is for, the
	// previous fire, and the next computed occurrence.
	current := now
	if entry.NextRunAt != nil {
		current = *entry.NextRunAt
	}
	info := firetime.Info{
		Prev:    entry.LastRunAt,
		Current: current,
	}

	var next *time.Time
	sched, parseErr := s.getOrParseSchedule(entry.Schedule)
	if parseErr != nil {
		s.logger.Error("parse trigger schedule error",
			slog.String("trigger_id", entry.ID.String()),
			slog.String("schedule", entry.Schedule),
			slog.String("error", parseErr.Error()),
		)
	} else {
		n := sched.Next(now)
		next = &n
		info.Next = next
	}

	fireErr := s.fire(ctx, entry.JobID, info)
	if fireErr != nil {
		s.logger.Error("trigger fire error",
			slog.String("trigger_id", entry.ID.String()),
			slog.String("job_id", entry.JobID.String()),
			slog.String("error", fireErr.Error()),
		)
	}

	// The schedule advances whether the fire succeeded or not: a
	// persistently failing job waits for its next occurrence instead
	// of refiring on every tick.
	if updateErr := s.triggers.UpdateTriggerRun(ctx, entry.ID, now, next); updateErr != nil {
		s.logger.Error("update trigger run error",
			slog.String("trigger_id", entry.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}
	if fireErr != nil {
		return
	}

	if s.emitter != nil {
		s.emitter.EmitTriggerFired(ctx, entry.ID, entry.JobID)
	}

	s.logger.Info("trigger fired",
		slog.String("trigger_id", entry.ID.String()),
		slog.String("job_id", entry.JobID.String()),
		slog.Time("fire_time", current),
	)
}

// getOrParseSchedule caches parsed cron expressions.
func (s *Scheduler) getOrParseSchedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
