package firetime

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/job"
)

// record is one queued fire-time write.
type record struct {
	jobID id.JobID
	info  Info
}

// Recorder persists fire times off the fire path. Submissions go
// through a bounded queue drained by a small worker pool; when the
// queue is full the record is dropped with a warning, never blocking
// the caller. Fire-time bookkeeping is best-effort and a lost record
// only costs a stale prev/next display.
type Recorder struct {
	store   job.Store
	logger  *slog.Logger
	queue   chan record
	workers int

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithQueueDepth overrides the submission queue capacity.
func WithQueueDepth(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan record, n)
		}
	}
}

// WithWorkers overrides the number of drain goroutines.
func WithWorkers(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.workers = n
		}
	}
}

// NewRecorder creates a recorder writing through the given job store.
// The queue defaults to depth queueDepth (or 10000 when zero) and the
// pool to GOMAXPROCS workers.
func NewRecorder(store job.Store, queueDepth int, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if queueDepth <= 0 {
		queueDepth = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:   store,
		logger:  logger,
		queue:   make(chan record, queueDepth),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the drain workers.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	drainCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.drain(drainCtx)
	}
	r.started = true
	return nil
}

// Stop cancels the workers and waits for them to exit. Queued records
// that have not been picked up yet are discarded.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues a fire-time record. When the queue is saturated the
// record is dropped and a warning logged; the caller never blocks.
func (r *Recorder) Submit(jobID id.JobID, info Info) {
	select {
	case r.queue <- record{jobID: jobID, info: info}:
	default:
		r.logger.Warn("fire-time queue saturated, dropping record",
			"job_id", jobID,
			"fire_time", info.Current)
	}
}

func (r *Recorder) drain(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-r.queue:
			cur := rec.info.Current
			ft := &job.FireTime{
				Prev:    rec.info.Prev,
				Current: &cur,
				Next:    rec.info.Next,
			}
			if err := r.store.SetJobFireTime(ctx, rec.jobID, ft); err != nil {
				r.logger.Warn("failed to record fire time",
					"job_id", rec.jobID,
					"error", err)
			}
		}
	}
}
