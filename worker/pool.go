package worker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fannyfinal/antares/cluster"
	"github.com/fannyfinal/antares/id"
	"github.com/fannyfinal/antares/instance"
)

// Pool manages a set of concurrent goroutines that pull shards for one
// application and execute them. It registers itself as a cluster worker
// and heartbeats while running, which is what keeps the application
// admissible for fires.
type Pool struct {
	appName   string
	workerID  id.WorkerID
	instances instance.Store
	members   cluster.Store
	executor  *Executor
	logger    *slog.Logger

	concurrency       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent pull goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithPollInterval sets how often idle goroutines poll for shards.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

// WithHeartbeatInterval sets how often the pool refreshes its cluster
// liveness record.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.heartbeatInterval = d
		}
	}
}

// NewPool creates a worker pool for one application.
func NewPool(
	appName string,
	instances instance.Store,
	members cluster.Store,
	executor *Executor,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		appName:           appName,
		workerID:          id.NewWorkerID(),
		instances:         instances,
		members:           members,
		executor:          executor,
		logger:            logger,
		concurrency:       4,
		pollInterval:      time.Second,
		heartbeatInterval: 10 * time.Second,
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's cluster identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start registers the worker in the cluster and launches the pull and
// heartbeat goroutines. It returns immediately.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	hostname, _ := os.Hostname()
	now := time.Now().UTC()
	w := &cluster.Worker{
		ID:        p.workerID,
		AppName:   p.appName,
		Hostname:  hostname,
		State:     cluster.WorkerActive,
		LastSeen:  now,
		CreatedAt: now,
	}
	if err := p.members.RegisterWorker(ctx, w); err != nil {
		return err
	}

	p.running = true
	p.logger.Info("worker pool starting",
		slog.String("app", p.appName),
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.pullLoop()
	}
	p.wg.Add(1)
	go p.heartbeatLoop()

	return nil
}

// Stop signals the goroutines to stop, waits for in-flight shards, and
// deregisters the worker. The context bounds the wait.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping",
		slog.String("app", p.appName),
		slog.String("worker_id", p.workerID.String()),
	)
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out with shards in flight",
			slog.String("worker_id", p.workerID.String()),
		)
	}

	if err := p.members.DeregisterWorker(ctx, p.workerID.String()); err != nil {
		p.logger.Warn("failed to deregister worker",
			slog.String("worker_id", p.workerID.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// pullLoop is run by each pull goroutine.
func (p *Pool) pullLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		sh, err := p.instances.PullShard(context.Background(), p.appName, p.workerID)
		if err != nil {
			p.logger.Error("shard pull failed",
				slog.String("app", p.appName),
				slog.String("error", err.Error()),
			)
			p.sleep()
			continue
		}
		if sh == nil {
			p.sleep()
			continue
		}

		if execErr := p.executor.Execute(context.Background(), sh); execErr != nil {
			p.logger.Debug("shard execution failed",
				slog.String("shard_id", sh.ID.String()),
				slog.String("class", sh.JobClass),
				slog.String("error", execErr.Error()),
			)
		}
	}
}

// heartbeatLoop refreshes the cluster liveness record until stopped.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.members.HeartbeatWorker(context.Background(), p.workerID.String(), time.Now().UTC()); err != nil {
				p.logger.Warn("heartbeat failed",
					slog.String("worker_id", p.workerID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-p.stopCh:
	case <-time.After(p.pollInterval):
	}
}
