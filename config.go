package antares

import "time"

// Config holds configuration for the Server.
type Config struct {
	// MaxErrorLength caps the failure cause persisted with a failed
	// instance. Longer causes are truncated before storage.
	MaxErrorLength int

	// DispatchTimeout bounds how long a fire event waits for all shards
	// of an instance to reach a terminal status. A job's own configured
	// timeout, when set, takes precedence.
	DispatchTimeout time.Duration

	// CheckInterval is the fallback wake-up interval of the dispatch
	// barrier when no shard-completion event arrives.
	CheckInterval time.Duration

	// PollInterval is how often worker pools poll for pullable shards.
	PollInterval time.Duration

	// HeartbeatInterval is how often this node and its workers report
	// liveness to the cluster store.
	HeartbeatInterval time.Duration

	// AliveThreshold is how long a worker may go without a heartbeat
	// before it no longer counts as alive for admission control.
	AliveThreshold time.Duration

	// AsyncQueueDepth bounds the fire-time recorder's task queue.
	// When the queue is full, bookkeeping tasks are dropped and logged.
	AsyncQueueDepth int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxErrorLength:    500,
		DispatchTimeout:   24 * time.Hour,
		CheckInterval:     1 * time.Second,
		PollInterval:      1 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		AliveThreshold:    30 * time.Second,
		AsyncQueueDepth:   10000,
		ShutdownTimeout:   30 * time.Second,
	}
}
