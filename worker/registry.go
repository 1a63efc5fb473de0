// Package worker provides the worker-side runtime — a handler Registry
// keyed by job class, an Executor that runs one shard through retries,
// and a Pool that pulls shards for an application and reports results.
package worker

import (
	"context"
	"sync"

	"github.com/fannyfinal/antares/id"
)

// ShardContext carries everything a handler needs to process one shard.
type ShardContext struct {
	InstanceID id.InstanceID
	ShardID    id.ShardID
	// Item is the shard ordinal within the instance.
	Item int
	// Param is the opaque parameter configured for this ordinal.
	Param string
	// Attempt is 0 for the first execution, 1 for the first retry.
	Attempt int
}

// Handler processes one shard of a job class. A nil return marks the
// shard successful; an error after exhausting retries marks it failed.
type Handler func(ctx context.Context, sc ShardContext) error

// Registry maps job classes to their handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job class, replacing any previous one.
func (r *Registry) Register(class string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[class] = h
}

// Get returns the handler for a job class.
func (r *Registry) Get(class string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[class]
	return h, ok
}

// Classes returns the registered job classes.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for class := range r.handlers {
		out = append(out, class)
	}
	return out
}
