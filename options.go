package antares

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Server.
type Option func(*Server) error

// Storer is the minimal store interface held by the Server.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for subsystem lifecycle (worker pool,
// trigger scheduler, fire-time recorder).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Server is the central handle for one scheduling node: it owns the
// configuration, logger, and store, and runs the subsystems wired in by
// the engine package.
//
// Create one with New() and functional options, then use engine.Build()
// to assemble the coordinator, barrier, trigger scheduler, and worker
// pool around it.
type Server struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runners    []runner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Server with the given options.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Store returns the server's store.
func (s *Server) Store() Storer { return s.store }

// Config returns a copy of the server's configuration.
func (s *Server) Config() Config { return s.config }

// AddRunner registers a subsystem lifecycle (called by the engine package).
func (s *Server) AddRunner(r runner) { s.runners = append(s.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (s *Server) SetExtensions(e extensionEmitter) { s.extensions = e }

// Start launches all wired subsystems.
func (s *Server) Start(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}
	for _, r := range s.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the server. Subsystems stop in reverse
// start order; the store closes last.
func (s *Server) Stop(ctx context.Context) error {
	if s.started {
		for i := len(s.runners) - 1; i >= 0; i-- {
			if err := s.runners[i].Stop(ctx); err != nil {
				s.logger.Error("subsystem stop error", "error", err)
			}
		}
	}
	if s.extensions != nil {
		s.extensions.EmitShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithConfig replaces the server configuration wholesale.
func WithConfig(c Config) Option {
	return func(s *Server) error {
		s.config = c
		return nil
	}
}

// WithLogger sets the structured logger for the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the server.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(st Storer) Option {
	return func(s *Server) error {
		s.store = st
		return nil
	}
}

// WithMaxErrorLength overrides the persisted-failure-cause cap.
func WithMaxErrorLength(n int) Option {
	return func(s *Server) error {
		s.config.MaxErrorLength = n
		return nil
	}
}

// WithDispatchTimeout overrides the barrier wait bound.
func WithDispatchTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.config.DispatchTimeout = d
		return nil
	}
}
