package foreman

import (
	"context"
	"log/slog"
	"time"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// Storer is the minimal store interface held by the Orchestrator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// backgroundRunner is an internal interface for subsystem lifecycle
// (scheduler, cluster membership).
type backgroundRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Orchestrator is the central coordinator for agent pipelines: stage
// transitions, event correlation, role locking, archival, and cluster
// coordination.
//
// Create one with New() and functional options. The Orchestrator holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build to wire everything together.
type Orchestrator struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	runners    []backgroundRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Orchestrator with the given options.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Logger returns the orchestrator's logger.
func (o *Orchestrator) Logger() *slog.Logger { return o.logger }

// Store returns the orchestrator's store.
func (o *Orchestrator) Store() Storer { return o.store }

// Config returns a copy of the orchestrator's configuration.
func (o *Orchestrator) Config() Config { return o.config }

// AddRunner registers a background runner (called by the engine package).
func (o *Orchestrator) AddRunner(r backgroundRunner) { o.runners = append(o.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (o *Orchestrator) SetExtensions(e extensionEmitter) { o.extensions = e }

// Start begins background processing (scheduler, cluster membership).
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.store == nil {
		return ErrNoStore
	}
	for _, r := range o.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	o.started = true
	return nil
}

// Stop gracefully shuts down the orchestrator.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.started {
		// Stop runners in reverse registration order.
		for i := len(o.runners) - 1; i >= 0; i-- {
			if err := o.runners[i].Stop(ctx); err != nil {
				o.logger.Error("runner stop error", "error", err)
			}
		}
	}
	if o.extensions != nil {
		o.extensions.EmitShutdown(ctx)
	}
	if o.store != nil {
		return o.store.Close()
	}
	return nil
}

// WithLogger sets the structured logger for the orchestrator.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) error {
		o.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the orchestrator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(o *Orchestrator) error {
		o.store = s
		return nil
	}
}

// WithConfig replaces the entire configuration.
func WithConfig(c Config) Option {
	return func(o *Orchestrator) error {
		o.config = c
		return nil
	}
}

// WithTransitionRetries sets the bounded retry count for stage
// transitions that lose an optimistic-update race.
func WithTransitionRetries(n int) Option {
	return func(o *Orchestrator) error {
		o.config.TransitionMaxRetries = n
		return nil
	}
}

// WithInstanceDeadline sets the maximum overall lifetime of an instance.
func WithInstanceDeadline(d time.Duration) Option {
	return func(o *Orchestrator) error {
		o.config.InstanceDeadline = d
		return nil
	}
}
