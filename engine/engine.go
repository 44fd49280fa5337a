// Package engine wires all Foreman subsystems together: pipelines,
// stage transitions, event correlation, role locks, agent runners,
// archival, and cluster coordination.
//
// This package exists to break the import cycle: the root foreman
// package defines Entity (imported by instance, event, etc.) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/foreman"
	"github.com/xraph/foreman/agent"
	"github.com/xraph/foreman/archive"
	"github.com/xraph/foreman/backoff"
	"github.com/xraph/foreman/cluster"
	"github.com/xraph/foreman/event"
	"github.com/xraph/foreman/ext"
	"github.com/xraph/foreman/id"
	"github.com/xraph/foreman/instance"
	"github.com/xraph/foreman/lock"
	"github.com/xraph/foreman/observability"
	"github.com/xraph/foreman/pipeline"
	"github.com/xraph/foreman/schedule"
)

// Engine wraps an Orchestrator with typed subsystem access.
// Use Build() to create one from an Orchestrator.
type Engine struct {
	o          *foreman.Orchestrator
	cfg        foreman.Config
	extensions *ext.Registry
	logger     *slog.Logger

	instances instance.Store
	locks     lock.Store
	events    event.Store
	archives  archive.Store
	clust     cluster.Store

	pipelines   *pipeline.Registry
	rules       map[string]*event.RuleSet
	correlators map[string]*event.Correlator

	runners map[string]agent.Runner
	mws     []agent.Middleware
	bo      backoff.Strategy

	blobs    archive.BlobStorage
	resolver *archive.Resolver
	archiver *archive.Archiver

	membership *cluster.Membership
	reaper     *lock.Reaper
	scheduler  *schedule.Scheduler

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine) error

// WithPipeline registers a pipeline definition with the engine.
func WithPipeline(p *pipeline.Pipeline) Option {
	return func(eng *Engine) error {
		return eng.pipelines.Register(p)
	}
}

// WithRules sets the correlation rule set for a pipeline. Pipelines
// without explicit rules use event.DefaultRules.
func WithRules(pipelineName string, rs *event.RuleSet) Option {
	return func(eng *Engine) error {
		eng.rules[pipelineName] = rs
		return nil
	}
}

// WithRunner binds an agent runner to a role. Every agent stage role in
// a registered pipeline needs a runner before instances can advance
// through it.
func WithRunner(role string, r agent.Runner) Option {
	return func(eng *Engine) error {
		eng.runners[role] = r
		return nil
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) error {
		eng.extensions.Register(e)
		return nil
	}
}

// WithMiddleware adds invocation middleware to the engine's chain.
func WithMiddleware(m agent.Middleware) Option {
	return func(eng *Engine) error {
		eng.mws = append(eng.mws, m)
		return nil
	}
}

// WithBackoff sets the retry backoff strategy for transition conflicts,
// overriding the Config-derived exponential strategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) error {
		eng.bo = b
		return nil
	}
}

// WithBlobStorage sets the archive payload storage. Defaults to
// in-memory storage, which is only suitable for tests.
func WithBlobStorage(bs archive.BlobStorage) Option {
	return func(eng *Engine) error {
		eng.blobs = bs
		return nil
	}
}

// WithRetentionPolicies sets the retention policy resolver. Defaults to
// archive.DefaultPolicies().
func WithRetentionPolicies(r *archive.Resolver) Option {
	return func(eng *Engine) error {
		eng.resolver = r
		return nil
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) error {
		eng.tracerProvider = tp
		return nil
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) error {
		eng.meterProvider = mp
		return nil
	}
}

// Build creates an Engine from an existing Orchestrator. The
// Orchestrator's store must implement every subsystem store interface.
func Build(o *foreman.Orchestrator, opts ...Option) (*Engine, error) {
	logger := o.Logger()
	store := o.Store()

	if store == nil {
		return nil, foreman.ErrNoStore
	}

	is, ok := store.(instance.Store)
	if !ok {
		return nil, fmt.Errorf("foreman: store does not implement instance.Store")
	}
	ls, ok := store.(lock.Store)
	if !ok {
		return nil, fmt.Errorf("foreman: store does not implement lock.Store")
	}
	es, ok := store.(event.Store)
	if !ok {
		return nil, fmt.Errorf("foreman: store does not implement event.Store")
	}
	as, ok := store.(archive.Store)
	if !ok {
		return nil, fmt.Errorf("foreman: store does not implement archive.Store")
	}
	cs, ok := store.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("foreman: store does not implement cluster.Store")
	}

	eng := &Engine{
		o:           o,
		cfg:         o.Config(),
		extensions:  ext.NewRegistry(logger),
		logger:      logger,
		instances:   is,
		locks:       ls,
		events:      es,
		archives:    as,
		clust:       cs,
		pipelines:   pipeline.NewRegistry(),
		rules:       make(map[string]*event.RuleSet),
		correlators: make(map[string]*event.Correlator),
		runners:     make(map[string]agent.Runner),
	}

	for _, opt := range opts {
		if err := opt(eng); err != nil {
			return nil, err
		}
	}

	if eng.bo == nil {
		if eng.cfg.TransitionBackoff > 0 || eng.cfg.TransitionBackoffMax > 0 {
			eng.bo = backoff.NewExponential(eng.cfg.TransitionBackoff, eng.cfg.TransitionBackoffMax)
		} else {
			eng.bo = backoff.DefaultStrategy()
		}
	}
	if eng.blobs == nil {
		eng.blobs = archive.NewMemoryStorage()
	}
	if eng.resolver == nil {
		eng.resolver = archive.DefaultPolicies()
	}
	if len(eng.pipelines.Names()) == 0 {
		if err := eng.pipelines.Register(pipeline.DefaultCoding()); err != nil {
			return nil, err
		}
	}

	// One correlator per pipeline, defaulting to the standard rules.
	for _, name := range eng.pipelines.Names() {
		rs, ok := eng.rules[name]
		if !ok {
			rs = event.DefaultRules()
			eng.rules[name] = rs
		}
		eng.correlators[name] = event.NewCorrelator(name, is, rs, logger)
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw agent.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/foreman")
		tracingMw = agent.TracingWithTracer(tracer)
	} else {
		tracingMw = agent.Tracing()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/foreman/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Wrap every runner with the default chain: recover → tracing → logging.
	allMws := make([]agent.Middleware, 0, 3+len(eng.mws))
	allMws = append(allMws, agent.Recover(logger), tracingMw, agent.Logging(logger))
	allMws = append(allMws, eng.mws...)
	for role, r := range eng.runners {
		eng.runners[role] = agent.Wrap(r, allMws...)
	}

	eng.archiver = archive.NewArchiver(is, as, eng.blobs, eng.resolver, logger,
		archive.WithEmitter(eng.extensions))

	// Cluster membership, lock reaper, and the leader-only maintenance
	// schedule.
	eng.membership = cluster.NewMembership(cs, id.NewWorkerID(), eng.pipelines.Names(),
		eng.cfg.HeartbeatInterval, eng.cfg.DeadWorkerThreshold, logger)
	eng.reaper = lock.NewReaper(ls, eng.membership, logger)
	eng.scheduler = schedule.NewScheduler(cs, eng.membership.WorkerID(), logger)

	if err := eng.registerMaintenance(); err != nil {
		return nil, err
	}

	o.AddRunner(eng.membership)
	o.AddRunner(eng.scheduler)
	o.SetExtensions(eng.extensions)

	return eng, nil
}

// registerMaintenance wires the recurring passes into the scheduler.
func (eng *Engine) registerMaintenance() error {
	tasks := []struct {
		name string
		expr string
		run  schedule.TaskFunc
	}{
		{"evaluate-and-archive", "@every 1m", func(ctx context.Context) error {
			_, err := eng.archiver.EvaluateAndArchive(ctx)
			return err
		}},
		{"purge-expired-archives", "0 3 * * *", func(ctx context.Context) error {
			_, err := eng.archiver.PurgeExpired(ctx)
			return err
		}},
		{"reap-expired-locks", "@every 30s", eng.reapLocks},
		{"enforce-deadlines", "@every 1m", eng.EnforceDeadlines},
		{"scan-stuck-stages", "@every 5m", eng.ScanStuck},
		{"purge-delivery-audit", "30 3 * * *", func(ctx context.Context) error {
			_, err := eng.events.PurgeDeliveries(ctx, time.Now().UTC().Add(-30*24*time.Hour))
			return err
		}},
	}
	for _, t := range tasks {
		if err := eng.scheduler.Register(t.name, t.expr, t.run); err != nil {
			return fmt.Errorf("register maintenance task %q: %w", t.name, err)
		}
	}
	return nil
}

// reapLocks releases expired locks with provably dead holders and
// notifies extensions for each one.
func (eng *Engine) reapLocks(ctx context.Context) error {
	reaped, err := eng.reaper.Reap(ctx)
	if err != nil {
		return err
	}
	for _, l := range reaped {
		eng.extensions.EmitLockReaped(ctx, l)
	}
	return nil
}

// Start begins background processing (membership, scheduler).
func (eng *Engine) Start(ctx context.Context) error {
	return eng.o.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.o.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Orchestrator returns the underlying Orchestrator.
func (eng *Engine) Orchestrator() *foreman.Orchestrator { return eng.o }

// Pipelines returns the pipeline registry.
func (eng *Engine) Pipelines() *pipeline.Registry { return eng.pipelines }

// Archiver returns the archival engine.
func (eng *Engine) Archiver() *archive.Archiver { return eng.archiver }

// Scheduler returns the maintenance scheduler.
func (eng *Engine) Scheduler() *schedule.Scheduler { return eng.scheduler }

// Membership returns the cluster membership runner.
func (eng *Engine) Membership() *cluster.Membership { return eng.membership }

// Instances returns the instance store.
func (eng *Engine) Instances() instance.Store { return eng.instances }

// Events returns the delivery audit store.
func (eng *Engine) Events() event.Store { return eng.events }

// Archives returns the archive record store.
func (eng *Engine) Archives() archive.Store { return eng.archives }

// Locks returns the role lock store.
func (eng *Engine) Locks() lock.Store { return eng.locks }

// Cluster returns the cluster registry store.
func (eng *Engine) Cluster() cluster.Store { return eng.clust }

// WorkerID returns this engine process's cluster worker ID.
func (eng *Engine) WorkerID() id.WorkerID { return eng.membership.WorkerID() }
