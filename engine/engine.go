package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/archive"
	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/coordinator"
	"github.com/hugoboss23-5/swarm/hook"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/lock"
	mw "github.com/hugoboss23-5/swarm/middleware"
	"github.com/hugoboss23-5/swarm/observability"
	"github.com/hugoboss23-5/swarm/recurring"
	"github.com/hugoboss23-5/swarm/sched"
	"github.com/hugoboss23-5/swarm/store"
	"github.com/hugoboss23-5/swarm/task"
	"github.com/hugoboss23-5/swarm/transport"
	"github.com/hugoboss23-5/swarm/worker"
)

// Engine is the assembled swarm: one coordinator, its lock manager,
// consensus module, archive service, recurring scheduler, and any
// in-process worker agents, all sharing one store and one bus.
// Use Build() to create one.
type Engine struct {
	store  store.Store
	bus    transport.Bus
	cfg    swarm.Config
	logger *slog.Logger

	hooks      *hook.Registry
	extensions []hook.Extension
	registry   *task.Registry
	locks      *lock.Manager
	quorum     *consensus.Module
	archiver   *archive.Service
	coord      *coordinator.Coordinator

	// Recurring subsystem.
	scheduler *recurring.Scheduler

	// In-process workers.
	agents         []*worker.Agent
	workers        int
	workerCapacity int

	mws     []mw.Middleware
	limits  []sched.Config
	limiter *sched.Limiter

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the shared tunables. Defaults to swarm.DefaultConfig().
func WithConfig(cfg swarm.Config) Option {
	return func(eng *Engine) {
		eng.cfg = cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = l
	}
}

// WithWorkers sets how many in-process worker agents the engine runs.
// Zero is valid: agents may live in other processes on the same bus.
func WithWorkers(n int) Option {
	return func(eng *Engine) {
		eng.workers = n
	}
}

// WithWorkerCapacity sets the capacity units each in-process agent
// advertises. Defaults to 1.
func WithWorkerCapacity(n int) Option {
	return func(eng *Engine) {
		eng.workerCapacity = n
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.extensions = append(eng.extensions, e)
	}
}

// WithMiddleware adds middleware to the engine's execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithLimits registers per-resource-class admission limits. Classes
// not listed have no limits.
func WithLimits(configs ...sched.Config) Option {
	return func(eng *Engine) {
		eng.limits = append(eng.limits, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build assembles an Engine from a store and a transport bus. The bus
// carries every coordinator/worker exchange; the store holds all
// durable state.
func Build(st store.Store, bus transport.Bus, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, swarm.ErrNoStore
	}

	eng := &Engine{
		store:          st,
		bus:            bus,
		cfg:            swarm.DefaultConfig(),
		logger:         slog.Default(),
		registry:       task.NewRegistry(),
		workers:        1,
		workerCapacity: 1,
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.hooks = hook.NewRegistry(eng.logger)
	for _, e := range eng.extensions {
		eng.hooks.Register(e)
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/hugoboss23-5/swarm/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.hooks.Register(obsExt)

	// Lock manager with lease sweeping feeding lifecycle hooks.
	eng.locks = lock.NewManager(st, eng.logger,
		lock.WithSweepInterval(eng.cfg.SweepInterval),
		lock.WithEmitter(eng.hooks),
	)

	// Consensus module: the coordinator is the sole proposer.
	eng.quorum = consensus.NewModule(st, coordinator.DefaultAddr, eng.logger,
		consensus.WithQuorumTimeout(eng.cfg.QuorumTimeout),
		consensus.WithAckTimeout(eng.cfg.AckTimeout),
		consensus.WithEmitter(eng.hooks),
	)

	eng.archiver = archive.NewService(st)
	eng.limiter = sched.NewLimiter(eng.limits...)

	eng.coord = coordinator.New(
		coordinator.Stores{Tasks: st, Nodes: st},
		eng.locks,
		eng.quorum,
		eng.archiver,
		eng.hooks,
		bus,
		eng.logger,
		coordinator.WithHeartbeatTimeout(eng.cfg.HeartbeatTimeout),
		coordinator.WithScheduleInterval(eng.cfg.ScheduleInterval),
		coordinator.WithRetryBudget(eng.cfg.RetryBudget),
		coordinator.WithLimiter(eng.limiter),
	)
	// Replays route back through the coordinator's actor loop.
	eng.archiver.SetRestorer(eng.coord)

	eng.scheduler = recurring.NewScheduler(st, eng.coord.SubmitTemplate, eng.logger)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/hugoboss23-5/swarm")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/hugoboss23-5/swarm")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging →
	// lease renewal → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Renewal(eng.locks, eng.logger, eng.cfg.LeaseDuration/3),
		mw.Timeout(eng.logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	for i := 0; i < eng.workers; i++ {
		a := worker.NewAgent(id.NewNodeID(), coordinator.DefaultAddr, bus,
			eng.registry, eng.locks, eng.logger,
			worker.WithCapacity(eng.workerCapacity),
			worker.WithHeartbeatInterval(eng.cfg.HeartbeatInterval),
			worker.WithLease(eng.cfg.LeaseDuration),
			worker.WithLockWait(eng.cfg.LockWait),
			worker.WithCancelGrace(eng.cfg.CancelGrace),
			worker.WithMiddleware(allMws...),
		)
		eng.agents = append(eng.agents, a)
	}

	return eng, nil
}

// Start brings the swarm up: lock sweeping, the coordinator loop, the
// in-process agents (each joining the voter set), and the recurring
// scheduler.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.locks.Start(ctx); err != nil {
		return fmt.Errorf("start lock manager: %w", err)
	}
	if err := eng.coord.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	for _, a := range eng.agents {
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("start worker %s: %w", a.Addr(), err)
		}
		eng.coord.AddVoter(a.Addr())
	}
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start recurring scheduler: %w", err)
	}
	eng.logger.Info("swarm started",
		slog.Int("workers", len(eng.agents)),
	)
	return nil
}

// Stop gracefully shuts the swarm down in reverse order of Start.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("recurring scheduler stop error", slog.String("error", err.Error()))
	}
	for _, a := range eng.agents {
		eng.coord.RemoveVoter(a.Addr())
		if err := a.Stop(ctx); err != nil {
			eng.logger.Warn("worker stop error",
				slog.String("node", a.Addr()),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := eng.coord.Stop(ctx); err != nil {
		return fmt.Errorf("stop coordinator: %w", err)
	}
	return eng.locks.Stop(ctx)
}

// RegisterTask registers a typed task definition with the engine.
func RegisterTask[T any](eng *Engine, def *task.Definition[T]) {
	task.RegisterDefinition(eng.registry, def)
}

// Submit creates and submits a task with a typed payload.
func Submit[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...task.Option) (*task.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for task %q: %w", name, err)
	}
	return eng.SubmitRaw(ctx, name, data, opts...)
}

// SubmitRaw submits a task with a pre-serialized payload.
func (eng *Engine) SubmitRaw(ctx context.Context, name string, payload []byte, opts ...task.Option) (*task.Task, error) {
	o := task.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	t := &task.Task{
		Entity:      swarm.NewEntity(),
		ID:          id.NewTaskID(),
		Name:        name,
		Payload:     payload,
		State:       task.StatePending,
		Priority:    o.Priority,
		RetryBudget: o.RetryBudget,
		Timeout:     o.Timeout,
		Resource:    o.Resource,
	}
	// No declared resource means no shared exclusion: the task's own
	// identifier keys its lock.
	if t.Resource.Key == "" {
		t.Resource.Key = t.ID.String()
	}
	for _, dep := range o.DependsOn {
		depID, err := id.ParseTaskID(dep)
		if err != nil {
			return nil, fmt.Errorf("dependency for task %q: %w", name, err)
		}
		t.DependsOn = append(t.DependsOn, depID)
	}

	if err := eng.coord.Submit(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Status returns the current record of a task.
func (eng *Engine) Status(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	return eng.coord.Status(ctx, taskID)
}

// Cancel requests the abort of a task wherever it is in its lifecycle.
func (eng *Engine) Cancel(ctx context.Context, taskID id.TaskID) error {
	return eng.coord.Cancel(ctx, taskID)
}

// RegisterRecurring registers a recurring submission: every schedule
// firing submits a fresh task with the given name and typed payload.
// Re-registration of the same entry name is idempotent.
func RegisterRecurring[T any](ctx context.Context, eng *Engine, name, schedule, taskName string, payload T) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal recurring payload: %w", err)
	}

	entry := &recurring.Entry{
		Entity:   swarm.NewEntity(),
		ID:       id.NewRecurringID(),
		Name:     name,
		Schedule: schedule,
		TaskName: taskName,
		Payload:  data,
		Enabled:  true,
	}
	if err := eng.scheduler.Register(ctx, entry); err != nil {
		if errors.Is(err, swarm.ErrDuplicateRecurring) {
			return nil
		}
		return fmt.Errorf("register recurring %q: %w", name, err)
	}

	eng.logger.Info("recurring registered",
		slog.String("name", name),
		slog.String("schedule", schedule),
		slog.String("task_name", taskName),
	)
	return nil
}

// Coordinator returns the coordinator.
func (eng *Engine) Coordinator() *coordinator.Coordinator { return eng.coord }

// Registry returns the task handler registry.
func (eng *Engine) Registry() *task.Registry { return eng.registry }

// Hooks returns the extension registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Locks returns the lock manager.
func (eng *Engine) Locks() *lock.Manager { return eng.locks }

// Quorum returns the consensus module.
func (eng *Engine) Quorum() *consensus.Module { return eng.quorum }

// Archive returns the archive service for inspection and replay.
func (eng *Engine) Archive() *archive.Service { return eng.archiver }

// Scheduler returns the recurring scheduler.
func (eng *Engine) Scheduler() *recurring.Scheduler { return eng.scheduler }

// Limiter returns the per-resource-class admission limiter.
func (eng *Engine) Limiter() *sched.Limiter { return eng.limiter }

// Agents returns the in-process worker agents.
func (eng *Engine) Agents() []*worker.Agent { return eng.agents }
