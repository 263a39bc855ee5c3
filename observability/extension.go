package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/hook"
	"github.com/hugoboss23-5/swarm/lock"
	"github.com/hugoboss23-5/swarm/node"
	"github.com/hugoboss23-5/swarm/task"
)

// meterName is the instrumentation scope name for swarm metrics.
const meterName = "github.com/hugoboss23-5/swarm"

// Compile-time interface checks.
var (
	_ hook.Extension      = (*MetricsExtension)(nil)
	_ hook.TaskSubmitted  = (*MetricsExtension)(nil)
	_ hook.TaskScheduled  = (*MetricsExtension)(nil)
	_ hook.TaskCompleted  = (*MetricsExtension)(nil)
	_ hook.TaskFailed     = (*MetricsExtension)(nil)
	_ hook.TaskRequeued   = (*MetricsExtension)(nil)
	_ hook.TaskDead       = (*MetricsExtension)(nil)
	_ hook.WorkerJoined   = (*MetricsExtension)(nil)
	_ hook.WorkerLost     = (*MetricsExtension)(nil)
	_ hook.LockGranted    = (*MetricsExtension)(nil)
	_ hook.LockExpired    = (*MetricsExtension)(nil)
	_ hook.StateCommitted = (*MetricsExtension)(nil)
)

// MetricsExtension records swarm-wide lifecycle metrics through
// OpenTelemetry. Register it on the hook registry to track admission
// rates, outcomes, worker churn, lock traffic, and consensus commits.
type MetricsExtension struct {
	tasksSubmitted metric.Int64Counter
	tasksScheduled metric.Int64Counter
	tasksCompleted metric.Int64Counter
	tasksFailed    metric.Int64Counter
	tasksRequeued  metric.Int64Counter
	tasksDead      metric.Int64Counter
	workersJoined  metric.Int64Counter
	workersLost    metric.Int64Counter
	locksGranted   metric.Int64Counter
	locksExpired   metric.Int64Counter
	commits        metric.Int64Counter
	duration       metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider. Without a configured provider the instruments are
// noops and the extension costs nothing.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific
// MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		_ = err // noop fallback guaranteed by OTel API contract
		return c
	}
	duration, dErr := meter.Float64Histogram(
		"swarm.task.lifecycle.duration",
		metric.WithDescription("Time from assignment to completion in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr

	return &MetricsExtension{
		tasksSubmitted: counter("swarm.tasks.submitted", "Tasks admitted by the coordinator"),
		tasksScheduled: counter("swarm.tasks.scheduled", "Tasks placed on a worker"),
		tasksCompleted: counter("swarm.tasks.completed", "Tasks finished successfully"),
		tasksFailed:    counter("swarm.tasks.failed", "Failed execution attempts"),
		tasksRequeued:  counter("swarm.tasks.requeued", "Tasks returned to the scheduling pool"),
		tasksDead:      counter("swarm.tasks.dead", "Tasks dead after exhausting retries"),
		workersJoined:  counter("swarm.workers.joined", "Worker node registrations"),
		workersLost:    counter("swarm.workers.lost", "Worker nodes declared lost"),
		locksGranted:   counter("swarm.locks.granted", "Resource lock grants"),
		locksExpired:   counter("swarm.locks.expired", "Resource leases reclaimed by expiry"),
		commits:        counter("swarm.state.commits", "Committed cluster-state transitions"),
		duration:       duration,
	}
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func taskAttrs(t *task.Task) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("task_name", t.Name),
		attribute.String("resource_class", t.Resource.Class),
	)
}

// OnTaskSubmitted implements hook.TaskSubmitted.
func (m *MetricsExtension) OnTaskSubmitted(ctx context.Context, t *task.Task) error {
	m.tasksSubmitted.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskScheduled implements hook.TaskScheduled.
func (m *MetricsExtension) OnTaskScheduled(ctx context.Context, t *task.Task) error {
	m.tasksScheduled.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskCompleted implements hook.TaskCompleted.
func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error {
	m.tasksCompleted.Add(ctx, 1, taskAttrs(t))
	m.duration.Record(ctx, elapsed.Seconds(), taskAttrs(t))
	return nil
}

// OnTaskFailed implements hook.TaskFailed.
func (m *MetricsExtension) OnTaskFailed(ctx context.Context, t *task.Task, _ error) error {
	m.tasksFailed.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskRequeued implements hook.TaskRequeued.
func (m *MetricsExtension) OnTaskRequeued(ctx context.Context, t *task.Task) error {
	m.tasksRequeued.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnTaskDead implements hook.TaskDead.
func (m *MetricsExtension) OnTaskDead(ctx context.Context, t *task.Task, _ error) error {
	m.tasksDead.Add(ctx, 1, taskAttrs(t))
	return nil
}

// OnWorkerJoined implements hook.WorkerJoined.
func (m *MetricsExtension) OnWorkerJoined(ctx context.Context, _ *node.WorkerNode) error {
	m.workersJoined.Add(ctx, 1)
	return nil
}

// OnWorkerLost implements hook.WorkerLost.
func (m *MetricsExtension) OnWorkerLost(ctx context.Context, _ *node.WorkerNode) error {
	m.workersLost.Add(ctx, 1)
	return nil
}

// OnLockGranted implements hook.LockGranted.
func (m *MetricsExtension) OnLockGranted(ctx context.Context, l *lock.Lock) error {
	m.locksGranted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource", l.Resource),
	))
	return nil
}

// OnLockExpired implements hook.LockExpired.
func (m *MetricsExtension) OnLockExpired(ctx context.Context, l *lock.Lock) error {
	m.locksExpired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource", l.Resource),
	))
	return nil
}

// OnStateCommitted implements hook.StateCommitted. Unconfirmed commits
// are distinguishable by attribute so dashboards can alert on quorum
// misses.
func (m *MetricsExtension) OnStateCommitted(ctx context.Context, t *consensus.Transition) error {
	m.commits.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("unconfirmed", t.Unconfirmed),
	))
	return nil
}
