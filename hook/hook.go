// Package hook defines the extension system for the swarm. Extensions
// are notified of lifecycle events (task submitted, worker lost, lock
// expired, state committed, etc.) and can react to them — logging,
// metrics, auditing.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/lock"
	"github.com/hugoboss23-5/swarm/node"
	"github.com/hugoboss23-5/swarm/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskSubmitted is called after a task is accepted by the coordinator.
type TaskSubmitted interface {
	OnTaskSubmitted(ctx context.Context, t *task.Task) error
}

// TaskScheduled is called when the coordinator assigns a task to a worker.
type TaskScheduled interface {
	OnTaskScheduled(ctx context.Context, t *task.Task) error
}

// TaskCompleted is called after a task finishes successfully.
type TaskCompleted interface {
	OnTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) error
}

// TaskFailed is called on every failed attempt, terminal or not.
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t *task.Task, err error) error
}

// TaskRequeued is called when a failed or reclaimed task returns to the
// scheduling pool.
type TaskRequeued interface {
	OnTaskRequeued(ctx context.Context, t *task.Task) error
}

// TaskDead is called when a task exhausts its retry budget and is
// archived.
type TaskDead interface {
	OnTaskDead(ctx context.Context, t *task.Task, err error) error
}

// ──────────────────────────────────────────────────
// Worker lifecycle hooks
// ──────────────────────────────────────────────────

// WorkerJoined is called when a worker node registers with the swarm.
type WorkerJoined interface {
	OnWorkerJoined(ctx context.Context, w *node.WorkerNode) error
}

// WorkerLost is called when a worker misses its heartbeat window or
// deregisters.
type WorkerLost interface {
	OnWorkerLost(ctx context.Context, w *node.WorkerNode) error
}

// ──────────────────────────────────────────────────
// Lock and consensus hooks
// ──────────────────────────────────────────────────

// LockGranted is called when the lock manager grants a lease.
type LockGranted interface {
	OnLockGranted(ctx context.Context, l *lock.Lock) error
}

// LockExpired is called when the sweep loop reclaims an expired lease.
type LockExpired interface {
	OnLockExpired(ctx context.Context, l *lock.Lock) error
}

// StateCommitted is called after a transition lands in the replicated
// log, confirmed or not.
type StateCommitted interface {
	OnStateCommitted(ctx context.Context, t *consensus.Transition) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
