package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/lock"
	"github.com/hugoboss23-5/swarm/node"
	"github.com/hugoboss23-5/swarm/task"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type taskSubmittedEntry struct {
	name string
	hook TaskSubmitted
}

type taskScheduledEntry struct {
	name string
	hook TaskScheduled
}

type taskCompletedEntry struct {
	name string
	hook TaskCompleted
}

type taskFailedEntry struct {
	name string
	hook TaskFailed
}

type taskRequeuedEntry struct {
	name string
	hook TaskRequeued
}

type taskDeadEntry struct {
	name string
	hook TaskDead
}

type workerJoinedEntry struct {
	name string
	hook WorkerJoined
}

type workerLostEntry struct {
	name string
	hook WorkerLost
}

type lockGrantedEntry struct {
	name string
	hook LockGranted
}

type lockExpiredEntry struct {
	name string
	hook LockExpired
}

type stateCommittedEntry struct {
	name string
	hook StateCommitted
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Registry satisfies lock.Emitter and consensus.Emitter.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	taskSubmitted  []taskSubmittedEntry
	taskScheduled  []taskScheduledEntry
	taskCompleted  []taskCompletedEntry
	taskFailed     []taskFailedEntry
	taskRequeued   []taskRequeuedEntry
	taskDead       []taskDeadEntry
	workerJoined   []workerJoinedEntry
	workerLost     []workerLostEntry
	lockGranted    []lockGrantedEntry
	lockExpired    []lockExpiredEntry
	stateCommitted []stateCommittedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(TaskSubmitted); ok {
		r.taskSubmitted = append(r.taskSubmitted, taskSubmittedEntry{name, h})
	}
	if h, ok := e.(TaskScheduled); ok {
		r.taskScheduled = append(r.taskScheduled, taskScheduledEntry{name, h})
	}
	if h, ok := e.(TaskCompleted); ok {
		r.taskCompleted = append(r.taskCompleted, taskCompletedEntry{name, h})
	}
	if h, ok := e.(TaskFailed); ok {
		r.taskFailed = append(r.taskFailed, taskFailedEntry{name, h})
	}
	if h, ok := e.(TaskRequeued); ok {
		r.taskRequeued = append(r.taskRequeued, taskRequeuedEntry{name, h})
	}
	if h, ok := e.(TaskDead); ok {
		r.taskDead = append(r.taskDead, taskDeadEntry{name, h})
	}
	if h, ok := e.(WorkerJoined); ok {
		r.workerJoined = append(r.workerJoined, workerJoinedEntry{name, h})
	}
	if h, ok := e.(WorkerLost); ok {
		r.workerLost = append(r.workerLost, workerLostEntry{name, h})
	}
	if h, ok := e.(LockGranted); ok {
		r.lockGranted = append(r.lockGranted, lockGrantedEntry{name, h})
	}
	if h, ok := e.(LockExpired); ok {
		r.lockExpired = append(r.lockExpired, lockExpiredEntry{name, h})
	}
	if h, ok := e.(StateCommitted); ok {
		r.stateCommitted = append(r.stateCommitted, stateCommittedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Task event emitters
// ──────────────────────────────────────────────────

// EmitTaskSubmitted notifies all extensions that implement TaskSubmitted.
func (r *Registry) EmitTaskSubmitted(ctx context.Context, t *task.Task) {
	for _, e := range r.taskSubmitted {
		if err := e.hook.OnTaskSubmitted(ctx, t); err != nil {
			r.logHookError("OnTaskSubmitted", e.name, err)
		}
	}
}

// EmitTaskScheduled notifies all extensions that implement TaskScheduled.
func (r *Registry) EmitTaskScheduled(ctx context.Context, t *task.Task) {
	for _, e := range r.taskScheduled {
		if err := e.hook.OnTaskScheduled(ctx, t); err != nil {
			r.logHookError("OnTaskScheduled", e.name, err)
		}
	}
}

// EmitTaskCompleted notifies all extensions that implement TaskCompleted.
func (r *Registry) EmitTaskCompleted(ctx context.Context, t *task.Task, elapsed time.Duration) {
	for _, e := range r.taskCompleted {
		if err := e.hook.OnTaskCompleted(ctx, t, elapsed); err != nil {
			r.logHookError("OnTaskCompleted", e.name, err)
		}
	}
}

// EmitTaskFailed notifies all extensions that implement TaskFailed.
func (r *Registry) EmitTaskFailed(ctx context.Context, t *task.Task, taskErr error) {
	for _, e := range r.taskFailed {
		if err := e.hook.OnTaskFailed(ctx, t, taskErr); err != nil {
			r.logHookError("OnTaskFailed", e.name, err)
		}
	}
}

// EmitTaskRequeued notifies all extensions that implement TaskRequeued.
func (r *Registry) EmitTaskRequeued(ctx context.Context, t *task.Task) {
	for _, e := range r.taskRequeued {
		if err := e.hook.OnTaskRequeued(ctx, t); err != nil {
			r.logHookError("OnTaskRequeued", e.name, err)
		}
	}
}

// EmitTaskDead notifies all extensions that implement TaskDead.
func (r *Registry) EmitTaskDead(ctx context.Context, t *task.Task, taskErr error) {
	for _, e := range r.taskDead {
		if err := e.hook.OnTaskDead(ctx, t, taskErr); err != nil {
			r.logHookError("OnTaskDead", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Worker event emitters
// ──────────────────────────────────────────────────

// EmitWorkerJoined notifies all extensions that implement WorkerJoined.
func (r *Registry) EmitWorkerJoined(ctx context.Context, w *node.WorkerNode) {
	for _, e := range r.workerJoined {
		if err := e.hook.OnWorkerJoined(ctx, w); err != nil {
			r.logHookError("OnWorkerJoined", e.name, err)
		}
	}
}

// EmitWorkerLost notifies all extensions that implement WorkerLost.
func (r *Registry) EmitWorkerLost(ctx context.Context, w *node.WorkerNode) {
	for _, e := range r.workerLost {
		if err := e.hook.OnWorkerLost(ctx, w); err != nil {
			r.logHookError("OnWorkerLost", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Lock and consensus event emitters
// ──────────────────────────────────────────────────

// EmitLockGranted notifies all extensions that implement LockGranted.
func (r *Registry) EmitLockGranted(ctx context.Context, l *lock.Lock) {
	for _, e := range r.lockGranted {
		if err := e.hook.OnLockGranted(ctx, l); err != nil {
			r.logHookError("OnLockGranted", e.name, err)
		}
	}
}

// EmitLockExpired notifies all extensions that implement LockExpired.
func (r *Registry) EmitLockExpired(ctx context.Context, l *lock.Lock) {
	for _, e := range r.lockExpired {
		if err := e.hook.OnLockExpired(ctx, l); err != nil {
			r.logHookError("OnLockExpired", e.name, err)
		}
	}
}

// EmitStateCommitted notifies all extensions that implement StateCommitted.
func (r *Registry) EmitStateCommitted(ctx context.Context, t *consensus.Transition) {
	for _, e := range r.stateCommitted {
		if err := e.hook.OnStateCommitted(ctx, t); err != nil {
			r.logHookError("OnStateCommitted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the
// coordinator.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
