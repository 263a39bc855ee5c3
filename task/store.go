package task

import (
	"context"

	"github.com/hugoboss23-5/swarm/id"
)

// ListOpts controls pagination and filtering for task list queries.
type ListOpts struct {
	// Limit is the maximum number of tasks to return. Zero means no limit.
	Limit int
	// Offset is the number of tasks to skip.
	Offset int
}

// CountOpts controls filtering for task count queries.
type CountOpts struct {
	// State filters by task state. Empty means all states.
	State State
}

// Store defines the persistence contract for the task registry. The
// coordinator is the sole writer; other components read through it.
type Store interface {
	// CreateTask persists a new task. Returns swarm.ErrDuplicateTask if
	// the identifier already exists.
	CreateTask(ctx context.Context, t *Task) error

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// UpdateTask persists changes to an existing task.
	UpdateTask(ctx context.Context, t *Task) error

	// DeleteTask removes a task by ID.
	DeleteTask(ctx context.Context, taskID id.TaskID) error

	// ListTasksByState returns tasks in the given state, ordered by
	// priority (descending) then creation time (ascending).
	ListTasksByState(ctx context.Context, state State, opts ListOpts) ([]*Task, error)

	// ListTasksByNode returns tasks currently assigned to the given
	// worker node, whatever their in-flight state.
	ListTasksByNode(ctx context.Context, nodeID id.NodeID) ([]*Task, error)

	// CountTasks returns the number of tasks matching the options.
	CountTasks(ctx context.Context, opts CountOpts) (int64, error)
}
