package task

import (
	"time"

	"github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
)

// State represents the lifecycle state of a task.
//
// Pending → Assigned → Locked → Executing → {Completed | Failed};
// Failed → Requeued (retries remain) → Assigned; Failed → Dead.
// Pending and Dead are the only non-transient rest states besides
// Completed.
type State string

const (
	// StatePending means the task is waiting for its dependencies or
	// for an eligible worker.
	StatePending State = "pending"
	// StateAssigned means the coordinator has placed the task on a
	// worker but the worker has not locked its resource yet.
	StateAssigned State = "assigned"
	// StateLocked means the worker holds the resource lock and is about
	// to execute.
	StateLocked State = "locked"
	// StateExecuting means the handler is running under a valid lock.
	StateExecuting State = "executing"
	// StateCompleted means the task finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the last execution attempt failed; transient,
	// resolved into Requeued or Dead by the coordinator.
	StateFailed State = "failed"
	// StateRequeued means the task failed but re-enters scheduling.
	StateRequeued State = "requeued"
	// StateDead means the retry budget is exhausted; terminal.
	StateDead State = "dead"
)

// Terminal reports whether the state is a destruction point: tasks are
// archived on reaching Completed or Dead.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDead
}

// InFlight reports whether the task is currently owned by a worker.
func (s State) InFlight() bool {
	return s == StateAssigned || s == StateLocked || s == StateExecuting
}

// Resource describes the resource a task must hold exclusively while
// executing. Key is the mutual-exclusion key; Class groups resources
// for scheduling limits; Units is the capacity the task consumes on
// its worker.
type Resource struct {
	Key   string `json:"key"`
	Class string `json:"class,omitempty"`
	Units int    `json:"units,omitempty"`
}

// FailureRecord attaches a failure cause and time to the task record.
// No component swallows an error without recording one of these.
type FailureRecord struct {
	Cause string    `json:"cause"`
	At    time.Time `json:"at"`
}

// Task represents a unit of work coordinated by the swarm.
type Task struct {
	swarm.Entity

	ID           id.TaskID       `json:"id"`
	Name         string          `json:"name"`
	Payload      []byte          `json:"payload"`
	DependsOn    []id.TaskID     `json:"depends_on,omitempty"`
	Resource     Resource        `json:"resource"`
	State        State           `json:"state"`
	Priority     int             `json:"priority"`
	RetryBudget  int             `json:"retry_budget"`
	RetryCount   int             `json:"retry_count"`
	Failures     []FailureRecord `json:"failures,omitempty"`
	Timeout      time.Duration   `json:"timeout,omitempty"`
	AssignedNode id.NodeID       `json:"assigned_node,omitempty"`
	// Token is the fencing token of the lock the task holds while
	// Locked or Executing. Zero otherwise.
	Token       uint64     `json:"token,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LastError returns the most recent recorded failure cause, if any.
func (t *Task) LastError() string {
	if len(t.Failures) == 0 {
		return ""
	}
	return t.Failures[len(t.Failures)-1].Cause
}

// RecordFailure appends a failure cause with the given timestamp.
func (t *Task) RecordFailure(cause string, at time.Time) {
	t.Failures = append(t.Failures, FailureRecord{Cause: cause, At: at})
}
