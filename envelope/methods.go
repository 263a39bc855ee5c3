package envelope

import (
	"encoding/json"
	"time"
)

// Well-known methods.
const (
	// Task methods.
	MethodTaskSubmit   = "task.submit"
	MethodTaskStatus   = "task.status"
	MethodTaskCancel   = "task.cancel"
	MethodTaskAssign   = "task.assign"
	MethodTaskProgress = "task.progress"
	MethodTaskReport   = "task.report"

	// Node methods.
	MethodNodeRegister   = "node.register"
	MethodNodeDeregister = "node.deregister"
	MethodNodeHeartbeat  = "node.heartbeat"

	// Consensus methods.
	MethodStatePropose = "state.propose"
	MethodStateCommit  = "state.commit"
)

// Outcome values carried by task reports.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	// OutcomeRefused means the worker never executed the task (lock
	// denied or already busy); the coordinator requeues without
	// spending a retry.
	OutcomeRefused = "refused"
)

// Phase values carried by task progress events.
const (
	// PhaseLocked means the worker holds the resource lock.
	PhaseLocked = "locked"
	// PhaseExecuting means the handler started running.
	PhaseExecuting = "executing"
)

// ── Task payloads ───────────────────────────────────

// TaskSubmit submits a new task to the coordinator.
type TaskSubmit struct {
	TaskID       string          `json:"task_id"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	Dependencies []string        `json:"dependencies,omitempty"`
	ResourceKey  string          `json:"resource_key"`
	Class        string          `json:"class,omitempty"`
	Units        int             `json:"units,omitempty"`
}

// TaskSubmitResult confirms (or refuses) a submission.
type TaskSubmitResult struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// TaskStatusQuery asks for the current status of a task.
type TaskStatusQuery struct {
	TaskID string `json:"task_id"`
}

// TaskStatusResult reports the task's lifecycle state.
type TaskStatusResult struct {
	TaskID       string `json:"task_id"`
	State        string `json:"state"`
	AssignedNode string `json:"assigned_node,omitempty"`
	RetryCount   int    `json:"retry_count"`
	LastError    string `json:"last_error,omitempty"`
}

// TaskAssign delivers a task to a worker node.
type TaskAssign struct {
	TaskID      string          `json:"task_id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	ResourceKey string          `json:"resource_key"`
	Timeout     time.Duration   `json:"timeout,omitempty"`
}

// TaskAssignResult acknowledges or refuses an assignment.
type TaskAssignResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// TaskCancel asks a worker to abort execution within the grace period.
type TaskCancel struct {
	TaskID string `json:"task_id"`
}

// TaskProgress advances a task through the lock-grant and
// handler-start phases. Sent fire-and-forget; the fencing token proves
// which grant the worker is executing under.
type TaskProgress struct {
	TaskID string `json:"task_id"`
	NodeID string `json:"node_id"`
	Phase  string `json:"phase"`
	Token  uint64 `json:"token"`
}

// TaskReport carries the outcome of an execution, tagged with the
// fencing token the worker held. A stale token is rejected as an
// ordering violation, never applied.
type TaskReport struct {
	TaskID  string `json:"task_id"`
	NodeID  string `json:"node_id"`
	Outcome string `json:"outcome"`
	Token   uint64 `json:"token"`
	Error   string `json:"error,omitempty"`
}

// TaskReportResult acknowledges a report.
type TaskReportResult struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
}

// ── Node payloads ───────────────────────────────────

// NodeRegister announces a worker node and its capacity.
type NodeRegister struct {
	NodeID   string `json:"node_id"`
	Capacity int    `json:"capacity"`
}

// NodeRegisterResult confirms registration.
type NodeRegisterResult struct {
	Registered bool `json:"registered"`
}

// NodeDeregister removes a worker node.
type NodeDeregister struct {
	NodeID string `json:"node_id"`
}

// NodeHeartbeat advertises liveness and current load. Sent
// fire-and-forget; absence past the timeout is itself meaningful.
type NodeHeartbeat struct {
	NodeID string    `json:"node_id"`
	Load   int       `json:"load"`
	At     time.Time `json:"at"`
}

// ── Consensus payloads ──────────────────────────────

// StatePropose broadcasts a candidate cluster-state transition.
type StatePropose struct {
	ProposalID string          `json:"proposal_id"`
	Version    uint64          `json:"version"`
	Proposer   string          `json:"proposer"`
	Token      uint64          `json:"token,omitempty"`
	Transition json.RawMessage `json:"transition"`
}

// StateAck acknowledges (or rejects) a proposal.
type StateAck struct {
	ProposalID string `json:"proposal_id"`
	Version    uint64 `json:"version"`
	Acked      bool   `json:"acked"`
	Reason     string `json:"reason,omitempty"`
}

// StateCommit announces that a transition reached quorum (or was
// committed coordinator-authoritatively on quorum timeout).
type StateCommit struct {
	Version     uint64 `json:"version"`
	Unconfirmed bool   `json:"unconfirmed,omitempty"`
}
