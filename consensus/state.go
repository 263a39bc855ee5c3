// Package consensus maintains the quorum-agreed cluster state: a
// monotonically versioned snapshot of every task and worker, mutated
// only through committed propose/ack/commit transitions.
//
// The protocol is a deliberately simple single-proposer replicated log:
// the coordinator proposes a transition tagged with the next version,
// voters acknowledge, and the transition commits once a strict majority
// (proposer included) has acked. Conflicting proposals for the same
// version resolve by highest fencing token, then lowest proposer
// identifier. On quorum timeout the proposer commits unilaterally and
// flags the entry unconfirmed — an explicit availability-over-strict-
// consistency tradeoff recorded for audit rather than an indefinite
// stall.
package consensus

import (
	"time"

	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/task"
)

// TaskSnapshot is the agreed view of one task.
type TaskSnapshot struct {
	State      task.State `json:"state"`
	Node       string     `json:"node,omitempty"`
	RetryCount int        `json:"retry_count,omitempty"`
}

// WorkerSnapshot is the agreed view of one worker node.
type WorkerSnapshot struct {
	Load          int       `json:"load"`
	Capacity      int       `json:"capacity"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// ClusterState is the agreed cluster view at one version. Version
// numbers are totally ordered and non-decreasing for every observer;
// each uniquely identifies the agreed state at that point.
type ClusterState struct {
	Version uint64                    `json:"version"`
	Tasks   map[string]TaskSnapshot   `json:"tasks"`
	Workers map[string]WorkerSnapshot `json:"workers"`
}

// NewClusterState returns an empty state at version zero.
func NewClusterState() *ClusterState {
	return &ClusterState{
		Tasks:   make(map[string]TaskSnapshot),
		Workers: make(map[string]WorkerSnapshot),
	}
}

// Clone returns a deep copy safe for concurrent readers.
func (s *ClusterState) Clone() *ClusterState {
	cp := &ClusterState{
		Version: s.Version,
		Tasks:   make(map[string]TaskSnapshot, len(s.Tasks)),
		Workers: make(map[string]WorkerSnapshot, len(s.Workers)),
	}
	for k, v := range s.Tasks {
		cp.Tasks[k] = v
	}
	for k, v := range s.Workers {
		cp.Workers[k] = v
	}
	return cp
}

// Apply folds a committed transition's deltas into the state and
// advances its version.
func (s *ClusterState) Apply(t *Transition) {
	s.Version = t.Version
	for k, v := range t.Tasks {
		s.Tasks[k] = v
	}
	for k, v := range t.Workers {
		s.Workers[k] = v
	}
	for _, k := range t.RemoveWorkers {
		delete(s.Workers, k)
	}
}

// Transition is one candidate (or committed) state change.
type Transition struct {
	ID       id.ProposalID `json:"id"`
	Version  uint64        `json:"version"`
	Proposer string        `json:"proposer"`
	// Token is the fencing token backing this transition, when it stems
	// from a worker report. Used to resolve same-version conflicts.
	Token uint64 `json:"token,omitempty"`

	Tasks         map[string]TaskSnapshot   `json:"tasks,omitempty"`
	Workers       map[string]WorkerSnapshot `json:"workers,omitempty"`
	RemoveWorkers []string                  `json:"remove_workers,omitempty"`

	// Unconfirmed marks a coordinator-authoritative commit made on
	// quorum timeout. Audited, never silent.
	Unconfirmed bool      `json:"unconfirmed,omitempty"`
	Acks        int       `json:"acks"`
	CommittedAt time.Time `json:"committed_at"`
}

// NewTransition creates an empty transition for the given proposer.
func NewTransition(proposer string) *Transition {
	return &Transition{
		ID:       id.NewProposalID(),
		Proposer: proposer,
		Tasks:    make(map[string]TaskSnapshot),
		Workers:  make(map[string]WorkerSnapshot),
	}
}

// SetTask records a task delta on the transition.
func (t *Transition) SetTask(taskID id.TaskID, snap TaskSnapshot) *Transition {
	t.Tasks[taskID.String()] = snap
	return t
}

// SetWorker records a worker delta on the transition.
func (t *Transition) SetWorker(nodeID id.NodeID, snap WorkerSnapshot) *Transition {
	t.Workers[nodeID.String()] = snap
	return t
}

// Resolve picks the winner between two conflicting transitions proposed
// for the same version: highest fencing token first, then lowest
// proposer identifier.
func Resolve(a, b *Transition) *Transition {
	if a.Token != b.Token {
		if a.Token > b.Token {
			return a
		}
		return b
	}
	if a.Proposer <= b.Proposer {
		return a
	}
	return b
}
