// Package node defines the worker node record and its store interface.
//
// The worker registry is an indexed table (node identifier → record):
// the coordinator is its sole writer, any component may read it.
// Nodes are created on registration and removed on explicit
// deregistration or after sustained heartbeat silence.
package node

import (
	"time"

	"github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
)

// State represents the lifecycle state of a worker node.
type State string

const (
	// NodeActive means the node is healthy and accepting assignments.
	NodeActive State = "active"
	// NodeDraining means the node finishes its in-flight task but
	// accepts no new assignments (graceful shutdown).
	NodeDraining State = "draining"
	// NodeLost means heartbeats stopped past the timeout; its in-flight
	// tasks are reclaimed and its locks left to lease expiry.
	NodeLost State = "lost"
)

// WorkerNode is one registered worker in the swarm.
type WorkerNode struct {
	swarm.Entity

	ID            id.NodeID `json:"id"`
	Capacity      int       `json:"capacity"`
	Load          int       `json:"load"`
	State         State     `json:"state"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// Held lists the resource keys of locks the node currently holds.
	Held []string `json:"held,omitempty"`
}

// Ratio returns the load/capacity ratio used by the scheduling policy.
// A zero-capacity node is never eligible and sorts last.
func (w *WorkerNode) Ratio() float64 {
	if w.Capacity <= 0 {
		return 1e9
	}
	return float64(w.Load) / float64(w.Capacity)
}

// Fits reports whether the node has spare capacity for units more work.
func (w *WorkerNode) Fits(units int) bool {
	if units <= 0 {
		units = 1
	}
	return w.Load+units <= w.Capacity
}
