// Package lock implements the distributed lock manager: leased, fenced
// exclusive locks keyed by (node, resource) pair.
//
// Each grant carries a fencing token drawn from a per-key counter that
// strictly increases and is never reused, even across lease expiries.
// A holder proves ordering with its token; anything tagged with an
// older token is stale and must be rejected by downstream components.
//
// Lease expiry is the only correctness-critical timer in the swarm: it
// bounds how long a crashed worker can block a resource. Release and
// renew with a mismatched token are no-ops — a superseded holder can
// never free or extend a lock it no longer owns.
package lock

import (
	"time"

	"github.com/hugoboss23-5/swarm/id"
)

// Lock is one live lease on a (node, resource) key.
type Lock struct {
	Node      id.NodeID `json:"node"`
	Resource  string    `json:"resource"`
	Holder    id.TaskID `json:"holder"`
	Token     uint64    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Key returns the composite (node, resource) lock key.
func (l *Lock) Key() string {
	return Key(l.Node, l.Resource)
}

// Key builds the composite lock key for a node and resource.
func Key(nodeID id.NodeID, resource string) string {
	return nodeID.String() + "/" + resource
}

// Expired reports whether the lease has lapsed at the given instant.
func (l *Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}
