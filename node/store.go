package node

import (
	"context"
	"time"

	"github.com/hugoboss23-5/swarm/id"
)

// Store defines the persistence contract for the worker registry.
type Store interface {
	// RegisterNode adds a worker node. Returns swarm.ErrDuplicateNode
	// if the identifier is already registered.
	RegisterNode(ctx context.Context, w *WorkerNode) error

	// DeregisterNode removes a worker node.
	DeregisterNode(ctx context.Context, nodeID id.NodeID) error

	// GetNode retrieves a worker node by ID.
	GetNode(ctx context.Context, nodeID id.NodeID) (*WorkerNode, error)

	// UpdateNode persists changes to an existing worker node.
	UpdateNode(ctx context.Context, w *WorkerNode) error

	// HeartbeatNode refreshes the last-heartbeat timestamp and records
	// the advertised load.
	HeartbeatNode(ctx context.Context, nodeID id.NodeID, load int, at time.Time) error

	// ListNodes returns all registered worker nodes ordered by ID.
	ListNodes(ctx context.Context) ([]*WorkerNode, error)

	// ReapSilentNodes returns active nodes whose last heartbeat is
	// older than the threshold.
	ReapSilentNodes(ctx context.Context, threshold time.Duration) ([]*WorkerNode, error)
}
