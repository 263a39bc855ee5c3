package lock

import (
	"context"
	"time"

	"github.com/hugoboss23-5/swarm/id"
)

// Store defines the persistence contract for locks and their fencing
// counters. Implementations must keep the per-key counter alive after
// the lock itself is deleted, so tokens are never reused.
type Store interface {
	// AcquireLock grants the (node, resource) key to holder if no
	// unexpired lock exists for it, stamping the next fencing token.
	// Returns swarm.ErrLockDenied while another holder's lease is live.
	AcquireLock(ctx context.Context, nodeID id.NodeID, resource string, holder id.TaskID, lease time.Duration) (*Lock, error)

	// RenewLock extends the lease if token matches the current holder.
	// A mismatched token returns swarm.ErrStaleToken.
	RenewLock(ctx context.Context, nodeID id.NodeID, resource string, token uint64, lease time.Duration) (*Lock, error)

	// ReleaseLock frees the key if token matches the current holder.
	// A mismatched token is a no-op: the holder was already superseded.
	ReleaseLock(ctx context.Context, nodeID id.NodeID, resource string, token uint64) error

	// GetLock returns the live lock for the key, expired or not.
	// Returns swarm.ErrLockNotFound if no lock record exists.
	GetLock(ctx context.Context, nodeID id.NodeID, resource string) (*Lock, error)

	// ExpireLocks removes all locks whose lease lapsed before now and
	// returns them. Counters survive removal.
	ExpireLocks(ctx context.Context, now time.Time) ([]*Lock, error)
}
