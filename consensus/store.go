package consensus

import "context"

// Store defines the persistence contract for committed cluster state.
// The log is append-only and versions never regress.
type Store interface {
	// CommitTransition appends a committed transition to the log and
	// folds it into the materialized state. Returns
	// swarm.ErrVersionConflict if the version is not exactly one past
	// the last committed version.
	CommitTransition(ctx context.Context, t *Transition) error

	// CurrentState returns a copy of the materialized cluster state.
	CurrentState(ctx context.Context) (*ClusterState, error)

	// LastVersion returns the highest committed version (zero if none).
	LastVersion(ctx context.Context) (uint64, error)

	// TransitionsSince returns committed transitions with version
	// greater than after, in version order. Read replicas use it to
	// catch up.
	TransitionsSince(ctx context.Context, after uint64) ([]*Transition, error)
}
