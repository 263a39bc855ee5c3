package swarm

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("swarm: no store configured")
	ErrStoreClosed = errors.New("swarm: store closed")

	// Not found errors.
	ErrTaskNotFound      = errors.New("swarm: task not found")
	ErrNodeNotFound      = errors.New("swarm: worker node not found")
	ErrLockNotFound      = errors.New("swarm: lock not found")
	ErrArchiveNotFound   = errors.New("swarm: archive entry not found")
	ErrRecurringNotFound = errors.New("swarm: recurring entry not found")

	// Conflict errors.
	ErrDuplicateTask      = errors.New("swarm: duplicate task identifier")
	ErrDuplicateNode      = errors.New("swarm: worker node already registered")
	ErrDuplicateRecurring = errors.New("swarm: duplicate recurring entry")

	// Validation errors.
	ErrInvalidTask = errors.New("swarm: invalid task")

	// Lock errors. A denied acquisition or a stale fencing token must be
	// re-requested by the caller, never silently overridden.
	ErrLockDenied = errors.New("swarm: lock denied")
	ErrStaleToken = errors.New("swarm: stale fencing token")

	// Consensus errors.
	ErrVersionConflict = errors.New("swarm: cluster state version conflict")
	ErrQuorumTimeout   = errors.New("swarm: quorum not reached within bound")

	// Execution errors.
	ErrRetryExhausted   = errors.New("swarm: retry budget exhausted")
	ErrWorkerBusy       = errors.New("swarm: worker already executing a task")
	ErrNoHandler        = errors.New("swarm: no handler registered for task")
	ErrNoEligibleWorker = errors.New("swarm: no eligible worker")

	// Transport errors.
	ErrNoSubscriber   = errors.New("swarm: no subscriber at address")
	ErrRequestTimeout = errors.New("swarm: request timed out")
	ErrBusClosed      = errors.New("swarm: transport bus closed")
)
