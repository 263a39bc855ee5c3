package swarm

import "time"

// Config holds tunables shared by the coordinator, lock manager,
// consensus module, and worker agents.
type Config struct {
	// RetryBudget is how many times a failed task is requeued before it
	// is declared dead.
	RetryBudget int

	// LeaseDuration is the validity window of a granted lock. Lease
	// expiry is the only path to reclaiming a lock from a crashed
	// holder, so it bounds how long a dead worker can block a resource.
	LeaseDuration time.Duration

	// LockWait bounds how long a worker blocks trying to acquire the
	// lock for an assignment before refusing the task.
	LockWait time.Duration

	// SweepInterval is how often the lock manager scans for expired
	// leases.
	SweepInterval time.Duration

	// HeartbeatInterval is how often worker agents advertise
	// capacity and load.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is how long a worker may stay silent before the
	// coordinator marks it unreachable and reclaims its tasks.
	HeartbeatTimeout time.Duration

	// ScheduleInterval is how often the coordinator runs a scheduling
	// pass over pending tasks.
	ScheduleInterval time.Duration

	// QuorumTimeout bounds how long a consensus proposal waits for a
	// strict majority before the coordinator commits unilaterally and
	// flags the transition unconfirmed.
	QuorumTimeout time.Duration

	// AckTimeout bounds a single voter acknowledgement.
	AckTimeout time.Duration

	// RequestTimeout bounds one synchronous transport exchange.
	RequestTimeout time.Duration

	// RequestRetries is how many times a synchronous request is
	// re-sent (with backoff) before giving up.
	RequestRetries int

	// CancelGrace is how long a cancelled worker gets to abort and
	// release its lock before the coordinator abandons the lock to
	// lease expiry.
	CancelGrace time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryBudget:       3,
		LeaseDuration:     30 * time.Second,
		LockWait:          5 * time.Second,
		SweepInterval:     1 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		ScheduleInterval:  500 * time.Millisecond,
		QuorumTimeout:     3 * time.Second,
		AckTimeout:        1 * time.Second,
		RequestTimeout:    5 * time.Second,
		RequestRetries:    3,
		CancelGrace:       5 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}
