package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
)

// Emitter receives lock lifecycle events. hook.Registry satisfies this
// interface; the indirection keeps this package below the hook layer.
type Emitter interface {
	EmitLockGranted(ctx context.Context, l *Lock)
	EmitLockExpired(ctx context.Context, l *Lock)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSweepInterval sets how often the manager scans for lapsed leases.
func WithSweepInterval(d time.Duration) ManagerOption {
	return func(m *Manager) { m.sweepInterval = d }
}

// WithEmitter sets the lifecycle event emitter.
func WithEmitter(e Emitter) ManagerOption {
	return func(m *Manager) { m.emitter = e }
}

// Manager is the sole gateway to lock state. It wraps a Store with a
// lease-expiry sweep loop and lifecycle events. No component mutates
// locks except through Acquire, Renew, and Release.
type Manager struct {
	store         Store
	emitter       Emitter
	logger        *slog.Logger
	sweepInterval time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager creates a lock manager over the given store.
func NewManager(store Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:         store,
		logger:        logger,
		sweepInterval: time.Second,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire grants a leased lock on the (node, resource) key to holder.
// Returns swarm.ErrLockDenied while an unexpired holder exists.
func (m *Manager) Acquire(ctx context.Context, nodeID id.NodeID, resource string, holder id.TaskID, lease time.Duration) (*Lock, error) {
	l, err := m.store.AcquireLock(ctx, nodeID, resource, holder, lease)
	if err != nil {
		if !errors.Is(err, swarm.ErrLockDenied) {
			m.logger.Error("lock acquire error",
				slog.String("key", Key(nodeID, resource)),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}

	m.logger.Debug("lock granted",
		slog.String("key", l.Key()),
		slog.String("holder", l.Holder.String()),
		slog.Uint64("token", l.Token),
	)
	if m.emitter != nil {
		m.emitter.EmitLockGranted(ctx, l)
	}
	return l, nil
}

// AcquireWait retries Acquire until granted, the wait budget lapses, or
// the context is cancelled. Workers use it to block (bounded) on a busy
// resource before refusing an assignment.
func (m *Manager) AcquireWait(ctx context.Context, nodeID id.NodeID, resource string, holder id.TaskID, lease, wait time.Duration) (*Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		l, err := m.Acquire(ctx, nodeID, resource, holder, lease)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, swarm.ErrLockDenied) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, swarm.ErrLockDenied
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Renew extends the lease held under token. A stale token cannot renew.
func (m *Manager) Renew(ctx context.Context, nodeID id.NodeID, resource string, token uint64, lease time.Duration) (*Lock, error) {
	return m.store.RenewLock(ctx, nodeID, resource, token, lease)
}

// Release frees the lock held under token. A mismatched token is a
// no-op: the holder was already superseded.
func (m *Manager) Release(ctx context.Context, nodeID id.NodeID, resource string, token uint64) error {
	return m.store.ReleaseLock(ctx, nodeID, resource, token)
}

// Current returns the live lock for the key, or swarm.ErrLockNotFound.
func (m *Manager) Current(ctx context.Context, nodeID id.NodeID, resource string) (*Lock, error) {
	return m.store.GetLock(ctx, nodeID, resource)
}

// Validate reports whether token is the current, unexpired grant for
// the key. Downstream components call this before applying anything
// tagged with a fencing token.
func (m *Manager) Validate(ctx context.Context, nodeID id.NodeID, resource string, token uint64) error {
	l, err := m.store.GetLock(ctx, nodeID, resource)
	if err != nil {
		if errors.Is(err, swarm.ErrLockNotFound) {
			return swarm.ErrStaleToken
		}
		return err
	}
	if l.Token != token || l.Expired(time.Now().UTC()) {
		return swarm.ErrStaleToken
	}
	return nil
}

// Start launches the lease-expiry sweep loop.
func (m *Manager) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true

	m.wg.Add(1)
	go m.sweepLoop()
	return nil
}

// Stop halts the sweep loop and waits for it to finish.
func (m *Manager) Stop(_ context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	return nil
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep reclaims lapsed leases. Expiry is the sole path to freeing a
// lock whose holder never released it.
func (m *Manager) sweep() {
	ctx := context.Background()
	expired, err := m.store.ExpireLocks(ctx, time.Now().UTC())
	if err != nil {
		m.logger.Error("lease sweep error", slog.String("error", err.Error()))
		return
	}

	for _, l := range expired {
		m.logger.Info("lease expired",
			slog.String("key", l.Key()),
			slog.String("holder", l.Holder.String()),
			slog.Uint64("token", l.Token),
		)
		if m.emitter != nil {
			m.emitter.EmitLockExpired(ctx, l)
		}
	}
}
