package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/lock"
	"github.com/hugoboss23-5/swarm/store/memory"
)

// recordingEmitter captures lock lifecycle events.
type recordingEmitter struct {
	mu      sync.Mutex
	granted []*lock.Lock
	expired []*lock.Lock
}

func (e *recordingEmitter) EmitLockGranted(_ context.Context, l *lock.Lock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.granted = append(e.granted, l)
}

func (e *recordingEmitter) EmitLockExpired(_ context.Context, l *lock.Lock) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.expired = append(e.expired, l)
}

func (e *recordingEmitter) expiredCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.expired)
}

func TestManagerAcquireAndRelease(t *testing.T) {
	t.Parallel()
	emitter := &recordingEmitter{}
	m := lock.NewManager(memory.New(), nil, lock.WithEmitter(emitter))
	ctx := context.Background()

	nodeID := id.NewNodeID()
	l, err := m.Acquire(ctx, nodeID, "db-primary", id.NewTaskID(), time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if l.Token != 1 {
		t.Fatalf("token = %d, want 1", l.Token)
	}
	if len(emitter.granted) != 1 {
		t.Fatalf("granted events = %d, want 1", len(emitter.granted))
	}

	if _, err := m.Acquire(ctx, nodeID, "db-primary", id.NewTaskID(), time.Minute); !errors.Is(err, swarm.ErrLockDenied) {
		t.Fatalf("err = %v, want ErrLockDenied", err)
	}

	if err := m.Release(ctx, nodeID, "db-primary", l.Token); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := m.Acquire(ctx, nodeID, "db-primary", id.NewTaskID(), time.Minute); err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
}

func TestManagerAcquireWait(t *testing.T) {
	t.Parallel()
	m := lock.NewManager(memory.New(), nil)
	ctx := context.Background()

	nodeID := id.NewNodeID()
	held, err := m.Acquire(ctx, nodeID, "db", id.NewTaskID(), time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Release while a second caller is waiting.
	go func() {
		time.Sleep(80 * time.Millisecond)
		_ = m.Release(ctx, nodeID, "db", held.Token)
	}()

	got, err := m.AcquireWait(ctx, nodeID, "db", id.NewTaskID(), time.Minute, time.Second)
	if err != nil {
		t.Fatalf("AcquireWait: %v", err)
	}
	if got.Token <= held.Token {
		t.Fatalf("token %d not greater than %d", got.Token, held.Token)
	}
}

func TestManagerAcquireWaitBudgetLapses(t *testing.T) {
	t.Parallel()
	m := lock.NewManager(memory.New(), nil)
	ctx := context.Background()

	nodeID := id.NewNodeID()
	if _, err := m.Acquire(ctx, nodeID, "db", id.NewTaskID(), time.Minute); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err := m.AcquireWait(ctx, nodeID, "db", id.NewTaskID(), time.Minute, 100*time.Millisecond)
	if !errors.Is(err, swarm.ErrLockDenied) {
		t.Fatalf("err = %v, want ErrLockDenied after wait budget", err)
	}
}

func TestManagerValidate(t *testing.T) {
	t.Parallel()
	m := lock.NewManager(memory.New(), nil)
	ctx := context.Background()

	nodeID := id.NewNodeID()
	l, err := m.Acquire(ctx, nodeID, "db", id.NewTaskID(), time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := m.Validate(ctx, nodeID, "db", l.Token); err != nil {
		t.Fatalf("Validate current token: %v", err)
	}
	if err := m.Validate(ctx, nodeID, "db", l.Token-1); !errors.Is(err, swarm.ErrStaleToken) {
		t.Fatalf("old token err = %v, want ErrStaleToken", err)
	}
	if err := m.Validate(ctx, nodeID, "missing", 1); !errors.Is(err, swarm.ErrStaleToken) {
		t.Fatalf("missing lock err = %v, want ErrStaleToken", err)
	}
}

func TestManagerValidateRejectsSupersededHolder(t *testing.T) {
	t.Parallel()
	m := lock.NewManager(memory.New(), nil)
	ctx := context.Background()

	nodeID := id.NewNodeID()
	first, err := m.Acquire(ctx, nodeID, "db", id.NewTaskID(), time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	second, err := m.Acquire(ctx, nodeID, "db", id.NewTaskID(), time.Minute)
	if err != nil {
		t.Fatalf("Acquire after expiry: %v", err)
	}

	// A report tagged with the dead holder's token must be rejected,
	// the live holder's token accepted.
	if err := m.Validate(ctx, nodeID, "db", first.Token); !errors.Is(err, swarm.ErrStaleToken) {
		t.Fatalf("stale token err = %v, want ErrStaleToken", err)
	}
	if err := m.Validate(ctx, nodeID, "db", second.Token); err != nil {
		t.Fatalf("live token: %v", err)
	}
}

func TestManagerRenewKeepsLeaseAlive(t *testing.T) {
	t.Parallel()
	m := lock.NewManager(memory.New(), nil)
	ctx := context.Background()

	nodeID := id.NewNodeID()
	l, err := m.Acquire(ctx, nodeID, "db", id.NewTaskID(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	renewed, err := m.Renew(ctx, nodeID, "db", l.Token, time.Minute)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if !renewed.ExpiresAt.After(l.ExpiresAt) {
		t.Fatal("lease not extended")
	}

	if _, err := m.Renew(ctx, nodeID, "db", l.Token+1, time.Minute); !errors.Is(err, swarm.ErrStaleToken) {
		t.Fatalf("stale renew err = %v, want ErrStaleToken", err)
	}
}

func TestManagerSweepEmitsExpiry(t *testing.T) {
	t.Parallel()
	emitter := &recordingEmitter{}
	m := lock.NewManager(memory.New(), nil,
		lock.WithEmitter(emitter),
		lock.WithSweepInterval(20*time.Millisecond))
	ctx := context.Background()

	nodeID := id.NewNodeID()
	if _, err := m.Acquire(ctx, nodeID, "db", id.NewTaskID(), 10*time.Millisecond); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(ctx)

	deadline := time.Now().Add(time.Second)
	for emitter.expiredCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweep never reclaimed the lapsed lease")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Key is reacquirable after the sweep.
	if _, err := m.Acquire(ctx, nodeID, "db", id.NewTaskID(), time.Minute); err != nil {
		t.Fatalf("Acquire after sweep: %v", err)
	}
}
