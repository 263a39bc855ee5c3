//go:build integration

package redis_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
	redisstore "github.com/hugoboss23-5/swarm/store/redis"
)

func newTestStore(t *testing.T) *redisstore.Store {
	t.Helper()
	addr := os.Getenv("SWARM_REDIS_ADDR")
	if addr == "" {
		t.Skip("SWARM_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("FlushDB: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(client)
}

func TestAcquireLockMutualExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	nodeID := id.NewNodeID()

	const attempts = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []uint64
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := s.AcquireLock(ctx, nodeID, "gpu-0", id.NewTaskID(), time.Minute)
			if err != nil {
				if !errors.Is(err, swarm.ErrLockDenied) {
					t.Errorf("AcquireLock: %v", err)
				}
				return
			}
			mu.Lock()
			granted = append(granted, l.Token)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(granted) != 1 {
		t.Fatalf("granted %d leases for one key, want 1 (tokens %v)", len(granted), granted)
	}
}

func TestAcquireLockTokensIncreaseAcrossExpiry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	nodeID := id.NewNodeID()

	first, err := s.AcquireLock(ctx, nodeID, "db-main", id.NewTaskID(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	second, err := s.AcquireLock(ctx, nodeID, "db-main", id.NewTaskID(), time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock after expiry: %v", err)
	}
	if second.Token <= first.Token {
		t.Fatalf("token %d not above previous %d", second.Token, first.Token)
	}
}

func TestReleaseLockMismatchedTokenIsNoOp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	nodeID := id.NewNodeID()

	stale, err := s.AcquireLock(ctx, nodeID, "db-main", id.NewTaskID(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	live, err := s.AcquireLock(ctx, nodeID, "db-main", id.NewTaskID(), time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock after expiry: %v", err)
	}

	if err := s.ReleaseLock(ctx, nodeID, "db-main", stale.Token); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}
	cur, err := s.GetLock(ctx, nodeID, "db-main")
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	if cur.Token != live.Token {
		t.Fatalf("live lock gone: token %d, want %d", cur.Token, live.Token)
	}
}

func TestRenewLockStaleToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	nodeID := id.NewNodeID()

	l, err := s.AcquireLock(ctx, nodeID, "gpu-0", id.NewTaskID(), time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if _, err := s.RenewLock(ctx, nodeID, "gpu-0", l.Token+1, time.Minute); !errors.Is(err, swarm.ErrStaleToken) {
		t.Fatalf("RenewLock stale = %v, want ErrStaleToken", err)
	}
	renewed, err := s.RenewLock(ctx, nodeID, "gpu-0", l.Token, 2*time.Minute)
	if err != nil {
		t.Fatalf("RenewLock: %v", err)
	}
	if !renewed.ExpiresAt.After(l.ExpiresAt) {
		t.Fatalf("lease not extended: %v <= %v", renewed.ExpiresAt, l.ExpiresAt)
	}
}
