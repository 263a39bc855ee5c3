package sched

import (
	"sync"
	"testing"
	"time"
)

func TestLimiterUnconfiguredClass(t *testing.T) {
	l := NewLimiter()
	if !l.Acquire("anything", 3) {
		t.Fatal("expected Acquire to succeed for unconfigured class")
	}
	l.Release("anything", 3)
}

func TestLimiterMaxUnits(t *testing.T) {
	l := NewLimiter(Config{Class: "gpu", MaxUnits: 4})

	if !l.Acquire("gpu", 3) {
		t.Fatal("first Acquire should succeed")
	}
	// 3 held, 2 more would exceed the cap of 4.
	if l.Acquire("gpu", 2) {
		t.Fatal("Acquire over cap should fail")
	}
	if !l.Acquire("gpu", 1) {
		t.Fatal("Acquire exactly at cap should succeed")
	}
	if l.Held("gpu") != 4 {
		t.Fatalf("held = %d, want 4", l.Held("gpu"))
	}

	l.Release("gpu", 3)
	if !l.Acquire("gpu", 2) {
		t.Fatal("Acquire should succeed after Release")
	}
}

func TestLimiterCapRefusalKeepsRateToken(t *testing.T) {
	l := NewLimiter(Config{Class: "api", MaxUnits: 1, RateLimit: 0.001, RateBurst: 2})

	if !l.Acquire("api", 1) {
		t.Fatal("first Acquire should succeed")
	}
	// Cap is full; the refusal must not consume the remaining rate token.
	if l.Acquire("api", 1) {
		t.Fatal("Acquire over cap should fail")
	}
	l.Release("api", 1)
	if !l.Acquire("api", 1) {
		t.Fatal("Acquire after Release should still have a rate token")
	}
}

func TestLimiterZeroUnitsCountAsOne(t *testing.T) {
	l := NewLimiter(Config{Class: "db", MaxUnits: 1})
	if !l.Acquire("db", 0) {
		t.Fatal("Acquire with zero units should succeed")
	}
	if l.Acquire("db", 0) {
		t.Fatal("second Acquire should fail, zero units count as one")
	}
	l.Release("db", 0)
	if l.Held("db") != 0 {
		t.Fatalf("held = %d, want 0", l.Held("db"))
	}
}

func TestLimiterRateLimit(t *testing.T) {
	l := NewLimiter(Config{Class: "api", RateLimit: 5, RateBurst: 2})

	// Burst of 2 allowed immediately.
	if !l.Acquire("api", 1) || !l.Acquire("api", 1) {
		t.Fatal("burst Acquires should succeed")
	}
	if l.Acquire("api", 1) {
		t.Fatal("Acquire past burst should fail")
	}

	// At 5/s a token refills in 200ms.
	time.Sleep(250 * time.Millisecond)
	if !l.Acquire("api", 1) {
		t.Fatal("Acquire should succeed after refill")
	}
}

func TestLimiterSetConfigPreservesHeld(t *testing.T) {
	l := NewLimiter(Config{Class: "db", MaxUnits: 10})
	l.Acquire("db", 6)

	l.SetConfig(Config{Class: "db", MaxUnits: 8})
	if l.Held("db") != 6 {
		t.Fatalf("held = %d, want 6 after reconfigure", l.Held("db"))
	}
	if l.Acquire("db", 3) {
		t.Fatal("Acquire should respect the new tighter cap")
	}
	if !l.Acquire("db", 2) {
		t.Fatal("Acquire within new cap should succeed")
	}
}

func TestLimiterReleaseNeverGoesNegative(t *testing.T) {
	l := NewLimiter(Config{Class: "db", MaxUnits: 2})
	l.Release("db", 5)
	if l.Held("db") != 0 {
		t.Fatalf("held = %d, want 0", l.Held("db"))
	}
}

func TestLimiterConcurrentAcquire(t *testing.T) {
	l := NewLimiter(Config{Class: "gpu", MaxUnits: 50})

	var wg sync.WaitGroup
	granted := make(chan struct{}, 100)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire("gpu", 1) {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	n := 0
	for range granted {
		n++
	}
	if n != 50 {
		t.Fatalf("granted = %d, want exactly 50", n)
	}
	if l.Held("gpu") != 50 {
		t.Fatalf("held = %d, want 50", l.Held("gpu"))
	}
}
