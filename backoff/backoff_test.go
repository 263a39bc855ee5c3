package backoff

import (
	"testing"
	"time"
)

func TestFixed(t *testing.T) {
	p := Fixed(2 * time.Second)
	for _, attempt := range []int{1, 5, 100} {
		if got := p(attempt); got != 2*time.Second {
			t.Fatalf("p(%d) = %v, want 2s", attempt, got)
		}
	}
}

func TestLinear(t *testing.T) {
	p := Linear(time.Second, 4*time.Second)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 4 * time.Second},
		{10, 4 * time.Second}, // capped
	}
	for _, tc := range cases {
		if got := p(tc.attempt); got != tc.want {
			t.Fatalf("p(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestLinearNoCap(t *testing.T) {
	p := Linear(time.Second, 0)
	if got := p(100); got != 100*time.Second {
		t.Fatalf("p(100) = %v, want 100s", got)
	}
}

func TestExponential(t *testing.T) {
	p := Exponential(time.Second, 10*time.Second)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{20, 10 * time.Second},
	}
	for _, tc := range cases {
		if got := p(tc.attempt); got != tc.want {
			t.Fatalf("p(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestFullJitterStaysInRange(t *testing.T) {
	p := FullJitter(time.Second, 8*time.Second)
	for attempt := 1; attempt <= 6; attempt++ {
		ceiling := Exponential(time.Second, 8*time.Second)(attempt)
		for range 50 {
			d := p(attempt)
			if d < 0 || d > ceiling {
				t.Fatalf("p(%d) = %v outside [0, %v]", attempt, d, ceiling)
			}
		}
	}
}

func TestDefaultBounded(t *testing.T) {
	p := Default()
	for attempt := 1; attempt <= 20; attempt++ {
		d := p(attempt)
		if d < 0 || d > time.Minute {
			t.Fatalf("p(%d) = %v outside [0, 1m]", attempt, d)
		}
	}
}
