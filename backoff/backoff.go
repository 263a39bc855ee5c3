// Package backoff provides retry delay policies for requeued tasks and
// request retries. Policies are plain functions and safe for concurrent
// use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy computes the delay before retry attempt n (1-indexed).
// Attempt 1 is the first retry after the initial failure.
type Policy func(attempt int) time.Duration

// Fixed always waits the same interval.
func Fixed(interval time.Duration) Policy {
	return func(_ int) time.Duration {
		return interval
	}
}

// Linear waits initial * attempt, capped at ceil. A ceil of zero means
// no cap.
func Linear(initial, ceil time.Duration) Policy {
	return func(attempt int) time.Duration {
		d := initial * time.Duration(attempt)
		if ceil > 0 && d > ceil {
			return ceil
		}
		return d
	}
}

// Exponential doubles the delay each attempt: initial * 2^(attempt-1),
// capped at ceil. A ceil of zero means no cap.
func Exponential(initial, ceil time.Duration) Policy {
	return func(attempt int) time.Duration {
		d := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
		if ceil > 0 && d > ceil {
			return ceil
		}
		return d
	}
}

// FullJitter draws a random delay in [0, exponential base]. This spreads
// out retries when many tasks fail at once.
func FullJitter(initial, ceil time.Duration) Policy {
	exp := Exponential(initial, ceil)
	return func(attempt int) time.Duration {
		base := float64(exp(attempt))
		return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
	}
}

// Default is the policy the coordinator uses for requeued tasks:
// full jitter with 1s initial and 1m ceiling.
func Default() Policy {
	return FullJitter(time.Second, time.Minute)
}
