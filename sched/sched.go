// Package sched enforces per-resource-class dispatch limits for the
// coordinator. Each resource class (database, GPU pool, external API)
// can cap how many units are held concurrently across the swarm and
// rate-limit how fast tasks for the class are dispatched.
package sched

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines the dispatch limits for one resource class.
type Config struct {
	// Class is the resource class identifier (must match the
	// task.Resource.Class field).
	Class string

	// MaxUnits caps how many resource units of this class may be held
	// concurrently across all workers. Zero means unlimited.
	MaxUnits int

	// RateLimit is the maximum sustained dispatches per second for
	// tasks of this class. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// classState tracks runtime accounting for a single resource class.
type classState struct {
	config  Config
	limiter *rate.Limiter
	held    int
}

// Limiter arbitrates dispatch across resource classes. It is safe for
// concurrent use.
type Limiter struct {
	mu      sync.Mutex
	classes map[string]*classState
}

// NewLimiter creates a Limiter with the given class configurations.
// Classes not listed here have no limits.
func NewLimiter(configs ...Config) *Limiter {
	l := &Limiter{classes: make(map[string]*classState, len(configs))}
	for _, cfg := range configs {
		l.classes[cfg.Class] = newClassState(cfg)
	}
	return l
}

func newClassState(cfg Config) *classState {
	cs := &classState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return cs
}

// Acquire checks the rate limit and unit cap for the given class. If
// the dispatch is allowed it reserves the units and returns true. The
// caller MUST call Release with the same arguments when the task leaves
// the executing state.
//
// Units of zero or less are treated as one.
func (l *Limiter) Acquire(class string, units int) bool {
	if units <= 0 {
		units = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cs := l.classes[class]
	if cs == nil {
		return true
	}
	// Cap check comes first: a dispatch refused on units must not
	// consume a rate token.
	if cs.config.MaxUnits > 0 && cs.held+units > cs.config.MaxUnits {
		return false
	}
	if cs.limiter != nil && !cs.limiter.Allow() {
		return false
	}
	cs.held += units
	return true
}

// Release returns previously reserved units for the class.
func (l *Limiter) Release(class string, units int) {
	if units <= 0 {
		units = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if cs := l.classes[class]; cs != nil {
		cs.held -= units
		if cs.held < 0 {
			cs.held = 0
		}
	}
}

// SetConfig dynamically updates (or creates) a class configuration.
// Units already held carry over to the new configuration.
func (l *Limiter) SetConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cs := newClassState(cfg)
	if existing := l.classes[cfg.Class]; existing != nil {
		cs.held = existing.held
	}
	l.classes[cfg.Class] = cs
}

// Held returns the number of units currently reserved for a class.
func (l *Limiter) Held(class string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cs := l.classes[class]; cs != nil {
		return cs.held
	}
	return 0
}
