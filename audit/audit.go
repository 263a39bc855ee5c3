// Package audit records committed cluster-state transitions for later
// inspection. Every commit — quorum-confirmed or coordinator-
// authoritative — lands in a bounded in-memory ring, so operators can
// answer "what changed, when, and was the cluster in agreement" without
// an external audit backend.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/hook"
)

// Compile-time interface checks.
var (
	_ hook.Extension      = (*Extension)(nil)
	_ hook.StateCommitted = (*Extension)(nil)
)

// Record is one audited commit.
type Record struct {
	Version     uint64    `json:"version"`
	Proposer    string    `json:"proposer"`
	Token       uint64    `json:"token,omitempty"`
	Acks        int       `json:"acks"`
	Unconfirmed bool      `json:"unconfirmed"`
	CommittedAt time.Time `json:"committed_at"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Option configures an Extension.
type Option func(*Extension)

// WithCapacity bounds the ring. Older records are evicted first.
func WithCapacity(n int) Option {
	return func(e *Extension) {
		if n > 0 {
			e.capacity = n
		}
	}
}

// Extension keeps the commit audit trail. Register it on the hook
// registry.
type Extension struct {
	capacity int

	mu      sync.RWMutex
	records []Record
}

// New creates an audit extension with a default capacity of 1024
// records.
func New(opts ...Option) *Extension {
	e := &Extension{capacity: 1024}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements hook.Extension.
func (e *Extension) Name() string { return "audit-trail" }

// OnStateCommitted implements hook.StateCommitted.
func (e *Extension) OnStateCommitted(_ context.Context, t *consensus.Transition) error {
	rec := Record{
		Version:     t.Version,
		Proposer:    t.Proposer,
		Token:       t.Token,
		Acks:        t.Acks,
		Unconfirmed: t.Unconfirmed,
		CommittedAt: t.CommittedAt,
		ObservedAt:  time.Now().UTC(),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	if len(e.records) > e.capacity {
		e.records = e.records[len(e.records)-e.capacity:]
	}
	return nil
}

// Entries returns a copy of the audit trail in commit order.
func (e *Extension) Entries() []Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Record, len(e.records))
	copy(out, e.records)
	return out
}

// Unconfirmed returns only the coordinator-authoritative commits, the
// ones that missed quorum.
func (e *Extension) Unconfirmed() []Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Record
	for _, rec := range e.records {
		if rec.Unconfirmed {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of retained records.
func (e *Extension) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.records)
}
