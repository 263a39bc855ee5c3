package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hugoboss23-5/swarm"
)

// Voter acknowledges proposed transitions. Worker agents participate as
// read replicas at minimum; the proposer counts as one voter itself.
type Voter interface {
	// VoterID returns a stable identifier for quorum accounting.
	VoterID() string

	// Ack validates and acknowledges a proposed transition. Returning
	// an error counts as a rejection.
	Ack(ctx context.Context, t *Transition) error
}

// Emitter receives commit events. hook.Registry satisfies this
// interface.
type Emitter interface {
	EmitStateCommitted(ctx context.Context, t *Transition)
}

// ModuleOption configures a Module.
type ModuleOption func(*Module)

// WithQuorumTimeout bounds how long a proposal waits for a majority
// before committing coordinator-authoritatively.
func WithQuorumTimeout(d time.Duration) ModuleOption {
	return func(m *Module) { m.quorumTimeout = d }
}

// WithAckTimeout bounds a single voter acknowledgement.
func WithAckTimeout(d time.Duration) ModuleOption {
	return func(m *Module) { m.ackTimeout = d }
}

// WithEmitter sets the commit event emitter.
func WithEmitter(e Emitter) ModuleOption {
	return func(m *Module) { m.emitter = e }
}

// Module drives the propose/ack/commit protocol over a Store. One
// logical proposer (the coordinator) serializes proposals; version
// assignment and commit are therefore totally ordered.
type Module struct {
	store    Store
	proposer string
	emitter  Emitter
	logger   *slog.Logger

	quorumTimeout time.Duration
	ackTimeout    time.Duration

	// proposeMu serializes proposals so versions never interleave.
	proposeMu sync.Mutex

	votersMu sync.RWMutex
	voters   map[string]Voter
}

// NewModule creates a consensus module. proposer identifies the local
// (coordinating) voter for conflict resolution and quorum accounting.
func NewModule(store Store, proposer string, logger *slog.Logger, opts ...ModuleOption) *Module {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Module{
		store:         store,
		proposer:      proposer,
		logger:        logger,
		quorumTimeout: 3 * time.Second,
		ackTimeout:    time.Second,
		voters:        make(map[string]Voter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddVoter registers a voter. Safe to call while proposals run.
func (m *Module) AddVoter(v Voter) {
	m.votersMu.Lock()
	defer m.votersMu.Unlock()
	m.voters[v.VoterID()] = v
}

// RemoveVoter removes a voter from quorum accounting.
func (m *Module) RemoveVoter(voterID string) {
	m.votersMu.Lock()
	defer m.votersMu.Unlock()
	delete(m.voters, voterID)
}

// VoterIDs returns the identifiers of all registered voters.
func (m *Module) VoterIDs() []string {
	m.votersMu.RLock()
	defer m.votersMu.RUnlock()
	ids := make([]string, 0, len(m.voters))
	for voterID := range m.voters {
		ids = append(ids, voterID)
	}
	return ids
}

// VoterCount returns the number of known voters including the proposer.
func (m *Module) VoterCount() int {
	m.votersMu.RLock()
	defer m.votersMu.RUnlock()
	return len(m.voters) + 1
}

// Propose assigns the next version to t, broadcasts it to all voters,
// and commits once a strict majority (proposer included) has acked.
// On quorum timeout the transition is committed anyway with the
// Unconfirmed flag set, so the cluster keeps making progress; the flag
// survives on the log entry for audit.
func (m *Module) Propose(ctx context.Context, t *Transition) error {
	m.proposeMu.Lock()
	defer m.proposeMu.Unlock()

	last, err := m.store.LastVersion(ctx)
	if err != nil {
		return fmt.Errorf("consensus: last version: %w", err)
	}
	t.Version = last + 1

	acks := m.collectAcks(ctx, t)

	total := m.VoterCount()
	needed := total/2 + 1
	confirmed := acks+1 >= needed // proposer acks its own proposal

	t.Acks = acks + 1
	t.Unconfirmed = !confirmed
	t.CommittedAt = time.Now().UTC()

	if err := m.store.CommitTransition(ctx, t); err != nil {
		return fmt.Errorf("consensus: commit version %d: %w", t.Version, err)
	}

	if confirmed {
		m.logger.Debug("transition committed",
			slog.Uint64("version", t.Version),
			slog.Int("acks", t.Acks),
			slog.Int("voters", total),
		)
	} else {
		m.logger.Warn("transition committed without quorum",
			slog.Uint64("version", t.Version),
			slog.Int("acks", t.Acks),
			slog.Int("needed", needed),
		)
	}

	if m.emitter != nil {
		m.emitter.EmitStateCommitted(ctx, t)
	}
	return nil
}

// collectAcks fans the proposal out to every voter in parallel and
// counts acknowledgements received within the quorum timeout.
func (m *Module) collectAcks(ctx context.Context, t *Transition) int {
	m.votersMu.RLock()
	voters := make([]Voter, 0, len(m.voters))
	for _, v := range m.voters {
		voters = append(voters, v)
	}
	m.votersMu.RUnlock()

	if len(voters) == 0 {
		return 0
	}

	quorumCtx, cancel := context.WithTimeout(ctx, m.quorumTimeout)
	defer cancel()

	var mu sync.Mutex
	acks := 0

	g, gctx := errgroup.WithContext(quorumCtx)
	for _, v := range voters {
		g.Go(func() error {
			ackCtx, ackCancel := context.WithTimeout(gctx, m.ackTimeout)
			defer ackCancel()

			if err := v.Ack(ackCtx, t); err != nil {
				m.logger.Debug("voter rejected proposal",
					slog.String("voter", v.VoterID()),
					slog.Uint64("version", t.Version),
					slog.String("error", err.Error()),
				)
				return nil // rejection is not a group failure
			}
			mu.Lock()
			acks++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // voters never return group errors; Wait just joins

	return acks
}

// State returns a copy of the current materialized cluster state.
func (m *Module) State(ctx context.Context) (*ClusterState, error) {
	return m.store.CurrentState(ctx)
}

// Version returns the last committed version.
func (m *Module) Version(ctx context.Context) (uint64, error) {
	return m.store.LastVersion(ctx)
}

// ValidateProposal checks an incoming competing proposal against the
// committed log: a version at or below the last committed version loses
// (the committed transition either is this proposal, or beat it under
// Resolve ordering).
func (m *Module) ValidateProposal(ctx context.Context, t *Transition) error {
	last, err := m.store.LastVersion(ctx)
	if err != nil {
		return err
	}
	if t.Version <= last {
		return swarm.ErrVersionConflict
	}
	return nil
}
