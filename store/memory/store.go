package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/archive"
	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/lock"
	"github.com/hugoboss23-5/swarm/node"
	"github.com/hugoboss23-5/swarm/recurring"
	"github.com/hugoboss23-5/swarm/task"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ task.Store      = (*Store)(nil)
	_ node.Store      = (*Store)(nil)
	_ lock.Store      = (*Store)(nil)
	_ consensus.Store = (*Store)(nil)
	_ archive.Store   = (*Store)(nil)
	_ recurring.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing, development,
// and single-process swarms.
type Store struct {
	mu sync.RWMutex

	tasks    map[string]*task.Task
	nodes    map[string]*node.WorkerNode
	locks    map[string]*lock.Lock
	counters map[string]uint64 // fencing counters, survive lock removal
	archives map[string]*archive.Entry
	recurs   map[string]*recurring.Entry

	log   []*consensus.Transition
	state *consensus.ClusterState
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		tasks:    make(map[string]*task.Task),
		nodes:    make(map[string]*node.WorkerNode),
		locks:    make(map[string]*lock.Lock),
		counters: make(map[string]uint64),
		archives: make(map[string]*archive.Entry),
		recurs:   make(map[string]*recurring.Entry),
		state:    consensus.NewClusterState(),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Task Store
// ──────────────────────────────────────────────────

// CreateTask persists a new task.
func (m *Store) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, exists := m.tasks[key]; exists {
		return swarm.ErrDuplicateTask
	}
	cp := *t
	m.tasks[key] = &cp
	return nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, swarm.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

// UpdateTask persists changes to an existing task.
func (m *Store) UpdateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, ok := m.tasks[key]; !ok {
		return swarm.ErrTaskNotFound
	}
	cp := *t
	m.tasks[key] = &cp
	return nil
}

// DeleteTask removes a task by ID.
func (m *Store) DeleteTask(_ context.Context, taskID id.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := taskID.String()
	if _, ok := m.tasks[key]; !ok {
		return swarm.ErrTaskNotFound
	}
	delete(m.tasks, key)
	return nil
}

// ListTasksByState returns tasks in the given state, priority descending
// then creation time ascending.
func (m *Store) ListTasksByState(_ context.Context, state task.State, opts task.ListOpts) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*task.Task, 0)
	for _, t := range m.tasks {
		if t.State == state {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		if matched[i].Priority != matched[k].Priority {
			return matched[i].Priority > matched[k].Priority
		}
		return matched[i].CreatedAt.Before(matched[k].CreatedAt)
	})

	matched = paginate(matched, opts.Offset, opts.Limit)

	out := make([]*task.Task, len(matched))
	for i, t := range matched {
		cp := *t
		out[i] = &cp
	}
	return out, nil
}

// ListTasksByNode returns tasks currently assigned to the given node.
func (m *Store) ListTasksByNode(_ context.Context, nodeID id.NodeID) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*task.Task, 0)
	for _, t := range m.tasks {
		if t.AssignedNode == nodeID && t.State.InFlight() {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}

// CountTasks returns the number of tasks matching the options.
func (m *Store) CountTasks(_ context.Context, opts task.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if opts.State == "" {
		return int64(len(m.tasks)), nil
	}
	var n int64
	for _, t := range m.tasks {
		if t.State == opts.State {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Node Store
// ──────────────────────────────────────────────────

// RegisterNode adds a worker node.
func (m *Store) RegisterNode(_ context.Context, w *node.WorkerNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := w.ID.String()
	if _, exists := m.nodes[key]; exists {
		return swarm.ErrDuplicateNode
	}
	cp := *w
	cp.Held = append([]string(nil), w.Held...)
	m.nodes[key] = &cp
	return nil
}

// DeregisterNode removes a worker node.
func (m *Store) DeregisterNode(_ context.Context, nodeID id.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := nodeID.String()
	if _, ok := m.nodes[key]; !ok {
		return swarm.ErrNodeNotFound
	}
	delete(m.nodes, key)
	return nil
}

// GetNode retrieves a worker node by ID.
func (m *Store) GetNode(_ context.Context, nodeID id.NodeID) (*node.WorkerNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.nodes[nodeID.String()]
	if !ok {
		return nil, swarm.ErrNodeNotFound
	}
	cp := *w
	cp.Held = append([]string(nil), w.Held...)
	return &cp, nil
}

// UpdateNode persists changes to an existing worker node.
func (m *Store) UpdateNode(_ context.Context, w *node.WorkerNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := w.ID.String()
	if _, ok := m.nodes[key]; !ok {
		return swarm.ErrNodeNotFound
	}
	cp := *w
	cp.Held = append([]string(nil), w.Held...)
	m.nodes[key] = &cp
	return nil
}

// HeartbeatNode refreshes the last-heartbeat timestamp and load.
func (m *Store) HeartbeatNode(_ context.Context, nodeID id.NodeID, load int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.nodes[nodeID.String()]
	if !ok {
		return swarm.ErrNodeNotFound
	}
	w.Load = load
	w.LastHeartbeat = at
	w.UpdatedAt = at
	return nil
}

// ListNodes returns all registered worker nodes ordered by ID.
func (m *Store) ListNodes(_ context.Context) ([]*node.WorkerNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*node.WorkerNode, 0, len(m.nodes))
	for _, w := range m.nodes {
		cp := *w
		cp.Held = append([]string(nil), w.Held...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}

// ReapSilentNodes returns active nodes whose last heartbeat is older
// than the threshold.
func (m *Store) ReapSilentNodes(_ context.Context, threshold time.Duration) ([]*node.WorkerNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	out := make([]*node.WorkerNode, 0)
	for _, w := range m.nodes {
		if w.State == node.NodeActive && w.LastHeartbeat.Before(cutoff) {
			cp := *w
			cp.Held = append([]string(nil), w.Held...)
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}

// ──────────────────────────────────────────────────
// Lock Store
// ──────────────────────────────────────────────────

// AcquireLock grants the (node, resource) key if no unexpired holder
// exists, stamping the next fencing token for the key.
func (m *Store) AcquireLock(_ context.Context, nodeID id.NodeID, resource string, holder id.TaskID, lease time.Duration) (*lock.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lock.Key(nodeID, resource)
	now := time.Now().UTC()
	if existing, ok := m.locks[key]; ok && !existing.Expired(now) {
		return nil, swarm.ErrLockDenied
	}

	m.counters[key]++
	l := &lock.Lock{
		Node:      nodeID,
		Resource:  resource,
		Holder:    holder,
		Token:     m.counters[key],
		ExpiresAt: now.Add(lease),
	}
	cp := *l
	m.locks[key] = &cp
	return l, nil
}

// RenewLock extends the lease if token matches the current holder.
func (m *Store) RenewLock(_ context.Context, nodeID id.NodeID, resource string, token uint64, lease time.Duration) (*lock.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lock.Key(nodeID, resource)
	now := time.Now().UTC()
	existing, ok := m.locks[key]
	if !ok || existing.Expired(now) || existing.Token != token {
		return nil, swarm.ErrStaleToken
	}
	existing.ExpiresAt = now.Add(lease)
	cp := *existing
	return &cp, nil
}

// ReleaseLock frees the key if token matches. Mismatch is a no-op.
func (m *Store) ReleaseLock(_ context.Context, nodeID id.NodeID, resource string, token uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lock.Key(nodeID, resource)
	if existing, ok := m.locks[key]; ok && existing.Token == token {
		delete(m.locks, key)
	}
	return nil
}

// GetLock returns the lock record for the key, expired or not.
func (m *Store) GetLock(_ context.Context, nodeID id.NodeID, resource string) (*lock.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.locks[lock.Key(nodeID, resource)]
	if !ok {
		return nil, swarm.ErrLockNotFound
	}
	cp := *l
	return &cp, nil
}

// ExpireLocks removes locks whose lease lapsed before now and returns
// them. Fencing counters survive removal.
func (m *Store) ExpireLocks(_ context.Context, now time.Time) ([]*lock.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := make([]*lock.Lock, 0)
	for key, l := range m.locks {
		if l.Expired(now) {
			cp := *l
			expired = append(expired, &cp)
			delete(m.locks, key)
		}
	}
	sort.Slice(expired, func(i, k int) bool {
		return expired[i].Key() < expired[k].Key()
	})
	return expired, nil
}

// ──────────────────────────────────────────────────
// Consensus Store
// ──────────────────────────────────────────────────

// CommitTransition appends a transition to the log and folds it into
// the materialized state.
func (m *Store) CommitTransition(_ context.Context, t *consensus.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.Version != uint64(len(m.log))+1 {
		return swarm.ErrVersionConflict
	}
	cp := *t
	m.log = append(m.log, &cp)
	m.state.Apply(&cp)
	return nil
}

// CurrentState returns a copy of the materialized cluster state.
func (m *Store) CurrentState(_ context.Context) (*consensus.ClusterState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone(), nil
}

// LastVersion returns the highest committed version.
func (m *Store) LastVersion(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.log)), nil
}

// TransitionsSince returns committed transitions after the given
// version, in order.
func (m *Store) TransitionsSince(_ context.Context, after uint64) ([]*consensus.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*consensus.Transition, 0)
	for _, t := range m.log {
		if t.Version > after {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ──────────────────────────────────────────────────
// Archive Store
// ──────────────────────────────────────────────────

// PushArchive adds a terminal task entry to the archive.
func (m *Store) PushArchive(_ context.Context, entry *archive.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.archives[entry.ID.String()] = &cp
	return nil
}

// ListArchive returns archive entries matching the options, newest first.
func (m *Store) ListArchive(_ context.Context, opts archive.ListOpts) ([]*archive.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*archive.Entry, 0, len(m.archives))
	for _, e := range m.archives {
		if opts.FinalState != "" && e.FinalState != opts.FinalState {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, k int) bool {
		return matched[i].ArchivedAt.After(matched[k].ArchivedAt)
	})

	matched = paginate(matched, opts.Offset, opts.Limit)

	out := make([]*archive.Entry, len(matched))
	for i, e := range matched {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// GetArchive retrieves an archive entry by ID.
func (m *Store) GetArchive(_ context.Context, entryID id.ArchiveID) (*archive.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.archives[entryID.String()]
	if !ok {
		return nil, swarm.ErrArchiveNotFound
	}
	cp := *e
	return &cp, nil
}

// MarkReplayed stamps ReplayedAt on an archive entry.
func (m *Store) MarkReplayed(_ context.Context, entryID id.ArchiveID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.archives[entryID.String()]
	if !ok {
		return swarm.ErrArchiveNotFound
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now
	return nil
}

// PurgeArchive removes entries archived before the given time.
func (m *Store) PurgeArchive(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.archives {
		if e.ArchivedAt.Before(before) {
			delete(m.archives, key)
			n++
		}
	}
	return n, nil
}

// CountArchive returns the total number of archived entries.
func (m *Store) CountArchive(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.archives)), nil
}

// ──────────────────────────────────────────────────
// Recurring Store
// ──────────────────────────────────────────────────

// RegisterRecurring persists a new recurring entry.
func (m *Store) RegisterRecurring(_ context.Context, entry *recurring.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, exists := m.recurs[key]; exists {
		return swarm.ErrDuplicateRecurring
	}
	for _, existing := range m.recurs {
		if strings.EqualFold(existing.Name, entry.Name) {
			return swarm.ErrDuplicateRecurring
		}
	}
	cp := *entry
	m.recurs[key] = &cp
	return nil
}

// GetRecurring retrieves a recurring entry by ID.
func (m *Store) GetRecurring(_ context.Context, entryID id.RecurringID) (*recurring.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.recurs[entryID.String()]
	if !ok {
		return nil, swarm.ErrRecurringNotFound
	}
	cp := *e
	return &cp, nil
}

// ListRecurring returns all recurring entries ordered by name.
func (m *Store) ListRecurring(_ context.Context) ([]*recurring.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*recurring.Entry, 0, len(m.recurs))
	for _, e := range m.recurs {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].Name < out[k].Name
	})
	return out, nil
}

// UpdateRecurring updates a recurring entry.
func (m *Store) UpdateRecurring(_ context.Context, entry *recurring.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.recurs[key]; !ok {
		return swarm.ErrRecurringNotFound
	}
	cp := *entry
	m.recurs[key] = &cp
	return nil
}

// UpdateRecurringLastRun records when a recurring entry last fired.
func (m *Store) UpdateRecurringLastRun(_ context.Context, entryID id.RecurringID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.recurs[entryID.String()]
	if !ok {
		return swarm.ErrRecurringNotFound
	}
	e.LastRunAt = &at
	e.UpdatedAt = at
	return nil
}

// DeleteRecurring removes a recurring entry by ID.
func (m *Store) DeleteRecurring(_ context.Context, entryID id.RecurringID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.recurs[key]; !ok {
		return swarm.ErrRecurringNotFound
	}
	delete(m.recurs, key)
	return nil
}

// paginate applies offset and limit to a sorted slice.
func paginate[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
