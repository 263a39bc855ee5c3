// Package store defines the aggregate persistence interface. Each
// subsystem (task, node, lock, consensus, archive, recurring) defines
// its own store interface. The composite Store composes them all.
// Backends: Memory, Redis, and SQLite.
package store

import (
	"context"

	"github.com/hugoboss23-5/swarm/archive"
	"github.com/hugoboss23-5/swarm/consensus"
	"github.com/hugoboss23-5/swarm/lock"
	"github.com/hugoboss23-5/swarm/node"
	"github.com/hugoboss23-5/swarm/recurring"
	"github.com/hugoboss23-5/swarm/task"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (memory, redis, sqlite) implements all of them.
type Store interface {
	task.Store
	node.Store
	lock.Store
	consensus.Store
	archive.Store
	recurring.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
