// Package store defines the aggregate persistence interface.
//
// Each subsystem (task, node, lock, consensus, archive, recurring)
// defines its own store interface. The composite [Store] composes them
// all. A single backend need only implement Store to satisfy every
// subsystem's persistence contract.
//
// # Available Backends
//
//   - store/memory — in-memory store for development and testing
//   - store/redis — Redis backend using go-redis/v9
//   - store/sqlite — SQLite backend using mattn/go-sqlite3
//
// # Usage
//
//	import "github.com/hugoboss23-5/swarm/store/sqlite"
//
//	s, err := sqlite.Open("swarm.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	eng, err := engine.Build(s, bus)
//
// # Migrations
//
// Call Migrate once at startup to create or update the schema:
//
//	if err := s.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package store
