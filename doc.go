// Package swarm provides a distributed task-coordination core: a
// coordinator that places units of work on worker nodes under leased,
// fenced exclusion guarantees, and reconciles node-local progress
// reports into a single quorum-agreed cluster state.
//
// Swarm is a library, not a service. Import it, configure a store,
// register task handlers as ordinary Go functions, and submit tasks.
//
// # Quick Start
//
//	st := memory.New()
//	bus := transport.NewInproc(transport.DefaultOptions(), logger)
//	eng, err := engine.Build(st, bus)
//	if err != nil { ... }
//	engine.RegisterTask(eng, task.NewDefinition("resize", handleResize))
//	eng.Start(ctx)
//	engine.Submit(ctx, eng, "resize", payload)
//
// # Architecture
//
// Each subsystem (task, node, lock, consensus, archive) defines its own
// store interface; a single backend implements all of them. The
// coordinator is the sole writer of the task registry, the lock manager
// is the sole gateway to lock state, and cluster state changes only
// through committed consensus transitions.
//
// All entity IDs are TypeIDs — prefix-qualified, K-sortable, UUIDv7-based.
package swarm
