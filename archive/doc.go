// Package archive keeps immutable records of tasks that reached a
// terminal state. Completed and dead tasks leave the active scheduling
// path but their payloads and failure histories are preserved here for
// inspection and replay.
//
// # Entry
//
// An [Entry] captures:
//   - TaskID / TaskName: original task identity
//   - Payload: the raw JSON payload at time of archival
//   - FinalState: "completed" or "dead"
//   - Error: the last failure message for dead tasks
//   - RetryCount / RetryBudget: the retry counters at archival
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the archive store with high-level operations:
//
//	svc := archive.NewService(store)
//	svc.SetRestorer(coord)
//
//	// Push is called by the coordinator when a task goes terminal.
//	svc.Push(ctx, deadTask)
//
//	// Replay returns a dead task to pending with retries reset. The
//	// original task ID is kept so dependents resolve against it; the
//	// restore itself runs on the coordinator's actor loop.
//	replayed, err := svc.Replay(ctx, entryID)
//
// List, Get, Purge, and Count go through [Service.ArchiveStore].
package archive
