package redis

// Redis key naming conventions for swarm data.
// All keys are prefixed with "swarm:" to avoid collisions.

const keyPrefix = "swarm:"

// ── Task keys ──

// taskKey returns the key for a task entity: swarm:task:{id}
func taskKey(id string) string { return keyPrefix + "task:" + id }

// taskIDsKey is the Set tracking all task IDs for enumeration.
const taskIDsKey = keyPrefix + "task_ids"

// ── Node keys ──

// nodeKey returns the key for a worker node entity: swarm:node:{id}
func nodeKey(id string) string { return keyPrefix + "node:" + id }

// nodeIDsKey is the Set tracking all worker node IDs for enumeration.
const nodeIDsKey = keyPrefix + "node_ids"

// ── Lock keys ──

// lockKey returns the key for a lock record: swarm:lock:{node/resource}
func lockKey(key string) string { return keyPrefix + "lock:" + key }

// fenceKey returns the key for a fencing counter. Counters live apart
// from the lock records so they survive lock deletion.
func fenceKey(key string) string { return keyPrefix + "fence:" + key }

// lockIdxKey is the Set tracking all live lock keys for sweeping.
const lockIdxKey = keyPrefix + "lock_idx"

// ── Consensus keys ──

// transitionKey returns the key for a committed transition: swarm:transition:{version}
func transitionKey(version string) string { return keyPrefix + "transition:" + version }

// versionKey stores the highest committed version.
const versionKey = keyPrefix + "version"

// stateKey stores the materialized cluster state.
const stateKey = keyPrefix + "state"

// ── Archive keys ──

// archiveKey returns the key for an archive entry: swarm:archive:{id}
func archiveKey(id string) string { return keyPrefix + "archive:" + id }

// archiveZKey is the Sorted Set indexing archive entries by ArchivedAt.
const archiveZKey = keyPrefix + "archive_idx"

// ── Recurring keys ──

// recurKey returns the key for a recurring entry: swarm:recurring:{id}
func recurKey(id string) string { return keyPrefix + "recurring:" + id }

// recurIDsKey is the Set tracking all recurring entry IDs.
const recurIDsKey = keyPrefix + "recurring_ids"

// recurNamesKey maps lowercased recurring names to IDs for duplicate
// detection.
const recurNamesKey = keyPrefix + "recurring_names"
