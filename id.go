package swarm

import "github.com/hugoboss23-5/swarm/id"

// ID is the primary identifier type for all swarm entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
