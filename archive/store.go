package archive

import (
	"context"
	"time"

	"github.com/hugoboss23-5/swarm/id"
)

// ListOpts controls pagination and filtering for archive list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// FinalState filters by the terminal state the task reached.
	// Empty means all states.
	FinalState string
}

// Store defines the persistence contract for the task archive.
type Store interface {
	// PushArchive adds a terminal task entry to the archive.
	PushArchive(ctx context.Context, entry *Entry) error

	// ListArchive returns archive entries matching the given options,
	// newest first.
	ListArchive(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetArchive retrieves an archive entry by ID.
	GetArchive(ctx context.Context, entryID id.ArchiveID) (*Entry, error)

	// MarkReplayed stamps ReplayedAt on an archive entry. The
	// re-submission itself is handled at the service layer.
	MarkReplayed(ctx context.Context, entryID id.ArchiveID) error

	// PurgeArchive removes entries with ArchivedAt before the given time.
	// Returns the number of entries removed.
	PurgeArchive(ctx context.Context, before time.Time) (int64, error)

	// CountArchive returns the total number of archived entries.
	CountArchive(ctx context.Context) (int64, error)
}
