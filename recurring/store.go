package recurring

import (
	"context"
	"time"

	"github.com/hugoboss23-5/swarm/id"
)

// Store defines the persistence contract for recurring entries.
type Store interface {
	// RegisterRecurring persists a new recurring entry. Returns an error
	// if the name already exists.
	RegisterRecurring(ctx context.Context, entry *Entry) error

	// GetRecurring retrieves a recurring entry by ID.
	GetRecurring(ctx context.Context, entryID id.RecurringID) (*Entry, error)

	// ListRecurring returns all recurring entries.
	ListRecurring(ctx context.Context) ([]*Entry, error)

	// UpdateRecurring updates a recurring entry (Enabled, NextRunAt, etc.).
	UpdateRecurring(ctx context.Context, entry *Entry) error

	// UpdateRecurringLastRun records when a recurring entry last fired.
	UpdateRecurringLastRun(ctx context.Context, entryID id.RecurringID, at time.Time) error

	// DeleteRecurring removes a recurring entry by ID.
	DeleteRecurring(ctx context.Context, entryID id.RecurringID) error
}
