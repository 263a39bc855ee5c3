package archive

import (
	"context"
	"errors"
	"time"

	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/task"
)

// Restorer returns a replayed task to the scheduling pool. The
// coordinator implements it, so replays mutate the task registry on
// its actor loop rather than on the caller's goroutine.
type Restorer interface {
	Restore(ctx context.Context, taskID id.TaskID) (*task.Task, error)
}

// Service provides high-level archive operations over a Store.
type Service struct {
	store    Store
	restorer Restorer
}

// NewService creates an archive service. Replay requires a Restorer,
// wired via SetRestorer once the coordinator exists.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// SetRestorer wires the replay target.
func (s *Service) SetRestorer(r Restorer) {
	s.restorer = r
}

// Push builds an archive Entry from a terminal task and persists it.
// The error string, if any, is taken from the task's failure history.
func (s *Service) Push(ctx context.Context, t *task.Task) error {
	entry := &Entry{
		ID:          id.NewArchiveID(),
		TaskID:      t.ID,
		TaskName:    t.Name,
		Payload:     t.Payload,
		FinalState:  string(t.State),
		Error:       t.LastError(),
		RetryCount:  t.RetryCount,
		RetryBudget: t.RetryBudget,
		ArchivedAt:  time.Now().UTC(),
	}
	return s.store.PushArchive(ctx, entry)
}

// Replay returns an archived task to the pending state under its
// original task ID, with the retry counter reset. The entry is stamped
// as replayed.
func (s *Service) Replay(ctx context.Context, entryID id.ArchiveID) (*task.Task, error) {
	if s.restorer == nil {
		return nil, errors.New("archive: no restorer wired")
	}
	entry, err := s.store.GetArchive(ctx, entryID)
	if err != nil {
		return nil, err
	}
	t, err := s.restorer.Restore(ctx, entry.TaskID)
	if err != nil {
		return nil, err
	}
	if err := s.store.MarkReplayed(ctx, entryID); err != nil {
		return nil, err
	}
	return t, nil
}

// ArchiveStore returns the underlying store for direct access to
// List, Get, Purge, and Count operations.
func (s *Service) ArchiveStore() Store {
	return s.store
}
