package archive

import (
	"time"

	"github.com/hugoboss23-5/swarm/id"
)

// Entry is the immutable record kept for a task that reached a terminal
// state. It preserves the payload, the failure history, and the retry
// counters so a dead task can be inspected or replayed later.
type Entry struct {
	ID          id.ArchiveID `json:"id"`
	TaskID      id.TaskID    `json:"task_id"`
	TaskName    string       `json:"task_name"`
	Payload     []byte       `json:"payload"`
	FinalState  string       `json:"final_state"`
	Error       string       `json:"error,omitempty"`
	RetryCount  int          `json:"retry_count"`
	RetryBudget int          `json:"retry_budget"`
	ArchivedAt  time.Time    `json:"archived_at"`
	ReplayedAt  *time.Time   `json:"replayed_at,omitempty"`
}
