package recurring

import (
	"time"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
)

// Entry is a template that submits a fresh task on every schedule
// firing. Each firing generates a new task ID, so recurring submissions
// can never collide with the duplicate-task guard.
type Entry struct {
	swarm.Entity

	ID        id.RecurringID `json:"id"`
	Name      string         `json:"name"`
	Schedule  string         `json:"schedule"`
	TaskName  string         `json:"task_name"`
	Payload   []byte         `json:"payload,omitempty"`
	LastRunAt *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt *time.Time     `json:"next_run_at,omitempty"`
	Enabled   bool           `json:"enabled"`
}
