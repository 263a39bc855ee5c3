package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/task"
)

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: marshal task: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO swarm_tasks (id, state, assigned_node, priority, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID.String(), string(t.State), t.AssignedNode.String(),
		t.Priority, t.CreatedAt.UnixNano(), string(data),
	)
	if isConstraintErr(err) {
		return swarm.ErrDuplicateTask
	}
	if err != nil {
		return fmt.Errorf("swarm/sqlite: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT data FROM swarm_tasks WHERE id = ?`, taskID.String())
	return scanTask(row)
}

// UpdateTask persists changes to an existing task.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: marshal task: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE swarm_tasks SET state = ?, assigned_node = ?, priority = ?, data = ?
		 WHERE id = ?`,
		string(t.State), t.AssignedNode.String(), t.Priority, string(data), t.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swarm/sqlite: update task rows: %w", err)
	}
	if n == 0 {
		return swarm.ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a task by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM swarm_tasks WHERE id = ?`, taskID.String())
	if err != nil {
		return fmt.Errorf("swarm/sqlite: delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swarm/sqlite: delete task rows: %w", err)
	}
	if n == 0 {
		return swarm.ErrTaskNotFound
	}
	return nil
}

// ListTasksByState returns tasks in the given state, priority descending
// then creation time ascending.
func (s *Store) ListTasksByState(ctx context.Context, state task.State, opts task.ListOpts) ([]*task.Task, error) {
	q := `SELECT data FROM swarm_tasks WHERE state = ?
	      ORDER BY priority DESC, created_at ASC`
	args := []any{string(state)}
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit == 0 {
			limit = -1 // no limit, offset still applies
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: list tasks by state: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// ListTasksByNode returns tasks currently assigned to the given node.
func (s *Store) ListTasksByNode(ctx context.Context, nodeID id.NodeID) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM swarm_tasks
		 WHERE assigned_node = ? AND state IN (?, ?, ?)
		 ORDER BY id ASC`,
		nodeID.String(),
		string(task.StateAssigned), string(task.StateLocked), string(task.StateExecuting),
	)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: list tasks by node: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// CountTasks returns the number of tasks matching the options.
func (s *Store) CountTasks(ctx context.Context, opts task.CountOpts) (int64, error) {
	q := `SELECT COUNT(*) FROM swarm_tasks`
	args := []any{}
	if opts.State != "" {
		q += ` WHERE state = ?`
		args = append(args, string(opts.State))
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("swarm/sqlite: count tasks: %w", err)
	}
	return n, nil
}

func scanTask(row *sql.Row) (*task.Task, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, swarm.ErrTaskNotFound
		}
		return nil, fmt.Errorf("swarm/sqlite: scan task: %w", err)
	}
	var t task.Task
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: unmarshal task: %w", err)
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	out := make([]*task.Task, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("swarm/sqlite: scan task: %w", err)
		}
		var t task.Task
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("swarm/sqlite: unmarshal task: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: iterate tasks: %w", err)
	}
	return out, nil
}
