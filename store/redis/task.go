package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/task"
)

// CreateTask persists a new task as a JSON value.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	tID := t.ID.String()
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("swarm/redis: marshal task: %w", err)
	}

	ok, err := s.client.SetNX(ctx, taskKey(tID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("swarm/redis: create task: %w", err)
	}
	if !ok {
		return swarm.ErrDuplicateTask
	}
	if err := s.client.SAdd(ctx, taskIDsKey, tID).Err(); err != nil {
		return fmt.Errorf("swarm/redis: index task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	return s.getTaskByKey(ctx, taskKey(taskID.String()))
}

// UpdateTask persists changes to an existing task.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	key := taskKey(t.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("swarm/redis: update task exists: %w", err)
	}
	if exists == 0 {
		return swarm.ErrTaskNotFound
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("swarm/redis: marshal task: %w", err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("swarm/redis: update task: %w", err)
	}
	return nil
}

// DeleteTask removes a task by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	tID := taskID.String()

	n, err := s.client.Del(ctx, taskKey(tID)).Result()
	if err != nil {
		return fmt.Errorf("swarm/redis: delete task: %w", err)
	}
	if n == 0 {
		return swarm.ErrTaskNotFound
	}
	if err := s.client.SRem(ctx, taskIDsKey, tID).Err(); err != nil {
		return fmt.Errorf("swarm/redis: deindex task: %w", err)
	}
	return nil
}

// ListTasksByState returns tasks in the given state, priority descending
// then creation time ascending.
func (s *Store) ListTasksByState(ctx context.Context, state task.State, opts task.ListOpts) ([]*task.Task, error) {
	all, err := s.listAllTasks(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*task.Task, 0)
	for _, t := range all {
		if t.State == state {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		if matched[i].Priority != matched[k].Priority {
			return matched[i].Priority > matched[k].Priority
		}
		return matched[i].CreatedAt.Before(matched[k].CreatedAt)
	})
	return paginate(matched, opts.Offset, opts.Limit), nil
}

// ListTasksByNode returns tasks currently assigned to the given node.
func (s *Store) ListTasksByNode(ctx context.Context, nodeID id.NodeID) ([]*task.Task, error) {
	all, err := s.listAllTasks(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*task.Task, 0)
	for _, t := range all {
		if t.AssignedNode == nodeID && t.State.InFlight() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}

// CountTasks returns the number of tasks matching the options.
func (s *Store) CountTasks(ctx context.Context, opts task.CountOpts) (int64, error) {
	if opts.State == "" {
		n, err := s.client.SCard(ctx, taskIDsKey).Result()
		if err != nil {
			return 0, fmt.Errorf("swarm/redis: count tasks: %w", err)
		}
		return n, nil
	}

	all, err := s.listAllTasks(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, t := range all {
		if t.State == opts.State {
			n++
		}
	}
	return n, nil
}

func (s *Store) getTaskByKey(ctx context.Context, key string) (*task.Task, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, swarm.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: get task: %w", err)
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("swarm/redis: unmarshal task: %w", err)
	}
	return &t, nil
}

func (s *Store) listAllTasks(ctx context.Context) ([]*task.Task, error) {
	ids, err := s.client.SMembers(ctx, taskIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: list task ids: %w", err)
	}

	out := make([]*task.Task, 0, len(ids))
	for _, tID := range ids {
		t, err := s.getTaskByKey(ctx, taskKey(tID))
		if errors.Is(err, swarm.ErrTaskNotFound) {
			// Deleted between SMembers and Get.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// paginate applies offset and limit to a sorted slice.
func paginate[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return nil
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
