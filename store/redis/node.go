package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/node"
)

// RegisterNode adds a worker node.
func (s *Store) RegisterNode(ctx context.Context, w *node.WorkerNode) error {
	wID := w.ID.String()
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("swarm/redis: marshal node: %w", err)
	}

	ok, err := s.client.SetNX(ctx, nodeKey(wID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("swarm/redis: register node: %w", err)
	}
	if !ok {
		return swarm.ErrDuplicateNode
	}
	if err := s.client.SAdd(ctx, nodeIDsKey, wID).Err(); err != nil {
		return fmt.Errorf("swarm/redis: index node: %w", err)
	}
	return nil
}

// DeregisterNode removes a worker node.
func (s *Store) DeregisterNode(ctx context.Context, nodeID id.NodeID) error {
	wID := nodeID.String()

	n, err := s.client.Del(ctx, nodeKey(wID)).Result()
	if err != nil {
		return fmt.Errorf("swarm/redis: deregister node: %w", err)
	}
	if n == 0 {
		return swarm.ErrNodeNotFound
	}
	if err := s.client.SRem(ctx, nodeIDsKey, wID).Err(); err != nil {
		return fmt.Errorf("swarm/redis: deindex node: %w", err)
	}
	return nil
}

// GetNode retrieves a worker node by ID.
func (s *Store) GetNode(ctx context.Context, nodeID id.NodeID) (*node.WorkerNode, error) {
	return s.getNodeByKey(ctx, nodeKey(nodeID.String()))
}

// UpdateNode persists changes to an existing worker node.
func (s *Store) UpdateNode(ctx context.Context, w *node.WorkerNode) error {
	key := nodeKey(w.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("swarm/redis: update node exists: %w", err)
	}
	if exists == 0 {
		return swarm.ErrNodeNotFound
	}

	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("swarm/redis: marshal node: %w", err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("swarm/redis: update node: %w", err)
	}
	return nil
}

// HeartbeatNode refreshes the last-heartbeat timestamp and load.
func (s *Store) HeartbeatNode(ctx context.Context, nodeID id.NodeID, load int, at time.Time) error {
	w, err := s.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	w.Load = load
	w.LastHeartbeat = at
	w.UpdatedAt = at
	return s.UpdateNode(ctx, w)
}

// ListNodes returns all registered worker nodes ordered by ID.
func (s *Store) ListNodes(ctx context.Context) ([]*node.WorkerNode, error) {
	return s.listAllNodes(ctx)
}

// ReapSilentNodes returns active nodes whose last heartbeat is older
// than the threshold.
func (s *Store) ReapSilentNodes(ctx context.Context, threshold time.Duration) ([]*node.WorkerNode, error) {
	all, err := s.listAllNodes(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	out := make([]*node.WorkerNode, 0)
	for _, w := range all {
		if w.State == node.NodeActive && w.LastHeartbeat.Before(cutoff) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *Store) getNodeByKey(ctx context.Context, key string) (*node.WorkerNode, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, swarm.ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: get node: %w", err)
	}
	var w node.WorkerNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("swarm/redis: unmarshal node: %w", err)
	}
	return &w, nil
}

func (s *Store) listAllNodes(ctx context.Context) ([]*node.WorkerNode, error) {
	ids, err := s.client.SMembers(ctx, nodeIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: list node ids: %w", err)
	}

	out := make([]*node.WorkerNode, 0, len(ids))
	for _, wID := range ids {
		w, err := s.getNodeByKey(ctx, nodeKey(wID))
		if errors.Is(err, swarm.ErrNodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}
