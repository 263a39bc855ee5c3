package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/node"
)

// RegisterNode adds a worker node.
func (s *Store) RegisterNode(ctx context.Context, w *node.WorkerNode) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: marshal node: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO swarm_nodes (id, state, last_heartbeat, data) VALUES (?, ?, ?, ?)`,
		w.ID.String(), string(w.State), w.LastHeartbeat.UnixNano(), string(data),
	)
	if isConstraintErr(err) {
		return swarm.ErrDuplicateNode
	}
	if err != nil {
		return fmt.Errorf("swarm/sqlite: register node: %w", err)
	}
	return nil
}

// DeregisterNode removes a worker node.
func (s *Store) DeregisterNode(ctx context.Context, nodeID id.NodeID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM swarm_nodes WHERE id = ?`, nodeID.String())
	if err != nil {
		return fmt.Errorf("swarm/sqlite: deregister node: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swarm/sqlite: deregister node rows: %w", err)
	}
	if n == 0 {
		return swarm.ErrNodeNotFound
	}
	return nil
}

// GetNode retrieves a worker node by ID.
func (s *Store) GetNode(ctx context.Context, nodeID id.NodeID) (*node.WorkerNode, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM swarm_nodes WHERE id = ?`, nodeID.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swarm.ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: get node: %w", err)
	}
	return unmarshalNode(data)
}

// UpdateNode persists changes to an existing worker node.
func (s *Store) UpdateNode(ctx context.Context, w *node.WorkerNode) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: marshal node: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE swarm_nodes SET state = ?, last_heartbeat = ?, data = ? WHERE id = ?`,
		string(w.State), w.LastHeartbeat.UnixNano(), string(data), w.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: update node: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swarm/sqlite: update node rows: %w", err)
	}
	if n == 0 {
		return swarm.ErrNodeNotFound
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM swarm_nodes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: list nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// ReapSilentNodes returns active nodes whose last heartbeat is older
// than the threshold.
func (s *Store) ReapSilentNodes(ctx context.Context, threshold time.Duration) ([]*node.WorkerNode, error) {
	cutoff := time.Now().UTC().Add(-threshold).UnixNano()
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM swarm_nodes
		 WHERE state = ? AND last_heartbeat < ?
		 ORDER BY id ASC`,
		string(node.NodeActive), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: reap silent nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

func unmarshalNode(data string) (*node.WorkerNode, error) {
	var w node.WorkerNode
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: unmarshal node: %w", err)
	}
	return &w, nil
}

func scanNodes(rows *sql.Rows) ([]*node.WorkerNode, error) {
	out := make([]*node.WorkerNode, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("swarm/sqlite: scan node: %w", err)
		}
		w, err := unmarshalNode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: iterate nodes: %w", err)
	}
	return out, nil
}
