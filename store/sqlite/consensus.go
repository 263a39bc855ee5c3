package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/consensus"
)

// CommitTransition appends a transition to the log and folds it into
// the materialized state.
func (s *Store) CommitTransition(ctx context.Context, t *consensus.Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: commit transition begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var last uint64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM swarm_transitions`).Scan(&last)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: last version: %w", err)
	}
	if t.Version != last+1 {
		return swarm.ErrVersionConflict
	}

	state, err := currentStateTx(ctx, tx)
	if err != nil {
		return err
	}
	state.Apply(t)

	tData, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: marshal transition: %w", err)
	}
	sData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: marshal cluster state: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO swarm_transitions (version, data) VALUES (?, ?)`,
		t.Version, string(tData)); err != nil {
		return fmt.Errorf("swarm/sqlite: insert transition: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO swarm_state (id, data) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		string(sData)); err != nil {
		return fmt.Errorf("swarm/sqlite: update cluster state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("swarm/sqlite: commit transition: %w", err)
	}
	return nil
}

// CurrentState returns a copy of the materialized cluster state.
func (s *Store) CurrentState(ctx context.Context) (*consensus.ClusterState, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM swarm_state WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return consensus.NewClusterState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: get cluster state: %w", err)
	}
	return unmarshalState(data)
}

// LastVersion returns the highest committed version.
func (s *Store) LastVersion(ctx context.Context) (uint64, error) {
	var v uint64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM swarm_transitions`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("swarm/sqlite: last version: %w", err)
	}
	return v, nil
}

// TransitionsSince returns committed transitions after the given
// version, in order.
func (s *Store) TransitionsSince(ctx context.Context, after uint64) ([]*consensus.Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM swarm_transitions WHERE version > ? ORDER BY version ASC`,
		after,
	)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: transitions since: %w", err)
	}
	defer rows.Close()

	out := make([]*consensus.Transition, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("swarm/sqlite: scan transition: %w", err)
		}
		var t consensus.Transition
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("swarm/sqlite: unmarshal transition: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: iterate transitions: %w", err)
	}
	return out, nil
}

func currentStateTx(ctx context.Context, tx *sql.Tx) (*consensus.ClusterState, error) {
	var data string
	err := tx.QueryRowContext(ctx,
		`SELECT data FROM swarm_state WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return consensus.NewClusterState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: get cluster state: %w", err)
	}
	return unmarshalState(data)
}

func unmarshalState(data string) (*consensus.ClusterState, error) {
	var state consensus.ClusterState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: unmarshal cluster state: %w", err)
	}
	if state.Tasks == nil {
		state.Tasks = make(map[string]consensus.TaskSnapshot)
	}
	if state.Workers == nil {
		state.Workers = make(map[string]consensus.WorkerSnapshot)
	}
	return &state, nil
}
