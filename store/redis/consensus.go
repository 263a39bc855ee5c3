package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/consensus"
)

// CommitTransition appends a transition to the log and folds it into
// the materialized state. The coordinator is the only writer, so the
// read-check-write here does not race in practice.
func (s *Store) CommitTransition(ctx context.Context, t *consensus.Transition) error {
	last, err := s.LastVersion(ctx)
	if err != nil {
		return err
	}
	if t.Version != last+1 {
		return swarm.ErrVersionConflict
	}

	state, err := s.CurrentState(ctx)
	if err != nil {
		return err
	}
	state.Apply(t)

	tData, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("swarm/redis: marshal transition: %w", err)
	}
	sData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("swarm/redis: marshal cluster state: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, transitionKey(strconv.FormatUint(t.Version, 10)), tData, 0)
	pipe.Set(ctx, versionKey, t.Version, 0)
	pipe.Set(ctx, stateKey, sData, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("swarm/redis: commit transition: %w", err)
	}
	return nil
}

// CurrentState returns a copy of the materialized cluster state.
func (s *Store) CurrentState(ctx context.Context) (*consensus.ClusterState, error) {
	data, err := s.client.Get(ctx, stateKey).Bytes()
	if errors.Is(err, goredis.Nil) {
		return consensus.NewClusterState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: get cluster state: %w", err)
	}
	var state consensus.ClusterState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("swarm/redis: unmarshal cluster state: %w", err)
	}
	if state.Tasks == nil {
		state.Tasks = make(map[string]consensus.TaskSnapshot)
	}
	if state.Workers == nil {
		state.Workers = make(map[string]consensus.WorkerSnapshot)
	}
	return &state, nil
}

// LastVersion returns the highest committed version.
func (s *Store) LastVersion(ctx context.Context) (uint64, error) {
	v, err := s.client.Get(ctx, versionKey).Uint64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("swarm/redis: get last version: %w", err)
	}
	return v, nil
}

// TransitionsSince returns committed transitions after the given
// version, in order.
func (s *Store) TransitionsSince(ctx context.Context, after uint64) ([]*consensus.Transition, error) {
	last, err := s.LastVersion(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*consensus.Transition, 0)
	for v := after + 1; v <= last; v++ {
		data, err := s.client.Get(ctx, transitionKey(strconv.FormatUint(v, 10))).Bytes()
		if err != nil {
			return nil, fmt.Errorf("swarm/redis: get transition %d: %w", v, err)
		}
		var t consensus.Transition
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("swarm/redis: unmarshal transition %d: %w", v, err)
		}
		out = append(out, &t)
	}
	return out, nil
}
