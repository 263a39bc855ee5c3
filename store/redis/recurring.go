package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/recurring"
)

// RegisterRecurring persists a new recurring entry. Names are unique
// case-insensitively, enforced through a Hash of lowercased names.
func (s *Store) RegisterRecurring(ctx context.Context, entry *recurring.Entry) error {
	eID := entry.ID.String()

	exists, err := s.client.Exists(ctx, recurKey(eID)).Result()
	if err != nil {
		return fmt.Errorf("swarm/redis: register recurring exists: %w", err)
	}
	if exists > 0 {
		return swarm.ErrDuplicateRecurring
	}

	claimed, err := s.client.HSetNX(ctx, recurNamesKey, strings.ToLower(entry.Name), eID).Result()
	if err != nil {
		return fmt.Errorf("swarm/redis: claim recurring name: %w", err)
	}
	if !claimed {
		return swarm.ErrDuplicateRecurring
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("swarm/redis: marshal recurring entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, recurKey(eID), data, 0)
	pipe.SAdd(ctx, recurIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("swarm/redis: register recurring: %w", err)
	}
	return nil
}

// GetRecurring retrieves a recurring entry by ID.
func (s *Store) GetRecurring(ctx context.Context, entryID id.RecurringID) (*recurring.Entry, error) {
	return s.getRecurringByKey(ctx, recurKey(entryID.String()))
}

// ListRecurring returns all recurring entries ordered by name.
func (s *Store) ListRecurring(ctx context.Context) ([]*recurring.Entry, error) {
	ids, err := s.client.SMembers(ctx, recurIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: list recurring ids: %w", err)
	}

	out := make([]*recurring.Entry, 0, len(ids))
	for _, eID := range ids {
		e, err := s.getRecurringByKey(ctx, recurKey(eID))
		if errors.Is(err, swarm.ErrRecurringNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].Name < out[k].Name
	})
	return out, nil
}

// UpdateRecurring updates a recurring entry.
func (s *Store) UpdateRecurring(ctx context.Context, entry *recurring.Entry) error {
	key := recurKey(entry.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("swarm/redis: update recurring exists: %w", err)
	}
	if exists == 0 {
		return swarm.ErrRecurringNotFound
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("swarm/redis: marshal recurring entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("swarm/redis: update recurring: %w", err)
	}
	return nil
}

// UpdateRecurringLastRun records when a recurring entry last fired.
func (s *Store) UpdateRecurringLastRun(ctx context.Context, entryID id.RecurringID, at time.Time) error {
	e, err := s.GetRecurring(ctx, entryID)
	if err != nil {
		return err
	}
	e.LastRunAt = &at
	e.UpdatedAt = at
	return s.UpdateRecurring(ctx, e)
}

// DeleteRecurring removes a recurring entry by ID.
func (s *Store) DeleteRecurring(ctx context.Context, entryID id.RecurringID) error {
	eID := entryID.String()

	e, err := s.GetRecurring(ctx, entryID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, recurKey(eID))
	pipe.SRem(ctx, recurIDsKey, eID)
	pipe.HDel(ctx, recurNamesKey, strings.ToLower(e.Name))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("swarm/redis: delete recurring: %w", err)
	}
	return nil
}

func (s *Store) getRecurringByKey(ctx context.Context, key string) (*recurring.Entry, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, swarm.ErrRecurringNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: get recurring entry: %w", err)
	}
	var e recurring.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("swarm/redis: unmarshal recurring entry: %w", err)
	}
	return &e, nil
}
