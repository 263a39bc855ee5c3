package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/archive"
	"github.com/hugoboss23-5/swarm/id"
)

// PushArchive adds a terminal task entry to the archive. Entries are
// indexed in a Sorted Set scored by ArchivedAt for ordered listing and
// time-based purging.
func (s *Store) PushArchive(ctx context.Context, entry *archive.Entry) error {
	eID := entry.ID.String()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("swarm/redis: marshal archive entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, archiveKey(eID), data, 0)
	pipe.ZAdd(ctx, archiveZKey, goredis.Z{
		Score:  float64(entry.ArchivedAt.UnixNano()),
		Member: eID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("swarm/redis: push archive: %w", err)
	}
	return nil
}

// ListArchive returns archive entries matching the options, newest first.
func (s *Store) ListArchive(ctx context.Context, opts archive.ListOpts) ([]*archive.Entry, error) {
	ids, err := s.client.ZRevRange(ctx, archiveZKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: list archive ids: %w", err)
	}

	matched := make([]*archive.Entry, 0, len(ids))
	for _, eID := range ids {
		e, err := s.getArchiveByKey(ctx, archiveKey(eID))
		if errors.Is(err, swarm.ErrArchiveNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.FinalState != "" && e.FinalState != opts.FinalState {
			continue
		}
		matched = append(matched, e)
	}
	return paginate(matched, opts.Offset, opts.Limit), nil
}

// GetArchive retrieves an archive entry by ID.
func (s *Store) GetArchive(ctx context.Context, entryID id.ArchiveID) (*archive.Entry, error) {
	return s.getArchiveByKey(ctx, archiveKey(entryID.String()))
}

// MarkReplayed stamps ReplayedAt on an archive entry.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.ArchiveID) error {
	e, err := s.GetArchive(ctx, entryID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	e.ReplayedAt = &now

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("swarm/redis: marshal archive entry: %w", err)
	}
	if err := s.client.Set(ctx, archiveKey(entryID.String()), data, 0).Err(); err != nil {
		return fmt.Errorf("swarm/redis: mark replayed: %w", err)
	}
	return nil
}

// PurgeArchive removes entries archived before the given time.
func (s *Store) PurgeArchive(ctx context.Context, before time.Time) (int64, error) {
	max := strconv.FormatInt(before.UnixNano()-1, 10)
	ids, err := s.client.ZRangeByScore(ctx, archiveZKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("swarm/redis: purge archive range: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.TxPipeline()
	for _, eID := range ids {
		pipe.Del(ctx, archiveKey(eID))
		pipe.ZRem(ctx, archiveZKey, eID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("swarm/redis: purge archive: %w", err)
	}
	return int64(len(ids)), nil
}

// CountArchive returns the total number of archived entries.
func (s *Store) CountArchive(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, archiveZKey).Result()
	if err != nil {
		return 0, fmt.Errorf("swarm/redis: count archive: %w", err)
	}
	return n, nil
}

func (s *Store) getArchiveByKey(ctx context.Context, key string) (*archive.Entry, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, swarm.ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: get archive entry: %w", err)
	}
	var e archive.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("swarm/redis: unmarshal archive entry: %w", err)
	}
	return &e, nil
}
