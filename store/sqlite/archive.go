package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/archive"
	"github.com/hugoboss23-5/swarm/id"
)

// PushArchive adds a terminal task entry to the archive.
func (s *Store) PushArchive(ctx context.Context, entry *archive.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: marshal archive entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO swarm_archive (id, final_state, archived_at, data)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET final_state = excluded.final_state,
		                               archived_at = excluded.archived_at,
		                               data = excluded.data`,
		entry.ID.String(), entry.FinalState, entry.ArchivedAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: push archive: %w", err)
	}
	return nil
}

// ListArchive returns archive entries matching the options, newest first.
func (s *Store) ListArchive(ctx context.Context, opts archive.ListOpts) ([]*archive.Entry, error) {
	q := `SELECT data FROM swarm_archive`
	args := []any{}
	if opts.FinalState != "" {
		q += ` WHERE final_state = ?`
		args = append(args, opts.FinalState)
	}
	q += ` ORDER BY archived_at DESC`
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit == 0 {
			limit = -1
		}
		q += ` LIMIT ? OFFSET ?`
		args = append(args, limit, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: list archive: %w", err)
	}
	defer rows.Close()

	out := make([]*archive.Entry, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("swarm/sqlite: scan archive entry: %w", err)
		}
		var e archive.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("swarm/sqlite: unmarshal archive entry: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: iterate archive: %w", err)
	}
	return out, nil
}

// GetArchive retrieves an archive entry by ID.
func (s *Store) GetArchive(ctx context.Context, entryID id.ArchiveID) (*archive.Entry, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM swarm_archive WHERE id = ?`, entryID.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swarm.ErrArchiveNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: get archive entry: %w", err)
	}
	var e archive.Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: unmarshal archive entry: %w", err)
	}
	return &e, nil
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
		return fmt.Errorf("swarm/sqlite: marshal archive entry: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE swarm_archive SET data = ? WHERE id = ?`,
		string(data), entryID.String()); err != nil {
		return fmt.Errorf("swarm/sqlite: mark replayed: %w", err)
	}
	return nil
}

// PurgeArchive removes entries archived before the given time.
func (s *Store) PurgeArchive(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM swarm_archive WHERE archived_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("swarm/sqlite: purge archive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("swarm/sqlite: purge archive rows: %w", err)
	}
	return n, nil
}

// CountArchive returns the total number of archived entries.
func (s *Store) CountArchive(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM swarm_archive`).Scan(&n); err != nil {
		return 0, fmt.Errorf("swarm/sqlite: count archive: %w", err)
	}
	return n, nil
}
