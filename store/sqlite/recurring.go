package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	swarm "github.com/hugoboss23-5/swarm"
	"github.com/hugoboss23-5/swarm/id"
	"github.com/hugoboss23-5/swarm/recurring"
)

// RegisterRecurring persists a new recurring entry. Names are unique
// case-insensitively through the name_lower column.
func (s *Store) RegisterRecurring(ctx context.Context, entry *recurring.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: marshal recurring entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO swarm_recurring (id, name_lower, data) VALUES (?, ?, ?)`,
		entry.ID.String(), strings.ToLower(entry.Name), string(data),
	)
	if isConstraintErr(err) {
		return swarm.ErrDuplicateRecurring
	}
	if err != nil {
		return fmt.Errorf("swarm/sqlite: register recurring: %w", err)
	}
	return nil
}

// GetRecurring retrieves a recurring entry by ID.
func (s *Store) GetRecurring(ctx context.Context, entryID id.RecurringID) (*recurring.Entry, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM swarm_recurring WHERE id = ?`, entryID.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swarm.ErrRecurringNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: get recurring entry: %w", err)
	}
	return unmarshalRecurring(data)
}

// ListRecurring returns all recurring entries ordered by name.
func (s *Store) ListRecurring(ctx context.Context) ([]*recurring.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM swarm_recurring ORDER BY name_lower ASC`)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: list recurring: %w", err)
	}
	defer rows.Close()

	out := make([]*recurring.Entry, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("swarm/sqlite: scan recurring entry: %w", err)
		}
		e, err := unmarshalRecurring(data)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: iterate recurring: %w", err)
	}
	return out, nil
}

// UpdateRecurring updates a recurring entry.
func (s *Store) UpdateRecurring(ctx context.Context, entry *recurring.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: marshal recurring entry: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE swarm_recurring SET name_lower = ?, data = ? WHERE id = ?`,
		strings.ToLower(entry.Name), string(data), entry.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: update recurring: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swarm/sqlite: update recurring rows: %w", err)
	}
	if n == 0 {
		return swarm.ErrRecurringNotFound
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
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM swarm_recurring WHERE id = ?`, entryID.String())
	if err != nil {
		return fmt.Errorf("swarm/sqlite: delete recurring: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swarm/sqlite: delete recurring rows: %w", err)
	}
	if n == 0 {
		return swarm.ErrRecurringNotFound
	}
	return nil
}

func unmarshalRecurring(data string) (*recurring.Entry, error) {
	var e recurring.Entry
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: unmarshal recurring entry: %w", err)
	}
	return &e, nil
}
