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
	"github.com/hugoboss23-5/swarm/lock"
)

// Lock rows carry their own expires_at; expiry is decided by reading
// it back, never by deleting rows out of band. Fencing counters live
// in swarm_fences so they survive lock row deletion.

// AcquireLock grants the (node, resource) key if no unexpired holder
// exists, stamping the next fencing token for the key.
func (s *Store) AcquireLock(ctx context.Context, nodeID id.NodeID, resource string, holder id.TaskID, lease time.Duration) (*lock.Lock, error) {
	key := lock.Key(nodeID, resource)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: acquire lock begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	existing, err := getLockTx(ctx, tx, key)
	if err != nil && !errors.Is(err, swarm.ErrLockNotFound) {
		return nil, err
	}
	if existing != nil && !existing.Expired(now) {
		return nil, swarm.ErrLockDenied
	}

	var token uint64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO swarm_fences (key, counter) VALUES (?, 1)
		 ON CONFLICT(key) DO UPDATE SET counter = counter + 1
		 RETURNING counter`,
		key,
	).Scan(&token)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: next fencing token: %w", err)
	}

	l := &lock.Lock{
		Node:      nodeID,
		Resource:  resource,
		Holder:    holder,
		Token:     token,
		ExpiresAt: now.Add(lease),
	}
	if err := putLockTx(ctx, tx, key, l); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: acquire lock commit: %w", err)
	}
	return l, nil
}

// RenewLock extends the lease if token matches the current holder.
func (s *Store) RenewLock(ctx context.Context, nodeID id.NodeID, resource string, token uint64, lease time.Duration) (*lock.Lock, error) {
	key := lock.Key(nodeID, resource)
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: renew lock begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := getLockTx(ctx, tx, key)
	if errors.Is(err, swarm.ErrLockNotFound) {
		return nil, swarm.ErrStaleToken
	}
	if err != nil {
		return nil, err
	}
	if existing.Expired(now) || existing.Token != token {
		return nil, swarm.ErrStaleToken
	}

	existing.ExpiresAt = now.Add(lease)
	if err := putLockTx(ctx, tx, key, existing); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: renew lock commit: %w", err)
	}
	return existing, nil
}

// ReleaseLock frees the key if token matches. Mismatch is a no-op.
func (s *Store) ReleaseLock(ctx context.Context, nodeID id.NodeID, resource string, token uint64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM swarm_locks WHERE key = ? AND token = ?`,
		lock.Key(nodeID, resource), token,
	)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: release lock: %w", err)
	}
	return nil
}

// GetLock returns the lock record for the key, expired or not.
func (s *Store) GetLock(ctx context.Context, nodeID id.NodeID, resource string) (*lock.Lock, error) {
	key := lock.Key(nodeID, resource)
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM swarm_locks WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swarm.ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: get lock: %w", err)
	}
	return unmarshalLock(data)
}

// ExpireLocks removes locks whose lease lapsed before now and returns
// them. Fencing counters survive removal.
func (s *Store) ExpireLocks(ctx context.Context, now time.Time) ([]*lock.Lock, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: expire locks begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`SELECT data FROM swarm_locks WHERE expires_at <= ? ORDER BY key ASC`,
		now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: expire locks query: %w", err)
	}
	expired := make([]*lock.Lock, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			return nil, fmt.Errorf("swarm/sqlite: scan lock: %w", err)
		}
		l, err := unmarshalLock(data)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: iterate locks: %w", err)
	}

	if len(expired) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM swarm_locks WHERE expires_at <= ?`, now.UnixNano()); err != nil {
			return nil, fmt.Errorf("swarm/sqlite: expire locks delete: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: expire locks commit: %w", err)
	}
	return expired, nil
}

func getLockTx(ctx context.Context, tx *sql.Tx, key string) (*lock.Lock, error) {
	var data string
	err := tx.QueryRowContext(ctx,
		`SELECT data FROM swarm_locks WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swarm.ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/sqlite: get lock: %w", err)
	}
	return unmarshalLock(data)
}

func putLockTx(ctx context.Context, tx *sql.Tx, key string, l *lock.Lock) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: marshal lock: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO swarm_locks (key, token, expires_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET token = excluded.token,
		                                expires_at = excluded.expires_at,
		                                data = excluded.data`,
		key, l.Token, l.ExpiresAt.UnixNano(), string(data),
	)
	if err != nil {
		return fmt.Errorf("swarm/sqlite: put lock: %w", err)
	}
	return nil
}

func unmarshalLock(data string) (*lock.Lock, error) {
	var l lock.Lock
	if err := json.Unmarshal([]byte(data), &l); err != nil {
		return nil, fmt.Errorf("swarm/sqlite: unmarshal lock: %w", err)
	}
	return &l, nil
}
