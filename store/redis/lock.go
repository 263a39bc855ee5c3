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
	"github.com/hugoboss23-5/swarm/lock"
)

// Lock records carry their own expiry rather than a Redis TTL: the
// lock manager's sweep needs to read back lapsed locks to emit expiry
// events, and a TTL would delete them silently. Fencing counters live
// under separate keys driven by INCR, so tokens keep increasing after
// a lock record is gone.
//
// Every check-then-write on a lock runs as one Lua script. Concurrent
// acquirers racing on the same key would otherwise both pass the
// holder check and both walk away granted. Expiry timestamps are
// stored as Unix milliseconds so the scripts can compare them
// numerically.

// lockRecord is the stored shape of a lock. cjson round-trips it
// inside the scripts, so every field stays a plain string or number.
type lockRecord struct {
	Node      string `json:"node"`
	Resource  string `json:"resource"`
	Holder    string `json:"holder"`
	Token     uint64 `json:"token"`
	ExpiresAt int64  `json:"expires_at"` // unix milliseconds
}

// acquireScript grants the key unless an unexpired holder exists,
// bumping the fence counter and writing the record in the same step.
// Returns the granted token, or 0 when denied.
//
// KEYS: lock record, fence counter, lock index.
// ARGV: now (ms), node, resource, holder, expiry (ms), index member.
var acquireScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local rec = cjson.decode(cur)
	if tonumber(rec.expires_at) > tonumber(ARGV[1]) then
		return 0
	end
end
local token = redis.call('INCR', KEYS[2])
redis.call('SET', KEYS[1], cjson.encode({
	node = ARGV[2],
	resource = ARGV[3],
	holder = ARGV[4],
	token = token,
	expires_at = tonumber(ARGV[5]),
}))
redis.call('SADD', KEYS[3], ARGV[6])
return token
`)

// renewScript extends the lease when the token matches the live
// holder. Returns the updated record, or false for a stale token.
//
// KEYS: lock record. ARGV: token, now (ms), new expiry (ms).
var renewScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return false
end
local rec = cjson.decode(cur)
if tonumber(rec.token) ~= tonumber(ARGV[1]) or tonumber(rec.expires_at) <= tonumber(ARGV[2]) then
	return false
end
rec.expires_at = tonumber(ARGV[3])
local enc = cjson.encode(rec)
redis.call('SET', KEYS[1], enc)
return enc
`)

// releaseScript deletes the record only while the token still matches,
// so a superseded holder (or a sweep racing a renew) can never drop a
// successor's lock. Returns 1 when the record was removed.
//
// KEYS: lock record, lock index. ARGV: token, index member.
var releaseScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return 0
end
local rec = cjson.decode(cur)
if tonumber(rec.token) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

// AcquireLock grants the (node, resource) key if no unexpired holder
// exists, stamping the next fencing token for the key.
func (s *Store) AcquireLock(ctx context.Context, nodeID id.NodeID, resource string, holder id.TaskID, lease time.Duration) (*lock.Lock, error) {
	key := lock.Key(nodeID, resource)
	now := time.Now().UTC()
	expires := now.Add(lease).Truncate(time.Millisecond)

	token, err := acquireScript.Run(ctx, s.client,
		[]string{lockKey(key), fenceKey(key), lockIdxKey},
		now.UnixMilli(), nodeID.String(), resource, holder.String(), expires.UnixMilli(), key,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: acquire lock: %w", err)
	}
	if token == 0 {
		return nil, swarm.ErrLockDenied
	}
	return &lock.Lock{
		Node:      nodeID,
		Resource:  resource,
		Holder:    holder,
		Token:     uint64(token),
		ExpiresAt: expires,
	}, nil
}

// RenewLock extends the lease if token matches the current holder.
func (s *Store) RenewLock(ctx context.Context, nodeID id.NodeID, resource string, token uint64, lease time.Duration) (*lock.Lock, error) {
	key := lock.Key(nodeID, resource)
	now := time.Now().UTC()
	expires := now.Add(lease).Truncate(time.Millisecond)

	data, err := renewScript.Run(ctx, s.client,
		[]string{lockKey(key)},
		token, now.UnixMilli(), expires.UnixMilli(),
	).Text()
	if errors.Is(err, goredis.Nil) {
		return nil, swarm.ErrStaleToken
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: renew lock: %w", err)
	}
	return unmarshalLock([]byte(data))
}

// ReleaseLock frees the key if token matches. Mismatch is a no-op.
func (s *Store) ReleaseLock(ctx context.Context, nodeID id.NodeID, resource string, token uint64) error {
	key := lock.Key(nodeID, resource)
	if _, err := releaseScript.Run(ctx, s.client,
		[]string{lockKey(key), lockIdxKey},
		token, key,
	).Int64(); err != nil {
		return fmt.Errorf("swarm/redis: release lock: %w", err)
	}
	return nil
}

// GetLock returns the lock record for the key, expired or not.
func (s *Store) GetLock(ctx context.Context, nodeID id.NodeID, resource string) (*lock.Lock, error) {
	return s.getLockByKey(ctx, lock.Key(nodeID, resource))
}

// ExpireLocks removes locks whose lease lapsed before now and returns
// them. Fencing counters survive removal. Each drop is token-guarded,
// so a lease renewed between the read and the drop stays put.
func (s *Store) ExpireLocks(ctx context.Context, now time.Time) ([]*lock.Lock, error) {
	keys, err := s.client.SMembers(ctx, lockIdxKey).Result()
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: list lock keys: %w", err)
	}

	expired := make([]*lock.Lock, 0)
	for _, key := range keys {
		l, err := s.getLockByKey(ctx, key)
		if errors.Is(err, swarm.ErrLockNotFound) {
			// Index entry outlived the record; clean it up.
			s.client.SRem(ctx, lockIdxKey, key)
			continue
		}
		if err != nil {
			return nil, err
		}
		if !l.Expired(now) {
			continue
		}
		dropped, err := releaseScript.Run(ctx, s.client,
			[]string{lockKey(key), lockIdxKey},
			l.Token, key,
		).Int64()
		if err != nil {
			return nil, fmt.Errorf("swarm/redis: drop expired lock: %w", err)
		}
		if dropped == 1 {
			expired = append(expired, l)
		}
	}
	sort.Slice(expired, func(i, k int) bool {
		return expired[i].Key() < expired[k].Key()
	})
	return expired, nil
}

func (s *Store) getLockByKey(ctx context.Context, key string) (*lock.Lock, error) {
	data, err := s.client.Get(ctx, lockKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, swarm.ErrLockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: get lock: %w", err)
	}
	return unmarshalLock(data)
}

func unmarshalLock(data []byte) (*lock.Lock, error) {
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("swarm/redis: unmarshal lock: %w", err)
	}
	nodeID, err := id.ParseNodeID(rec.Node)
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: unmarshal lock node: %w", err)
	}
	holder, err := id.ParseTaskID(rec.Holder)
	if err != nil {
		return nil, fmt.Errorf("swarm/redis: unmarshal lock holder: %w", err)
	}
	return &lock.Lock{
		Node:      nodeID,
		Resource:  rec.Resource,
		Holder:    holder,
		Token:     rec.Token,
		ExpiresAt: time.UnixMilli(rec.ExpiresAt).UTC(),
	}, nil
}
