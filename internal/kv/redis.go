package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on top of a Redis server. Each value is stored
// as a small JSON envelope carrying its version, since Redis has no native
// per-key version stamp. Compare-and-set transactions use optimistic locking
// (WATCH + MULTI/EXEC).
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisEnvelope struct {
	Version int64           `json:"v"`
	Payload json.RawMessage `json:"p"`
}

func encodeEnvelope(value []byte, version int64) ([]byte, error) {
	return json.Marshal(redisEnvelope{Version: version, Payload: value})
}

func decodeEnvelope(raw []byte) (redisEnvelope, error) {
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return redisEnvelope{}, fmt.Errorf("kv: decode redis envelope: %w", err)
	}
	return env, nil
}

func nextVersion() int64 {
	return time.Now().UnixNano()
}

// Get returns the entry stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("kv: redis get %q: %w", key, err)
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Key: key, Value: env.Payload, Version: env.Version}, true, nil
}

// Set writes value under key with an optional TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	raw, err := encodeEnvelope(value, nextVersion())
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("kv: redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv: redis del %q: %w", key, err)
	}
	return nil
}

// List scans for keys under prefix and returns their entries in key order.
func (s *RedisStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kv: redis scan %q: %w", prefix, err)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		entry, found, err := s.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		// Keys can expire between SCAN and GET.
		if found {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Atomic starts a compare-and-set transaction.
func (s *RedisStore) Atomic() Tx {
	return &redisTx{store: s}
}

type redisTx struct {
	store  *RedisStore
	checks []Entry
	ops    []txOp
}

func (t *redisTx) Check(key string, version int64) Tx {
	t.checks = append(t.checks, Entry{Key: key, Version: version})
	return t
}

func (t *redisTx) Set(key string, value []byte, ttl time.Duration) Tx {
	t.ops = append(t.ops, txOp{key: key, value: value, ttl: ttl})
	return t
}

func (t *redisTx) Delete(key string) Tx {
	t.ops = append(t.ops, txOp{key: key, delete: true})
	return t
}

func (t *redisTx) Commit(ctx context.Context) error {
	watched := make([]string, 0, len(t.checks))
	for _, c := range t.checks {
		watched = append(watched, c.Key)
	}

	err := t.store.client.Watch(ctx, func(tx *redis.Tx) error {
		for _, c := range t.checks {
			raw, err := tx.Get(ctx, c.Key).Bytes()
			current := VersionAbsent
			switch {
			case errors.Is(err, redis.Nil):
			case err != nil:
				return fmt.Errorf("kv: redis get %q: %w", c.Key, err)
			default:
				env, err := decodeEnvelope(raw)
				if err != nil {
					return err
				}
				current = env.Version
			}
			if current != c.Version {
				return ErrTxConflict
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, op := range t.ops {
				if op.delete {
					pipe.Del(ctx, op.key)
					continue
				}
				raw, err := encodeEnvelope(op.value, nextVersion())
				if err != nil {
					return err
				}
				pipe.Set(ctx, op.key, raw, op.ttl)
			}
			return nil
		})
		return err
	}, watched...)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrTxConflict
	}
	return err
}
