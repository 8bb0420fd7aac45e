package kv

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	version   int64
	expiresAt time.Time // zero = no expiry
}

// MemoryStore is an in-process Store, ideal for local development or tests.
// Expired entries are evicted lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]memoryEntry
	counter int64
	now     func() time.Time
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]memoryEntry), now: time.Now}
}

// live returns the entry for key if present and unexpired. Caller holds mu.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	s.counter++
	e := memoryEntry{value: slices.Clone(value), version: s.counter}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[key] = e
}

// Get returns the entry stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Key: key, Value: slices.Clone(e.value), Version: e.version}, true, nil
}

// Set writes value under key with an optional TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, value, ttl)
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// List returns live entries under prefix in key order.
func (s *MemoryStore) List(_ context.Context, prefix string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if e, ok := s.live(k); ok {
			entries = append(entries, Entry{Key: k, Value: slices.Clone(e.value), Version: e.version})
		}
	}
	return entries, nil
}

// Atomic starts a compare-and-set transaction.
func (s *MemoryStore) Atomic() Tx {
	return &memoryTx{store: s}
}

type txOp struct {
	key    string
	value  []byte
	ttl    time.Duration
	delete bool
}

type memoryTx struct {
	store  *MemoryStore
	checks []Entry
	ops    []txOp
}

func (t *memoryTx) Check(key string, version int64) Tx {
	t.checks = append(t.checks, Entry{Key: key, Version: version})
	return t
}

func (t *memoryTx) Set(key string, value []byte, ttl time.Duration) Tx {
	t.ops = append(t.ops, txOp{key: key, value: value, ttl: ttl})
	return t
}

func (t *memoryTx) Delete(key string) Tx {
	t.ops = append(t.ops, txOp{key: key, delete: true})
	return t
}

func (t *memoryTx) Commit(_ context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, c := range t.checks {
		current := VersionAbsent
		if e, ok := t.store.live(c.Key); ok {
			current = e.version
		}
		if current != c.Version {
			return ErrTxConflict
		}
	}

	for _, op := range t.ops {
		if op.delete {
			delete(t.store.data, op.key)
			continue
		}
		t.store.put(op.key, op.value, op.ttl)
	}
	return nil
}
