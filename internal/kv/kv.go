package kv

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrTxConflict is returned by Tx.Commit when a version check fails or the
// store detects a concurrent modification of a watched key.
var ErrTxConflict = errors.New("kv: transaction conflict")

// VersionAbsent is the version a Check must expect for a key that does not exist.
const VersionAbsent int64 = 0

// Entry is a stored key/value pair together with its current version.
// Versions are opaque beyond ordering: a key's version changes on every write
// and is VersionAbsent while the key does not exist.
type Entry struct {
	Key     string
	Value   []byte
	Version int64
}

// Store is the ordered key-value store the application is built on. All
// tenant data, OAuth state and sessions live behind this contract; the
// backends differ only in durability.
type Store interface {
	// Get returns the entry for key. found is false when the key is absent
	// or its TTL has elapsed.
	Get(ctx context.Context, key string) (entry Entry, found bool, err error)

	// Set writes value under key. A ttl of zero means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all live entries whose key starts with prefix, in key order.
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Atomic starts a multi-key compare-and-set transaction.
	Atomic() Tx
}

// Tx accumulates checks and mutations that commit together or not at all.
// Commit returns ErrTxConflict when any Check no longer holds at commit time.
type Tx interface {
	Check(key string, version int64) Tx
	Set(key string, value []byte, ttl time.Duration) Tx
	Delete(key string) Tx
	Commit(ctx context.Context) error
}

// Key joins path segments into a store key. Segments must not contain the
// separator; callers pass IDs and fixed prefixes only.
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}
