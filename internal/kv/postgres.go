package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore implements Store over a single kv_entries table. Rows carry a
// monotonically increasing per-key version and an optional expires_at; expired
// rows are treated as absent and overwritten in place.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an existing connection pool. The kv_entries table is
// created by the bundled migrations.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type kvRow struct {
	Key       string       `db:"key"`
	Value     []byte       `db:"value"`
	Version   int64        `db:"version"`
	ExpiresAt sql.NullTime `db:"expires_at"`
}

const selectLive = `
	SELECT key, value, version, expires_at
	FROM kv_entries
	WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
`

// Get returns the entry stored under key.
func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	var row kvRow
	if err := s.db.GetContext(ctx, &row, selectLive, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("kv: postgres get %q: %w", key, err)
	}
	return Entry{Key: row.Key, Value: row.Value, Version: row.Version}, true, nil
}

const upsertEntry = `
	INSERT INTO kv_entries (key, value, version, expires_at)
	VALUES ($1, $2, 1, $3)
	ON CONFLICT (key) DO UPDATE
	SET value = EXCLUDED.value,
	    version = kv_entries.version + 1,
	    expires_at = EXCLUDED.expires_at
`

func expiry(ttl time.Duration) sql.NullTime {
	if ttl <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Now().Add(ttl), Valid: true}
}

// Set writes value under key with an optional TTL.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if _, err := s.db.ExecContext(ctx, upsertEntry, key, value, expiry(ttl)); err != nil {
		return fmt.Errorf("kv: postgres set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("kv: postgres delete %q: %w", key, err)
	}
	return nil
}

// List returns live entries under prefix in key order.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	const query = `
		SELECT key, value, version, expires_at
		FROM kv_entries
		WHERE key LIKE $1 ESCAPE '\' AND (expires_at IS NULL OR expires_at > now())
		ORDER BY key
	`
	var rows []kvRow
	if err := s.db.SelectContext(ctx, &rows, query, escapeLike(prefix)+"%"); err != nil {
		return nil, fmt.Errorf("kv: postgres list %q: %w", prefix, err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{Key: row.Key, Value: row.Value, Version: row.Version})
	}
	return entries, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Atomic starts a compare-and-set transaction.
func (s *PostgresStore) Atomic() Tx {
	return &postgresTx{store: s}
}

type postgresTx struct {
	store  *PostgresStore
	checks []Entry
	ops    []txOp
}

func (t *postgresTx) Check(key string, version int64) Tx {
	t.checks = append(t.checks, Entry{Key: key, Version: version})
	return t
}

func (t *postgresTx) Set(key string, value []byte, ttl time.Duration) Tx {
	t.ops = append(t.ops, txOp{key: key, value: value, ttl: ttl})
	return t
}

func (t *postgresTx) Delete(key string) Tx {
	t.ops = append(t.ops, txOp{key: key, delete: true})
	return t
}

func (t *postgresTx) Commit(ctx context.Context) error {
	tx, err := t.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("kv: postgres begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// An absent key has no row to FOR UPDATE-lock, so a plain version read
	// cannot serialize two transactions both checking Check(key, absent).
	// Each checked key is therefore guarded by an advisory lock held until
	// commit; the loser blocks here, then re-reads the winner's row and
	// fails the version comparison. Keys are locked in sorted order so two
	// multi-key transactions cannot deadlock.
	locked := make([]string, 0, len(t.checks))
	for _, c := range t.checks {
		locked = append(locked, c.Key)
	}
	sort.Strings(locked)
	for _, key := range locked {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("kv: postgres advisory lock %q: %w", key, err)
		}
	}

	// FOR UPDATE still matters for present rows: it blocks a concurrent
	// non-transactional Set between this read and the writes below.
	const selectVersion = `
		SELECT version
		FROM kv_entries
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())
		FOR UPDATE
	`
	for _, c := range t.checks {
		var current int64
		err := tx.GetContext(ctx, &current, selectVersion, c.Key)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			current = VersionAbsent
		case err != nil:
			return fmt.Errorf("kv: postgres check %q: %w", c.Key, err)
		}
		if current != c.Version {
			return ErrTxConflict
		}
	}

	for _, op := range t.ops {
		if op.delete {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, op.key); err != nil {
				return fmt.Errorf("kv: postgres delete %q: %w", op.key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertEntry, op.key, op.value, expiry(op.ttl)); err != nil {
			return fmt.Errorf("kv: postgres set %q: %w", op.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("kv: postgres commit: %w", err)
	}
	return nil
}
