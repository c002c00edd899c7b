// Package postgres persists a node's key-value entries in a PostgreSQL
// table. Every row carries the key's ring identifier as fixed-width hex so
// that ownership ranges can be selected with plain comparisons.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"

	_ "github.com/lib/pq"

	"github.com/zde37/chordring/internal/chord"
	"github.com/zde37/chordring/pkg"
	"github.com/zde37/chordring/pkg/hash"
)

var (
	readSQL = `
SELECT value
FROM %s
WHERE key_id = $1 AND key = $2;`

	writeSQL = `
INSERT INTO %s (key_id, key, value)
VALUES ($1, $2, $3)
ON CONFLICT (key_id, key)
DO UPDATE SET
    value = EXCLUDED.value,
    updated_at = now();`

	deleteSQL = `
DELETE FROM %s
WHERE key_id = $1 AND key = $2;`

	countSQL = `SELECT COUNT(*) FROM %s;`
)

// Range predicates over key_id for (start, end]. A wrapping range becomes
// a disjunction; start == end selects everything.
const (
	rangeInner = `key_id > $1 AND key_id <= $2`
	rangeWrap  = `(key_id > $1 OR key_id <= $2)`
	rangeAll   = `($1::text IS NOT NULL AND $2::text IS NOT NULL)`
)

// Store implements chord.Store over a PostgreSQL table.
type Store struct {
	db        *sql.DB
	space     *hash.Space
	tableName string
}

var _ chord.Store = (*Store)(nil)

// New wraps an open database. The table must already exist; see Migrate.
func New(db *sql.DB, tableName string, space *hash.Space) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if space == nil {
		return nil, fmt.Errorf("identifier space cannot be nil")
	}
	if err := validateTableName(tableName); err != nil {
		return nil, err
	}
	return &Store{db: db, space: space, tableName: tableName}, nil
}

// Open connects to databaseURL, checks the connection and creates the
// table when missing.
func Open(ctx context.Context, databaseURL, tableName string, space *hash.Space) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(ctx, db, tableName); err != nil {
		db.Close()
		return nil, err
	}

	store, err := New(db, tableName, space)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// OpenNodeStores opens the primary and replica stores of one node. Both
// share a connection pool; replicas live in "<table>_replicas".
func OpenNodeStores(ctx context.Context, databaseURL, tableName string, space *hash.Space) (*Store, *Store, error) {
	primary, err := Open(ctx, databaseURL, tableName, space)
	if err != nil {
		return nil, nil, err
	}

	replicaTable := tableName + "_replicas"
	if err := Migrate(ctx, primary.db, replicaTable); err != nil {
		primary.Close()
		return nil, nil, err
	}

	replicas, err := New(primary.db, replicaTable, space)
	if err != nil {
		primary.Close()
		return nil, nil, err
	}
	return primary, replicas, nil
}

func (s *Store) keyID(key string) string {
	return s.space.Hex(s.space.HashString(key))
}

// Read returns pkg.ErrKeyNotFound when the key is absent.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	var (
		query = fmt.Sprintf(readSQL, s.tableName)
		value []byte
		err   = s.db.QueryRowContext(ctx, query, s.keyID(key), key).Scan(&value)
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkg.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Write upserts a value.
func (s *Store) Write(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	query := fmt.Sprintf(writeSQL, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, s.keyID(key), key, value); err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(deleteSQL, s.tableName)
	if _, err := s.db.ExecContext(ctx, query, s.keyID(key), key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// rangeClause returns the WHERE predicate and its two arguments for (start, end].
func (s *Store) rangeClause(start, end *big.Int) (string, string, string) {
	startHex, endHex := s.space.Hex(start), s.space.Hex(end)
	switch {
	case startHex < endHex:
		return rangeInner, startHex, endHex
	case startHex > endHex:
		return rangeWrap, startHex, endHex
	default:
		return rangeAll, startHex, endHex
	}
}

// TransferRange returns the entries in (start, end], ordered by identifier.
func (s *Store) TransferRange(ctx context.Context, start, end *big.Int) ([]chord.KeyValue, error) {
	var (
		clause, from, to = s.rangeClause(start, end)
		query            = fmt.Sprintf("SELECT key, value FROM %s WHERE %s ORDER BY key_id ASC, key ASC;", s.tableName, clause)
	)

	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to select range: %w", err)
	}
	defer rows.Close()

	items := make([]chord.KeyValue, 0)
	for rows.Next() {
		var item chord.KeyValue
		if err := rows.Scan(&item.Key, &item.Value); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if item.Value == nil {
			item.Value = []byte{}
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return items, nil
}

// DeleteRange removes the entries in (start, end].
func (s *Store) DeleteRange(ctx context.Context, start, end *big.Int) (int, error) {
	var (
		clause, from, to = s.rangeClause(start, end)
		query            = fmt.Sprintf("DELETE FROM %s WHERE %s;", s.tableName, clause)
	)

	result, err := s.db.ExecContext(ctx, query, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to delete range: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	return int(affected), nil
}

// Len returns the number of stored entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf(countSQL, s.tableName)
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
