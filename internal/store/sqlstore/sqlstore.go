// Package sqlstore is the event store's relational driver: sequence as
// primary key, digest as a unique index, payload as a BLOB column.
// Supports SQLite (via the pure-Go modernc.org/sqlite driver, no cgo) and
// Postgres (via jackc/pgx's stdlib adapter) behind the same driver name
// selection the teacher uses for its API-key store.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/toka-systems/toka/internal/store"
	"github.com/toka-systems/toka/internal/types"
)

// Dialect selects which SQL driver and schema dialect to use.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Store is a database/sql-backed event store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn using the given dialect and ensures the schema
// exists.
func Open(dialect Dialect, dsn string) (*Store, error) {
	var driverName string
	switch dialect {
	case DialectSQLite:
		driverName = "sqlite"
	case DialectPostgres:
		driverName = "pgx"
		sql.Register("pgx", stdlib.GetDefaultDriver())
	default:
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", dialect)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	if err := runMigrations(db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: dialect}, nil
}

// Append inserts event, keyed by sequence, with digest enforced unique so
// that a duplicate digest at a different sequence number is detectable
// but still recorded (a distinct row per the append contract).
func (s *Store) Append(ctx context.Context, event types.KernelEvent) error {
	encoded, err := store.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("sqlstore: encode: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kernel_events (sequence, digest, kind, payload, timestamp) VALUES (?, ?, ?, ?, ?)`,
		event.Sequence, event.Digest[:], string(event.Kind), encoded, event.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStoreAppendFailed, err)
	}
	return nil
}

// Load retrieves the event row matching digest.
func (s *Store) Load(ctx context.Context, digest [32]byte) (types.KernelEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM kernel_events WHERE digest = ?`, digest[:])
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.KernelEvent{}, types.ErrNotFound
		}
		return types.KernelEvent{}, fmt.Errorf("sqlstore: load: %w", err)
	}
	return store.DecodeEvent(payload)
}

// Iterate returns rows with sequence > sinceSequence in ascending order.
func (s *Store) Iterate(ctx context.Context, sinceSequence uint64) ([]types.KernelEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM kernel_events WHERE sequence > ? ORDER BY sequence ASC`, sinceSequence)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: iterate: %w", err)
	}
	defer rows.Close()

	var out []types.KernelEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		event, err := store.DecodeEvent(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

// Stats reports row count and highest sequence.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var stats store.Stats
	var lastSeq sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(sequence) FROM kernel_events`)
	if err := row.Scan(&stats.Count, &lastSeq); err != nil {
		return store.Stats{}, fmt.Errorf("sqlstore: stats: %w", err)
	}
	if lastSeq.Valid {
		stats.LastSequence = uint64(lastSeq.Int64)
	}
	return stats, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ store.Store = (*Store)(nil)
