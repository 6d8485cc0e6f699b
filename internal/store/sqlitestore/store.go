// Package sqlitestore is the alternate store.Store backend: a single-table
// SQLite database, grounded on internal/storage/sqlite/connection.go and
// internal/storage/sqlite/schema.go from the teacher application (same
// single-connection-pool discipline for a single-writer database, same
// "sqlite" driver name via modernc.org/sqlite rather than a cgo driver).
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	_ "modernc.org/sqlite"

	"github.com/compmake/engine/internal/store"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
`

// Store implements store.Store on top of a single SQLite table.
type Store struct {
	db     *sql.DB
	logger arbor.ILogger
}

// Options configures Open.
type Options struct {
	Path           string
	ResetOnStartup bool
	Logger         arbor.ILogger
}

// Open creates or opens the SQLite database at opts.Path and applies the
// schema, following the "ensure dir -> handle reset_on_startup -> open ->
// single-connection pool -> migrate" sequence of
// internal/storage/sqlite/connection.go.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = arbor.NewLogger()
	}

	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlitestore: create dir: %w", err)
		}
	}

	if opts.ResetOnStartup {
		if err := os.Remove(opts.Path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("sqlitestore: reset on startup: %w", err)
		}
	}

	db, err := sql.Open("sqlite", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", opts.Path, err)
	}

	// SQLite serialises writes at the file level; a single connection
	// avoids SQLITE_BUSY under the engine's single-writer discipline
	// (spec section 5).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}

	logger.Info().Str("path", opts.Path).Msg("sqlite store opened")
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM kv WHERE key = ?`, key).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlitestore: has %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("sqlitestore: set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	glob := "*"
	if pattern != "" {
		glob = pattern
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv WHERE key GLOB ?`, glob)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) Batch(ctx context.Context, fn func(store.Batch) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin batch: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&batch{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit batch: %w", err)
	}
	return nil
}

type batch struct {
	ctx context.Context
	tx  *sql.Tx
}

func (b *batch) Set(key string, value []byte) error {
	_, err := b.tx.ExecContext(b.ctx,
		`INSERT INTO kv(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("sqlitestore: batch set %s: %w", key, err)
	}
	return nil
}

func (b *batch) Delete(key string) error {
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlitestore: batch delete %s: %w", key, err)
	}
	return nil
}

func (b *batch) Get(key string) ([]byte, error) {
	var value []byte
	err := b.tx.QueryRowContext(b.ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: batch get %s: %w", key, err)
	}
	return value, nil
}
