// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/aura/lib/effects"
)

// SQLiteConfig holds the parameters for opening a SQLite store.
type SQLiteConfig struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize defaults to max(runtime.NumCPU(), 4).
	PoolSize int

	// Logger receives open/close messages. Nil discards them.
	Logger *slog.Logger
}

// SQLite stores keys in a single table behind a connection pool.
// Individual connections are never shared between goroutines.
type SQLite struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;`

// OpenSQLite opens (creating if necessary) a store at config.Path.
// Connections are prepared lazily on first use.
func OpenSQLite(config SQLiteConfig) (*SQLite, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("storage: sqlite path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", config.Path, err)
	}
	logger.Info("sqlite store opened", "path", config.Path, "pool_size", poolSize)
	return &SQLite{pool: pool, logger: logger, path: config.Path}, nil
}

// prepareConnection applies the standard pragmas and creates the
// table. It runs once per pooled connection.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-8192",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("storage: creating schema: %w", err)
	}
	return nil
}

func (s *SQLite) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: take connection: %w", err)
	}
	return conn, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var value []byte
	found := false
	err = sqlitex.Execute(conn, "SELECT value FROM kv WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, value)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %q: %w", key, err)
	}
	if !found {
		return nil, notFound(key)
	}
	return value, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	return s.Batch(ctx, []effects.StorageOp{{Key: key, Value: nonNil(value)}})
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	return s.Batch(ctx, []effects.StorageOp{{Key: key}})
}

func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	found := false
	err = sqlitex.Execute(conn, "SELECT 1 FROM kv WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(*sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	if err != nil {
		return false, fmt.Errorf("storage: exists %q: %w", key, err)
	}
	return found, nil
}

func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	// substr comparison instead of LIKE so '%' and '_' in keys are
	// literal.
	var keys []string
	err = sqlitex.Execute(conn,
		"SELECT key FROM kv WHERE substr(key, 1, length(?1)) = ?1 ORDER BY key",
		&sqlitex.ExecOptions{
			Args: []any{prefix},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				keys = append(keys, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("storage: list %q: %w", prefix, err)
	}
	return keys, nil
}

func (s *SQLite) Batch(ctx context.Context, ops []effects.StorageOp) (err error) {
	for _, op := range ops {
		if err := checkKey(op.Key); err != nil {
			return err
		}
	}
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, op := range ops {
		if op.Value == nil {
			err = sqlitex.Execute(conn, "DELETE FROM kv WHERE key = ?", &sqlitex.ExecOptions{Args: []any{op.Key}})
		} else {
			err = sqlitex.Execute(conn,
				"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
				&sqlitex.ExecOptions{Args: []any{op.Key, op.Value}})
		}
		if err != nil {
			return fmt.Errorf("storage: write %q: %w", op.Key, err)
		}
	}
	return nil
}

func (s *SQLite) Stats(ctx context.Context) (effects.StorageStats, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return effects.StorageStats{}, err
	}
	defer s.pool.Put(conn)

	stats := effects.StorageStats{Backend: BackendSQLite}
	err = sqlitex.Execute(conn, "SELECT count(*), coalesce(sum(length(key) + length(value)), 0) FROM kv", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stats.Keys = stmt.ColumnInt(0)
			stats.Bytes = stmt.ColumnInt64(1)
			return nil
		},
	})
	if err != nil {
		return stats, fmt.Errorf("storage: stats: %w", err)
	}
	return stats, nil
}

// Close closes every connection. It blocks until borrowed connections
// are returned.
func (s *SQLite) Close() error {
	if err := s.pool.Close(); err != nil {
		s.logger.Error("sqlite store close failed", "path", s.path, "error", err)
		return fmt.Errorf("storage: closing %s: %w", s.path, err)
	}
	s.logger.Info("sqlite store closed", "path", s.path)
	return nil
}
