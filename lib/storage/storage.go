// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bureau-foundation/aura/lib/effects"
)

// Store is a storage backend that owns resources.
type Store interface {
	effects.StorageEffects
	io.Closer
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Badger)(nil)
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open returns the named backend. path is a database file for sqlite
// and a directory for badger; memory ignores it.
func Open(backend, path string, logger *slog.Logger) (Store, error) {
	switch backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendSQLite:
		return OpenSQLite(SQLiteConfig{Path: path, Logger: logger})
	case BackendBadger:
		return OpenBadger(path, logger)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}

func checkKey(key string) error {
	if key == "" {
		return fmt.Errorf("storage: empty key")
	}
	return nil
}

func notFound(key string) error {
	return fmt.Errorf("storage: %q: %w", key, effects.ErrNotFound)
}

func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}
