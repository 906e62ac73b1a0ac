// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v2"

	"github.com/bureau-foundation/aura/lib/effects"
)

// Badger stores keys in an embedded badger database.
type Badger struct {
	db     *badger.DB
	logger *slog.Logger
	dir    string
}

// OpenBadger opens (creating if necessary) a database in dir.
func OpenBadger(dir string, logger *slog.Logger) (*Badger, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage: badger directory is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("storage: opening badger at %s: %w", dir, err)
	}
	logger.Info("badger store opened", "path", dir)
	return &Badger{db: db, logger: logger, dir: dir}, nil
}

func (b *Badger) Get(ctx context.Context, key string) ([]byte, error) {
	if err := contextError(ctx); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %q: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (b *Badger) Put(ctx context.Context, key string, value []byte) error {
	return b.Batch(ctx, []effects.StorageOp{{Key: key, Value: nonNil(value)}})
}

func (b *Badger) Delete(ctx context.Context, key string) error {
	return b.Batch(ctx, []effects.StorageOp{{Key: key}})
}

func (b *Badger) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.Get(ctx, key)
	if errors.Is(err, effects.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (b *Badger) List(ctx context.Context, prefix string) ([]string, error) {
	if err := contextError(ctx); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = []byte(prefix)
		iterator := txn.NewIterator(options)
		defer iterator.Close()
		for iterator.Seek([]byte(prefix)); iterator.ValidForPrefix([]byte(prefix)); iterator.Next() {
			keys = append(keys, string(iterator.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list %q: %w", prefix, err)
	}
	return keys, nil
}

func (b *Badger) Batch(ctx context.Context, ops []effects.StorageOp) error {
	if err := contextError(ctx); err != nil {
		return err
	}
	for _, op := range ops {
		if err := checkKey(op.Key); err != nil {
			return err
		}
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			if op.Value == nil {
				err = txn.Delete([]byte(op.Key))
			} else {
				err = txn.Set([]byte(op.Key), op.Value)
			}
			if err != nil {
				return fmt.Errorf("%q: %w", op.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: batch: %w", err)
	}
	return nil
}

func (b *Badger) Stats(ctx context.Context) (effects.StorageStats, error) {
	keys, err := b.List(ctx, "")
	if err != nil {
		return effects.StorageStats{}, err
	}
	lsm, vlog := b.db.Size()
	return effects.StorageStats{Backend: BackendBadger, Keys: len(keys), Bytes: lsm + vlog}, nil
}

// Close flushes and closes the database.
func (b *Badger) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("storage: closing badger at %s: %w", b.dir, err)
	}
	b.logger.Info("badger store closed", "path", b.dir)
	return nil
}
