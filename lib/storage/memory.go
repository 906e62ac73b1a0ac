// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/aura/lib/effects"
)

// Memory is an in-process store. Values are copied on the way in and
// out.
type Memory struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := contextError(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[key]
	if !ok {
		return nil, notFound(key)
	}
	return slices.Clone(value), nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	return m.Batch(ctx, []effects.StorageOp{{Key: key, Value: nonNil(value)}})
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	return m.Batch(ctx, []effects.StorageOp{{Key: key}})
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := contextError(ctx); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.values[key]
	return ok, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := contextError(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *Memory) Batch(ctx context.Context, ops []effects.StorageOp) error {
	if err := contextError(ctx); err != nil {
		return err
	}
	for _, op := range ops {
		if err := checkKey(op.Key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		if op.Value == nil {
			delete(m.values, op.Key)
			continue
		}
		m.values[op.Key] = slices.Clone(op.Value)
	}
	return nil
}

func (m *Memory) Stats(ctx context.Context) (effects.StorageStats, error) {
	if err := contextError(ctx); err != nil {
		return effects.StorageStats{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := effects.StorageStats{Backend: BackendMemory, Keys: len(m.values)}
	for key, value := range m.values {
		stats.Bytes += int64(len(key) + len(value))
	}
	return stats, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// nonNil distinguishes an empty value from a delete in a batch.
func nonNil(value []byte) []byte {
	if value == nil {
		return []byte{}
	}
	return value
}
