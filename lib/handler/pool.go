// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool keeps up to Capacity idle values for reuse. Get returns the
// most recently returned value and creates a new one when the pool is
// empty, so it never waits for another caller.
type Pool[T any] struct {
	create   func(context.Context) (T, error)
	capacity int

	mu    sync.Mutex
	idle  []T
	stats PoolStats
}

// PoolStats counts pool traffic.
type PoolStats struct {
	Hits    uint64
	Misses  uint64
	Dropped uint64
}

// NewPool returns an empty pool holding at most capacity idle values.
func NewPool[T any](capacity int, create func(context.Context) (T, error)) *Pool[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool[T]{create: create, capacity: capacity}
}

// Get takes an idle value or creates one.
func (p *Pool[T]) Get(ctx context.Context) (T, error) {
	p.mu.Lock()
	if count := len(p.idle); count > 0 {
		item := p.idle[count-1]
		var zero T
		p.idle[count-1] = zero
		p.idle = p.idle[:count-1]
		p.stats.Hits++
		p.mu.Unlock()
		return item, nil
	}
	p.stats.Misses++
	p.mu.Unlock()

	item, err := p.create(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("handler: pool create: %w", err)
	}
	return item, nil
}

// Put returns a value to the pool. It reports false when the pool is
// full and the value was dropped.
func (p *Pool[T]) Put(item T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle) >= p.capacity {
		p.stats.Dropped++
		return false
	}
	p.idle = append(p.idle, item)
	return true
}

// Len returns the number of idle values.
func (p *Pool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *Pool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Warm creates values concurrently until the pool holds min(count,
// capacity) idle values. On failure nothing created by this call is
// kept.
func (p *Pool[T]) Warm(ctx context.Context, count int) error {
	missing := min(count, p.capacity) - p.Len()
	if missing <= 0 {
		return nil
	}
	created := make([]T, missing)
	group, groupContext := errgroup.WithContext(ctx)
	for index := range created {
		group.Go(func() error {
			item, err := p.create(groupContext)
			if err != nil {
				return err
			}
			created[index] = item
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("handler: warming pool: %w", err)
	}
	for _, item := range created {
		p.Put(item)
	}
	return nil
}
