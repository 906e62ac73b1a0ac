// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "sync"

// LogicalClock is a Lamport clock. The zero value is ready to use.
type LogicalClock struct {
	mu      sync.Mutex
	counter uint64
}

// Now returns the current counter without advancing it.
func (l *LogicalClock) Now() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter
}

// Tick advances the clock for a local event and returns the new value.
func (l *LogicalClock) Tick() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counter++
	return l.counter
}

// Observe merges a remote timestamp: the counter becomes
// max(local, remote) + 1.
func (l *LogicalClock) Observe(remote uint64) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if remote > l.counter {
		l.counter = remote
	}
	l.counter++
	return l.counter
}
