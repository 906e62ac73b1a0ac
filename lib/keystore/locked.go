// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Locked holds secret bytes in an anonymous mapping outside the Go
// heap. The zero value is not usable; create one with NewLocked.
type Locked struct {
	mu     sync.Mutex
	region []byte
	size   int
	pinned bool
	closed bool
}

// NewLocked moves source into a fresh mapping and zeroes source.
// Locking the pages into RAM is attempted but not required: a process
// over its RLIMIT_MEMLOCK still gets a mapping, reported by Pinned.
func NewLocked(source []byte) (*Locked, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("keystore: empty secret")
	}
	region, err := unix.Mmap(-1, 0, len(source), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("keystore: mapping secret memory: %w", err)
	}
	locked := &Locked{region: region, size: len(source)}
	locked.pinned = unix.Mlock(region) == nil
	// Not every kernel supports MADV_DONTDUMP.
	_ = unix.Madvise(region, unix.MADV_DONTDUMP)

	copy(region, source)
	clear(source)
	return locked, nil
}

// Bytes returns the secret. The slice aliases the mapping and is invalid
// after Close. Panics after Close.
func (l *Locked) Bytes() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		panic("keystore: read from closed secret")
	}
	return l.region[:l.size]
}

// Pinned reports whether the pages are locked into RAM.
func (l *Locked) Pinned() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pinned
}

// Close zeroes and unmaps the secret. Later calls do nothing.
func (l *Locked) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	clear(l.region)
	if l.pinned {
		_ = unix.Munlock(l.region)
	}
	err := unix.Munmap(l.region)
	l.region = nil
	if err != nil {
		return fmt.Errorf("keystore: unmapping secret memory: %w", err)
	}
	return nil
}
