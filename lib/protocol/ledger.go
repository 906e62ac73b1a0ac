// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

// Event is one entry of the shared protocol ledger.
type Event struct {
	Sequence uint64          `cbor:"1,keyasint"`
	Session  ids.SessionID   `cbor:"2,keyasint"`
	Author   ids.AuthorityID `cbor:"3,keyasint"`
	Type     string          `cbor:"4,keyasint"`
	Payload  []byte          `cbor:"5,keyasint"`
	// Prev is the hash of the preceding event; zero for the first.
	Prev hash.Digest `cbor:"6,keyasint"`
}

// Hash is the chain link the next event's Prev points at.
func (e Event) Hash() hash.Digest {
	digest, err := codec.Digest(hash.DomainEvent, e)
	if err != nil {
		panic("protocol: event digest: " + err.Error())
	}
	return digest
}

// Decode unpacks the payload into v.
func (e Event) Decode(v any) error {
	if err := codec.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("protocol: decoding %s event: %w", e.Type, err)
	}
	return nil
}

// Ledger is an append-only, hash-chained event log shared by the
// participants of protocol runs. It is safe for concurrent use.
type Ledger struct {
	logger *slog.Logger

	mu      sync.Mutex
	events  []Event
	head    hash.Digest
	changed chan struct{}
}

// NewLedger returns an empty ledger.
func NewLedger(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Ledger{logger: logger, changed: make(chan struct{})}
}

// Append sequences event, links it to the head, and wakes waiters.
func (l *Ledger) Append(event Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	event.Sequence = uint64(len(l.events))
	event.Prev = l.head
	event.Payload = slices.Clone(event.Payload)
	l.events = append(l.events, event)
	l.head = event.Hash()
	close(l.changed)
	l.changed = make(chan struct{})
	return event
}

// Len returns the number of events.
func (l *Ledger) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.events))
}

// Head returns the hash of the last event, zero when empty.
func (l *Ledger) Head() hash.Digest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Events returns a copy of the events at positions from onward.
func (l *Ledger) Events(from uint64) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.eventsLocked(from)
}

func (l *Ledger) eventsLocked(from uint64) []Event {
	if from >= uint64(len(l.events)) {
		return nil
	}
	return slices.Clone(l.events[from:])
}

// Wait blocks until at least one event exists at position from or
// later, then returns all of them.
func (l *Ledger) Wait(ctx context.Context, from uint64) ([]Event, error) {
	for {
		l.mu.Lock()
		if events := l.eventsLocked(from); len(events) > 0 {
			l.mu.Unlock()
			return events, nil
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// Verify walks the hash chain and reports the first broken link.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var previous hash.Digest
	for index, event := range l.events {
		if event.Sequence != uint64(index) {
			return fmt.Errorf("protocol: ledger event %d carries sequence %d", index, event.Sequence)
		}
		if event.Prev != previous {
			return fmt.Errorf("protocol: ledger event %d does not link to its predecessor", index)
		}
		previous = event.Hash()
	}
	return nil
}
