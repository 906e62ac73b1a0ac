// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

// ErrUnknownContext is returned for a context that was never created.
var ErrUnknownContext = errors.New("journal: unknown context")

// RelationalContext is a scope with its own participants and facts.
type RelationalContext struct {
	ID           ids.ContextID     `cbor:"1,keyasint"`
	Participants []ids.AuthorityID `cbor:"2,keyasint"`
}

// IsParticipant reports whether authority belongs to the context.
func (c RelationalContext) IsParticipant(authority ids.AuthorityID) bool {
	return slices.Contains(c.Participants, authority)
}

type contextLog struct {
	context RelationalContext
	entries []Entry
	seen    map[hash.Digest]struct{}
}

// Journal holds the fact lists of every known context.
type Journal struct {
	mu       sync.RWMutex
	contexts map[ids.ContextID]*contextLog
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{contexts: make(map[ids.ContextID]*contextLog)}
}

// EnsureContext creates the context if needed and adds any new
// participants.
func (j *Journal) EnsureContext(id ids.ContextID, participants ...ids.AuthorityID) RelationalContext {
	j.mu.Lock()
	defer j.mu.Unlock()
	log := j.contextLocked(id)
	for _, participant := range participants {
		if !log.context.IsParticipant(participant) {
			// New slice so earlier snapshots keep their participant list.
			log.context.Participants = append(slices.Clip(log.context.Participants), participant)
		}
	}
	return log.context
}

func (j *Journal) contextLocked(id ids.ContextID) *contextLog {
	log, ok := j.contexts[id]
	if !ok {
		log = &contextLog{context: RelationalContext{ID: id}, seen: make(map[hash.Digest]struct{})}
		j.contexts[id] = log
	}
	return log
}

// Append adds entry to its context, creating the context on first use
// and assigning the next sequence number. An entry already present is
// not appended again; the stored entry is returned with added false.
func (j *Journal) Append(entry Entry) (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appendLocked(entry)
}

// AppendAll appends entries atomically: a snapshot sees all of them or
// none.
func (j *Journal) AppendAll(entries []Entry) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	stored := make([]Entry, len(entries))
	for index, entry := range entries {
		stored[index], _ = j.appendLocked(entry)
	}
	return stored
}

func (j *Journal) appendLocked(entry Entry) (Entry, bool) {
	log := j.contextLocked(entry.Context)
	id := entry.ID()
	if _, duplicate := log.seen[id]; duplicate {
		for _, existing := range log.entries {
			if existing.ID() == id {
				return existing, false
			}
		}
	}
	entry.Sequence = uint64(len(log.entries))
	log.seen[id] = struct{}{}
	log.entries = append(log.entries, entry)
	return entry, true
}

// Has reports whether an entry with the same ID is already recorded.
func (j *Journal) Has(entry Entry) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	log, ok := j.contexts[entry.Context]
	if !ok {
		return false
	}
	_, found := log.seen[entry.ID()]
	return found
}

// Len returns the number of entries in a context, zero if unknown.
func (j *Journal) Len(id ids.ContextID) int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if log, ok := j.contexts[id]; ok {
		return len(log.entries)
	}
	return 0
}

// Restore loads previously sequenced entries, for example from
// storage. Entries must arrive in sequence order per context.
func (j *Journal) Restore(entries []Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, entry := range entries {
		log := j.contextLocked(entry.Context)
		if entry.Sequence != uint64(len(log.entries)) {
			return fmt.Errorf("journal: restore: context %s entry %d arrived at position %d",
				ids.Short(entry.Context), entry.Sequence, len(log.entries))
		}
		log.seen[entry.ID()] = struct{}{}
		log.entries = append(log.entries, entry)
	}
	return nil
}

// Contexts lists known context ids in byte order.
func (j *Journal) Contexts() []ids.ContextID {
	j.mu.RLock()
	defer j.mu.RUnlock()
	contexts := make([]ids.ContextID, 0, len(j.contexts))
	for id := range j.contexts {
		contexts = append(contexts, id)
	}
	slices.SortFunc(contexts, ids.Compare[ids.ContextID])
	return contexts
}

// Snapshot returns an immutable view of one context.
func (j *Journal) Snapshot(id ids.ContextID) (ContextSnapshot, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	log, ok := j.contexts[id]
	if !ok {
		return ContextSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownContext, ids.Short(id))
	}
	return ContextSnapshot{
		context: log.context,
		// Appends only write past this length, so the view is stable.
		entries: log.entries[:len(log.entries):len(log.entries)],
	}, nil
}

// ContextSnapshot is an immutable view of one context's facts.
type ContextSnapshot struct {
	context RelationalContext
	entries []Entry
}

// Context returns the context as of the snapshot.
func (s ContextSnapshot) Context() RelationalContext { return s.context }

// Len returns the number of entries.
func (s ContextSnapshot) Len() int { return len(s.entries) }

// Entries returns a copy of every entry in sequence order.
func (s ContextSnapshot) Entries() []Entry { return slices.Clone(s.entries) }

// OfType returns the entries of one fact type in sequence order.
func (s ContextSnapshot) OfType(factType FactType) []Entry {
	var matching []Entry
	for _, entry := range s.entries {
		if entry.Fact.Type == factType {
			matching = append(matching, entry)
		}
	}
	return matching
}

// Latest returns the newest entry of factType with the given key.
func (s ContextSnapshot) Latest(factType FactType, key string) (Entry, bool) {
	for index := len(s.entries) - 1; index >= 0; index-- {
		entry := s.entries[index]
		if entry.Fact.Type == factType && entry.Fact.Key == key {
			return entry, true
		}
	}
	return Entry{}, false
}
