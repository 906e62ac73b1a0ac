// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
)

var _ effects.JournalEffects = (*Journal)(nil)

const journalPrefix = "journal/"

// Journal serves facts from an in-memory journal and writes every new
// entry through to storage under "journal/<context_hex>/<seq>". Storage
// is written first, so a failed write leaves the in-memory view
// unchanged.
type Journal struct {
	storage effects.StorageEffects
	memory  *journal.Journal
	logger  *slog.Logger

	// writeMu makes this handler the single writer, so the sequence
	// numbers assigned before the storage write match the ones the
	// in-memory journal assigns after it.
	writeMu sync.Mutex
}

// NewJournal returns an empty journal handler over storage. Call Load
// to recover previously persisted entries.
func NewJournal(storage effects.StorageEffects, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Journal{storage: storage, memory: journal.New(), logger: logger}
}

func journalKey(context ids.ContextID, sequence uint64) string {
	return fmt.Sprintf("%s%s/%016x", journalPrefix, context, sequence)
}

// Load reads every persisted entry into memory. It must run before the
// first append.
func (j *Journal) Load(ctx context.Context) error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	keys, err := j.storage.List(ctx, journalPrefix)
	if err != nil {
		return fmt.Errorf("handler: listing journal: %w", err)
	}
	entries := make([]journal.Entry, 0, len(keys))
	for _, key := range keys {
		data, err := j.storage.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("handler: reading %s: %w", key, err)
		}
		var entry journal.Entry
		if err := codec.Unmarshal(data, &entry); err != nil {
			return fmt.Errorf("handler: decoding %s: %w", key, err)
		}
		if want := journalKey(entry.Context, entry.Sequence); want != key {
			return fmt.Errorf("handler: journal entry stored at %s claims position %s",
				key, strings.TrimPrefix(want, journalPrefix))
		}
		entries = append(entries, entry)
	}
	if err := j.memory.Restore(entries); err != nil {
		return fmt.Errorf("handler: %w", err)
	}
	j.logger.Info("journal loaded", "entries", len(entries), "contexts", len(j.memory.Contexts()))
	return nil
}

// EnsureContext registers a context and its participants.
func (j *Journal) EnsureContext(context ids.ContextID, participants ...ids.AuthorityID) journal.RelationalContext {
	return j.memory.EnsureContext(context, participants...)
}

// AppendFact records one entry. Appending an entry that is already
// recorded returns the stored copy without writing.
func (j *Journal) AppendFact(ctx context.Context, entry journal.Entry) (journal.Entry, error) {
	stored, err := j.CommitRelationalFacts(ctx, []journal.Entry{entry})
	if err != nil {
		return journal.Entry{}, err
	}
	return stored[0], nil
}

// CommitRelationalFacts records entries atomically: all new entries
// reach storage in one batch or none do.
func (j *Journal) CommitRelationalFacts(ctx context.Context, entries []journal.Entry) ([]journal.Entry, error) {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	next := make(map[ids.ContextID]uint64)
	seen := make(map[hash.Digest]struct{})
	var writes []effects.StorageOp
	for _, entry := range entries {
		id := entry.ID()
		if _, duplicate := seen[id]; duplicate || j.memory.Has(entry) {
			continue
		}
		seen[id] = struct{}{}
		sequence, ok := next[entry.Context]
		if !ok {
			sequence = uint64(j.memory.Len(entry.Context))
		}
		next[entry.Context] = sequence + 1
		entry.Sequence = sequence
		data, err := codec.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("handler: encoding journal entry: %w", err)
		}
		writes = append(writes, effects.StorageOp{Key: journalKey(entry.Context, sequence), Value: data})
	}
	if len(writes) > 0 {
		if err := j.storage.Batch(ctx, writes); err != nil {
			return nil, fmt.Errorf("handler: persisting journal entries: %w", err)
		}
	}
	return j.memory.AppendAll(entries), nil
}

// Snapshot returns an immutable view of one context.
func (j *Journal) Snapshot(ctx context.Context, context ids.ContextID) (journal.ContextSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return journal.ContextSnapshot{}, err
	}
	return j.memory.Snapshot(context)
}

// Contexts lists the known contexts.
func (j *Journal) Contexts() []ids.ContextID { return j.memory.Contexts() }
