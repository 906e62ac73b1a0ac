// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/tree"
)

// Cursor is a position in the log. It only moves forward.
type Cursor uint64

// Log is an append-only, content-addressed op log. Writers serialize
// through a single lock; readers never see a partially appended op.
type Log struct {
	logger *slog.Logger

	mu        sync.RWMutex
	ops       []tree.AttestedOp
	contentID []hash.Digest
	index     map[hash.Digest]int
	lastEpoch ids.Epoch
}

// New returns an empty log. A nil logger discards output.
func New(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{logger: logger, index: make(map[hash.Digest]int)}
}

// Append adds op unless an op with the same content id is present. It
// returns the content id and whether the op was new.
func (l *Log) Append(op tree.AttestedOp) (hash.Digest, bool, error) {
	id, err := op.ContentID()
	if err != nil {
		return hash.Digest{}, false, fmt.Errorf("oplog: append: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return id, l.appendLocked(id, op), nil
}

// AppendAll appends every op and returns the number that were new.
func (l *Log) AppendAll(ops []tree.AttestedOp) (int, error) {
	type identified struct {
		id hash.Digest
		op tree.AttestedOp
	}
	prepared := make([]identified, 0, len(ops))
	for _, op := range ops {
		id, err := op.ContentID()
		if err != nil {
			return 0, fmt.Errorf("oplog: append: %w", err)
		}
		prepared = append(prepared, identified{id: id, op: op})
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	added := 0
	for _, entry := range prepared {
		if l.appendLocked(entry.id, entry.op) {
			added++
		}
	}
	return added, nil
}

func (l *Log) appendLocked(id hash.Digest, op tree.AttestedOp) bool {
	if _, exists := l.index[id]; exists {
		return false
	}
	l.index[id] = len(l.ops)
	l.ops = append(l.ops, op)
	l.contentID = append(l.contentID, id)
	if epoch := op.Epoch(); epoch > l.lastEpoch {
		l.lastEpoch = epoch
	}
	l.logger.Debug("op appended",
		"op", id.Short(),
		"kind", op.Op.Kind.String(),
		"epoch", uint64(op.Epoch()),
	)
	return true
}

// Contains reports whether an op with the given content id is present.
func (l *Log) Contains(id hash.Digest) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// Get returns the op with the given content id.
func (l *Log) Get(id hash.Digest) (tree.AttestedOp, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	position, ok := l.index[id]
	if !ok {
		return tree.AttestedOp{}, false
	}
	return l.ops[position], true
}

// Len returns the number of ops.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ops)
}

// Cursor returns the position just past the last op.
func (l *Log) Cursor() Cursor {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Cursor(len(l.ops))
}

// Since returns a copy of the ops after cursor and the new cursor.
func (l *Log) Since(cursor Cursor) ([]tree.AttestedOp, Cursor) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if int(cursor) >= len(l.ops) {
		return nil, Cursor(len(l.ops))
	}
	suffix := make([]tree.AttestedOp, len(l.ops)-int(cursor))
	copy(suffix, l.ops[cursor:])
	return suffix, Cursor(len(l.ops))
}

// Ops returns a copy of every op in append order.
func (l *Log) Ops() []tree.AttestedOp {
	ops, _ := l.Since(0)
	return ops
}

// IDs returns the content ids in append order.
func (l *Log) IDs() []hash.Digest {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]hash.Digest(nil), l.contentID...)
}

// LastEpoch is the greatest epoch of any op in the log.
func (l *Log) LastEpoch() ids.Epoch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastEpoch
}

// Reset discards every op. Used when a snapshot replaces history.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = nil
	l.contentID = nil
	l.index = make(map[hash.Digest]int)
	l.lastEpoch = 0
}

// Reduce replays the log from base.
func (l *Log) Reduce(base tree.State, verifier tree.Verifier) (tree.ReduceResult, error) {
	return tree.Reduce(base, l.Ops(), verifier)
}
