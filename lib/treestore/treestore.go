// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package treestore persists the commitment-tree op log and keeps the
// reduced tree state current.
//
// Ops live in the injected key/value store: "tree_ops_index" holds the
// ordered list of op content ids and "tree_ops/<hex>" holds one encoded
// AttestedOp each. After ApplySnapshot, "tree_snapshot" holds the base
// state the ops reduce from. A Store loads lazily on first use unless Load is
// called. Every merge re-reduces the whole log from the base state, so
// two stores holding the same op set hold the same state whatever order
// the ops arrived in.
//
// When Options.Flow is set, the flow-budget ledger follows the reduced
// state's epoch: an op that advances the tree, whether applied locally
// or merged from a peer, rotates the flow epoch with it. Receipts from
// earlier epochs stop verifying and session TTLs count tree epochs.
package treestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/aura/lib/bloom"
	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/oplog"
	"github.com/bureau-foundation/aura/lib/tree"
)

// Storage keys.
const (
	IndexKey    = "tree_ops_index"
	OpsPrefix   = "tree_ops/"
	SnapshotKey = "tree_snapshot"
)

// DefaultCacheSize is the number of decoded ops kept for reads that
// bypass the in-memory log.
const DefaultCacheSize = 512

// OpKey returns the storage key of one op.
func OpKey(id hash.Digest) string { return OpsPrefix + id.String() }

// Options configures a Store.
type Options struct {
	// Verifier checks each op's attestation during reduction. Nil
	// accepts every op.
	Verifier  tree.Verifier
	CacheSize int
	Logger    *slog.Logger

	// Flow is rotated to the reduced state's epoch each time it
	// advances.
	Flow effects.FlowBudgetEffects
}

// Store is the commitment-tree handler.
type Store struct {
	storage  effects.StorageEffects
	verifier tree.Verifier
	logger   *slog.Logger
	cache    *lru.Cache[hash.Digest, tree.AttestedOp]
	flow     effects.FlowBudgetEffects

	mu     sync.Mutex
	loaded bool
	base   tree.State
	log    *oplog.Log
	result tree.ReduceResult
}

// New returns a store over storage whose history starts at base.
func New(storage effects.StorageEffects, base tree.State, options Options) (*Store, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := options.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[hash.Digest, tree.AttestedOp](size)
	if err != nil {
		return nil, fmt.Errorf("treestore: op cache: %w", err)
	}
	return &Store{
		storage:  storage,
		verifier: options.Verifier,
		logger:   logger,
		cache:    cache,
		flow:     options.Flow,
		base:     base,
		log:      oplog.New(logger),
		result:   tree.ReduceResult{State: base},
	}, nil
}

// Load reads every persisted op and reduces them. Calling it is
// optional; the first read loads on demand.
func (s *Store) Load(ctx context.Context) error {
	defer s.announceEpoch()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	if err := s.readBase(ctx); err != nil {
		return err
	}
	index, err := s.readIndex(ctx)
	if err != nil {
		return err
	}
	ops := make([]tree.AttestedOp, 0, len(index))
	for _, id := range index {
		op, err := s.readOp(ctx, id)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}
	if _, err := s.log.AppendAll(ops); err != nil {
		return fmt.Errorf("treestore: %w", err)
	}
	if err := s.reduceLocked(); err != nil {
		return err
	}
	s.loaded = true
	s.logger.Info("tree ops loaded", "ops", len(ops), "epoch", uint64(s.result.State.Epoch()))
	return nil
}

// readBase replaces the constructor's base with a persisted snapshot.
func (s *Store) readBase(ctx context.Context) error {
	data, err := s.storage.Get(ctx, SnapshotKey)
	if errors.Is(err, effects.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("treestore: reading snapshot: %w", err)
	}
	var snapshot tree.Snapshot
	if err := codec.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("treestore: decoding snapshot: %w", err)
	}
	base, err := tree.FromSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("treestore: snapshot: %w", err)
	}
	s.base = base
	s.result = tree.ReduceResult{State: base}
	return nil
}

// announceEpoch rotates the flow ledger up to the reduced epoch. It is
// deferred ahead of the lock so it runs after the lock is released.
func (s *Store) announceEpoch() {
	if s.flow == nil {
		return
	}
	s.mu.Lock()
	epoch := s.result.State.Epoch()
	s.mu.Unlock()
	if epoch > s.flow.Epoch() {
		s.logger.Info("flow epoch follows tree", "from", uint64(s.flow.Epoch()), "to", uint64(epoch))
		s.flow.RotateEpoch(epoch)
	}
}

func (s *Store) readIndex(ctx context.Context) ([]hash.Digest, error) {
	data, err := s.storage.Get(ctx, IndexKey)
	if errors.Is(err, effects.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("treestore: reading index: %w", err)
	}
	var index []hash.Digest
	if err := codec.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("treestore: decoding index: %w", err)
	}
	return index, nil
}

func (s *Store) readOp(ctx context.Context, id hash.Digest) (tree.AttestedOp, error) {
	if op, ok := s.cache.Get(id); ok {
		return op, nil
	}
	data, err := s.storage.Get(ctx, OpKey(id))
	if err != nil {
		return tree.AttestedOp{}, fmt.Errorf("treestore: reading op %s: %w", id.Short(), err)
	}
	var op tree.AttestedOp
	if err := codec.Unmarshal(data, &op); err != nil {
		return tree.AttestedOp{}, fmt.Errorf("treestore: decoding op %s: %w", id.Short(), err)
	}
	if actual, err := op.ContentID(); err != nil || actual != id {
		return tree.AttestedOp{}, fmt.Errorf("treestore: op stored at %s has content id %s", id.Short(), actual.Short())
	}
	s.cache.Add(id, op)
	return op, nil
}

func (s *Store) reduceLocked() error {
	result, err := s.log.Reduce(s.base, s.verifier)
	if err != nil {
		return fmt.Errorf("treestore: reducing: %w", err)
	}
	s.result = result
	return nil
}

// Apply merges one op. It reports whether the op was new.
func (s *Store) Apply(ctx context.Context, op tree.AttestedOp) (bool, error) {
	added, err := s.Merge(ctx, []tree.AttestedOp{op})
	return added == 1, err
}

// Merge verifies and persists ops, then re-reduces. Ops already held
// are skipped. An op whose attestation the verifier refuses is not
// kept; an op whose parent state is not yet known is kept, since a
// later merge may supply the parent. It returns how many ops were new.
func (s *Store) Merge(ctx context.Context, ops []tree.AttestedOp) (int, error) {
	defer s.announceEpoch()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return 0, err
	}

	fresh := make(map[hash.Digest]tree.AttestedOp)
	var order []hash.Digest
	for _, op := range ops {
		id, err := op.ContentID()
		if err != nil {
			return 0, fmt.Errorf("treestore: %w", err)
		}
		if _, seen := fresh[id]; seen || s.log.Contains(id) {
			continue
		}
		fresh[id] = op
		order = append(order, id)
	}
	if len(order) == 0 {
		return 0, nil
	}

	candidate := s.log.Ops()
	for _, id := range order {
		candidate = append(candidate, fresh[id])
	}
	trial, err := tree.Reduce(s.base, candidate, s.verifier)
	if err != nil {
		return 0, fmt.Errorf("treestore: reducing: %w", err)
	}
	for _, rejection := range trial.Rejected {
		if _, isFresh := fresh[rejection.ID]; isFresh && errors.Is(rejection.Err, tree.ErrUnauthorized) {
			s.logger.Warn("dropping op with invalid attestation", "op", rejection.ID.Short(), "error", rejection.Err)
			delete(fresh, rejection.ID)
		}
	}

	kept := make([]hash.Digest, 0, len(fresh))
	for _, id := range order {
		if _, ok := fresh[id]; ok {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		return 0, nil
	}
	if err := s.persistLocked(ctx, kept, fresh); err != nil {
		return 0, err
	}
	for _, id := range kept {
		if _, _, err := s.log.Append(fresh[id]); err != nil {
			return 0, fmt.Errorf("treestore: %w", err)
		}
		s.cache.Add(id, fresh[id])
	}
	if err := s.reduceLocked(); err != nil {
		return 0, err
	}
	s.logger.Debug("tree ops merged", "new", len(kept), "epoch", uint64(s.result.State.Epoch()))
	return len(kept), nil
}

// persistLocked writes the new ops and the extended index in one batch.
func (s *Store) persistLocked(ctx context.Context, kept []hash.Digest, ops map[hash.Digest]tree.AttestedOp) error {
	index := append(s.log.IDs(), kept...)
	encodedIndex, err := codec.Marshal(index)
	if err != nil {
		return fmt.Errorf("treestore: encoding index: %w", err)
	}
	writes := make([]effects.StorageOp, 0, len(kept)+1)
	for _, id := range kept {
		data, err := codec.Marshal(ops[id])
		if err != nil {
			return fmt.Errorf("treestore: encoding op %s: %w", id.Short(), err)
		}
		writes = append(writes, effects.StorageOp{Key: OpKey(id), Value: data})
	}
	writes = append(writes, effects.StorageOp{Key: IndexKey, Value: encodedIndex})
	if err := s.storage.Batch(ctx, writes); err != nil {
		return fmt.Errorf("treestore: persisting ops: %w", err)
	}
	return nil
}

// State returns the reduced tree state.
func (s *Store) State(ctx context.Context) (tree.State, error) {
	defer s.announceEpoch()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return tree.State{}, err
	}
	return s.result.State, nil
}

// Result returns the full outcome of the last reduction.
func (s *Store) Result(ctx context.Context) (tree.ReduceResult, error) {
	defer s.announceEpoch()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return tree.ReduceResult{}, err
	}
	return s.result, nil
}

// Ops returns every held op in append order.
func (s *Store) Ops(ctx context.Context) ([]tree.AttestedOp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}
	return s.log.Ops(), nil
}

// Get returns one op by content id. Before the store has loaded, it
// reads through the cache without loading everything.
func (s *Store) Get(ctx context.Context, id hash.Digest) (tree.AttestedOp, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		op, ok := s.log.Get(id)
		return op, ok, nil
	}
	op, err := s.readOp(ctx, id)
	if errors.Is(err, effects.ErrNotFound) {
		return tree.AttestedOp{}, false, nil
	}
	if err != nil {
		return tree.AttestedOp{}, false, err
	}
	return op, true, nil
}

// Contains reports whether an op is held.
func (s *Store) Contains(ctx context.Context, id hash.Digest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return false, err
	}
	return s.log.Contains(id), nil
}

// Digest summarizes the held ops for anti-entropy.
func (s *Store) Digest(ctx context.Context, config bloom.Config) (oplog.Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return oplog.Digest{}, err
	}
	return s.log.Digest(config)
}

// ApplySnapshot replaces history with snapshot: every persisted op and
// the index are deleted and the snapshot is stored as the new base in
// one batch, the cache is cleared, and the snapshot's state becomes the
// base that later ops reduce from, across restarts too.
func (s *Store) ApplySnapshot(ctx context.Context, snapshot tree.Snapshot) error {
	base, err := tree.FromSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("treestore: snapshot: %w", err)
	}
	encoded, err := codec.Marshal(base.Snapshot())
	if err != nil {
		return fmt.Errorf("treestore: encoding snapshot: %w", err)
	}
	defer s.announceEpoch()
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.storage.List(ctx, OpsPrefix)
	if err != nil {
		return fmt.Errorf("treestore: listing ops: %w", err)
	}
	deletes := make([]effects.StorageOp, 0, len(keys)+1)
	for _, key := range keys {
		if strings.HasPrefix(key, OpsPrefix) {
			deletes = append(deletes, effects.StorageOp{Key: key})
		}
	}
	deletes = append(deletes,
		effects.StorageOp{Key: IndexKey},
		effects.StorageOp{Key: SnapshotKey, Value: encoded},
	)
	if err := s.storage.Batch(ctx, deletes); err != nil {
		return fmt.Errorf("treestore: clearing ops: %w", err)
	}

	s.log.Reset()
	s.cache.Purge()
	s.base = base
	s.result = tree.ReduceResult{State: base}
	s.loaded = true
	s.logger.Info("tree snapshot applied", "epoch", uint64(base.Epoch()), "dropped_ops", len(keys))
	return nil
}
