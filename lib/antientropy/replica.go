// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package antientropy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/aura/lib/bloom"
	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/oplog"
	"github.com/bureau-foundation/aura/lib/transport"
	"github.com/bureau-foundation/aura/lib/tree"
	"github.com/bureau-foundation/aura/lib/treestore"
)

var _ effects.SyncEffects = (*Replica)(nil)

// ErrUnknownPeer is returned for a peer that never joined the network.
var ErrUnknownPeer = errors.New("antientropy: unknown peer")

type link struct{ a, b ids.AuthorityID }

func linkOf(a, b ids.AuthorityID) link {
	if ids.Compare(a, b) > 0 {
		a, b = b, a
	}
	return link{a, b}
}

// Network connects in-process replicas. Every exchange is encoded and
// decoded as it would be on the wire.
type Network struct {
	logger *slog.Logger

	mu       sync.RWMutex
	replicas map[ids.AuthorityID]*Replica
	cut      map[link]bool
}

// NewNetwork returns an empty network.
func NewNetwork(logger *slog.Logger) *Network {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Network{logger: logger, replicas: make(map[ids.AuthorityID]*Replica), cut: make(map[link]bool)}
}

// Partition cuts the link between a and b.
func (n *Network) Partition(a, b ids.AuthorityID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cut[linkOf(a, b)] = true
}

// Heal restores the link between a and b.
func (n *Network) Heal(a, b ids.AuthorityID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.cut, linkOf(a, b))
}

func (n *Network) reach(from, to ids.AuthorityID) (*Replica, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	replica, ok := n.replicas[to]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, ids.Short(to))
	}
	if n.cut[linkOf(from, to)] {
		return nil, fmt.Errorf("%w: %s", transport.ErrUnreachable, ids.Short(to))
	}
	return replica, nil
}

// ReplicaConfig configures one replica.
type ReplicaConfig struct {
	Bloom     bloom.Config
	BatchSize int
}

// Replica is one authority's SyncEffects handler over its tree store.
type Replica struct {
	authority ids.AuthorityID
	store     *treestore.Store
	random    effects.RandomEffects
	network   *Network
	config    ReplicaConfig
	logger    *slog.Logger
}

// Join adds a replica for authority backed by store.
func (n *Network) Join(authority ids.AuthorityID, store *treestore.Store, random effects.RandomEffects, config ReplicaConfig) *Replica {
	if config.Bloom == (bloom.Config{}) {
		config.Bloom = bloom.DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	replica := &Replica{
		authority: authority,
		store:     store,
		random:    random,
		network:   n,
		config:    config,
		logger:    n.logger.With("replica", ids.Short(authority)),
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.replicas[authority] = replica
	return replica
}

// Store returns the replica's tree store.
func (r *Replica) Store() *treestore.Store { return r.store }

func (r *Replica) LocalDigest(ctx context.Context) (oplog.Digest, error) {
	return r.store.Digest(ctx, r.config.Bloom)
}

// ExchangeDigest sends local to peer and returns the peer's digest.
func (r *Replica) ExchangeDigest(ctx context.Context, peer ids.AuthorityID, local oplog.Digest) (oplog.Digest, error) {
	remote, err := r.network.reach(r.authority, peer)
	if err != nil {
		return oplog.Digest{}, err
	}
	request, err := local.MarshalBinary()
	if err != nil {
		return oplog.Digest{}, err
	}
	response, err := remote.serveDigest(ctx, request)
	if err != nil {
		return oplog.Digest{}, err
	}
	return oplog.DecodeDigest(response)
}

func (r *Replica) serveDigest(ctx context.Context, request []byte) ([]byte, error) {
	if _, err := oplog.DecodeDigest(request); err != nil {
		return nil, err
	}
	digest, err := r.LocalDigest(ctx)
	if err != nil {
		return nil, err
	}
	return digest.MarshalBinary()
}

// RequestOps asks peer for the ops in want.
func (r *Replica) RequestOps(ctx context.Context, peer ids.AuthorityID, want []hash.Digest) ([]oplog.BatchMessage, error) {
	remote, err := r.network.reach(r.authority, peer)
	if err != nil {
		return nil, err
	}
	encoded, err := remote.serveOps(ctx, want)
	if err != nil {
		return nil, err
	}
	return decodeBatches(encoded)
}

func (r *Replica) serveOps(ctx context.Context, want []hash.Digest) ([][]byte, error) {
	ops, err := r.LocalOps(ctx, want)
	if err != nil {
		return nil, err
	}
	return encodeBatches(oplog.Batches(oplog.BatchID(r.random.UUID()), ops, r.config.BatchSize))
}

// PushOps delivers batches to peer, which merges them.
func (r *Replica) PushOps(ctx context.Context, peer ids.AuthorityID, batches []oplog.BatchMessage) error {
	remote, err := r.network.reach(r.authority, peer)
	if err != nil {
		return err
	}
	encoded, err := encodeBatches(batches)
	if err != nil {
		return err
	}
	return remote.acceptOps(ctx, r.authority, encoded)
}

func (r *Replica) acceptOps(ctx context.Context, from ids.AuthorityID, encoded [][]byte) error {
	batches, err := decodeBatches(encoded)
	if err != nil {
		return err
	}
	ops, err := Assemble(batches)
	if err != nil {
		return err
	}
	added, err := r.MergeOps(ctx, ops)
	if err != nil {
		return err
	}
	r.logger.Debug("pushed ops merged", "peer", ids.Short(from), "received", len(ops), "new", added)
	return nil
}

func (r *Replica) LocalOps(ctx context.Context, want []hash.Digest) ([]tree.AttestedOp, error) {
	ops := make([]tree.AttestedOp, 0, len(want))
	for _, id := range want {
		op, ok, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

func (r *Replica) MergeOps(ctx context.Context, ops []tree.AttestedOp) (int, error) {
	return r.store.Merge(ctx, ops)
}

// ConnectedPeers lists every other replica whose link is up, in byte
// order.
func (r *Replica) ConnectedPeers(ctx context.Context) ([]ids.AuthorityID, error) {
	r.network.mu.RLock()
	defer r.network.mu.RUnlock()
	var peers []ids.AuthorityID
	for authority := range r.network.replicas {
		if authority != r.authority && !r.network.cut[linkOf(r.authority, authority)] {
			peers = append(peers, authority)
		}
	}
	slices.SortFunc(peers, ids.Compare[ids.AuthorityID])
	return peers, nil
}

// Assemble joins the messages of one transfer in sequence order.
func Assemble(batches []oplog.BatchMessage) ([]tree.AttestedOp, error) {
	var assembler oplog.Assembler
	complete := false
	for _, batch := range batches {
		var err error
		if complete, err = assembler.Add(batch); err != nil {
			return nil, fmt.Errorf("antientropy: %w", err)
		}
	}
	if !complete {
		return nil, fmt.Errorf("antientropy: transfer ended without a final batch: %w", oplog.ErrBatchOutOfOrder)
	}
	return assembler.Items(), nil
}

func encodeBatches(batches []oplog.BatchMessage) ([][]byte, error) {
	encoded := make([][]byte, len(batches))
	for index, batch := range batches {
		data, err := codec.Marshal(batch)
		if err != nil {
			return nil, fmt.Errorf("antientropy: encoding batch %d: %w", index, err)
		}
		encoded[index] = data
	}
	return encoded, nil
}

func decodeBatches(encoded [][]byte) ([]oplog.BatchMessage, error) {
	batches := make([]oplog.BatchMessage, len(encoded))
	for index, data := range encoded {
		if err := codec.Unmarshal(data, &batches[index]); err != nil {
			return nil, fmt.Errorf("antientropy: decoding batch %d: %w", index, err)
		}
	}
	return batches, nil
}
