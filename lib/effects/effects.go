// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"context"
	"crypto/ed25519"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/aura/lib/bloom"
	"github.com/bureau-foundation/aura/lib/clock"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/oplog"
	"github.com/bureau-foundation/aura/lib/tree"
)

// CryptoEffects signs with the local device key, verifies signatures,
// hashes, and seals to HPKE recipients.
type CryptoEffects interface {
	Hash(domain hash.Domain, parts ...[]byte) hash.Digest
	PublicKey() ed25519.PublicKey
	Sign(message []byte) ([]byte, error)
	Verify(publicKey ed25519.PublicKey, message, signature []byte) bool

	// HPKEPublicKey is the local X25519 public key others seal to.
	HPKEPublicKey() []byte
	HPKESeal(recipient, info, aad, plaintext []byte) ([]byte, error)
	HPKEOpen(info, aad, sealed []byte) ([]byte, error)
}

// RandomEffects supplies uniform bytes. Read never returns a short
// read without an error.
type RandomEffects interface {
	io.Reader
	Bytes(n int) []byte
	Uint64() uint64
	UUID() uuid.UUID
}

// TimeEffects supplies physical time with uncertainty and a logical
// clock.
type TimeEffects interface {
	Now() time.Time
	Physical() clock.PhysicalTime
	// LogicalTick advances the logical clock and returns the new value.
	LogicalTick() uint64
	// LogicalObserve merges a remote logical timestamp.
	LogicalObserve(remote uint64) uint64
	Clock() clock.Clock
}

// StorageStats describes a storage backend.
type StorageStats struct {
	Backend string
	Keys    int
	Bytes   int64
}

// StorageOp is one write in a batch. A nil Value deletes the key.
type StorageOp struct {
	Key   string
	Value []byte
}

// StorageEffects is a key/value store. There is no ordering guarantee
// across keys outside a Batch.
type StorageEffects interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the keys with the given prefix in sorted order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Batch applies every op atomically.
	Batch(ctx context.Context, ops []StorageOp) error
	Stats(ctx context.Context) (StorageStats, error)
}

// TransportEffects moves envelopes between authorities. Within one
// sender/receiver pair, order is preserved.
type TransportEffects interface {
	Send(ctx context.Context, envelope TransportEnvelope) error
	Receive(ctx context.Context) (TransportEnvelope, error)
}

// JournalEffects reads and writes the fact journal.
type JournalEffects interface {
	AppendFact(ctx context.Context, entry journal.Entry) (journal.Entry, error)
	// CommitRelationalFacts appends entries atomically.
	CommitRelationalFacts(ctx context.Context, entries []journal.Entry) ([]journal.Entry, error)
	Snapshot(ctx context.Context, context ids.ContextID) (journal.ContextSnapshot, error)
}

// SyncEffects exchanges op-log state with peers.
type SyncEffects interface {
	LocalDigest(ctx context.Context) (oplog.Digest, error)
	ExchangeDigest(ctx context.Context, peer ids.AuthorityID, local oplog.Digest) (oplog.Digest, error)
	RequestOps(ctx context.Context, peer ids.AuthorityID, want []hash.Digest) ([]oplog.BatchMessage, error)
	PushOps(ctx context.Context, peer ids.AuthorityID, batches []oplog.BatchMessage) error
	// LocalOps returns the locally held ops among want, skipping ids
	// not held.
	LocalOps(ctx context.Context, want []hash.Digest) ([]tree.AttestedOp, error)
	// MergeOps verifies and appends ops, returning how many were new.
	MergeOps(ctx context.Context, ops []tree.AttestedOp) (int, error)
	ConnectedPeers(ctx context.Context) ([]ids.AuthorityID, error)
}

// LeakageEffects accounts metadata revealed to observers.
type LeakageEffects interface {
	RecordLeakage(ctx context.Context, event LeakageEvent) error
	// LeakageRemaining is the budget left for one observer class.
	LeakageRemaining(ctx context.Context, context ids.ContextID, observer ObserverClass) (uint64, error)
	LeakageHistory(ctx context.Context, context ids.ContextID) ([]LeakageEvent, error)
}

// BloomEffects builds and combines Bloom filters.
type BloomEffects interface {
	NewFilter(config bloom.Config) (*bloom.Filter, error)
	Insert(filter *bloom.Filter, item []byte)
	Contains(filter *bloom.Filter, item []byte) bool
	Union(into, from *bloom.Filter) error
	Estimate(filter *bloom.Filter) uint
	Encode(filter *bloom.Filter) ([]byte, error)
	Decode(data []byte) (*bloom.Filter, error)
}

// FlowBudgetEffects tracks per (context, peer) flow budgets and issues
// signed receipts for charges.
type FlowBudgetEffects interface {
	SetLimit(ctx context.Context, context ids.ContextID, peer ids.AuthorityID, limit uint64) error
	Remaining(ctx context.Context, context ids.ContextID, peer ids.AuthorityID) (uint64, error)
	Charge(ctx context.Context, context ids.ContextID, authority, peer ids.AuthorityID, amount uint64) (Receipt, error)
	VerifyReceipt(ctx context.Context, receipt Receipt, signer ed25519.PublicKey) error
	Epoch() ids.Epoch
	// RotateEpoch invalidates receipts issued before epoch.
	RotateEpoch(epoch ids.Epoch)
}

// System is the composed effect facade handed to protocol code.
type System struct {
	Authority ids.AuthorityID
	Device    ids.DeviceID

	Crypto    CryptoEffects
	Random    RandomEffects
	Time      TimeEffects
	Storage   StorageEffects
	Transport TransportEffects
	Journal   JournalEffects
	Leakage   LeakageEffects
	Bloom     BloomEffects
	Flow      FlowBudgetEffects

	// Sync is nil for systems that do not replicate an op log.
	Sync SyncEffects
}
