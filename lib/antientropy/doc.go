// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package antientropy reconciles commitment-tree op logs between
// replicas.
//
// A sync session with one peer runs in rounds. Each round exchanges
// Bloom-filter digests of the two op logs, pulls the ops the local log
// lacks in sequenced batches, merges them through the SyncEffects
// handler, and pushes the ops the peer's filter does not contain. A
// session ends after the first round that moves nothing or after
// MaxRounds. Filter false positives can hide a missing op from one
// round; it is only found once the filters change.
//
// Sessions with the same peer are rate limited to one per
// MinSyncInterval, measured on the effect system's clock.
//
// [Network] and [Replica] provide an in-process SyncEffects
// implementation over a [treestore.Store], used by tests and the
// simulator.
package antientropy
