// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the key/value backends behind
// [effects.StorageEffects]:
//
//   - [Memory] keeps everything in a map and is the simulation default.
//   - [SQLite] stores rows in a single table through a pool of
//     connections with WAL journaling.
//   - [Badger] stores keys in an embedded LSM tree.
//
// All three give the same answers for the same sequence of calls; the
// package tests run one conformance suite against each. Keys are
// slash-separated paths such as "tree_ops/<hex>" and "leakage/<hex>".
// [List] results are sorted so callers that rebuild ordered state from
// a prefix scan see the same order everywhere.
//
// [Open] selects a backend by name, which is how configuration picks
// one.
package storage
