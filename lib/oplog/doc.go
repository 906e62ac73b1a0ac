// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package oplog holds the attested-operation log: the content-addressed,
// append-only sequence of [tree.AttestedOp] values from which every
// replica reduces its commitment tree.
//
// Appending is idempotent by content id. Readers hold a [Cursor] and
// observe a prefix of the log; [Log.Since] returns a copy of the
// suffix past a cursor, never a slice that a later append can change.
//
// [Digest] summarizes a log for anti-entropy (a Bloom filter plus the
// id list), and [BatchMessage] carries ops between replicas.
package oplog
