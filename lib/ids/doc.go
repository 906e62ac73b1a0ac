// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ids defines the fixed-width identifiers used throughout Aura.
//
// Every identifier is a 32-byte value drawn from entropy (or derived by
// keyed hashing). Each kind of identifier is a distinct Go type so the
// compiler rejects passing a [DeviceID] where an [AuthorityID] is
// expected. Equality is byte equality and ordering is byte-lexicographic
// via Compare.
//
// Identifiers encode as lowercase hex through encoding.TextMarshaler,
// which makes them usable as JSON object keys and as CBOR text strings
// (lib/codec configures the CBOR encoder to honor TextMarshaler).
//
// [Epoch] is the commitment-tree mutation counter. It strictly
// increases on every successful tree mutation and is used to invalidate
// stale flow receipts.
package ids
