// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the canonical serialization for Aura.
//
// Every value whose bytes feed a hash or a signature (tree state,
// attested ops, facts, flow receipts, FROST key shares, sync batches)
// is encoded here with CBOR Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. The same logical value always produces the
// same bytes, which is what makes root commitments reproducible across
// replicas.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//	digest, err := codec.Digest(hash.DomainOpContent, value)
//
// Struct fields use integer keys (`cbor:"1,keyasint"`) for compact,
// rename-proof encodings. Types implementing encoding.TextMarshaler
// (the identifiers in lib/ids, hash.Digest) encode as CBOR text.
//
// JSON is reserved for human-facing artifacts: bootstrap metadata,
// leakage history lines and the simulator summary.
package codec
