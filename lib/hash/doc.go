// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hash provides the BLAKE3 hashing used for every commitment,
// content address and derived identifier in Aura.
//
// Three forms are offered:
//
//   - [Sum] is plain BLAKE3-256. DKD commitments and lottery tickets
//     use it because their definitions name a bare hash.
//   - [Keyed] is BLAKE3 in keyed mode with a fixed 32-byte [Domain]
//     key. Domain separation guarantees that identical input bytes hash
//     differently in different roles (a leaf commitment can never
//     collide with an op content id).
//   - [DeriveKey] is the BLAKE3 key derivation function, used where a
//     context string binds derived key material to its purpose.
//
// Digests render as lowercase hex. For interoperability with
// content-addressed tooling, [Digest.CID] renders a digest as a CIDv1
// with the raw codec and a blake3 multihash.
package hash
