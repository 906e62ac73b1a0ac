// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package frost implements FROST two-round threshold Schnorr signatures
// over the ristretto255 group.
//
// Key material is produced either by a trusted dealer ([GenerateWithDealer],
// used for bootstrap and tests) or by splitting an existing secret
// ([Split], used by resharing). Each participant holds a [KeyShare]; the
// [PublicKeyPackage] lists the group verifying key and every
// participant's verifying share.
//
// Signing takes two rounds:
//
//  1. Each signer calls [Commit], keeps the returned [SigningNonces]
//     private and publishes the [SigningCommitment].
//  2. A coordinator assembles a [SigningPackage] from the commitments
//     and the message. Each signer calls [Sign] to produce a
//     [SignatureShare].
//
// [Aggregate] checks every share against its verifying share and
// combines them into a 64-byte signature (R || z) that verifies under
// the group key with [Verify]. Aggregation fails with [ErrThreshold]
// when fewer than threshold signers participate, [ErrUnknownIdentifier]
// when a share comes from outside the package, and [ErrInvalidShare]
// when a share does not verify.
//
// Randomness is always read from the io.Reader the caller supplies and
// mapped to scalars by hashing, so a seeded reader gives fully
// reproducible keys, nonces and signatures.
package frost
