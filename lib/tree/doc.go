// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tree implements the commitment tree: a left-balanced binary
// tree whose leaves are the devices, guardians and contexts of an
// account and whose root commitment summarizes the whole membership
// and policy state.
//
// # Layout
//
// Nodes use the array layout familiar from TreeKEM: leaf i sits at
// node 2i, internal nodes sit at odd indices, and a node's level is the
// number of trailing one bits of its index. For n leaves the array
// width is 2n-1 and the root is the largest 2^k-1 below the width.
// Leaves are always packed at positions 0..n-1; removing a leaf moves
// the last leaf into the vacated slot.
//
// # State and operations
//
// [State] is an immutable value. [Apply] takes a state and a [TreeOp]
// and returns a new state or an error; it never mutates its input.
// Every successful operation increments the epoch, and because the
// epoch is part of the canonical serialization every successful
// operation changes the root commitment.
//
// Each op names the state it was produced against (ParentEpoch and
// ParentCommitment). [Reduce] replays a set of [AttestedOp] values from
// a baseline: at each step the ops bound to the current state compete
// and the one with the greatest content id wins. The result depends
// only on the set of ops, never on arrival order, which is what lets
// replicas converge after anti-entropy.
//
// # Commitments
//
// Leaf and branch commitments are keyed BLAKE3 digests over canonical
// CBOR (lib/codec). A branch commitment covers its node index, the
// epoch, its policy and both child commitments. The root commitment
// covers the canonical serialization of the entire state, including
// every node commitment.
package tree
