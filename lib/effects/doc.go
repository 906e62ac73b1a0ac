// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package effects declares the capability interfaces that protocol and
// sync code use for every side effect: cryptography, randomness, time,
// storage, transport, the fact journal, op-log sync, leakage
// accounting, Bloom filters and flow budgets.
//
// The package holds no implementations. lib/handler provides
// production and simulation handlers, and [System] bundles one handler
// per capability into the single value that protocol code receives. A
// simulation injects seeded, in-memory handlers; a production binary
// injects platform ones.
//
// Implementations must be safe for concurrent use. Blocking operations
// take a context and fail with a [TimeoutError] when their deadline
// passes.
package effects
