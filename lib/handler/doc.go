// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package handler implements the effect capabilities declared in
// [effects]. Each handler covers one capability and is safe for
// concurrent use:
//
//   - [Crypto] signs with ed25519 and seals with HPKE.
//   - [SeededRandom] and [SystemRandom] supply randomness.
//   - [Time] reads an injected clock and keeps a Lamport counter.
//   - [LeakageRecorder] accounts metadata leakage per observer class.
//   - [Journal] persists facts and serves copy-on-write snapshots.
//   - [FlowLedger] enforces flow budgets and issues chained receipts.
//   - [Bloom] wraps the filter value type.
//
// Handlers that need randomness take it from a [effects.RandomEffects]
// so that a system built from a [SeededRandom] replays exactly.
// [NewSimulationSystem] wires a complete deterministic
// [effects.System] from one seed.
//
// [Pool] and [Initialize] are the two concurrency helpers: a LIFO pool
// whose Get never blocks and a fan-out initializer that joins every
// failure.
package handler
