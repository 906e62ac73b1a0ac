// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol runs multi-party protocols over an effect system.
//
// Participants of one protocol run share a [Ledger], an append-only
// event log. Each participant holds a [Context] bound to one session:
// it publishes events, waits for events of a type, and waits for a
// threshold of distinct authors. Events that arrive before anyone asks
// for them sit in a FIFO pending queue, and the context's read index
// into the ledger only moves forward.
//
// The [Executor] is the bridge between the pure guard chain and the
// effects: it builds a guard snapshot from live state, evaluates the
// chain, journals a denial fact when the chain refuses, and otherwise
// executes the emitted commands in order, attaching the receipt of a
// budget charge to the envelope that follows it.
//
// [SessionRuntime] tracks session lifecycles (Created, Active, then
// Completed, Failed, Expired or Cancelled) and journals their start
// and end. [TimeoutManager] bounds each run by its operation kind and
// can widen timeouts from observed round trips; [DeadlineTracker]
// splits one run's budget into per-phase deadlines.
//
// Concrete protocols live in subpackages: dkd, signing, resharing,
// recovery, rendezvous and lottery.
package protocol
