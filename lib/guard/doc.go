// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package guard decides whether an operation may run and, if it may,
// which effects running it entails.
//
// Guards are pure functions of a [Snapshot] and a [Request]. They read
// no clock, touch no storage and send nothing; everything they need is
// captured in the snapshot beforehand, and everything they want done
// is returned as [Command] values in an [Outcome]. Evaluating the same
// chain twice on the same inputs yields equal outcomes.
//
// [DefaultChain] runs four guards in a fixed order:
//
//  1. [CapabilityGuard] requires an "allow" authorization decision in
//     snapshot metadata and every required capability bit.
//  2. [FlowBudgetGuard] requires enough flow budget and emits a
//     [ChargeBudget].
//  3. [JournalCouplingGuard] emits an [AppendJournal] recording the
//     operation.
//  4. [LeakageTrackingGuard] emits a [RecordLeakage] when the request
//     declares metadata exposure.
//
// The first denial ends evaluation and discards every effect gathered
// so far, so budget is never charged for an unauthorized operation and
// nothing is journaled or accounted for an operation that does not
// run.
package guard
