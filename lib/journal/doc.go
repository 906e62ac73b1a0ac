// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal is the relational fact store. Each relational
// context (an account, a home, a channel) has a set of participating
// authorities and an append-only list of typed facts.
//
// Facts are monotone: once appended they are never changed. A
// [FactReducer] folds the facts of one type into a
// [RelationalBinding]; the default reducer counts them, and
// [LatestWins] keeps the newest fact per key (guardian bindings keyed
// by guardian, residents keyed by authority).
//
// [Journal] is copy-on-write. [Journal.Snapshot] returns an immutable
// [ContextSnapshot]; writers append past the end of the snapshot's view
// and never touch data a snapshot can see, so readers do not block
// writers.
package journal
