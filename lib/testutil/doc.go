// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the few test helpers that wait on real time.
//
// Protocol and handler tests run on a fake clock, but a goroutine
// handing a value back, or an envelope crossing the in-memory network,
// still needs a bound so a broken test fails instead of hanging.
// [RequireReceive], [RequireClosed] and [RequireEnvelope] are that
// bound. Each calls t.Fatalf on failure.
package testutil
