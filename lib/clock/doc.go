// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides injectable time for Aura.
//
// Production code never calls time.Now, time.After, time.NewTicker or
// time.Sleep directly. It holds a [Clock] and production wiring passes
// Real(). Tests and the simulator pass Fake(), which only moves when
// Advance is called, so recovery delays of an hour or a cooldown of a
// day are exercised without waiting.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go runtime.Run(ctx)        // registers a ticker
//	c.WaitForTimers(1)         // wait for the registration
//	c.Advance(time.Minute)     // fire it deterministically
//
// Two further notions of time live here. [PhysicalTime] is a wall-clock
// reading paired with an uncertainty bound, so callers can ask whether
// one event definitely precedes another. [LogicalClock] is a Lamport
// counter for ordering events without trusting wall time.
package clock
