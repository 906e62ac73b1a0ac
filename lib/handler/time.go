// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"time"

	"github.com/bureau-foundation/aura/lib/clock"
	"github.com/bureau-foundation/aura/lib/effects"
)

var _ effects.TimeEffects = (*Time)(nil)

// DefaultUncertainty is the physical-time error bound reported when
// none is configured.
const DefaultUncertainty = 50 * time.Millisecond

// Time serves physical time from a clock with a fixed error bound and
// logical time from a Lamport counter.
type Time struct {
	clock       clock.Clock
	uncertainty time.Duration
	logical     clock.LogicalClock
}

// NewTime returns a time handler over source. A non-positive
// uncertainty selects DefaultUncertainty.
func NewTime(source clock.Clock, uncertainty time.Duration) *Time {
	if uncertainty <= 0 {
		uncertainty = DefaultUncertainty
	}
	return &Time{clock: source, uncertainty: uncertainty}
}

func (t *Time) Now() time.Time { return t.clock.Now() }

func (t *Time) Physical() clock.PhysicalTime {
	return clock.PhysicalTime{Time: t.clock.Now(), Uncertainty: t.uncertainty}
}

func (t *Time) LogicalTick() uint64 { return t.logical.Tick() }

func (t *Time) LogicalObserve(remote uint64) uint64 { return t.logical.Observe(remote) }

func (t *Time) Clock() clock.Clock { return t.clock }
