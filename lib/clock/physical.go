// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// PhysicalTime is a wall-clock reading with a symmetric uncertainty
// bound: the true time lies in [Time-Uncertainty, Time+Uncertainty].
type PhysicalTime struct {
	Time        time.Time     `json:"time"`
	Uncertainty time.Duration `json:"uncertainty"`
}

// Earliest is the lower bound of the reading.
func (p PhysicalTime) Earliest() time.Time { return p.Time.Add(-p.Uncertainty) }

// Latest is the upper bound of the reading.
func (p PhysicalTime) Latest() time.Time { return p.Time.Add(p.Uncertainty) }

// DefinitelyBefore reports whether p precedes other even in the worst
// case of both uncertainty windows.
func (p PhysicalTime) DefinitelyBefore(other PhysicalTime) bool {
	return p.Latest().Before(other.Earliest())
}

// Overlaps reports whether the two readings cannot be ordered.
func (p PhysicalTime) Overlaps(other PhysicalTime) bool {
	return !p.DefinitelyBefore(other) && !other.DefinitelyBefore(p)
}
