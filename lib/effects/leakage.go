// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"fmt"

	"github.com/bureau-foundation/aura/lib/ids"
)

// ObserverClass groups the parties that can observe metadata.
type ObserverClass uint8

const (
	ObserverExternal ObserverClass = iota + 1
	ObserverNeighbor
	ObserverInGroup
)

func (c ObserverClass) String() string {
	switch c {
	case ObserverExternal:
		return "external"
	case ObserverNeighbor:
		return "neighbor"
	case ObserverInGroup:
		return "in_group"
	default:
		return fmt.Sprintf("observer(%d)", uint8(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c ObserverClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ObserverClass) UnmarshalText(text []byte) error {
	switch string(text) {
	case "external":
		*c = ObserverExternal
	case "neighbor":
		*c = ObserverNeighbor
	case "in_group":
		*c = ObserverInGroup
	default:
		return fmt.Errorf("effects: unknown observer class %q", text)
	}
	return nil
}

// LeakageBudgets caps the flow units revealable per observer class.
type LeakageBudgets struct {
	External uint64 `yaml:"external" json:"external"`
	Neighbor uint64 `yaml:"neighbor" json:"neighbor"`
	InGroup  uint64 `yaml:"in_group" json:"in_group"`
}

// DefaultLeakageBudgets returns external 10000, neighbor 50000 and
// in-group 100000.
func DefaultLeakageBudgets() LeakageBudgets {
	return LeakageBudgets{External: 10000, Neighbor: 50000, InGroup: 100000}
}

// For returns the budget of one class.
func (b LeakageBudgets) For(class ObserverClass) uint64 {
	switch class {
	case ObserverExternal:
		return b.External
	case ObserverNeighbor:
		return b.Neighbor
	case ObserverInGroup:
		return b.InGroup
	default:
		return 0
	}
}

// LeakageEvent records metadata revealed by one operation. Events are
// stored as newline-delimited JSON.
type LeakageEvent struct {
	Context   ids.ContextID `json:"context"`
	Observer  ObserverClass `json:"observer"`
	Bits      uint64        `json:"bits"`
	Operation string        `json:"operation"`
	// Timestamp is Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}
