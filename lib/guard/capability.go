// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

// Capability is one bit of authority.
type Capability uint

const (
	CapTreeRead Capability = iota
	CapTreeWrite
	CapJournalAppend
	CapSync
	CapRecoveryRequest
	CapRecoveryApprove
	CapRendezvous
	CapSessionCreate
	CapChatSend
	CapLockRequest

	capabilityCount
)

var capabilityNames = [capabilityCount]string{
	CapTreeRead:        "tree:read",
	CapTreeWrite:       "tree:write",
	CapJournalAppend:   "journal:append",
	CapSync:            "sync",
	CapRecoveryRequest: "recovery:request",
	CapRecoveryApprove: "recovery:approve",
	CapRendezvous:      "rendezvous",
	CapSessionCreate:   "session:create",
	CapChatSend:        "chat:send",
	CapLockRequest:     "lock:request",
}

func (c Capability) String() string {
	if c < capabilityCount {
		return capabilityNames[c]
	}
	return fmt.Sprintf("capability(%d)", uint(c))
}

// ParseCapability maps a name such as "tree:write" to its capability.
func ParseCapability(name string) (Capability, error) {
	for index, candidate := range capabilityNames {
		if candidate == name {
			return Capability(index), nil
		}
	}
	return 0, fmt.Errorf("guard: unknown capability %q", name)
}

// CapSet is an immutable set of capabilities. The zero value is empty.
type CapSet struct {
	bits *bitset.BitSet
}

// NewCapSet returns a set holding capabilities.
func NewCapSet(capabilities ...Capability) CapSet {
	bits := bitset.New(uint(capabilityCount))
	for _, capability := range capabilities {
		bits.Set(uint(capability))
	}
	return CapSet{bits: bits}
}

// AllCapabilities returns the set of every defined capability.
func AllCapabilities() CapSet {
	all := make([]Capability, capabilityCount)
	for index := range all {
		all[index] = Capability(index)
	}
	return NewCapSet(all...)
}

func (s CapSet) view() *bitset.BitSet {
	if s.bits == nil {
		return bitset.New(0)
	}
	return s.bits
}

// Has reports whether capability is in the set.
func (s CapSet) Has(capability Capability) bool {
	return s.bits != nil && s.bits.Test(uint(capability))
}

// Covers reports whether every capability in required is in s.
func (s CapSet) Covers(required CapSet) bool {
	return s.view().IsSuperSet(required.view())
}

// With returns a copy of s with capabilities added.
func (s CapSet) With(capabilities ...Capability) CapSet {
	bits := s.view().Clone()
	for _, capability := range capabilities {
		bits.Set(uint(capability))
	}
	return CapSet{bits: bits}
}

// Len returns the number of capabilities in the set.
func (s CapSet) Len() int { return int(s.view().Count()) }

// Equal reports whether both sets hold the same capabilities.
func (s CapSet) Equal(other CapSet) bool {
	return s.Covers(other) && other.Covers(s)
}

// Capabilities lists the members in ascending order.
func (s CapSet) Capabilities() []Capability {
	var members []Capability
	bits := s.view()
	for index, ok := bits.NextSet(0); ok; index, ok = bits.NextSet(index + 1) {
		members = append(members, Capability(index))
	}
	return members
}

func (s CapSet) String() string {
	names := make([]string, 0, s.Len())
	for _, capability := range s.Capabilities() {
		names = append(names, capability.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}
