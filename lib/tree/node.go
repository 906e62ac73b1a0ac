// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"bytes"
	"fmt"
	"maps"
)

// Role is what a leaf represents.
type Role uint8

const (
	RoleDevice Role = iota + 1
	RoleGuardian
	RoleContext
)

func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "device"
	case RoleGuardian:
		return "guardian"
	case RoleContext:
		return "context"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

func (r Role) valid() bool { return r >= RoleDevice && r <= RoleContext }

// Leaf is one member of the tree.
type Leaf struct {
	// ID is the member's 32-byte identity (a device id for devices, an
	// authority id for guardians and contexts).
	ID [32]byte `cbor:"1,keyasint"`

	Role Role `cbor:"2,keyasint"`

	// SigningKey is the member's public signing key package.
	SigningKey []byte `cbor:"3,keyasint"`

	Metadata map[string]string `cbor:"4,keyasint,omitempty"`
}

// Clone returns a deep copy.
func (l Leaf) Clone() Leaf {
	clone := l
	clone.SigningKey = bytes.Clone(l.SigningKey)
	if l.Metadata != nil {
		clone.Metadata = maps.Clone(l.Metadata)
	}
	return clone
}

// PolicyKind selects how many members under a branch must sign.
type PolicyKind uint8

const (
	PolicyAny PolicyKind = iota + 1
	PolicyThreshold
	PolicyAll
)

// Policy is the signing policy of an internal node.
type Policy struct {
	Kind PolicyKind `cbor:"1,keyasint"`
	// M and N are set for threshold policies: M of the N leaves
	// under the node must sign.
	M uint16 `cbor:"2,keyasint,omitempty"`
	N uint16 `cbor:"3,keyasint,omitempty"`
}

// Any requires one signer.
func Any() Policy { return Policy{Kind: PolicyAny} }

// All requires every leaf under the node.
func All() Policy { return Policy{Kind: PolicyAll} }

// Threshold requires m of n.
func Threshold(m, n uint16) Policy { return Policy{Kind: PolicyThreshold, M: m, N: n} }

func (p Policy) String() string {
	switch p.Kind {
	case PolicyAny:
		return "any"
	case PolicyAll:
		return "all"
	case PolicyThreshold:
		return fmt.Sprintf("threshold(%d/%d)", p.M, p.N)
	default:
		return fmt.Sprintf("policy(%d)", uint8(p.Kind))
	}
}

// Required returns the number of signers the policy demands from a
// node covering leafCount leaves.
func (p Policy) Required(leafCount int) int {
	switch p.Kind {
	case PolicyAll:
		return leafCount
	case PolicyThreshold:
		return int(p.M)
	default:
		return 1
	}
}

// AtLeastAsStrict reports whether p demands at least as many signers
// as other for a node covering leafCount leaves.
func (p Policy) AtLeastAsStrict(other Policy, leafCount int) bool {
	return p.Required(leafCount) >= other.Required(leafCount)
}

// validate checks p against the number of leaves its node covers.
func (p Policy) validate(leafCount int) error {
	switch p.Kind {
	case PolicyAny, PolicyAll:
		if leafCount < 1 {
			return fmt.Errorf("%w: %s policy on a node with no leaves", ErrInvalidPolicy, p)
		}
		return nil
	case PolicyThreshold:
		if int(p.N) != leafCount {
			return fmt.Errorf("%w: %s on a node covering %d leaves", ErrInvalidPolicy, p, leafCount)
		}
		if p.M < 1 || p.M > p.N {
			return fmt.Errorf("%w: %s has m outside [1, n]", ErrInvalidPolicy, p)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown policy kind %d", ErrInvalidPolicy, p.Kind)
	}
}

// rescale adapts a threshold policy to a new leaf count.
func (p Policy) rescale(leafCount int) Policy {
	if p.Kind != PolicyThreshold {
		return p
	}
	n := uint16(leafCount)
	m := min(p.M, n)
	if m == 0 {
		m = 1
	}
	return Threshold(m, n)
}
