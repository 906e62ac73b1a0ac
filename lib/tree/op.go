// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"fmt"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

// OpKind selects the mutation a TreeOp performs.
type OpKind uint8

const (
	OpAddLeaf OpKind = iota + 1
	OpRemoveLeaf
	OpRotatePath
	OpChangePolicy
	OpRotateEpoch
)

func (k OpKind) String() string {
	switch k {
	case OpAddLeaf:
		return "add_leaf"
	case OpRemoveLeaf:
		return "remove_leaf"
	case OpRotatePath:
		return "rotate_path"
	case OpChangePolicy:
		return "change_policy"
	case OpRotateEpoch:
		return "rotate_epoch"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// AddLeaf appends a member.
type AddLeaf struct {
	Leaf Leaf `cbor:"1,keyasint"`
}

// RemoveLeaf removes a member. The last leaf moves into its slot.
type RemoveLeaf struct {
	Index  LeafIndex `cbor:"1,keyasint"`
	Reason string    `cbor:"2,keyasint,omitempty"`
}

// RotatePath replaces a member's signing key, refreshing every
// commitment on its direct path.
type RotatePath struct {
	Index      LeafIndex `cbor:"1,keyasint"`
	SigningKey []byte    `cbor:"2,keyasint"`
}

// ChangePolicy sets the policy of an internal node. The new policy
// must be at least as strict as the current one.
type ChangePolicy struct {
	Node   NodeIndex `cbor:"1,keyasint"`
	Policy Policy    `cbor:"2,keyasint"`
}

// RotateEpoch advances the epoch without a membership change, marking
// the listed nodes as re-keyed. A non-empty GroupKey replaces the
// threshold verifying key.
type RotateEpoch struct {
	Affected []NodeIndex `cbor:"1,keyasint"`
	GroupKey []byte      `cbor:"2,keyasint,omitempty"`
}

// TreeOp is one mutation bound to the state it was produced against.
// Exactly the payload matching Kind is set.
type TreeOp struct {
	Kind             OpKind      `cbor:"1,keyasint"`
	ParentEpoch      ids.Epoch   `cbor:"2,keyasint"`
	ParentCommitment hash.Digest `cbor:"3,keyasint"`

	AddLeaf      *AddLeaf      `cbor:"4,keyasint,omitempty"`
	RemoveLeaf   *RemoveLeaf   `cbor:"5,keyasint,omitempty"`
	RotatePath   *RotatePath   `cbor:"6,keyasint,omitempty"`
	ChangePolicy *ChangePolicy `cbor:"7,keyasint,omitempty"`
	RotateEpoch  *RotateEpoch  `cbor:"8,keyasint,omitempty"`
}

// NewOp binds a payload to a parent state. payload must be one of the
// five payload types (by value).
func NewOp(parent State, payload any) (TreeOp, error) {
	op := TreeOp{ParentEpoch: parent.Epoch(), ParentCommitment: parent.RootCommitment()}
	switch typed := payload.(type) {
	case AddLeaf:
		op.Kind, op.AddLeaf = OpAddLeaf, &typed
	case RemoveLeaf:
		op.Kind, op.RemoveLeaf = OpRemoveLeaf, &typed
	case RotatePath:
		op.Kind, op.RotatePath = OpRotatePath, &typed
	case ChangePolicy:
		op.Kind, op.ChangePolicy = OpChangePolicy, &typed
	case RotateEpoch:
		op.Kind, op.RotateEpoch = OpRotateEpoch, &typed
	default:
		return TreeOp{}, fmt.Errorf("%w: unsupported payload %T", ErrInvalidOp, payload)
	}
	return op, nil
}

// SigningBytes is the message an attestation signs.
func (op TreeOp) SigningBytes() ([]byte, error) {
	data, err := codec.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("tree: encoding op: %w", err)
	}
	return data, nil
}

func (op TreeOp) checkPayload() error {
	set := 0
	for _, present := range []bool{
		op.AddLeaf != nil, op.RemoveLeaf != nil, op.RotatePath != nil,
		op.ChangePolicy != nil, op.RotateEpoch != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %s carries %d payloads", ErrInvalidOp, op.Kind, set)
	}
	var matches bool
	switch op.Kind {
	case OpAddLeaf:
		matches = op.AddLeaf != nil
	case OpRemoveLeaf:
		matches = op.RemoveLeaf != nil
	case OpRotatePath:
		matches = op.RotatePath != nil
	case OpChangePolicy:
		matches = op.ChangePolicy != nil
	case OpRotateEpoch:
		matches = op.RotateEpoch != nil
	}
	if !matches {
		return fmt.Errorf("%w: kind %s does not match its payload", ErrInvalidOp, op.Kind)
	}
	return nil
}

// AttestedOp is a TreeOp with the proof that it was authorized: the
// node whose policy it satisfies, how many members signed, and the
// aggregate (or single) signature over SigningBytes.
type AttestedOp struct {
	Op          TreeOp    `cbor:"1,keyasint"`
	SignerNode  NodeIndex `cbor:"2,keyasint"`
	SignerCount uint16    `cbor:"3,keyasint"`
	Signature   []byte    `cbor:"4,keyasint"`
}

// ContentID is the content address of an attested op: the keyed
// digest of its canonical encoding.
func (a AttestedOp) ContentID() (hash.Digest, error) {
	digest, err := codec.Digest(hash.DomainOpContent, a)
	if err != nil {
		return hash.Digest{}, fmt.Errorf("tree: hashing attested op: %w", err)
	}
	return digest, nil
}

// Epoch returns the epoch the op was produced at.
func (a AttestedOp) Epoch() ids.Epoch { return a.Op.ParentEpoch }
