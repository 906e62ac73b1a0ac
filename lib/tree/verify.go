// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/bureau-foundation/aura/lib/frost"
)

// ErrUnauthorized is returned by SignatureVerifier when an attestation
// does not satisfy the signer node's policy or its signature fails.
var ErrUnauthorized = errors.New("tree: op not authorized")

// SignatureVerifier is the default Verifier.
//
// A leaf signer must hold an ed25519 key and may sign a RotatePath of
// its own leaf, or any op while the root policy requires a single
// signer. A branch signer attests with a FROST signature under the
// state's group key, and its SignerCount must meet the branch policy.
type SignatureVerifier struct{}

var _ Verifier = SignatureVerifier{}

// VerifyOp implements Verifier.
func (SignatureVerifier) VerifyOp(state State, op AttestedOp) error {
	message, err := op.Op.SigningBytes()
	if err != nil {
		return err
	}
	if !state.HasNode(op.SignerNode) {
		return fmt.Errorf("%w: signer node %d absent", ErrUnauthorized, op.SignerNode)
	}

	if op.SignerNode.IsLeaf() {
		leaf, _ := state.Leaf(op.SignerNode.Leaf())
		if len(leaf.SigningKey) != ed25519.PublicKeySize {
			return fmt.Errorf("%w: leaf %d has no ed25519 key", ErrUnauthorized, op.SignerNode.Leaf())
		}
		selfRotation := op.Op.Kind == OpRotatePath && op.Op.RotatePath != nil &&
			op.Op.RotatePath.Index == op.SignerNode.Leaf()
		if !selfRotation {
			rootPolicy := Any()
			if state.NumLeaves() > 1 {
				rootPolicy, _ = state.Policy(Root(state.NumLeaves()))
			}
			if rootPolicy.Required(int(state.NumLeaves())) > 1 {
				return fmt.Errorf("%w: single leaf cannot satisfy root policy %s", ErrUnauthorized, rootPolicy)
			}
		}
		if !ed25519.Verify(ed25519.PublicKey(leaf.SigningKey), message, op.Signature) {
			return fmt.Errorf("%w: bad leaf signature", ErrUnauthorized)
		}
		return nil
	}

	policy, err := state.Policy(op.SignerNode)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	covered := len(LeavesUnder(op.SignerNode, state.NumLeaves()))
	if int(op.SignerCount) < policy.Required(covered) || int(op.SignerCount) > covered {
		return fmt.Errorf("%w: %d signers for %s over %d leaves", ErrUnauthorized, op.SignerCount, policy, covered)
	}
	groupKey := state.GroupKey()
	if len(groupKey) == 0 {
		return fmt.Errorf("%w: state has no group key", ErrUnauthorized)
	}
	if err := frost.Verify(groupKey, message, op.Signature); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}
