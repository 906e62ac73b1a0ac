// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"crypto/ed25519"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/bureau-foundation/aura/lib/frost"
	"pgregory.net/rapid"
)

func attest(op TreeOp) AttestedOp {
	return AttestedOp{Op: op, SignerNode: 0, SignerCount: 1}
}

func TestReduceConcurrentOpsConverge(t *testing.T) {
	base := genesisWith(t, 2)
	first, _ := testLeaf(50, RoleDevice)
	second, _ := testLeaf(51, RoleDevice)
	a := attest(mustOp(t, base, AddLeaf{Leaf: first}))
	b := attest(mustOp(t, base, AddLeaf{Leaf: second}))

	forward, err := Reduce(base, []AttestedOp{a, b}, nil)
	if err != nil {
		t.Fatal(err)
	}
	backward, err := Reduce(base, []AttestedOp{b, a, b}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if forward.State.RootCommitment() != backward.State.RootCommitment() {
		t.Fatal("reduction depends on input order")
	}
	if len(forward.Applied) != 1 || len(forward.Superseded) != 1 {
		t.Fatalf("applied %d, superseded %d", len(forward.Applied), len(forward.Superseded))
	}
	idA, _ := a.ContentID()
	idB, _ := b.ContentID()
	winner := idA
	if idB.Compare(idA) > 0 {
		winner = idB
	}
	if forward.Applied[0] != winner {
		t.Error("winner is not the greatest content id")
	}
}

func TestReduceChainsAndOrphans(t *testing.T) {
	base := genesisWith(t, 2)
	leaf, _ := testLeaf(60, RoleDevice)
	first := attest(mustOp(t, base, AddLeaf{Leaf: leaf}))
	afterFirst := mustApply(t, base, AddLeaf{Leaf: leaf})
	second := attest(mustOp(t, afterFirst, ChangePolicy{Node: Root(3), Policy: Threshold(2, 3)}))

	unrelated := genesisWith(t, 5)
	orphan := attest(mustOp(t, unrelated, RotateEpoch{}))

	result, err := Reduce(base, []AttestedOp{orphan, second, first}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Applied) != 2 {
		t.Fatalf("applied %d ops", len(result.Applied))
	}
	if result.State.Epoch() != 2 {
		t.Errorf("epoch = %d", result.State.Epoch())
	}
	orphanID, _ := orphan.ContentID()
	if len(result.Orphaned) != 1 || result.Orphaned[0] != orphanID {
		t.Errorf("orphaned = %v", result.Orphaned)
	}
}

func TestReduceFallsBackWhenWinnerInvalid(t *testing.T) {
	base := genesisWith(t, 2)
	duplicate, _ := testLeaf(1, RoleDevice)
	fresh, _ := testLeaf(70, RoleDevice)
	bad := attest(mustOp(t, base, AddLeaf{Leaf: duplicate}))
	good := attest(mustOp(t, base, AddLeaf{Leaf: fresh}))

	result, err := Reduce(base, []AttestedOp{bad, good}, nil)
	if err != nil {
		t.Fatal(err)
	}
	goodID, _ := good.ContentID()
	if len(result.Applied) != 1 || result.Applied[0] != goodID {
		t.Fatalf("applied = %v", result.Applied)
	}
	if len(result.Rejected) != 1 || !errors.Is(result.Rejected[0].Err, ErrDuplicateLeaf) {
		t.Fatalf("rejected = %v", result.Rejected)
	}
}

// Reducing any permutation of the same op set yields the same state.
func TestReduceOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := genesisWith(t, rapid.IntRange(1, 4).Draw(t, "initial"))
		var ops []AttestedOp
		state := base
		counter := byte(100)
		for range rapid.IntRange(1, 8).Draw(t, "chain") {
			// A sibling op competes for the same parent.
			for range rapid.IntRange(0, 2).Draw(t, "siblings") {
				sibling, err := NewOp(state, drawPayload(t, state, &counter))
				if err != nil {
					t.Fatal(err)
				}
				ops = append(ops, attest(sibling))
			}
			op, err := NewOp(state, drawPayload(t, state, &counter))
			if err != nil {
				t.Fatal(err)
			}
			if next, err := Apply(state, op); err == nil {
				ops = append(ops, attest(op))
				state = next
			}
		}

		reference, err := Reduce(base, ops, nil)
		if err != nil {
			t.Fatal(err)
		}
		shuffled := rapid.Permutation(ops).Draw(t, "order")
		result, err := Reduce(base, shuffled, nil)
		if err != nil {
			t.Fatal(err)
		}
		if result.State.RootCommitment() != reference.State.RootCommitment() {
			t.Fatal("permuted input reduced to a different state")
		}
		if len(result.Applied) != len(reference.Applied) {
			t.Fatalf("applied %d vs %d", len(result.Applied), len(reference.Applied))
		}
	})
}

func signLeaf(t *testing.T, private ed25519.PrivateKey, signer LeafIndex, op TreeOp) AttestedOp {
	t.Helper()
	message, err := op.SigningBytes()
	if err != nil {
		t.Fatal(err)
	}
	return AttestedOp{Op: op, SignerNode: signer.Node(), SignerCount: 1, Signature: ed25519.Sign(private, message)}
}

func signGroup(t *testing.T, shares []frost.KeyShare, public frost.PublicKeyPackage, node NodeIndex, op TreeOp) AttestedOp {
	t.Helper()
	message, err := op.SigningBytes()
	if err != nil {
		t.Fatal(err)
	}
	random := rand.NewChaCha8([32]byte{9})
	nonces := make([]frost.SigningNonces, len(shares))
	var commitments []frost.SigningCommitment
	for index, share := range shares {
		nonces[index], err = frost.Commit(share, random)
		if err != nil {
			t.Fatal(err)
		}
		commitments = append(commitments, nonces[index].Commitment)
	}
	pkg, err := frost.NewSigningPackage(commitments, message)
	if err != nil {
		t.Fatal(err)
	}
	var signatureShares []frost.SignatureShare
	for index, share := range shares {
		signatureShare, err := frost.Sign(pkg, nonces[index], share)
		if err != nil {
			t.Fatal(err)
		}
		signatureShares = append(signatureShares, signatureShare)
	}
	signature, err := frost.Aggregate(pkg, signatureShares, public)
	if err != nil {
		t.Fatal(err)
	}
	return AttestedOp{Op: op, SignerNode: node, SignerCount: uint16(len(shares)), Signature: signature}
}

func TestSignatureVerifier(t *testing.T) {
	shares, public, err := frost.GenerateWithDealer(2, 2, rand.NewChaCha8([32]byte{1}))
	if err != nil {
		t.Fatal(err)
	}
	first, firstKey := testLeaf(1, RoleDevice)
	second, _ := testLeaf(2, RoleDevice)
	base, err := Genesis([]Leaf{first, second}, public.GroupKey)
	if err != nil {
		t.Fatal(err)
	}
	strict := mustApply(t, base, ChangePolicy{Node: 1, Policy: All()})
	verifier := SignatureVerifier{}
	newcomer, _ := testLeaf(3, RoleDevice)
	rotated, _ := testLeaf(4, RoleDevice)

	t.Run("LeafSelfRotation", func(t *testing.T) {
		op := signLeaf(t, firstKey, 0, mustOp(t, strict, RotatePath{Index: 0, SigningKey: rotated.SigningKey}))
		if err := verifier.VerifyOp(strict, op); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("LeafCannotSatisfyStrictRoot", func(t *testing.T) {
		op := signLeaf(t, firstKey, 0, mustOp(t, strict, AddLeaf{Leaf: newcomer}))
		if err := verifier.VerifyOp(strict, op); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("LeafUnderAnyRoot", func(t *testing.T) {
		op := signLeaf(t, firstKey, 0, mustOp(t, base, AddLeaf{Leaf: newcomer}))
		if err := verifier.VerifyOp(base, op); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("LeafWrongKey", func(t *testing.T) {
		op := signLeaf(t, firstKey, 1, mustOp(t, base, AddLeaf{Leaf: newcomer}))
		if err := verifier.VerifyOp(base, op); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("GroupSignature", func(t *testing.T) {
		op := signGroup(t, shares, public, 1, mustOp(t, strict, AddLeaf{Leaf: newcomer}))
		if err := verifier.VerifyOp(strict, op); err != nil {
			t.Fatal(err)
		}
		result, err := Reduce(strict, []AttestedOp{op}, verifier)
		if err != nil {
			t.Fatal(err)
		}
		if len(result.Applied) != 1 {
			t.Fatalf("rejected: %v", result.Rejected)
		}
	})
	t.Run("GroupSignerCountBelowPolicy", func(t *testing.T) {
		op := signGroup(t, shares, public, 1, mustOp(t, strict, AddLeaf{Leaf: newcomer}))
		op.SignerCount = 1
		if err := verifier.VerifyOp(strict, op); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("GroupSignatureOverOtherOp", func(t *testing.T) {
		op := signGroup(t, shares, public, 1, mustOp(t, strict, AddLeaf{Leaf: newcomer}))
		op.Op = mustOp(t, strict, RotateEpoch{})
		if err := verifier.VerifyOp(strict, op); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("err = %v", err)
		}
	})
	t.Run("RejectedOpsAreReported", func(t *testing.T) {
		op := signLeaf(t, firstKey, 0, mustOp(t, strict, AddLeaf{Leaf: newcomer}))
		result, err := Reduce(strict, []AttestedOp{op}, verifier)
		if err != nil {
			t.Fatal(err)
		}
		if len(result.Rejected) != 1 || result.State.Epoch() != strict.Epoch() {
			t.Fatalf("result = %+v", result)
		}
	})
}
