// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frost

import (
	"errors"
	"math/rand/v2"
	"testing"

	"pgregory.net/rapid"
)

func seeded(seed byte) *rand.ChaCha8 {
	var key [32]byte
	key[0] = seed
	return rand.NewChaCha8(key)
}

// signWith runs both rounds for the given participants and returns the
// package and shares.
func signWith(t *testing.T, shares []KeyShare, signers []Identifier, message []byte, random *rand.ChaCha8) (SigningPackage, []SignatureShare) {
	t.Helper()
	nonces := make(map[Identifier]SigningNonces)
	var commitments []SigningCommitment
	for _, id := range signers {
		nonce, err := Commit(shares[id-1], random)
		if err != nil {
			t.Fatalf("Commit(%d): %v", id, err)
		}
		nonces[id] = nonce
		commitments = append(commitments, nonce.Commitment)
	}
	pkg, err := NewSigningPackage(commitments, message)
	if err != nil {
		t.Fatalf("NewSigningPackage: %v", err)
	}
	var signatureShares []SignatureShare
	for _, id := range signers {
		share, err := Sign(pkg, nonces[id], shares[id-1])
		if err != nil {
			t.Fatalf("Sign(%d): %v", id, err)
		}
		signatureShares = append(signatureShares, share)
	}
	return pkg, signatureShares
}

func TestThresholdSignatureVerifies(t *testing.T) {
	random := seeded(1)
	shares, public, err := GenerateWithDealer(2, 3, random)
	if err != nil {
		t.Fatalf("GenerateWithDealer: %v", err)
	}
	for _, share := range shares {
		if err := share.Validate(); err != nil {
			t.Fatalf("share %d: %v", share.Identifier, err)
		}
	}

	message := []byte("tree op at epoch 4")
	pkg, signatureShares := signWith(t, shares, []Identifier{1, 3}, message, random)
	signature, err := Aggregate(pkg, signatureShares, public)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(signature) != SignatureSize {
		t.Fatalf("signature is %d bytes", len(signature))
	}
	if err := Verify(public.GroupKey, message, signature); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := Verify(public.GroupKey, []byte("a different message"), signature); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("Verify(wrong message) = %v, want ErrInvalidSignature", err)
	}
}

func TestAggregateBelowThreshold(t *testing.T) {
	random := seeded(2)
	shares, public, err := GenerateWithDealer(2, 3, random)
	if err != nil {
		t.Fatal(err)
	}
	nonce, err := Commit(shares[0], random)
	if err != nil {
		t.Fatal(err)
	}
	pkg, err := NewSigningPackage([]SigningCommitment{nonce.Commitment}, []byte("m"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Sign(pkg, nonce, shares[0]); !errors.Is(err, ErrThreshold) {
		t.Fatalf("Sign below threshold = %v, want ErrThreshold", err)
	}
	if _, err := Aggregate(pkg, nil, public); !errors.Is(err, ErrThreshold) {
		t.Fatalf("Aggregate below threshold = %v, want ErrThreshold", err)
	}
}

func TestAggregateRejectsTamperedShare(t *testing.T) {
	random := seeded(3)
	shares, public, err := GenerateWithDealer(2, 3, random)
	if err != nil {
		t.Fatal(err)
	}
	pkg, signatureShares := signWith(t, shares, []Identifier{1, 2}, []byte("m"), random)
	signatureShares[1].Share = EncodeScalar(ScalarFromUint64(7))
	if _, err := Aggregate(pkg, signatureShares, public); !errors.Is(err, ErrInvalidShare) {
		t.Fatalf("Aggregate = %v, want ErrInvalidShare", err)
	}
}

func TestAggregateMissingShare(t *testing.T) {
	random := seeded(4)
	shares, public, err := GenerateWithDealer(2, 3, random)
	if err != nil {
		t.Fatal(err)
	}
	pkg, signatureShares := signWith(t, shares, []Identifier{1, 2, 3}, []byte("m"), random)
	if _, err := Aggregate(pkg, signatureShares[:2], public); !errors.Is(err, ErrThreshold) {
		t.Fatalf("Aggregate = %v, want ErrThreshold for missing share", err)
	}
}

func TestAggregateUnknownSigner(t *testing.T) {
	random := seeded(5)
	shares, public, err := GenerateWithDealer(2, 3, random)
	if err != nil {
		t.Fatal(err)
	}
	pkg, signatureShares := signWith(t, shares, []Identifier{1, 2}, []byte("m"), random)
	signatureShares[0].Identifier = 9
	if _, err := Aggregate(pkg, signatureShares, public); !errors.Is(err, ErrUnknownIdentifier) {
		t.Fatalf("Aggregate = %v, want ErrUnknownIdentifier", err)
	}
}

func TestReconstructMatchesGroupKey(t *testing.T) {
	random := seeded(6)
	secret, err := RandomScalar(random)
	if err != nil {
		t.Fatal(err)
	}
	shares, public, err := Split(secret, 3, 5, random)
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := Reconstruct([]KeyShare{shares[4], shares[0], shares[2]})
	if err != nil {
		t.Fatal(err)
	}
	if !recovered.IsEqual(secret) {
		t.Fatal("reconstructed secret differs")
	}
	if _, err := Reconstruct(shares[:2]); !errors.Is(err, ErrThreshold) {
		t.Fatalf("Reconstruct(2 of 3) = %v", err)
	}
	if got := EncodeElement(Curve.NewElement().MulGen(recovered)); string(got) != string(public.GroupKey) {
		t.Fatal("group key mismatch")
	}
}

func TestFeldmanCommitments(t *testing.T) {
	random := seeded(7)
	secret, _ := RandomScalar(random)
	polynomial, err := NewPolynomial(secret, 3, random)
	if err != nil {
		t.Fatal(err)
	}
	commitments := polynomial.Commitments()
	if err := VerifyFeldman(commitments, 4, polynomial.Evaluate(4)); err != nil {
		t.Fatalf("VerifyFeldman: %v", err)
	}
	if err := VerifyFeldman(commitments, 4, polynomial.Evaluate(5)); !errors.Is(err, ErrInvalidShare) {
		t.Fatalf("VerifyFeldman(wrong point) = %v", err)
	}
}

func TestSplitRejectsBadThreshold(t *testing.T) {
	secret := ScalarFromUint64(1)
	for _, tc := range []struct{ threshold, participants uint16 }{{0, 3}, {4, 3}} {
		if _, _, err := Split(secret, tc.threshold, tc.participants, seeded(8)); err == nil {
			t.Errorf("Split(%d of %d) succeeded", tc.threshold, tc.participants)
		}
	}
}

// Any threshold-sized subset of signers produces a signature that
// verifies under the same group key.
func TestAnyQuorumSigns(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		participants := rapid.Uint16Range(1, 6).Draw(t, "participants")
		threshold := rapid.Uint16Range(1, participants).Draw(t, "threshold")
		seed := rapid.Byte().Draw(t, "seed")
		random := seeded(seed)
		shares, public, err := GenerateWithDealer(threshold, participants, random)
		if err != nil {
			t.Fatal(err)
		}
		all := make([]Identifier, participants)
		for index := range all {
			all[index] = Identifier(index + 1)
		}
		signers := rapid.SliceOfNDistinct(rapid.SampledFrom(all), int(threshold), int(participants),
			func(id Identifier) Identifier { return id }).Draw(t, "signers")

		nonces := make(map[Identifier]SigningNonces)
		var commitments []SigningCommitment
		for _, id := range signers {
			nonce, err := Commit(shares[id-1], random)
			if err != nil {
				t.Fatal(err)
			}
			nonces[id] = nonce
			commitments = append(commitments, nonce.Commitment)
		}
		message := []byte("quorum")
		pkg, err := NewSigningPackage(commitments, message)
		if err != nil {
			t.Fatal(err)
		}
		var signatureShares []SignatureShare
		for _, id := range signers {
			share, err := Sign(pkg, nonces[id], shares[id-1])
			if err != nil {
				t.Fatal(err)
			}
			signatureShares = append(signatureShares, share)
		}
		signature, err := Aggregate(pkg, signatureShares, public)
		if err != nil {
			t.Fatalf("Aggregate with %d of %d: %v", len(signers), participants, err)
		}
		if err := Verify(public.GroupKey, message, signature); err != nil {
			t.Fatal(err)
		}
	})
}
