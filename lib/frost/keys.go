// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frost

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/cloudflare/circl/group"
)

// Errors reported by aggregation and share handling.
var (
	ErrInvalidShare      = errors.New("frost: invalid signature share")
	ErrUnknownIdentifier = errors.New("frost: unknown participant identifier")
	ErrThreshold         = errors.New("frost: fewer signers than threshold")
	ErrInvalidSignature  = errors.New("frost: signature does not verify")
	ErrCorruptShare      = errors.New("frost: key share does not match its verifying share")
)

// Identifier is a participant's nonzero evaluation point.
type Identifier uint16

func (id Identifier) scalar() group.Scalar { return ScalarFromUint64(uint64(id)) }

// KeyShare is one participant's secret share with the public values
// needed to use it.
type KeyShare struct {
	Identifier     Identifier `cbor:"1,keyasint"`
	Secret         []byte     `cbor:"2,keyasint"`
	VerifyingShare []byte     `cbor:"3,keyasint"`
	GroupKey       []byte     `cbor:"4,keyasint"`
	Threshold      uint16     `cbor:"5,keyasint"`
}

// Validate checks that the secret matches the verifying share.
func (k KeyShare) Validate() error {
	secret, err := DecodeScalar(k.Secret)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptShare, err)
	}
	if !bytes.Equal(EncodeElement(Curve.NewElement().MulGen(secret)), k.VerifyingShare) {
		return ErrCorruptShare
	}
	return nil
}

// VerifyingShare pairs a participant with its public share.
type VerifyingShare struct {
	Identifier Identifier `cbor:"1,keyasint"`
	Share      []byte     `cbor:"2,keyasint"`
}

// PublicKeyPackage is the public half of a key generation.
type PublicKeyPackage struct {
	GroupKey        []byte           `cbor:"1,keyasint"`
	VerifyingShares []VerifyingShare `cbor:"2,keyasint"`
	Threshold       uint16           `cbor:"3,keyasint"`
}

// Share returns the verifying share of id.
func (p PublicKeyPackage) Share(id Identifier) ([]byte, bool) {
	for _, entry := range p.VerifyingShares {
		if entry.Identifier == id {
			return entry.Share, true
		}
	}
	return nil, false
}

// Identifiers lists the participants in ascending order.
func (p PublicKeyPackage) Identifiers() []Identifier {
	identifiers := make([]Identifier, len(p.VerifyingShares))
	for index, entry := range p.VerifyingShares {
		identifiers[index] = entry.Identifier
	}
	slices.Sort(identifiers)
	return identifiers
}

// GenerateWithDealer samples a fresh secret and splits it threshold-of-
// participants. Identifiers are 1..participants.
func GenerateWithDealer(threshold, participants uint16, rand io.Reader) ([]KeyShare, PublicKeyPackage, error) {
	secret, err := RandomScalar(rand)
	if err != nil {
		return nil, PublicKeyPackage{}, err
	}
	return Split(secret, threshold, participants, rand)
}

// Split shares secret threshold-of-participants.
func Split(secret group.Scalar, threshold, participants uint16, rand io.Reader) ([]KeyShare, PublicKeyPackage, error) {
	if threshold == 0 || threshold > participants {
		return nil, PublicKeyPackage{}, fmt.Errorf("frost: threshold %d invalid for %d participants", threshold, participants)
	}
	polynomial, err := NewPolynomial(secret, threshold, rand)
	if err != nil {
		return nil, PublicKeyPackage{}, err
	}
	groupKey := EncodeElement(Curve.NewElement().MulGen(secret))
	pkg := PublicKeyPackage{GroupKey: groupKey, Threshold: threshold}
	shares := make([]KeyShare, 0, participants)
	for id := Identifier(1); id <= Identifier(participants); id++ {
		value := polynomial.Evaluate(id)
		verifying := EncodeElement(Curve.NewElement().MulGen(value))
		shares = append(shares, KeyShare{
			Identifier:     id,
			Secret:         EncodeScalar(value),
			VerifyingShare: verifying,
			GroupKey:       groupKey,
			Threshold:      threshold,
		})
		pkg.VerifyingShares = append(pkg.VerifyingShares, VerifyingShare{Identifier: id, Share: verifying})
	}
	return shares, pkg, nil
}

// Reconstruct interpolates the group secret from at least threshold
// shares. Only recovery tooling and tests should need it.
func Reconstruct(shares []KeyShare) (group.Scalar, error) {
	if len(shares) == 0 {
		return nil, ErrThreshold
	}
	if len(shares) < int(shares[0].Threshold) {
		return nil, fmt.Errorf("%w: %d of %d", ErrThreshold, len(shares), shares[0].Threshold)
	}
	set := make([]Identifier, len(shares))
	for index, share := range shares {
		set[index] = share.Identifier
	}
	secret := Curve.NewScalar()
	for _, share := range shares {
		value, err := DecodeScalar(share.Secret)
		if err != nil {
			return nil, err
		}
		lambda, err := LagrangeCoefficient(share.Identifier, set)
		if err != nil {
			return nil, err
		}
		secret.Add(secret, Curve.NewScalar().Mul(lambda, value))
	}
	return secret, nil
}
