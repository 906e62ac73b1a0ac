// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frost

import (
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	"github.com/cloudflare/circl/group"
)

// SignatureSize is the width of an aggregate signature: R || z.
const SignatureSize = ElementSize + ScalarSize

// SigningNonces are a signer's private round-one values. They must be
// used for exactly one signature.
type SigningNonces struct {
	Hiding     []byte
	Binding    []byte
	Commitment SigningCommitment
}

// SigningCommitment is a signer's public round-one output.
type SigningCommitment struct {
	Identifier Identifier `cbor:"1,keyasint"`
	Hiding     []byte     `cbor:"2,keyasint"`
	Binding    []byte     `cbor:"3,keyasint"`
}

// SigningPackage is what the coordinator hands to signers in round two.
type SigningPackage struct {
	Commitments []SigningCommitment `cbor:"1,keyasint"`
	Message     []byte              `cbor:"2,keyasint"`
}

// SignatureShare is one signer's round-two output.
type SignatureShare struct {
	Identifier Identifier `cbor:"1,keyasint"`
	Share      []byte     `cbor:"2,keyasint"`
}

// Commit runs round one for share.
func Commit(share KeyShare, rand io.Reader) (SigningNonces, error) {
	hiding, err := RandomScalar(rand)
	if err != nil {
		return SigningNonces{}, err
	}
	binding, err := RandomScalar(rand)
	if err != nil {
		return SigningNonces{}, err
	}
	return SigningNonces{
		Hiding:  EncodeScalar(hiding),
		Binding: EncodeScalar(binding),
		Commitment: SigningCommitment{
			Identifier: share.Identifier,
			Hiding:     EncodeElement(Curve.NewElement().MulGen(hiding)),
			Binding:    EncodeElement(Curve.NewElement().MulGen(binding)),
		},
	}, nil
}

// NewSigningPackage sorts commitments by identifier and rejects
// duplicates.
func NewSigningPackage(commitments []SigningCommitment, message []byte) (SigningPackage, error) {
	sorted := slices.Clone(commitments)
	slices.SortFunc(sorted, func(a, b SigningCommitment) int { return int(a.Identifier) - int(b.Identifier) })
	for index := 1; index < len(sorted); index++ {
		if sorted[index].Identifier == sorted[index-1].Identifier {
			return SigningPackage{}, fmt.Errorf("frost: duplicate commitment from %d", sorted[index].Identifier)
		}
	}
	return SigningPackage{Commitments: sorted, Message: slices.Clone(message)}, nil
}

func (p SigningPackage) signers() []Identifier {
	identifiers := make([]Identifier, len(p.Commitments))
	for index, commitment := range p.Commitments {
		identifiers[index] = commitment.Identifier
	}
	return identifiers
}

func (p SigningPackage) commitment(id Identifier) (SigningCommitment, bool) {
	for _, commitment := range p.Commitments {
		if commitment.Identifier == id {
			return commitment, true
		}
	}
	return SigningCommitment{}, false
}

// encodedCommitments is the transcript of the commitment list.
func (p SigningPackage) encodedCommitments() []byte {
	var transcript []byte
	for _, commitment := range p.Commitments {
		transcript = binary.BigEndian.AppendUint16(transcript, uint16(commitment.Identifier))
		transcript = append(transcript, commitment.Hiding...)
		transcript = append(transcript, commitment.Binding...)
	}
	return transcript
}

func (p SigningPackage) bindingFactor(groupKey []byte, id Identifier) group.Scalar {
	input := slices.Concat(groupKey, p.Message, p.encodedCommitments())
	input = binary.BigEndian.AppendUint16(input, uint16(id))
	return Curve.HashToScalar(input, dstRho)
}

// groupCommitment is R = Σ (D_i + ρ_i·E_i).
func (p SigningPackage) groupCommitment(groupKey []byte) (group.Element, error) {
	total := Curve.Identity()
	for _, commitment := range p.Commitments {
		hiding, err := DecodeElement(commitment.Hiding)
		if err != nil {
			return nil, err
		}
		binding, err := DecodeElement(commitment.Binding)
		if err != nil {
			return nil, err
		}
		rho := p.bindingFactor(groupKey, commitment.Identifier)
		total.Add(total, hiding)
		total.Add(total, Curve.NewElement().Mul(binding, rho))
	}
	return total, nil
}

func challenge(commitment group.Element, groupKey, message []byte) group.Scalar {
	return Curve.HashToScalar(slices.Concat(EncodeElement(commitment), groupKey, message), dstChallenge)
}

// Sign runs round two: z_i = d_i + e_i·ρ_i + λ_i·s_i·c.
func Sign(pkg SigningPackage, nonces SigningNonces, share KeyShare) (SignatureShare, error) {
	commitment, ok := pkg.commitment(share.Identifier)
	if !ok {
		return SignatureShare{}, fmt.Errorf("%w: %d has no commitment in package", ErrUnknownIdentifier, share.Identifier)
	}
	if !slices.Equal(commitment.Hiding, nonces.Commitment.Hiding) || !slices.Equal(commitment.Binding, nonces.Commitment.Binding) {
		return SignatureShare{}, fmt.Errorf("frost: package commitment for %d does not match nonces", share.Identifier)
	}
	if len(pkg.Commitments) < int(share.Threshold) {
		return SignatureShare{}, fmt.Errorf("%w: package has %d of %d", ErrThreshold, len(pkg.Commitments), share.Threshold)
	}
	secret, err := DecodeScalar(share.Secret)
	if err != nil {
		return SignatureShare{}, err
	}
	hiding, err := DecodeScalar(nonces.Hiding)
	if err != nil {
		return SignatureShare{}, err
	}
	binding, err := DecodeScalar(nonces.Binding)
	if err != nil {
		return SignatureShare{}, err
	}
	lambda, err := LagrangeCoefficient(share.Identifier, pkg.signers())
	if err != nil {
		return SignatureShare{}, err
	}
	R, err := pkg.groupCommitment(share.GroupKey)
	if err != nil {
		return SignatureShare{}, err
	}
	c := challenge(R, share.GroupKey, pkg.Message)
	rho := pkg.bindingFactor(share.GroupKey, share.Identifier)

	z := Curve.NewScalar().Mul(binding, rho)
	z.Add(z, hiding)
	weighted := Curve.NewScalar().Mul(lambda, secret)
	weighted.Mul(weighted, c)
	z.Add(z, weighted)
	return SignatureShare{Identifier: share.Identifier, Share: EncodeScalar(z)}, nil
}

// VerifyShare checks z_i·G == D_i + ρ_i·E_i + λ_i·c·Y_i.
func VerifyShare(pkg SigningPackage, share SignatureShare, public PublicKeyPackage) error {
	commitment, ok := pkg.commitment(share.Identifier)
	if !ok {
		return fmt.Errorf("%w: share from %d", ErrUnknownIdentifier, share.Identifier)
	}
	encodedVerifying, ok := public.Share(share.Identifier)
	if !ok {
		return fmt.Errorf("%w: no verifying share for %d", ErrUnknownIdentifier, share.Identifier)
	}
	verifying, err := DecodeElement(encodedVerifying)
	if err != nil {
		return err
	}
	z, err := DecodeScalar(share.Share)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidShare, err)
	}
	hiding, err := DecodeElement(commitment.Hiding)
	if err != nil {
		return err
	}
	binding, err := DecodeElement(commitment.Binding)
	if err != nil {
		return err
	}
	lambda, err := LagrangeCoefficient(share.Identifier, pkg.signers())
	if err != nil {
		return err
	}
	R, err := pkg.groupCommitment(public.GroupKey)
	if err != nil {
		return err
	}
	c := challenge(R, public.GroupKey, pkg.Message)
	rho := pkg.bindingFactor(public.GroupKey, share.Identifier)

	expected := Curve.NewElement().Mul(binding, rho)
	expected.Add(expected, hiding)
	expected.Add(expected, Curve.NewElement().Mul(verifying, Curve.NewScalar().Mul(lambda, c)))
	if !Curve.NewElement().MulGen(z).IsEqual(expected) {
		return fmt.Errorf("%w: from %d", ErrInvalidShare, share.Identifier)
	}
	return nil
}

// Aggregate verifies every share and combines them. Every signer in
// the package must contribute exactly one share.
func Aggregate(pkg SigningPackage, shares []SignatureShare, public PublicKeyPackage) ([]byte, error) {
	if len(pkg.Commitments) < int(public.Threshold) || len(shares) < int(public.Threshold) {
		return nil, fmt.Errorf("%w: %d shares, %d commitments, threshold %d",
			ErrThreshold, len(shares), len(pkg.Commitments), public.Threshold)
	}
	received := make(map[Identifier]bool, len(shares))
	z := Curve.NewScalar()
	for _, share := range shares {
		if received[share.Identifier] {
			return nil, fmt.Errorf("%w: duplicate share from %d", ErrInvalidShare, share.Identifier)
		}
		received[share.Identifier] = true
		if err := VerifyShare(pkg, share, public); err != nil {
			return nil, err
		}
		value, _ := DecodeScalar(share.Share)
		z.Add(z, value)
	}
	for _, id := range pkg.signers() {
		if !received[id] {
			return nil, fmt.Errorf("%w: missing share from %d", ErrThreshold, id)
		}
	}
	R, err := pkg.groupCommitment(public.GroupKey)
	if err != nil {
		return nil, err
	}
	signature := slices.Concat(EncodeElement(R), EncodeScalar(z))
	if err := Verify(public.GroupKey, pkg.Message, signature); err != nil {
		return nil, err
	}
	return signature, nil
}

// Verify checks a Schnorr signature: z·G == R + c·Y.
func Verify(groupKey, message, signature []byte) error {
	if len(signature) != SignatureSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(signature))
	}
	Y, err := DecodeElement(groupKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	R, err := DecodeElement(signature[:ElementSize])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	z, err := DecodeScalar(signature[ElementSize:])
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	c := challenge(R, groupKey, message)
	expected := Curve.NewElement().Mul(Y, c)
	expected.Add(expected, R)
	if !Curve.NewElement().MulGen(z).IsEqual(expected) {
		return ErrInvalidSignature
	}
	return nil
}
