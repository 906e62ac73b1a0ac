// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package frost

import (
	"fmt"
	"io"

	"github.com/cloudflare/circl/group"
)

// Curve is the prime-order group FROST operates in.
var Curve = group.Ristretto255

// ScalarSize and ElementSize are the encoded widths.
const (
	ScalarSize  = 32
	ElementSize = 32
)

var (
	dstRandom    = []byte("aura-frost-ristretto255-v1-random")
	dstRho       = []byte("aura-frost-ristretto255-v1-rho")
	dstChallenge = []byte("aura-frost-ristretto255-v1-chal")
)

// RandomScalar reads 64 bytes from rand and hashes them to a scalar.
func RandomScalar(rand io.Reader) (group.Scalar, error) {
	var seed [64]byte
	if _, err := io.ReadFull(rand, seed[:]); err != nil {
		return nil, fmt.Errorf("frost: reading randomness: %w", err)
	}
	return Curve.HashToScalar(seed[:], dstRandom), nil
}

// ScalarFromUint64 returns the scalar with integer value v.
func ScalarFromUint64(v uint64) group.Scalar {
	return Curve.NewScalar().SetUint64(v)
}

// EncodeScalar returns the canonical encoding of s.
func EncodeScalar(s group.Scalar) []byte {
	data, err := s.MarshalBinary()
	if err != nil {
		panic("frost: encoding scalar: " + err.Error())
	}
	return data
}

// DecodeScalar parses a canonical scalar encoding.
func DecodeScalar(data []byte) (group.Scalar, error) {
	if len(data) != ScalarSize {
		return nil, fmt.Errorf("frost: scalar is %d bytes, want %d", len(data), ScalarSize)
	}
	s := Curve.NewScalar()
	if err := s.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("frost: decoding scalar: %w", err)
	}
	return s, nil
}

// EncodeElement returns the canonical encoding of e.
func EncodeElement(e group.Element) []byte {
	data, err := e.MarshalBinary()
	if err != nil {
		panic("frost: encoding element: " + err.Error())
	}
	return data
}

// DecodeElement parses a canonical element encoding.
func DecodeElement(data []byte) (group.Element, error) {
	if len(data) != ElementSize {
		return nil, fmt.Errorf("frost: element is %d bytes, want %d", len(data), ElementSize)
	}
	e := Curve.NewElement()
	if err := e.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("frost: decoding element: %w", err)
	}
	return e, nil
}

// Polynomial is a secret polynomial over the scalar field; Coefficients[0]
// is the shared secret.
type Polynomial struct {
	Coefficients []group.Scalar
}

// NewPolynomial samples a degree threshold-1 polynomial with the given
// constant term.
func NewPolynomial(secret group.Scalar, threshold uint16, rand io.Reader) (Polynomial, error) {
	if threshold == 0 {
		return Polynomial{}, fmt.Errorf("frost: threshold must be positive")
	}
	coefficients := []group.Scalar{secret.Copy()}
	for range threshold - 1 {
		coefficient, err := RandomScalar(rand)
		if err != nil {
			return Polynomial{}, err
		}
		coefficients = append(coefficients, coefficient)
	}
	return Polynomial{Coefficients: coefficients}, nil
}

// Evaluate returns f(x) by Horner's rule.
func (p Polynomial) Evaluate(x Identifier) group.Scalar {
	point := x.scalar()
	result := Curve.NewScalar()
	for index := len(p.Coefficients) - 1; index >= 0; index-- {
		result.Mul(result, point)
		result.Add(result, p.Coefficients[index])
	}
	return result
}

// Commitments returns the Feldman commitments coefficient·G.
func (p Polynomial) Commitments() [][]byte {
	commitments := make([][]byte, len(p.Coefficients))
	for index, coefficient := range p.Coefficients {
		commitments[index] = EncodeElement(Curve.NewElement().MulGen(coefficient))
	}
	return commitments
}

// EvaluateCommitments evaluates a committed polynomial in the exponent
// at x: the sum of C_k·x^k.
func EvaluateCommitments(commitments [][]byte, x Identifier) (group.Element, error) {
	result := Curve.Identity()
	power := ScalarFromUint64(1)
	point := x.scalar()
	for _, encoded := range commitments {
		commitment, err := DecodeElement(encoded)
		if err != nil {
			return nil, err
		}
		result.Add(result, Curve.NewElement().Mul(commitment, power))
		power = Curve.NewScalar().Mul(power, point)
	}
	return result, nil
}

// VerifyFeldman checks that share·G equals the committed polynomial
// evaluated in the exponent at x.
func VerifyFeldman(commitments [][]byte, x Identifier, share group.Scalar) error {
	expected, err := EvaluateCommitments(commitments, x)
	if err != nil {
		return err
	}
	if !Curve.NewElement().MulGen(share).IsEqual(expected) {
		return fmt.Errorf("%w: sub-share for %d does not match commitments", ErrInvalidShare, x)
	}
	return nil
}

// LagrangeCoefficient returns the coefficient that interpolates f(0)
// from the participant's share within set.
func LagrangeCoefficient(id Identifier, set []Identifier) (group.Scalar, error) {
	numerator := ScalarFromUint64(1)
	denominator := ScalarFromUint64(1)
	found := false
	for _, other := range set {
		if other == id {
			found = true
			continue
		}
		numerator.Mul(numerator, other.scalar())
		difference := Curve.NewScalar().Sub(other.scalar(), id.scalar())
		denominator.Mul(denominator, difference)
	}
	if !found {
		return nil, fmt.Errorf("%w: %d not in signing set", ErrUnknownIdentifier, id)
	}
	if denominator.IsZero() {
		return nil, fmt.Errorf("frost: repeated identifier in set")
	}
	inverse := Curve.NewScalar().Inv(denominator)
	return numerator.Mul(numerator, inverse), nil
}
