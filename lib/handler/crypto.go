// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/hash"
)

var _ effects.CryptoEffects = (*Crypto)(nil)

// ErrSealedTooShort is returned by HPKEOpen for input shorter than an
// encapsulated key.
var ErrSealedTooShort = errors.New("handler: sealed message shorter than encapsulated key")

// suite is X25519 / HKDF-SHA256 / ChaCha20-Poly1305.
var suite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_ChaCha20Poly1305)

// Crypto holds one device's signing key and HPKE key pair. Every random
// draw, including HPKE ephemeral keys, comes from the injected
// RandomEffects.
type Crypto struct {
	signing    ed25519.PrivateKey
	hpkePublic kem.PublicKey
	hpkeSecret kem.PrivateKey
	random     io.Reader
}

// NewCrypto derives the device keys from random.
func NewCrypto(random effects.RandomEffects) *Crypto {
	signingSeed := random.Bytes(ed25519.SeedSize)
	scheme := hpke.KEM_X25519_HKDF_SHA256.Scheme()
	public, secret := scheme.DeriveKeyPair(random.Bytes(scheme.SeedSize()))
	return &Crypto{
		signing:    ed25519.NewKeyFromSeed(signingSeed),
		hpkePublic: public,
		hpkeSecret: secret,
		random:     random,
	}
}

func (c *Crypto) Hash(domain hash.Domain, parts ...[]byte) hash.Digest {
	return hash.Keyed(domain, parts...)
}

func (c *Crypto) PublicKey() ed25519.PublicKey {
	return c.signing.Public().(ed25519.PublicKey)
}

// Sign returns an ed25519 signature over message.
func (c *Crypto) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(c.signing, message), nil
}

func (c *Crypto) Verify(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}

func (c *Crypto) HPKEPublicKey() []byte {
	encoded, err := c.hpkePublic.MarshalBinary()
	if err != nil {
		panic("handler: encoding X25519 public key: " + err.Error())
	}
	return encoded
}

// HPKESeal encrypts plaintext to recipient. The output is the
// encapsulated key followed by the ciphertext.
func (c *Crypto) HPKESeal(recipient, info, aad, plaintext []byte) ([]byte, error) {
	public, err := hpke.KEM_X25519_HKDF_SHA256.Scheme().UnmarshalBinaryPublicKey(recipient)
	if err != nil {
		return nil, fmt.Errorf("handler: hpke recipient key: %w", err)
	}
	sender, err := suite.NewSender(public, info)
	if err != nil {
		return nil, fmt.Errorf("handler: hpke sender: %w", err)
	}
	encapsulated, sealer, err := sender.Setup(c.random)
	if err != nil {
		return nil, fmt.Errorf("handler: hpke setup: %w", err)
	}
	ciphertext, err := sealer.Seal(plaintext, aad)
	if err != nil {
		return nil, fmt.Errorf("handler: hpke seal: %w", err)
	}
	return append(encapsulated, ciphertext...), nil
}

// HPKEOpen decrypts a message produced by HPKESeal for this device.
func (c *Crypto) HPKEOpen(info, aad, sealed []byte) ([]byte, error) {
	size := hpke.KEM_X25519_HKDF_SHA256.Scheme().CiphertextSize()
	if len(sealed) < size {
		return nil, ErrSealedTooShort
	}
	receiver, err := suite.NewReceiver(c.hpkeSecret, info)
	if err != nil {
		return nil, fmt.Errorf("handler: hpke receiver: %w", err)
	}
	opener, err := receiver.Setup(sealed[:size])
	if err != nil {
		return nil, fmt.Errorf("handler: hpke setup: %w", err)
	}
	plaintext, err := opener.Open(sealed[size:], aad)
	if err != nil {
		return nil, fmt.Errorf("handler: hpke open: %w", err)
	}
	return plaintext, nil
}
