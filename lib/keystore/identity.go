// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package keystore

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
)

// Identity is an age X25519 key pair whose private half is held in
// Locked memory.
type Identity struct {
	private   *Locked
	recipient *age.X25519Recipient
}

// GenerateIdentity creates a fresh identity.
func GenerateIdentity() (*Identity, error) {
	generated, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("keystore: generating identity: %w", err)
	}
	return ParseIdentity([]byte(generated.String()))
}

// ParseIdentity reads an "AGE-SECRET-KEY-1..." string. data is zeroed.
func ParseIdentity(data []byte) (*Identity, error) {
	parsed, err := age.ParseX25519Identity(string(bytes.TrimSpace(data)))
	if err != nil {
		clear(data)
		return nil, fmt.Errorf("keystore: parsing identity: %w", err)
	}
	private, err := NewLocked(bytes.TrimSpace(data))
	clear(data)
	if err != nil {
		return nil, err
	}
	return &Identity{private: private, recipient: parsed.Recipient()}, nil
}

// Recipient is the public key in "age1..." form.
func (i *Identity) Recipient() string { return i.recipient.String() }

// Pinned reports whether the private key is locked into RAM.
func (i *Identity) Pinned() bool { return i.private.Pinned() }

// Close releases the private key.
func (i *Identity) Close() error { return i.private.Close() }

func (i *Identity) seal(plaintext []byte) ([]byte, error) {
	var sealed bytes.Buffer
	writer, err := age.Encrypt(&sealed, i.recipient)
	if err != nil {
		return nil, fmt.Errorf("keystore: starting seal: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("keystore: sealing: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("keystore: finishing seal: %w", err)
	}
	return sealed.Bytes(), nil
}

func (i *Identity) unseal(sealed []byte) ([]byte, error) {
	// age parses identities from strings only; the copy lives for this
	// call.
	identity, err := age.ParseX25519Identity(string(i.private.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("keystore: parsing identity: %w", err)
	}
	reader, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return nil, fmt.Errorf("keystore: unsealing: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("keystore: reading unsealed data: %w", err)
	}
	return plaintext, nil
}
