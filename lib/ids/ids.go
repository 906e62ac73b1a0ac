// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ids

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the byte width of every identifier.
const Size = 32

// AuthorityID identifies an authority: an account, a guardian, or any
// principal able to hold capabilities.
type AuthorityID [Size]byte

// ContextID identifies a relational context (account, home, channel).
type ContextID [Size]byte

// DeviceID identifies a single device holding key material.
type DeviceID [Size]byte

// AccountID identifies an account whose identity is split across
// devices and guardians.
type AccountID [Size]byte

// SessionID identifies one protocol execution.
type SessionID [Size]byte

// ChannelID identifies a rendezvous channel between two authorities.
type ChannelID [Size]byte

// Identifier is the set of identifier kinds. Generic helpers accept
// any of them.
type Identifier interface {
	~[Size]byte
}

// Compare orders identifiers byte-lexicographically. It returns -1, 0
// or +1.
func Compare[T Identifier](a, b T) int {
	return bytes.Compare(a[:], b[:])
}

// Random draws a fresh identifier from reader. Callers pass crypto/rand
// in production and a seeded reader in simulation.
func Random[T Identifier](reader io.Reader) (T, error) {
	var id T
	if _, err := io.ReadFull(reader, id[:]); err != nil {
		return id, fmt.Errorf("ids: reading entropy: %w", err)
	}
	return id, nil
}

// Parse decodes a 64-character hex string.
func Parse[T Identifier](text string) (T, error) {
	var id T
	if err := decodeHex(id[:], []byte(text)); err != nil {
		return id, err
	}
	return id, nil
}

// FromBytes copies exactly Size bytes into an identifier.
func FromBytes[T Identifier](data []byte) (T, error) {
	var id T
	if len(data) != Size {
		return id, fmt.Errorf("ids: identifier is %d bytes, want %d", len(data), Size)
	}
	copy(id[:], data)
	return id, nil
}

// Fill returns an identifier with every byte set to value. Tests use it
// for readable fixtures such as [0x01, 0x01, ...].
func Fill[T Identifier](value byte) T {
	var id T
	for index := range id {
		id[index] = value
	}
	return id
}

func decodeHex(destination, text []byte) error {
	if len(text) != hex.EncodedLen(Size) {
		return fmt.Errorf("ids: identifier hex is %d characters, want %d", len(text), hex.EncodedLen(Size))
	}
	if _, err := hex.Decode(destination, text); err != nil {
		return fmt.Errorf("ids: decoding identifier hex: %w", err)
	}
	return nil
}

func encodeHex(id [Size]byte) []byte {
	encoded := make([]byte, hex.EncodedLen(Size))
	hex.Encode(encoded, id[:])
	return encoded
}

func (id AuthorityID) String() string               { return string(encodeHex(id)) }
func (id AuthorityID) IsZero() bool                 { return id == AuthorityID{} }
func (id AuthorityID) MarshalText() ([]byte, error) { return encodeHex(id), nil }
func (id *AuthorityID) UnmarshalText(text []byte) error {
	return decodeHex(id[:], text)
}

func (id ContextID) String() string               { return string(encodeHex(id)) }
func (id ContextID) IsZero() bool                 { return id == ContextID{} }
func (id ContextID) MarshalText() ([]byte, error) { return encodeHex(id), nil }
func (id *ContextID) UnmarshalText(text []byte) error {
	return decodeHex(id[:], text)
}

func (id DeviceID) String() string               { return string(encodeHex(id)) }
func (id DeviceID) IsZero() bool                 { return id == DeviceID{} }
func (id DeviceID) MarshalText() ([]byte, error) { return encodeHex(id), nil }
func (id *DeviceID) UnmarshalText(text []byte) error {
	return decodeHex(id[:], text)
}

func (id AccountID) String() string               { return string(encodeHex(id)) }
func (id AccountID) IsZero() bool                 { return id == AccountID{} }
func (id AccountID) MarshalText() ([]byte, error) { return encodeHex(id), nil }
func (id *AccountID) UnmarshalText(text []byte) error {
	return decodeHex(id[:], text)
}

func (id SessionID) String() string               { return string(encodeHex(id)) }
func (id SessionID) IsZero() bool                 { return id == SessionID{} }
func (id SessionID) MarshalText() ([]byte, error) { return encodeHex(id), nil }
func (id *SessionID) UnmarshalText(text []byte) error {
	return decodeHex(id[:], text)
}

func (id ChannelID) String() string               { return string(encodeHex(id)) }
func (id ChannelID) IsZero() bool                 { return id == ChannelID{} }
func (id ChannelID) MarshalText() ([]byte, error) { return encodeHex(id), nil }
func (id *ChannelID) UnmarshalText(text []byte) error {
	return decodeHex(id[:], text)
}

// Short returns the first 12 hex characters of an identifier, for log
// lines where the full value is noise.
func Short[T Identifier](id T) string {
	return hex.EncodeToString(id[:6])
}

// Epoch counts commitment-tree mutations.
type Epoch uint64

// Next returns the following epoch.
func (e Epoch) Next() Epoch { return e + 1 }
