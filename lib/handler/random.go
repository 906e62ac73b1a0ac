// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/hash"
)

var (
	_ effects.RandomEffects = (*SeededRandom)(nil)
	_ effects.RandomEffects = SystemRandom{}
)

// SeededRandom is a deterministic generator: the ChaCha20 keystream
// under a key derived from the seed. Two instances with the same seed
// produce the same bytes in the same order.
type SeededRandom struct {
	mu     sync.Mutex
	cipher *chacha20.Cipher
}

// NewSeededRandom returns a generator for seed. Any seed length is
// accepted; it is compressed into a 32-byte key.
func NewSeededRandom(seed []byte) *SeededRandom {
	key := hash.Derive32("aura handler seeded random v1", seed)
	nonce := make([]byte, chacha20.NonceSize)
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce)
	if err != nil {
		// Only reachable with a wrong key or nonce size.
		panic("handler: chacha20 initialization failed: " + err.Error())
	}
	return &SeededRandom{cipher: cipher}
}

// Fork derives an independent generator labelled by name. Forks with
// the same label from generators in the same state are identical.
func (r *SeededRandom) Fork(name string) *SeededRandom {
	seed := r.Bytes(32)
	return NewSeededRandom(append(seed, name...))
}

func (r *SeededRandom) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(p)
	r.cipher.XORKeyStream(p, p)
	return len(p), nil
}

func (r *SeededRandom) Bytes(n int) []byte {
	buffer := make([]byte, n)
	r.Read(buffer)
	return buffer
}

func (r *SeededRandom) Uint64() uint64 {
	return binary.LittleEndian.Uint64(r.Bytes(8))
}

func (r *SeededRandom) UUID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		panic("handler: seeded uuid: " + err.Error())
	}
	return id
}

// SystemRandom reads the operating system CSPRNG.
type SystemRandom struct{}

func (SystemRandom) Read(p []byte) (int, error) {
	n, err := io.ReadFull(rand.Reader, p)
	if err != nil {
		return n, fmt.Errorf("handler: reading system entropy: %w", err)
	}
	return n, nil
}

func (s SystemRandom) Bytes(n int) []byte {
	buffer := make([]byte, n)
	if _, err := s.Read(buffer); err != nil {
		panic(err.Error())
	}
	return buffer
}

func (s SystemRandom) Uint64() uint64 {
	return binary.LittleEndian.Uint64(s.Bytes(8))
}

func (SystemRandom) UUID() uuid.UUID { return uuid.New() }
