// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hash

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
)

// Size is the byte width of a Digest.
const Size = 32

// Digest is a 32-byte BLAKE3 output.
type Digest [Size]byte

// Domain is a 32-byte BLAKE3 key. The bytes are the ASCII domain name
// zero-padded to 32 bytes so keys stay readable in hex dumps.
type Domain [32]byte

// NewDomain builds a Domain from a name of at most 32 bytes. Domains
// are package-level constants, so an oversized name is a programming
// error and panics.
func NewDomain(name string) Domain {
	if len(name) > len(Domain{}) {
		panic("hash: domain name longer than 32 bytes: " + name)
	}
	var domain Domain
	copy(domain[:], name)
	return domain
}

// Domains used across the module. Changing a value invalidates every
// digest previously computed in that domain.
var (
	DomainTreeLeaf      = NewDomain("aura.tree.leaf")
	DomainTreeBranch    = NewDomain("aura.tree.branch")
	DomainTreeRoot      = NewDomain("aura.tree.root")
	DomainOpContent     = NewDomain("aura.oplog.op")
	DomainOperationID   = NewDomain("aura.guard.operation")
	DomainReceiptChain  = NewDomain("aura.flow.receipt")
	DomainContextID     = NewDomain("aura.context.id")
	DomainSessionID     = NewDomain("aura.session.id")
	DomainEvent         = NewDomain("aura.protocol.event")
	DomainRecoveryProof = NewDomain("aura.recovery.binding")
	DomainChannel       = NewDomain("aura.rendezvous.channel")
	DomainLockGrant     = NewDomain("aura.lottery.grant")
)

// Sum returns the plain BLAKE3-256 digest of the concatenation of parts.
func Sum(parts ...[]byte) Digest {
	hasher := blake3.New()
	for _, part := range parts {
		hasher.Write(part)
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Keyed returns the keyed BLAKE3 digest of the concatenation of parts
// in the given domain.
func Keyed(domain Domain, parts ...[]byte) Digest {
	// NewKeyed only fails for a key that is not 32 bytes, which the
	// Domain type rules out.
	hasher, err := blake3.NewKeyed(domain[:])
	if err != nil {
		panic("hash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, part := range parts {
		hasher.Write(part)
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// DeriveKey fills output with key material derived from material under
// the given context string.
func DeriveKey(context string, material []byte, output []byte) {
	blake3.DeriveKey(context, material, output)
}

// Derive32 is DeriveKey with a 32-byte output.
func Derive32(context string, material []byte) [32]byte {
	var output [32]byte
	blake3.DeriveKey(context, material, output[:])
	return output
}

// String returns the lowercase hex encoding.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Short returns the first 12 hex characters.
func (d Digest) Short() string { return hex.EncodeToString(d[:6]) }

// IsZero reports whether every byte is zero.
func (d Digest) IsZero() bool { return d == Digest{} }

// Compare orders digests byte-lexicographically.
func (d Digest) Compare(other Digest) int { return bytes.Compare(d[:], other[:]) }

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	encoded := make([]byte, hex.EncodedLen(Size))
	hex.Encode(encoded, d[:])
	return encoded, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Parse decodes a 64-character hex digest.
func Parse(text string) (Digest, error) {
	var digest Digest
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return digest, fmt.Errorf("hash: parsing digest: %w", err)
	}
	if len(decoded) != Size {
		return digest, fmt.Errorf("hash: digest is %d bytes, want %d", len(decoded), Size)
	}
	copy(digest[:], decoded)
	return digest, nil
}

// CID renders the digest as a CIDv1 with the raw codec and a blake3
// multihash.
func (d Digest) CID() (cid.Cid, error) {
	encoded, err := multihash.Encode(d[:], multihash.BLAKE3)
	if err != nil {
		return cid.Undef, fmt.Errorf("hash: encoding multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, encoded), nil
}

// FromCID extracts a BLAKE3 digest from a CID produced by Digest.CID.
func FromCID(id cid.Cid) (Digest, error) {
	var digest Digest
	decoded, err := multihash.Decode(id.Hash())
	if err != nil {
		return digest, fmt.Errorf("hash: decoding multihash: %w", err)
	}
	if decoded.Code != multihash.BLAKE3 || len(decoded.Digest) != Size {
		return digest, fmt.Errorf("hash: CID %s is not a 32-byte blake3 multihash", id)
	}
	copy(digest[:], decoded.Digest)
	return digest, nil
}
