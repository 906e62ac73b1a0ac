// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package effects

import (
	"fmt"
	"maps"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

// Reserved envelope metadata keys.
const (
	MetadataContentType      = "content-type"
	MetadataProtocolVersion  = "protocol-version"
	MetadataRendezvousEpoch  = "rendezvous-epoch"
	MetadataRendezvousChanID = "rendezvous-channel-id"
)

// TransportEnvelope is the unit of transport.
type TransportEnvelope struct {
	Destination ids.AuthorityID   `cbor:"1,keyasint"`
	Source      ids.AuthorityID   `cbor:"2,keyasint"`
	Context     ids.ContextID     `cbor:"3,keyasint"`
	Payload     []byte            `cbor:"4,keyasint"`
	Metadata    map[string]string `cbor:"5,keyasint,omitempty"`
	Receipt     *Receipt          `cbor:"6,keyasint,omitempty"`
}

// Clone returns a deep copy.
func (e TransportEnvelope) Clone() TransportEnvelope {
	clone := e
	clone.Payload = append([]byte(nil), e.Payload...)
	clone.Metadata = maps.Clone(e.Metadata)
	if e.Receipt != nil {
		receipt := *e.Receipt
		receipt.Signature = append([]byte(nil), e.Receipt.Signature...)
		clone.Receipt = &receipt
	}
	return clone
}

// Receipt proves that a flow-budget charge happened. Receipts from one
// issuer form a hash chain through PrevHash.
type Receipt struct {
	Context     ids.ContextID   `cbor:"1,keyasint"`
	Source      ids.AuthorityID `cbor:"2,keyasint"`
	Destination ids.AuthorityID `cbor:"3,keyasint"`
	Epoch       ids.Epoch       `cbor:"4,keyasint"`
	Cost        uint64          `cbor:"5,keyasint"`
	Nonce       uint64          `cbor:"6,keyasint"`
	PrevHash    hash.Digest     `cbor:"7,keyasint"`
	Signature   []byte          `cbor:"8,keyasint,omitempty"`
}

// SigningBytes is the canonical encoding of every field except the
// signature.
func (r Receipt) SigningBytes() ([]byte, error) {
	unsigned := r
	unsigned.Signature = nil
	data, err := codec.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("effects: encoding receipt: %w", err)
	}
	return data, nil
}

// Digest is the chain link the next receipt's PrevHash points at.
func (r Receipt) Digest() hash.Digest {
	digest, err := codec.Digest(hash.DomainReceiptChain, r)
	if err != nil {
		panic("effects: receipt digest: " + err.Error())
	}
	return digest
}
