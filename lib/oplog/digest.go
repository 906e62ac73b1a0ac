// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"fmt"

	"github.com/bureau-foundation/aura/lib/bloom"
	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

// Digest summarizes a log for anti-entropy.
type Digest struct {
	Filter    *bloom.Filter
	IDs       []hash.Digest
	Count     uint64
	LastEpoch ids.Epoch
}

// Digest builds a summary of the log with the given filter parameters.
func (l *Log) Digest(config bloom.Config) (Digest, error) {
	filter, err := bloom.New(config)
	if err != nil {
		return Digest{}, fmt.Errorf("oplog: digest: %w", err)
	}
	contentIDs := l.IDs()
	for _, id := range contentIDs {
		filter.Add(id[:])
	}
	return Digest{
		Filter:    filter,
		IDs:       contentIDs,
		Count:     uint64(len(contentIDs)),
		LastEpoch: l.LastEpoch(),
	}, nil
}

// MissingFrom returns the ids in remote that d's filter does not
// contain: the ops the holder of d should request. False positives in
// d's filter may omit some; a later round picks them up.
func (d Digest) MissingFrom(remote Digest) []hash.Digest {
	var missing []hash.Digest
	for _, id := range remote.IDs {
		if !d.Filter.Contains(id[:]) {
			missing = append(missing, id)
		}
	}
	return missing
}

type encodedDigest struct {
	Filter    []byte        `cbor:"1,keyasint"`
	IDs       []hash.Digest `cbor:"2,keyasint"`
	Count     uint64        `cbor:"3,keyasint"`
	LastEpoch ids.Epoch     `cbor:"4,keyasint"`
}

// MarshalBinary encodes the digest for the wire.
func (d Digest) MarshalBinary() ([]byte, error) {
	filter, err := d.Filter.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return codec.Marshal(encodedDigest{Filter: filter, IDs: d.IDs, Count: d.Count, LastEpoch: d.LastEpoch})
}

// DecodeDigest parses a digest written by MarshalBinary.
func DecodeDigest(data []byte) (Digest, error) {
	var encoded encodedDigest
	if err := codec.Unmarshal(data, &encoded); err != nil {
		return Digest{}, fmt.Errorf("oplog: decoding digest: %w", err)
	}
	filter, err := bloom.Decode(encoded.Filter)
	if err != nil {
		return Digest{}, fmt.Errorf("oplog: decoding digest: %w", err)
	}
	if encoded.Count != uint64(len(encoded.IDs)) {
		return Digest{}, fmt.Errorf("oplog: digest claims %d ops but lists %d", encoded.Count, len(encoded.IDs))
	}
	return Digest{Filter: filter, IDs: encoded.IDs, Count: encoded.Count, LastEpoch: encoded.LastEpoch}, nil
}
