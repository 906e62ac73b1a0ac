// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"maps"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/bureau-foundation/aura/lib/effects"
)

// Metadata keys written by Compressor.
const (
	MetadataContentEncoding = "content-encoding"
	MetadataContentLength   = "content-length"
)

// Encoding names a payload compression.
type Encoding string

const (
	EncodingZstd Encoding = "zstd"
	EncodingLZ4  Encoding = "lz4"
)

// DefaultCompressionThreshold is the smallest payload worth
// compressing.
const DefaultCompressionThreshold = 256

// Encoder and decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transport: zstd decoder initialization failed: " + err.Error())
	}
}

var _ effects.TransportEffects = (*Compressor)(nil)

// Compressor compresses outgoing payloads of at least threshold bytes
// and decompresses incoming payloads that carry a content-encoding.
// Payloads that do not shrink are sent as they are.
type Compressor struct {
	next      effects.TransportEffects
	encoding  Encoding
	threshold int
}

// NewCompressor wraps next. A non-positive threshold selects
// DefaultCompressionThreshold.
func NewCompressor(next effects.TransportEffects, encoding Encoding, threshold int) (*Compressor, error) {
	switch encoding {
	case EncodingZstd, EncodingLZ4:
	default:
		return nil, fmt.Errorf("transport: unknown encoding %q", encoding)
	}
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	return &Compressor{next: next, encoding: encoding, threshold: threshold}, nil
}

func (c *Compressor) Send(ctx context.Context, envelope effects.TransportEnvelope) error {
	if len(envelope.Payload) >= c.threshold {
		if compressed, ok := compress(c.encoding, envelope.Payload); ok {
			envelope.Metadata = maps.Clone(envelope.Metadata)
			if envelope.Metadata == nil {
				envelope.Metadata = make(map[string]string, 2)
			}
			envelope.Metadata[MetadataContentEncoding] = string(c.encoding)
			envelope.Metadata[MetadataContentLength] = strconv.Itoa(len(envelope.Payload))
			envelope.Payload = compressed
		}
	}
	return c.next.Send(ctx, envelope)
}

func (c *Compressor) Receive(ctx context.Context) (effects.TransportEnvelope, error) {
	envelope, err := c.next.Receive(ctx)
	if err != nil {
		return envelope, err
	}
	encoding, ok := envelope.Metadata[MetadataContentEncoding]
	if !ok {
		return envelope, nil
	}
	length, err := strconv.Atoi(envelope.Metadata[MetadataContentLength])
	if err != nil || length < 0 {
		return effects.TransportEnvelope{}, fmt.Errorf("transport: invalid %s %q", MetadataContentLength, envelope.Metadata[MetadataContentLength])
	}
	payload, err := decompress(Encoding(encoding), envelope.Payload, length)
	if err != nil {
		return effects.TransportEnvelope{}, err
	}
	envelope.Payload = payload
	delete(envelope.Metadata, MetadataContentEncoding)
	delete(envelope.Metadata, MetadataContentLength)
	return envelope, nil
}

func compress(encoding Encoding, data []byte) ([]byte, bool) {
	var compressed []byte
	switch encoding {
	case EncodingZstd:
		compressed = zstdEncoder.EncodeAll(data, nil)
	case EncodingLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil || written == 0 {
			return nil, false
		}
		compressed = destination[:written]
	}
	if len(compressed) >= len(data) {
		return nil, false
	}
	return compressed, true
}

func decompress(encoding Encoding, data []byte, length int) ([]byte, error) {
	switch encoding {
	case EncodingZstd:
		decoded, err := zstdDecoder.DecodeAll(data, make([]byte, 0, length))
		if err != nil {
			return nil, fmt.Errorf("transport: zstd decode: %w", err)
		}
		if len(decoded) != length {
			return nil, fmt.Errorf("transport: zstd decoded %d bytes, want %d", len(decoded), length)
		}
		return decoded, nil
	case EncodingLZ4:
		decoded := make([]byte, length)
		read, err := lz4.UncompressBlock(data, decoded)
		if err != nil {
			return nil, fmt.Errorf("transport: lz4 decode: %w", err)
		}
		if read != length {
			return nil, fmt.Errorf("transport: lz4 decoded %d bytes, want %d", read, length)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("transport: unknown encoding %q", encoding)
	}
}
