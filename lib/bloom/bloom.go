// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bloom

import (
	"errors"
	"fmt"

	bloomfilter "github.com/bits-and-blooms/bloom/v3"

	"github.com/bureau-foundation/aura/lib/codec"
)

// ErrIncompatible is returned when two filters with different
// parameters are combined.
var ErrIncompatible = errors.New("bloom: filters have different parameters")

// Config sizes a filter.
type Config struct {
	// FalsePositiveRate is in (0, 1).
	FalsePositiveRate float64 `cbor:"1,keyasint" yaml:"false_positive_rate"`

	// ExpectedItems is the number of insertions the rate is tuned for.
	ExpectedItems uint `cbor:"2,keyasint" yaml:"expected_items"`
}

// DefaultConfig is tuned for 1024 items at 1% false positives.
func DefaultConfig() Config {
	return Config{FalsePositiveRate: 0.01, ExpectedItems: 1024}
}

// Validate checks the parameters.
func (c Config) Validate() error {
	if c.FalsePositiveRate <= 0 || c.FalsePositiveRate >= 1 {
		return fmt.Errorf("bloom: false positive rate %v outside (0, 1)", c.FalsePositiveRate)
	}
	if c.ExpectedItems == 0 {
		return fmt.Errorf("bloom: expected items must be positive")
	}
	return nil
}

// Filter is a Bloom filter. It is not safe for concurrent mutation.
type Filter struct {
	config Config
	filter *bloomfilter.BloomFilter
}

// New returns an empty filter.
func New(config Config) (*Filter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Filter{config: config, filter: bloomfilter.NewWithEstimates(config.ExpectedItems, config.FalsePositiveRate)}, nil
}

// Config returns the parameters the filter was built with.
func (f *Filter) Config() Config { return f.config }

// Add inserts item.
func (f *Filter) Add(item []byte) { f.filter.Add(item) }

// Contains reports whether item may have been inserted. False
// positives are possible; false negatives are not.
func (f *Filter) Contains(item []byte) bool { return f.filter.Test(item) }

// Union adds every item of other into f.
func (f *Filter) Union(other *Filter) error {
	if f.config != other.config {
		return ErrIncompatible
	}
	if err := f.filter.Merge(other.filter); err != nil {
		return fmt.Errorf("%w: %w", ErrIncompatible, err)
	}
	return nil
}

// EstimatedCount approximates the number of distinct items inserted.
func (f *Filter) EstimatedCount() uint { return uint(f.filter.ApproximatedSize()) }

// Clone returns an independent copy.
func (f *Filter) Clone() *Filter {
	return &Filter{config: f.config, filter: f.filter.Copy()}
}

type encodedFilter struct {
	Config Config `cbor:"1,keyasint"`
	Bits   []byte `cbor:"2,keyasint"`
}

// MarshalBinary encodes the parameters and the bit array.
func (f *Filter) MarshalBinary() ([]byte, error) {
	bits, err := f.filter.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("bloom: encoding filter: %w", err)
	}
	return codec.Marshal(encodedFilter{Config: f.config, Bits: bits})
}

// UnmarshalBinary restores a filter written by MarshalBinary.
func (f *Filter) UnmarshalBinary(data []byte) error {
	var encoded encodedFilter
	if err := codec.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("bloom: decoding filter: %w", err)
	}
	if err := encoded.Config.Validate(); err != nil {
		return err
	}
	filter := &bloomfilter.BloomFilter{}
	if err := filter.UnmarshalBinary(encoded.Bits); err != nil {
		return fmt.Errorf("bloom: decoding bit array: %w", err)
	}
	f.config = encoded.Config
	f.filter = filter
	return nil
}

// Decode is UnmarshalBinary into a new filter.
func Decode(data []byte) (*Filter, error) {
	f := &Filter{}
	if err := f.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return f, nil
}
