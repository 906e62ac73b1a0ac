// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"github.com/bureau-foundation/aura/lib/bloom"
	"github.com/bureau-foundation/aura/lib/effects"
)

var _ effects.BloomEffects = Bloom{}

// Bloom adapts the bloom package to BloomEffects.
type Bloom struct{}

func (Bloom) NewFilter(config bloom.Config) (*bloom.Filter, error) { return bloom.New(config) }

func (Bloom) Insert(filter *bloom.Filter, item []byte) { filter.Add(item) }

func (Bloom) Contains(filter *bloom.Filter, item []byte) bool { return filter.Contains(item) }

func (Bloom) Union(into, from *bloom.Filter) error { return into.Union(from) }

func (Bloom) Estimate(filter *bloom.Filter) uint { return filter.EstimatedCount() }

func (Bloom) Encode(filter *bloom.Filter) ([]byte, error) { return filter.MarshalBinary() }

func (Bloom) Decode(data []byte) (*bloom.Filter, error) { return bloom.Decode(data) }
