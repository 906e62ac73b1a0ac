// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"maps"
	"slices"

	"github.com/bureau-foundation/aura/lib/ids"
)

// RelationalBinding is the reduced view of one fact type in one
// context.
type RelationalBinding struct {
	Context ids.ContextID
	Type    FactType
	Count   int
	// Latest holds the newest entry per fact key. Count reducers leave
	// it nil.
	Latest map[string]Entry
}

// Keys returns the keys of Latest in sorted order.
func (b RelationalBinding) Keys() []string {
	return slices.Sorted(maps.Keys(b.Latest))
}

// FactReducer folds one entry into a binding. Implementations must not
// modify the binding they are given.
type FactReducer interface {
	Reduce(binding RelationalBinding, entry Entry) RelationalBinding
}

// Count counts entries.
type Count struct{}

// Reduce implements FactReducer.
func (Count) Reduce(binding RelationalBinding, _ Entry) RelationalBinding {
	binding.Count++
	return binding
}

// LatestWins keeps the newest entry per fact key and counts all of
// them.
type LatestWins struct{}

// Reduce implements FactReducer.
func (LatestWins) Reduce(binding RelationalBinding, entry Entry) RelationalBinding {
	latest := maps.Clone(binding.Latest)
	if latest == nil {
		latest = make(map[string]Entry)
	}
	latest[entry.Fact.Key] = entry
	binding.Latest = latest
	binding.Count++
	return binding
}

// Reducers maps fact types to reducers. Types without an entry use
// Count.
type Reducers map[FactType]FactReducer

// DefaultReducers reduces guardian bindings, residents, stewards and
// notifications latest-wins per key and counts everything else.
func DefaultReducers() Reducers {
	return Reducers{
		FactGuardianBinding:      LatestWins{},
		FactResident:             LatestWins{},
		FactSteward:              LatestWins{},
		FactGuardianNotification: LatestWins{},
	}
}

func (r Reducers) reducer(factType FactType) FactReducer {
	if reducer, ok := r[factType]; ok {
		return reducer
	}
	return Count{}
}

// Reduce folds the snapshot into one binding per fact type present.
func (s ContextSnapshot) Reduce(reducers Reducers) map[FactType]RelationalBinding {
	bindings := make(map[FactType]RelationalBinding)
	for _, entry := range s.entries {
		binding, ok := bindings[entry.Fact.Type]
		if !ok {
			binding = RelationalBinding{Context: s.context.ID, Type: entry.Fact.Type}
		}
		bindings[entry.Fact.Type] = reducers.reducer(entry.Fact.Type).Reduce(binding, entry)
	}
	return bindings
}

// Binding reduces a single fact type.
func (s ContextSnapshot) Binding(factType FactType, reducers Reducers) RelationalBinding {
	binding := RelationalBinding{Context: s.context.ID, Type: factType}
	reducer := reducers.reducer(factType)
	for _, entry := range s.entries {
		if entry.Fact.Type == factType {
			binding = reducer.Reduce(binding, entry)
		}
	}
	return binding
}
