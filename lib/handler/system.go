// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/aura/lib/clock"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/storage"
)

// SimulationOptions configures NewSimulationSystem. Only Seed is
// required.
type SimulationOptions struct {
	Seed []byte

	// Clock defaults to a fake clock at the Unix epoch.
	Clock clock.Clock

	// Storage defaults to a fresh in-memory store.
	Storage effects.StorageEffects

	// Transport is left nil when unset; protocols that send need one.
	Transport effects.TransportEffects

	// Sync is attached when the caller replicates an op log.
	Sync effects.SyncEffects

	LeakageBudgets *effects.LeakageBudgets
	Logger         *slog.Logger
}

// NewSimulationSystem builds a deterministic effect system. Authority,
// device and key material all derive from the seed, so two systems
// built from the same options are indistinguishable.
func NewSimulationSystem(options SimulationOptions) (*effects.System, error) {
	if len(options.Seed) == 0 {
		return nil, fmt.Errorf("handler: simulation seed is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	source := options.Clock
	if source == nil {
		source = clock.Fake(time.Unix(0, 0).UTC())
	}
	store := options.Storage
	if store == nil {
		store = storage.NewMemory()
	}
	budgets := effects.DefaultLeakageBudgets()
	if options.LeakageBudgets != nil {
		budgets = *options.LeakageBudgets
	}

	root := NewSeededRandom(options.Seed)
	authority, err := ids.Random[ids.AuthorityID](root.Fork("authority"))
	if err != nil {
		return nil, err
	}
	device, err := ids.Random[ids.DeviceID](root.Fork("device"))
	if err != nil {
		return nil, err
	}
	random := root.Fork("random")
	crypto := NewCrypto(root.Fork("crypto"))
	flow, err := NewFlowLedger(crypto, 0, logger)
	if err != nil {
		return nil, err
	}

	return &effects.System{
		Authority: authority,
		Device:    device,
		Crypto:    crypto,
		Random:    random,
		Time:      NewTime(source, 0),
		Storage:   store,
		Transport: options.Transport,
		Journal:   NewJournal(store, logger),
		Leakage:   NewLeakageRecorder(store, budgets, logger),
		Bloom:     Bloom{},
		Flow:      flow,
		Sync:      options.Sync,
	}, nil
}
