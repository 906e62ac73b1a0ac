// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocoltest builds groups of deterministic participants for
// protocol tests and simulations.
package protocoltest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/aura/lib/clock"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/handler"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/transport"
)

// Epoch is the fake clock's starting time.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Group is a set of simulated participants sharing a clock, a network
// and a protocol ledger.
type Group struct {
	Clock   *clock.FakeClock
	Network *transport.Network
	Ledger  *protocol.Ledger
	Systems []*effects.System
	Logger  *slog.Logger
}

// TB is the subset of testing.TB a Group needs.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Options customizes Build.
type Options struct {
	Logger *slog.Logger

	// Storage opens the store of participant index. Participants get
	// fresh in-memory stores when it is nil.
	Storage func(index int) (effects.StorageEffects, error)

	// Transport wraps each participant's network endpoint.
	Transport func(endpoint effects.TransportEffects) (effects.TransportEffects, error)
}

// Build creates one participant per seed. Every participant joins the
// network under its authority.
func Build(options Options, seeds ...[]byte) (*Group, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	group := &Group{
		Clock:   clock.Fake(Epoch),
		Network: transport.NewNetwork(logger),
		Ledger:  protocol.NewLedger(logger),
		Logger:  logger,
	}
	for index, seed := range seeds {
		simulation := handler.SimulationOptions{Seed: seed, Clock: group.Clock, Logger: logger}
		if options.Storage != nil {
			store, err := options.Storage(index)
			if err != nil {
				return nil, fmt.Errorf("protocoltest: participant %d storage: %w", index, err)
			}
			simulation.Storage = store
		}
		system, err := handler.NewSimulationSystem(simulation)
		if err != nil {
			return nil, fmt.Errorf("protocoltest: participant %d: %w", index, err)
		}
		var endpoint effects.TransportEffects = group.Network.Join(system.Authority)
		if options.Transport != nil {
			if endpoint, err = options.Transport(endpoint); err != nil {
				return nil, fmt.Errorf("protocoltest: participant %d transport: %w", index, err)
			}
		}
		system.Transport = endpoint
		group.Systems = append(group.Systems, system)
	}
	return group, nil
}

// NewGroup is Build with default options for tests.
func NewGroup(t TB, seeds ...[]byte) *Group {
	t.Helper()
	group, err := Build(Options{}, seeds...)
	if err != nil {
		t.Fatalf("building group: %v", err)
	}
	return group
}

// Seeds returns n seeds of the form {1,1,...}, {2,2,...}.
func Seeds(n int) [][]byte {
	seeds := make([][]byte, n)
	for index := range seeds {
		seed := make([]byte, 32)
		for offset := range seed {
			seed[offset] = byte(index + 1)
		}
		seeds[index] = seed
	}
	return seeds
}

// Authorities lists every participant's authority in group order.
func (g *Group) Authorities() []ids.AuthorityID {
	authorities := make([]ids.AuthorityID, len(g.Systems))
	for index, system := range g.Systems {
		authorities[index] = system.Authority
	}
	return authorities
}

// Devices maps every participant's authority to its device.
func (g *Group) Devices() map[ids.AuthorityID]ids.DeviceID {
	devices := make(map[ids.AuthorityID]ids.DeviceID, len(g.Systems))
	for _, system := range g.Systems {
		devices[system.Authority] = system.Device
	}
	return devices
}

// Context binds participant index to session with the whole group as
// participants.
func (g *Group) Context(index int, session ids.SessionID, threshold uint16) *protocol.Context {
	return protocol.NewContext(g.Systems[index], g.Ledger, protocol.ContextConfig{
		Session:      session,
		Participants: g.Authorities(),
		Threshold:    threshold,
		Logger:       g.Logger,
	})
}

// Run calls fn for each listed participant concurrently and waits for
// all of them. The first error cancels the others.
func Run(ctx context.Context, participants []int, fn func(ctx context.Context, index int) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, index := range participants {
		group.Go(func() error { return fn(groupCtx, index) })
	}
	return group.Wait()
}

// Collect calls fn for each listed participant concurrently and
// returns every result and error, indexed like participants. One
// participant failing does not cancel the others.
func Collect[T any](ctx context.Context, participants []int, fn func(ctx context.Context, index int) (T, error)) ([]T, []error) {
	results := make([]T, len(participants))
	errs := make([]error, len(participants))
	var wg sync.WaitGroup
	for position, index := range participants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[position], errs[position] = fn(ctx, index)
		}()
	}
	wg.Wait()
	return results, errs
}

// All returns 0..n-1.
func All(n int) []int {
	indexes := make([]int, n)
	for index := range indexes {
		indexes[index] = index
	}
	return indexes
}
