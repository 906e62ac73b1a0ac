// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/guard"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/protocol/protocoltest"
	"github.com/bureau-foundation/aura/lib/transport"
	"github.com/bureau-foundation/aura/lib/tree"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// registry holds every group member's receipt-signing key.
func registry(group *protocoltest.Group) Keys {
	keys := make(Keys, len(group.Systems))
	for _, system := range group.Systems {
		keys[system.Authority] = system.Crypto.PublicKey()
	}
	return keys
}

func endpoints(t *testing.T, group *protocoltest.Group, config Config) []*Endpoint {
	t.Helper()
	if config.Keys == nil {
		config.Keys = registry(group)
	}
	var endpoints []*Endpoint
	for _, system := range group.Systems {
		executor := protocol.NewExecutor(system, protocol.ExecutorOptions{})
		executor.Grant(guard.CapRendezvous)
		executor.Authorize(Operation, guard.DecisionAllow)
		endpoints = append(endpoints, New(executor, config, nil))
	}
	return endpoints
}

func setBudget(t *testing.T, system *effects.System, channel Channel, peer ids.AuthorityID, limit uint64) {
	t.Helper()
	if err := system.Flow.SetLimit(context.Background(), channel.Context, peer, limit); err != nil {
		t.Fatal(err)
	}
}

func facts(t *testing.T, system *effects.System, channel Channel, factType journal.FactType) int {
	t.Helper()
	snapshot, err := system.Journal.Snapshot(context.Background(), channel.Context)
	if err != nil {
		t.Fatal(err)
	}
	return len(snapshot.OfType(factType))
}

func TestHandshake(t *testing.T) {
	group := protocoltest.NewGroup(t, protocoltest.Seeds(2)...)
	initiator, responder := group.Systems[0], group.Systems[1]
	state, err := tree.Genesis(deviceLeaves(group), nil)
	if err != nil {
		t.Fatal(err)
	}
	leaves := make(map[ids.AuthorityID][32]byte)
	for authority, device := range group.Devices() {
		leaves[authority] = device
	}
	nodes := endpoints(t, group, Config{Cost: 2, Mode: journal.AgreementConsensusFinalized, Keys: TreeKeys(state, leaves)})
	channel := ChannelFor(initiator.Authority, responder.Authority, 0, journal.AgreementConsensusFinalized)
	setBudget(t, initiator, channel, responder.Authority, 10)
	setBudget(t, responder, channel, initiator.Authority, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	channels, errs := protocoltest.Collect(ctx, []int{0, 1}, func(ctx context.Context, index int) (Channel, error) {
		if index == 0 {
			return nodes[0].Initiate(ctx, responder.Authority)
		}
		return nodes[1].Accept(ctx)
	})
	for index, err := range errs {
		if err != nil {
			t.Fatalf("participant %d: %v", index, err)
		}
	}
	if channels[0] != channel || channels[1] != channel {
		t.Fatalf("channels = %+v / %+v, want %+v", channels[0], channels[1], channel)
	}

	for index, system := range []*effects.System{initiator, responder} {
		if got := facts(t, system, channel, journal.FactRendezvous); got != 2 {
			t.Errorf("participant %d journaled %d rendezvous facts", index, got)
		}
		if got := facts(t, system, channel, journal.FactRendezvousReceipt); got != 1 {
			t.Errorf("participant %d journaled %d receipts", index, got)
		}
	}
	remaining, err := initiator.Flow.Remaining(ctx, channel.Context, responder.Authority)
	if err != nil || remaining != 8 {
		t.Errorf("initiator budget remaining = %d, %v", remaining, err)
	}
}

func TestHandshakeDeniedWithoutBudget(t *testing.T) {
	group := protocoltest.NewGroup(t, protocoltest.Seeds(2)...)
	nodes := endpoints(t, group, Config{Cost: 2})
	channel := ChannelFor(group.Systems[0].Authority, group.Systems[1].Authority, 0, journal.AgreementProvisional)
	setBudget(t, group.Systems[0], channel, group.Systems[1].Authority, 1)

	_, err := nodes[0].Initiate(context.Background(), group.Systems[1].Authority)
	var denied *guard.DeniedError
	if !errors.As(err, &denied) || denied.Reason != guard.ReasonInsufficientBudget {
		t.Fatalf("err = %v, want insufficient budget denial", err)
	}
	if pending := group.Systems[1].Transport.(*transport.Endpoint).Pending(); pending != 0 {
		t.Errorf("responder received %d envelopes", pending)
	}
	if got := facts(t, group.Systems[0], channel, journal.FactRendezvous); got != 0 {
		t.Errorf("denied handshake journaled %d rendezvous facts", got)
	}
}

func TestTestingModeSkipsCharge(t *testing.T) {
	group := protocoltest.NewGroup(t, protocoltest.Seeds(2)...)
	nodes := endpoints(t, group, Config{Cost: 5, Testing: true})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, errs := protocoltest.Collect(ctx, []int{0, 1}, func(ctx context.Context, index int) (Channel, error) {
		if index == 0 {
			return nodes[0].Initiate(ctx, group.Systems[1].Authority)
		}
		return nodes[1].Accept(ctx)
	})
	for index, err := range errs {
		if err != nil {
			t.Fatalf("participant %d: %v", index, err)
		}
	}
}

func TestAcceptRejectsBadHandshakes(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*effects.TransportEnvelope)
	}{
		{"ProtocolVersion", func(e *effects.TransportEnvelope) { e.Metadata[effects.MetadataProtocolVersion] = "2" }},
		{"Epoch", func(e *effects.TransportEnvelope) { e.Metadata[effects.MetadataRendezvousEpoch] = "7" }},
		{"ChannelID", func(e *effects.TransportEnvelope) { e.Metadata[effects.MetadataRendezvousChanID] = ids.ChannelID{}.String() }},
		{"MissingReceipt", func(e *effects.TransportEnvelope) { e.Receipt = nil }},
		{"ReceiptSignedByFreshKey", func(e *effects.TransportEnvelope) {
			_, fresh, _ := ed25519.GenerateKey(rand.Reader)
			forged := *e.Receipt
			message, _ := forged.SigningBytes()
			forged.Signature = ed25519.Sign(fresh, message)
			e.Receipt = &forged
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			group := protocoltest.NewGroup(t, protocoltest.Seeds(2)...)
			nodes := endpoints(t, group, Config{Testing: true})
			initiator, responder := group.Systems[0], group.Systems[1]

			// Capture a genuine init, then replay it mutated.
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			go func() { _, _ = nodes[0].Initiate(ctx, responder.Authority) }()
			envelope, err := responder.Transport.Receive(ctx)
			if err != nil {
				t.Fatal(err)
			}
			cancel()
			test.mutate(&envelope)
			replayCtx, replayCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer replayCancel()
			if err := initiator.Transport.Send(replayCtx, envelope); err != nil {
				t.Fatal(err)
			}
			if _, err := nodes[1].Accept(replayCtx); !errors.Is(err, ErrBadHandshake) {
				t.Fatalf("err = %v, want ErrBadHandshake", err)
			}
		})
	}
}

func deviceLeaves(group *protocoltest.Group) []tree.Leaf {
	var leaves []tree.Leaf
	for _, system := range group.Systems {
		leaves = append(leaves, tree.Leaf{ID: system.Device, Role: tree.RoleDevice, SigningKey: system.Crypto.PublicKey()})
	}
	return leaves
}

func TestCommitConsensus(t *testing.T) {
	group := protocoltest.NewGroup(t, protocoltest.Seeds(3)...)
	leaves := deviceLeaves(group)
	state, err := tree.Genesis(leaves, nil)
	if err != nil {
		t.Fatal(err)
	}
	channel := ChannelFor(group.Systems[0].Authority, group.Systems[1].Authority, 0, journal.AgreementConsensusFinalized)
	session := ids.Fill[ids.SessionID](0xc0)

	results, errs := protocoltest.Collect(context.Background(), protocoltest.All(3), func(ctx context.Context, index int) (journal.ChannelCommitted, error) {
		return Commit(ctx, group.Context(index, session, 2), channel, state, 0)
	})
	for index, err := range errs {
		if err != nil {
			t.Fatalf("participant %d: %v", index, err)
		}
	}
	for index, result := range results {
		if result.RootCommitment != state.RootCommitment() || result.Voters != 2 {
			t.Errorf("participant %d committed %+v", index, result)
		}
		if got := facts(t, group.Systems[index], channel, journal.FactChannelCommitted); got != 1 {
			t.Errorf("participant %d journaled %d commitments", index, got)
		}
	}

	provisional := channel
	provisional.Mode = journal.AgreementProvisional
	if _, err := Commit(context.Background(), group.Context(0, session, 2), provisional, state, 0); !errors.Is(err, ErrNotFinalizable) {
		t.Errorf("provisional channel: err = %v", err)
	}
}

func TestCommitConflictingVoteIsByzantine(t *testing.T) {
	group := protocoltest.NewGroup(t, protocoltest.Seeds(2)...)
	leaves := deviceLeaves(group)
	state, err := tree.Genesis(leaves, nil)
	if err != nil {
		t.Fatal(err)
	}
	other, err := tree.Genesis(leaves[:1], nil)
	if err != nil {
		t.Fatal(err)
	}
	if state.RootCommitment() == other.RootCommitment() {
		t.Fatal("fixture states share a root")
	}
	channel := ChannelFor(group.Systems[0].Authority, group.Systems[1].Authority, 0, journal.AgreementConsensusFinalized)
	session := ids.Fill[ids.SessionID](0xc1)

	_, errs := protocoltest.Collect(context.Background(), []int{0, 1}, func(ctx context.Context, index int) (journal.ChannelCommitted, error) {
		held := state
		if index == 1 {
			held = other
		}
		return Commit(ctx, group.Context(index, session, 2), channel, held, 0)
	})
	for index, err := range errs {
		if !protocol.IsKind(err, protocol.KindByzantine) {
			t.Errorf("participant %d: err = %v, want byzantine", index, err)
		}
	}
}
