// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/guard"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/protocol/protocoltest"
	"github.com/bureau-foundation/aura/lib/protocol/rendezvous"
	"github.com/bureau-foundation/aura/lib/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// pair opens rooms for participants 0 and 1 over a compressing
// transport.
func pair(t *testing.T, config Config, budget uint64) (*protocoltest.Group, rendezvous.Channel, *Room, *Room) {
	t.Helper()
	group := protocoltest.NewGroup(t, protocoltest.Seeds(3)...)
	channel := rendezvous.ChannelFor(group.Systems[0].Authority, group.Systems[1].Authority, 0, journal.AgreementProvisional)
	var rooms []*Room
	for index, system := range group.Systems[:2] {
		compressor, err := transport.NewCompressor(system.Transport, transport.EncodingLZ4, 32)
		if err != nil {
			t.Fatal(err)
		}
		system.Transport = compressor
		peer := group.Systems[1-index].Authority
		if err := system.Flow.SetLimit(context.Background(), channel.Context, peer, budget); err != nil {
			t.Fatal(err)
		}
		executor := protocol.NewExecutor(system, protocol.ExecutorOptions{})
		Grants(executor)
		room, err := New(executor, channel, config, nil)
		if err != nil {
			t.Fatal(err)
		}
		rooms = append(rooms, room)
	}
	return group, channel, rooms[0], rooms[1]
}

func TestSendAndReceive(t *testing.T) {
	group, channel, alice, bob := pair(t, Config{Cost: 2, LeakageBits: 4}, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body := strings.Repeat("meet at the usual place. ", 8)
	sent, err := alice.Send(ctx, body)
	if err != nil {
		t.Fatal(err)
	}
	if sent.Channel != channel.ID || sent.Sender != group.Systems[0].Authority || sent.Size != len(body) {
		t.Errorf("sent fact = %+v", sent)
	}

	received, err := bob.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if received.Body != body || received.Sender != group.Systems[0].Authority {
		t.Errorf("received %+v", received)
	}

	for name, room := range map[string]*Room{"alice": alice, "bob": bob} {
		history, err := room.History(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(history) != 1 || history[0].Message != sent.Message {
			t.Errorf("%s history = %+v", name, history)
		}
	}

	remaining, err := group.Systems[0].Flow.Remaining(ctx, channel.Context, group.Systems[1].Authority)
	if err != nil || remaining != 8 {
		t.Errorf("remaining budget = %d, %v", remaining, err)
	}
	leaks, err := group.Systems[0].Leakage.LeakageHistory(ctx, channel.Context)
	if err != nil {
		t.Fatal(err)
	}
	if len(leaks) != 1 || leaks[0].Bits != 4 || leaks[0].Observer != effects.ObserverNeighbor {
		t.Errorf("leakage = %+v", leaks)
	}
}

func TestSendDeniedWhenBudgetSpent(t *testing.T) {
	group, _, alice, _ := pair(t, Config{Cost: 3}, 5)
	ctx := context.Background()
	if _, err := alice.Send(ctx, "first"); err != nil {
		t.Fatal(err)
	}
	_, err := alice.Send(ctx, "second")
	var denied *guard.DeniedError
	if !errors.As(err, &denied) || denied.Reason != guard.ReasonInsufficientBudget {
		t.Fatalf("err = %v, want insufficient budget", err)
	}
	history, err := alice.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Errorf("denied send journaled a message: %d facts", len(history))
	}
	if delivered := group.Network.Delivered(); delivered != 1 {
		t.Errorf("network delivered %d envelopes", delivered)
	}
}

func TestSendWithoutCapability(t *testing.T) {
	group := protocoltest.NewGroup(t, protocoltest.Seeds(2)...)
	channel := rendezvous.ChannelFor(group.Systems[0].Authority, group.Systems[1].Authority, 0, journal.AgreementProvisional)
	executor := protocol.NewExecutor(group.Systems[0], protocol.ExecutorOptions{})
	executor.Authorize(Operation, guard.DecisionAllow)
	room, err := New(executor, channel, Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := room.Send(context.Background(), "hello"); !errors.Is(err, guard.ErrDenied) {
		t.Fatalf("err = %v, want denial", err)
	}
}

func TestRoomValidation(t *testing.T) {
	group, channel, alice, bob := pair(t, Config{}, 10)

	outsider := protocol.NewExecutor(group.Systems[2], protocol.ExecutorOptions{})
	if _, err := New(outsider, channel, Config{}, nil); !errors.Is(err, ErrNotMember) {
		t.Errorf("outsider room: err = %v", err)
	}
	if _, err := alice.Send(context.Background(), strings.Repeat("x", MaxBodySize+1)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("oversized body: err = %v", err)
	}
	if alice.Peer() != group.Systems[1].Authority || bob.Peer() != group.Systems[0].Authority {
		t.Error("peers are not each other")
	}

	// A message addressed to another channel is refused.
	other := rendezvous.ChannelFor(group.Systems[1].Authority, group.Systems[0].Authority, 0, journal.AgreementProvisional)
	stray, err := New(alice.executor, other, Config{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	stray.channel.Context = channel.Context
	if _, err := stray.Send(context.Background(), "wrong channel"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := bob.Receive(ctx); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("stray message: err = %v", err)
	}
}
