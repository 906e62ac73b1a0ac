// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lottery

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/protocol/protocoltest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const operation = "tree.rotate"

var lastEvent = hash.Sum([]byte("last event"))

// Every observer picks the same winner whatever order the tickets
// arrive in.
func TestWinnerIgnoresOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := hash.Sum(rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "base"))
		count := rapid.IntRange(1, 8).Draw(t, "contenders")
		var tickets []Ticket
		for index := range count {
			tickets = append(tickets, Draw(base, ids.Fill[ids.DeviceID](byte(index+1))))
		}
		reference, _ := Winner(tickets)
		shuffled := rapid.Permutation(tickets).Draw(t, "order")
		winner, ok := Winner(shuffled)
		if !ok || winner != reference {
			t.Fatalf("winner %v, reference %v", winner, reference)
		}
		for _, ticket := range tickets {
			if ticket.Value.Compare(winner.Value) > 0 {
				t.Fatalf("ticket %v beats winner %v", ticket, winner)
			}
		}
	})
}

func TestWinnerEmpty(t *testing.T) {
	if _, ok := Winner(nil); ok {
		t.Fatal("empty contender set produced a winner")
	}
}

type fixture struct {
	group     *protocoltest.Group
	lotteries []*Lottery
	public    frost.PublicKeyPackage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	group := protocoltest.NewGroup(t, protocoltest.Seeds(3)...)
	shares, public, err := frost.GenerateWithDealer(2, 3, rand.NewChaCha8([32]byte{7}))
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{group: group, public: public}
	for index, system := range group.Systems {
		executor := protocol.NewExecutor(system, protocol.ExecutorOptions{})
		Grants(executor)
		f.lotteries = append(f.lotteries, New(executor, Config{Share: shares[index], Public: public, Devices: group.Devices()}, nil))
	}
	return f
}

func (f *fixture) contend(t *testing.T, session ids.SessionID) []journal.LockGranted {
	t.Helper()
	grants, errs := protocoltest.Collect(context.Background(), protocoltest.All(3), func(ctx context.Context, index int) (journal.LockGranted, error) {
		return f.lotteries[index].Contend(ctx, f.group.Context(index, session, 2), operation, lastEvent)
	})
	for index, err := range errs {
		if err != nil {
			t.Fatalf("participant %d: %v", index, err)
		}
	}
	return grants
}

func (f *fixture) winnerIndex(t *testing.T, grant journal.LockGranted) int {
	t.Helper()
	for index, system := range f.group.Systems {
		if system.Device == grant.Winner {
			return index
		}
	}
	t.Fatalf("winner %s is not a participant", ids.Short(grant.Winner))
	return -1
}

func TestContendGrantAndRelease(t *testing.T) {
	f := newFixture(t)
	grants := f.contend(t, ids.Fill[ids.SessionID](0x10))

	var tickets []Ticket
	for _, system := range f.group.Systems {
		tickets = append(tickets, Draw(lastEvent, system.Device))
	}
	expected, _ := Winner(tickets)
	for index, grant := range grants {
		if grant.Winner != expected.Device || grant.Ticket != expected.Value {
			t.Errorf("participant %d granted %s, want %s", index, ids.Short(grant.Winner), ids.Short(expected.Device))
		}
		if err := VerifyGrant(grant, f.public.GroupKey); err != nil {
			t.Errorf("participant %d: %v", index, err)
		}
		if _, held, err := f.lotteries[index].Held(context.Background(), operation); err != nil || !held {
			t.Errorf("participant %d: held = %v, %v", index, held, err)
		}
	}

	tampered := grants[0]
	tampered.Winner = ids.Fill[ids.DeviceID](0xee)
	if err := VerifyGrant(tampered, f.public.GroupKey); !errors.Is(err, frost.ErrInvalidSignature) {
		t.Errorf("tampered grant: err = %v", err)
	}

	if _, err := f.lotteries[0].Contend(context.Background(), f.group.Context(0, ids.Fill[ids.SessionID](0x11), 2), operation, lastEvent); !errors.Is(err, ErrLockHeld) {
		t.Errorf("contending for a held lock: err = %v", err)
	}

	winner := f.winnerIndex(t, grants[0])
	loser := (winner + 1) % 3
	if err := f.lotteries[loser].Release(context.Background(), operation); !errors.Is(err, ErrNotHolder) {
		t.Errorf("release by loser: err = %v", err)
	}
	if err := f.lotteries[winner].Release(context.Background(), operation); err != nil {
		t.Fatalf("release by winner: %v", err)
	}
	if _, held, _ := f.lotteries[winner].Held(context.Background(), operation); held {
		t.Error("lock still held after release")
	}
	if err := f.lotteries[winner].Release(context.Background(), operation); !errors.Is(err, ErrNoLock) {
		t.Errorf("second release: err = %v", err)
	}
}

func TestGrantLapsesAfterTTL(t *testing.T) {
	f := newFixture(t)
	grants := f.contend(t, ids.Fill[ids.SessionID](0x20))
	winner := f.winnerIndex(t, grants[0])
	system := f.group.Systems[winner]

	system.Flow.RotateEpoch(TicketTTL - 1)
	if _, held, _ := f.lotteries[winner].Held(context.Background(), operation); !held {
		t.Fatal("grant lapsed before its TTL")
	}
	system.Flow.RotateEpoch(TicketTTL)
	if _, held, _ := f.lotteries[winner].Held(context.Background(), operation); held {
		t.Fatal("grant outlived its TTL")
	}
	if err := f.lotteries[winner].Release(context.Background(), operation); !errors.Is(err, ErrNoLock) {
		t.Errorf("release after lapse: err = %v", err)
	}
}

func TestForgedTicketIsByzantine(t *testing.T) {
	f := newFixture(t)
	session := ids.Fill[ids.SessionID](0x30)
	forger := f.group.Context(2, session, 2)
	forged := Ticket{Device: f.group.Systems[2].Device, Value: hash.Sum([]byte("always wins"))}
	if _, err := forger.Publish(context.Background(), EventTicket, forged); err != nil {
		t.Fatal(err)
	}

	_, errs := protocoltest.Collect(context.Background(), []int{0, 1}, func(ctx context.Context, index int) (journal.LockGranted, error) {
		return f.lotteries[index].Contend(ctx, f.group.Context(index, session, 2), operation, lastEvent)
	})
	for index, err := range errs {
		if !protocol.IsKind(err, protocol.KindByzantine) {
			t.Errorf("participant %d: err = %v, want byzantine", index, err)
		}
	}
}

// A contender that grinds a device id outside the group publishes a
// self-consistent ticket; it must not win the lock.
func TestUnregisteredDeviceTicketIsByzantine(t *testing.T) {
	f := newFixture(t)
	session := ids.Fill[ids.SessionID](0x40)
	forger := f.group.Context(2, session, 2)
	forged := Draw(lastEvent, ids.Fill[ids.DeviceID](0xee))
	if _, err := forger.Publish(context.Background(), EventTicket, forged); err != nil {
		t.Fatal(err)
	}

	_, errs := protocoltest.Collect(context.Background(), []int{0, 1}, func(ctx context.Context, index int) (journal.LockGranted, error) {
		return f.lotteries[index].Contend(ctx, f.group.Context(index, session, 2), operation, lastEvent)
	})
	for index, err := range errs {
		if !protocol.IsKind(err, protocol.KindByzantine) {
			t.Errorf("participant %d: err = %v, want byzantine", index, err)
		}
	}
}

func TestSecondTicketFromAuthorIsByzantine(t *testing.T) {
	f := newFixture(t)
	session := ids.Fill[ids.SessionID](0x50)
	repeater := f.group.Context(2, session, 2)
	ticket := Draw(lastEvent, f.group.Systems[2].Device)
	for range 2 {
		if _, err := repeater.Publish(context.Background(), EventTicket, ticket); err != nil {
			t.Fatal(err)
		}
	}

	_, errs := protocoltest.Collect(context.Background(), []int{0, 1}, func(ctx context.Context, index int) (journal.LockGranted, error) {
		return f.lotteries[index].Contend(ctx, f.group.Context(index, session, 2), operation, lastEvent)
	})
	for index, err := range errs {
		if !protocol.IsKind(err, protocol.KindByzantine) {
			t.Errorf("participant %d: err = %v, want byzantine", index, err)
		}
	}
}
