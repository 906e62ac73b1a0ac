// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resharing

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/protocol/protocoltest"
	"github.com/bureau-foundation/aura/lib/protocol/signing"
	"github.com/bureau-foundation/aura/lib/tree"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	dealSession     = ids.Fill[ids.SessionID](0xa1)
	finalizeSession = ids.Fill[ids.SessionID](0xa2)
)

// fixture: systems 0..2 hold a 2-of-3 key as identifiers 1..3; systems
// 1..3 become the new 2-of-3 group as identifiers 1..3.
type fixture struct {
	group     *protocoltest.Group
	oldShares []frost.KeyShare
	oldPublic frost.PublicKeyPackage
	members   []Member
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	group := protocoltest.NewGroup(t, protocoltest.Seeds(4)...)
	shares, public, err := frost.GenerateWithDealer(2, 3, rand.NewChaCha8([32]byte{11}))
	if err != nil {
		t.Fatal(err)
	}
	var members []Member
	for index := 1; index <= 3; index++ {
		system := group.Systems[index]
		members = append(members, Member{
			Authority:  system.Authority,
			Identifier: frost.Identifier(index),
			HPKEKey:    system.Crypto.HPKEPublicKey(),
		})
	}
	return fixture{group: group, oldShares: shares, oldPublic: public, members: members}
}

func (f fixture) config(index int) Config {
	config := Config{
		OldPublic:    f.oldPublic,
		Dealers:      []frost.Identifier{1, 2},
		NewMembers:   f.members,
		NewThreshold: 2,
	}
	if index < len(f.oldShares) {
		config.Old = &f.oldShares[index]
	}
	return config
}

func TestReshareKeepsGroupKey(t *testing.T) {
	f := newFixture(t)
	results, errs := protocoltest.Collect(context.Background(), protocoltest.All(4), func(ctx context.Context, index int) (Result, error) {
		return Run(ctx, f.group.Context(index, dealSession, 2), f.config(index))
	})
	for index, err := range errs {
		if err != nil {
			t.Fatalf("participant %d: %v", index, err)
		}
	}

	if results[0].Share != nil {
		t.Error("dealer outside the new set received a share")
	}
	var newShares []frost.KeyShare
	for index := 1; index <= 3; index++ {
		result := results[index]
		if result.Share == nil {
			t.Fatalf("new member %d has no share", index)
		}
		if !bytes.Equal(result.Public.GroupKey, f.oldPublic.GroupKey) {
			t.Errorf("new member %d sees a different group key", index)
		}
		newShares = append(newShares, *result.Share)
	}
	for index, result := range results {
		if len(result.Public.VerifyingShares) != 3 || result.Public.Threshold != 2 {
			t.Errorf("participant %d public package = %+v", index, result.Public)
		}
	}

	oldSecret, err := frost.Reconstruct(f.oldShares[:2])
	if err != nil {
		t.Fatal(err)
	}
	newSecret, err := frost.Reconstruct(newShares[1:])
	if err != nil {
		t.Fatal(err)
	}
	if !oldSecret.IsEqual(newSecret) {
		t.Fatal("resharing changed the group secret")
	}

	message := []byte("signed by the new group")
	signature, err := signing.Local(newShares[:2], results[1].Public, message, rand.NewChaCha8([32]byte{2}))
	if err != nil {
		t.Fatal(err)
	}
	if err := frost.Verify(f.oldPublic.GroupKey, message, signature); err != nil {
		t.Errorf("new shares do not sign for the old group key: %v", err)
	}
}

func TestFinalizeRotatesEpoch(t *testing.T) {
	f := newFixture(t)
	results, errs := protocoltest.Collect(context.Background(), protocoltest.All(4), func(ctx context.Context, index int) (Result, error) {
		return Run(ctx, f.group.Context(index, dealSession, 2), f.config(index))
	})
	for index, err := range errs {
		if err != nil {
			t.Fatalf("participant %d: %v", index, err)
		}
	}

	var leaves []tree.Leaf
	for _, member := range f.members {
		leaves = append(leaves, tree.Leaf{ID: member.Authority, Role: tree.RoleDevice, SigningKey: member.HPKEKey})
	}
	state, err := tree.Genesis(leaves, f.oldPublic.GroupKey)
	if err != nil {
		t.Fatal(err)
	}

	// A receipt issued before rotation stops verifying after it.
	ctx := context.Background()
	holder := f.group.Systems[1]
	if err := holder.Flow.SetLimit(ctx, ids.ContextID{}, holder.Authority, 10); err != nil {
		t.Fatal(err)
	}
	receipt, err := holder.Flow.Charge(ctx, ids.ContextID{}, holder.Authority, holder.Authority, 1)
	if err != nil {
		t.Fatal(err)
	}

	type finalized struct {
		op    tree.AttestedOp
		state tree.State
	}
	outputs, errs := protocoltest.Collect(ctx, []int{1, 2, 3}, func(ctx context.Context, index int) (finalized, error) {
		result := results[index]
		op, next, err := Finalize(ctx, f.group.Context(index, finalizeSession, 2), state, *result.Share, result.Public)
		return finalized{op: op, state: next}, err
	})
	for index, err := range errs {
		if err != nil {
			t.Fatalf("new member %d: %v", index+1, err)
		}
	}
	first, err := outputs[0].op.ContentID()
	if err != nil {
		t.Fatal(err)
	}
	for index, output := range outputs {
		id, err := output.op.ContentID()
		if err != nil {
			t.Fatal(err)
		}
		if id != first {
			t.Errorf("new member %d attested a different op", index+1)
		}
		if output.op.Op.Kind != tree.OpRotateEpoch || len(output.op.Op.RotateEpoch.Affected) == 0 {
			t.Errorf("new member %d op = %+v", index+1, output.op.Op)
		}
		if output.state.Epoch() != state.Epoch().Next() {
			t.Errorf("new member %d tree epoch = %d", index+1, output.state.Epoch())
		}
	}
	for index := 1; index <= 3; index++ {
		if epoch := f.group.Systems[index].Flow.Epoch(); epoch != 1 {
			t.Errorf("system %d flow epoch = %d", index, epoch)
		}
	}
	if err := holder.Flow.VerifyReceipt(ctx, receipt, holder.Crypto.PublicKey()); !errors.Is(err, effects.ErrInvalidReceipt) {
		t.Errorf("pre-rotation receipt: err = %v", err)
	}
}

func TestForgedDealingIsByzantine(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Dealer 2 deals from a share of an unrelated key.
	foreign, _, err := frost.GenerateWithDealer(2, 3, rand.NewChaCha8([32]byte{99}))
	if err != nil {
		t.Fatal(err)
	}
	forged := f.config(1)
	forged.Old = &foreign[1]
	forger := f.group.Context(1, dealSession, 2)
	deal, err := buildDeal(forger, forged)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := forger.Publish(ctx, EventDeal, deal); err != nil {
		t.Fatal(err)
	}

	_, err = Run(ctx, f.group.Context(0, dealSession, 2), f.config(0))
	if !protocol.IsKind(err, protocol.KindByzantine) || !errors.Is(err, ErrInvalidDeal) {
		t.Fatalf("err = %v, want byzantine invalid dealing", err)
	}
}

func TestConfigValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"TooFewDealers", func(c *Config) { c.Dealers = []frost.Identifier{1} }},
		{"UnknownDealer", func(c *Config) { c.Dealers = []frost.Identifier{1, 9} }},
		{"ThresholdAboveMembers", func(c *Config) { c.NewThreshold = 4 }},
		{"RepeatedMember", func(c *Config) { c.NewMembers = append(c.NewMembers, c.NewMembers[0]) }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := f.config(0)
			config.NewMembers = append([]Member(nil), config.NewMembers...)
			test.mutate(&config)
			if _, err := Run(context.Background(), f.group.Context(0, dealSession, 2), config); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}
