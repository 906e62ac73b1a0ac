// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package treetest builds signed commitment-tree histories for tests.
package treetest

import (
	"bytes"
	"crypto/ed25519"

	"github.com/bureau-foundation/aura/lib/tree"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Member is a device leaf together with its signing key.
type Member struct {
	Leaf tree.Leaf
	Key  ed25519.PrivateKey
}

// NewMember derives a device member from seed.
func NewMember(seed byte) Member {
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize))
	var id [32]byte
	id[0] = seed
	return Member{
		Leaf: tree.Leaf{ID: id, Role: tree.RoleDevice, SigningKey: key.Public().(ed25519.PublicKey)},
		Key:  key,
	}
}

// Fixture is a genesis state over members 1..n.
type Fixture struct {
	Members []Member
	Genesis tree.State
}

// New returns a fixture with n founding members.
func New(t TB, n int) *Fixture {
	t.Helper()
	fixture := &Fixture{}
	var leaves []tree.Leaf
	for index := range n {
		member := NewMember(byte(index + 1))
		fixture.Members = append(fixture.Members, member)
		leaves = append(leaves, member.Leaf)
	}
	genesis, err := tree.Genesis(leaves, nil)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	fixture.Genesis = genesis
	return fixture
}

// Sign attests op with the leaf key of founding member signer.
func (f *Fixture) Sign(t TB, signer int, op tree.TreeOp) tree.AttestedOp {
	t.Helper()
	message, err := op.SigningBytes()
	if err != nil {
		t.Fatalf("signing bytes: %v", err)
	}
	return tree.AttestedOp{
		Op:          op,
		SignerNode:  tree.LeafIndex(signer).Node(),
		SignerCount: 1,
		Signature:   ed25519.Sign(f.Members[signer].Key, message),
	}
}

// Chain returns n ops, each adding a new device on top of the state the
// previous one produced, signed by member 0, along with the state after
// each op.
func (f *Fixture) Chain(t TB, n int) ([]tree.AttestedOp, []tree.State) {
	t.Helper()
	state := f.Genesis
	ops := make([]tree.AttestedOp, 0, n)
	states := make([]tree.State, 0, n)
	for index := range n {
		op, err := tree.NewOp(state, tree.AddLeaf{Leaf: NewMember(byte(100 + index)).Leaf})
		if err != nil {
			t.Fatalf("op %d: %v", index, err)
		}
		state, err = tree.Apply(state, op)
		if err != nil {
			t.Fatalf("applying op %d: %v", index, err)
		}
		ops = append(ops, f.Sign(t, 0, op))
		states = append(states, state)
	}
	return ops, states
}
