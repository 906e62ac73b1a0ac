// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package treestore

import (
	"context"
	"crypto/ed25519"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/handler"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/storage"
	"github.com/bureau-foundation/aura/lib/tree"
	"github.com/bureau-foundation/aura/lib/tree/treetest"
)

func newStore(t *testing.T, backend effects.StorageEffects, base tree.State) *Store {
	t.Helper()
	store, err := New(backend, base, Options{Verifier: tree.SignatureVerifier{}})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestMergePersistsAndReloads(t *testing.T) {
	for _, backend := range []string{storage.BackendMemory, storage.BackendSQLite, storage.BackendBadger} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "tree")
			if backend == storage.BackendSQLite {
				path += ".db"
			}
			kv, err := storage.Open(backend, path, nil)
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { kv.Close() })

			fixture := treetest.New(t, 2)
			ops, states := fixture.Chain(t, 3)
			store := newStore(t, kv, fixture.Genesis)

			reversed := slices.Clone(ops)
			slices.Reverse(reversed)
			added, err := store.Merge(ctx, reversed)
			if err != nil {
				t.Fatal(err)
			}
			if added != 3 {
				t.Fatalf("merged %d ops, want 3", added)
			}
			state, err := store.State(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if state.RootCommitment() != states[2].RootCommitment() {
				t.Fatal("merged state differs from the applied chain")
			}

			keys, err := kv.List(ctx, OpsPrefix)
			if err != nil {
				t.Fatal(err)
			}
			if len(keys) != 3 {
				t.Errorf("persisted %d ops", len(keys))
			}

			// A second store over the same storage reads ops lazily, then
			// loads everything on the first state read.
			reopened := newStore(t, kv, fixture.Genesis)
			id, _ := ops[1].ContentID()
			if op, ok, err := reopened.Get(ctx, id); err != nil || !ok || op.Op.ParentEpoch != ops[1].Op.ParentEpoch {
				t.Fatalf("lazy get: ok=%v err=%v", ok, err)
			}
			state, err = reopened.State(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if state.RootCommitment() != states[2].RootCommitment() {
				t.Fatal("reloaded state differs")
			}
		})
	}
}

func TestApplySkipsKnownOps(t *testing.T) {
	ctx := context.Background()
	fixture := treetest.New(t, 2)
	ops, _ := fixture.Chain(t, 1)
	store := newStore(t, storage.NewMemory(), fixture.Genesis)

	if added, err := store.Apply(ctx, ops[0]); err != nil || !added {
		t.Fatalf("first apply: added=%v err=%v", added, err)
	}
	if added, err := store.Apply(ctx, ops[0]); err != nil || added {
		t.Fatalf("second apply: added=%v err=%v", added, err)
	}
	held, err := store.Ops(ctx)
	if err != nil || len(held) != 1 {
		t.Fatalf("ops = %d, %v", len(held), err)
	}
}

func TestMergeDropsForgedAttestation(t *testing.T) {
	ctx := context.Background()
	fixture := treetest.New(t, 2)
	ops, _ := fixture.Chain(t, 1)
	forged := ops[0]
	message, err := forged.Op.SigningBytes()
	if err != nil {
		t.Fatal(err)
	}
	// Member 1's key claiming member 0's leaf.
	forged.Signature = ed25519.Sign(fixture.Members[1].Key, message)

	kv := storage.NewMemory()
	store := newStore(t, kv, fixture.Genesis)
	added, err := store.Merge(ctx, []tree.AttestedOp{forged})
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 {
		t.Fatalf("forged op merged")
	}
	state, _ := store.State(ctx)
	if state.RootCommitment() != fixture.Genesis.RootCommitment() {
		t.Error("forged op changed the state")
	}
	if exists, _ := kv.Exists(ctx, IndexKey); exists {
		t.Error("forged op reached storage")
	}
}

func TestOrphanWaitsForParent(t *testing.T) {
	ctx := context.Background()
	fixture := treetest.New(t, 2)
	ops, states := fixture.Chain(t, 2)
	store := newStore(t, storage.NewMemory(), fixture.Genesis)

	if added, err := store.Merge(ctx, ops[1:]); err != nil || added != 1 {
		t.Fatalf("merging child: added=%d err=%v", added, err)
	}
	result, err := store.Result(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Orphaned) != 1 || result.State.Epoch() != 0 {
		t.Fatalf("orphaned=%d epoch=%d", len(result.Orphaned), result.State.Epoch())
	}
	if _, err := store.Merge(ctx, ops[:1]); err != nil {
		t.Fatal(err)
	}
	state, _ := store.State(ctx)
	if state.RootCommitment() != states[1].RootCommitment() {
		t.Fatal("parent arrival did not complete the chain")
	}
}

func TestApplySnapshotClearsHistory(t *testing.T) {
	ctx := context.Background()
	fixture := treetest.New(t, 2)
	ops, states := fixture.Chain(t, 3)
	kv := storage.NewMemory()
	store := newStore(t, kv, fixture.Genesis)
	if _, err := store.Merge(ctx, ops); err != nil {
		t.Fatal(err)
	}

	if err := store.ApplySnapshot(ctx, states[2].Snapshot()); err != nil {
		t.Fatal(err)
	}
	keys, err := kv.List(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range keys {
		if key == IndexKey || strings.HasPrefix(key, OpsPrefix) {
			t.Errorf("key %s survived the snapshot", key)
		}
	}
	held, _ := store.Ops(ctx)
	if len(held) != 0 {
		t.Errorf("%d ops survived the snapshot", len(held))
	}
	state, _ := store.State(ctx)
	if state.RootCommitment() != states[2].RootCommitment() || state.Epoch() != states[2].Epoch() {
		t.Error("snapshot state is not the new baseline")
	}

	// History continues from the snapshot.
	next, err := tree.NewOp(state, tree.RotateEpoch{})
	if err != nil {
		t.Fatal(err)
	}
	if added, err := store.Apply(ctx, fixture.Sign(t, 0, next)); err != nil || !added {
		t.Fatalf("apply after snapshot: added=%v err=%v", added, err)
	}
	state, _ = store.State(ctx)
	if state.Epoch() != states[2].Epoch()+1 {
		t.Errorf("epoch = %d", state.Epoch())
	}

	// A restart reduces from the snapshot, not the constructor's base.
	reopened := newStore(t, kv, fixture.Genesis)
	restored, err := reopened.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if restored.RootCommitment() != state.RootCommitment() || restored.Epoch() != state.Epoch() {
		t.Errorf("restart restored epoch %d, want %d", restored.Epoch(), state.Epoch())
	}
}

func TestMergedRotationAdvancesFlowEpoch(t *testing.T) {
	ctx := context.Background()
	system, err := handler.NewSimulationSystem(handler.SimulationOptions{Seed: []byte("flow follows tree")})
	if err != nil {
		t.Fatal(err)
	}
	runtime, err := protocol.NewSessionRuntime(system, protocol.DefaultSessionRuntimeConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	session, err := runtime.Start(ctx, "test", nil, 1)
	if err != nil {
		t.Fatal(err)
	}

	if err := system.Flow.SetLimit(ctx, ids.ContextID{}, system.Authority, 10); err != nil {
		t.Fatal(err)
	}
	receipt, err := system.Flow.Charge(ctx, ids.ContextID{}, system.Authority, system.Authority, 1)
	if err != nil {
		t.Fatal(err)
	}

	fixture := treetest.New(t, 2)
	store, err := New(storage.NewMemory(), fixture.Genesis, Options{
		Verifier: tree.SignatureVerifier{},
		Flow:     system.Flow,
	})
	if err != nil {
		t.Fatal(err)
	}
	rotation, err := tree.NewOp(fixture.Genesis, tree.RotateEpoch{})
	if err != nil {
		t.Fatal(err)
	}
	// The op arrives from a peer; nothing local rotates the ledger.
	if added, err := store.Merge(ctx, []tree.AttestedOp{fixture.Sign(t, 1, rotation)}); err != nil || added != 1 {
		t.Fatalf("merge: added=%d err=%v", added, err)
	}
	if epoch := system.Flow.Epoch(); epoch != 1 {
		t.Fatalf("flow epoch = %d, want 1", epoch)
	}

	if err := system.Flow.VerifyReceipt(ctx, receipt, system.Crypto.PublicKey()); !errors.Is(err, effects.ErrInvalidReceipt) {
		t.Errorf("receipt from before the rotation: err = %v", err)
	}
	expired, err := runtime.ExpireSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0] != session.ID {
		t.Errorf("expired = %v, want %s", expired, ids.Short(session.ID))
	}
}
