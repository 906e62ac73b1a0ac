// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/aura/lib/clock"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/storage"
)

func TestSeededRandomIsDeterministic(t *testing.T) {
	first := NewSeededRandom([]byte("seed"))
	second := NewSeededRandom([]byte("seed"))
	other := NewSeededRandom([]byte("other"))

	a, b := first.Bytes(64), second.Bytes(64)
	if !bytes.Equal(a, b) {
		t.Fatal("same seed produced different bytes")
	}
	if bytes.Equal(a, other.Bytes(64)) {
		t.Fatal("different seeds produced the same bytes")
	}
	if first.UUID() != second.UUID() {
		t.Error("UUIDs diverged")
	}
	if bytes.Equal(first.Bytes(32), a[:32]) {
		t.Error("stream repeated")
	}
}

func TestCryptoSignVerify(t *testing.T) {
	crypto := NewCrypto(NewSeededRandom([]byte("device")))
	signature, err := crypto.Sign([]byte("message"))
	if err != nil {
		t.Fatal(err)
	}
	if !crypto.Verify(crypto.PublicKey(), []byte("message"), signature) {
		t.Error("signature did not verify")
	}
	if crypto.Verify(crypto.PublicKey(), []byte("other"), signature) {
		t.Error("signature verified for a different message")
	}
	if crypto.Verify([]byte{1, 2, 3}, []byte("message"), signature) {
		t.Error("malformed key accepted")
	}
}

func TestCryptoHPKE(t *testing.T) {
	alice := NewCrypto(NewSeededRandom([]byte("alice")))
	bob := NewCrypto(NewSeededRandom([]byte("bob")))

	sealed, err := alice.HPKESeal(bob.HPKEPublicKey(), []byte("info"), []byte("aad"), []byte("share"))
	if err != nil {
		t.Fatalf("HPKESeal: %v", err)
	}
	plaintext, err := bob.HPKEOpen([]byte("info"), []byte("aad"), sealed)
	if err != nil {
		t.Fatalf("HPKEOpen: %v", err)
	}
	if string(plaintext) != "share" {
		t.Errorf("plaintext = %q", plaintext)
	}

	if _, err := bob.HPKEOpen([]byte("info"), []byte("other"), sealed); err == nil {
		t.Error("opened with the wrong aad")
	}
	if _, err := alice.HPKEOpen([]byte("info"), []byte("aad"), sealed); err == nil {
		t.Error("sender opened a message sealed to the recipient")
	}
	if _, err := bob.HPKEOpen(nil, nil, []byte{1}); !errors.Is(err, ErrSealedTooShort) {
		t.Errorf("short input error = %v", err)
	}
}

func TestLeakageRecorderEnforcesBudget(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	recorder := NewLeakageRecorder(store, effects.LeakageBudgets{External: 100, Neighbor: 10, InGroup: 1000}, nil)
	contextID := ids.Fill[ids.ContextID](1)

	event := effects.LeakageEvent{Context: contextID, Observer: effects.ObserverExternal, Bits: 60, Operation: "send", Timestamp: 1}
	if err := recorder.RecordLeakage(ctx, event); err != nil {
		t.Fatal(err)
	}
	if err := recorder.RecordLeakage(ctx, event); !errors.Is(err, effects.ErrLeakageBudgetExceeded) {
		t.Fatalf("second event: err = %v, want ErrLeakageBudgetExceeded", err)
	}
	remaining, err := recorder.LeakageRemaining(ctx, contextID, effects.ObserverExternal)
	if err != nil || remaining != 40 {
		t.Errorf("remaining = %d, %v; want 40", remaining, err)
	}
	remaining, _ = recorder.LeakageRemaining(ctx, contextID, effects.ObserverNeighbor)
	if remaining != 10 {
		t.Errorf("neighbor remaining = %d, want 10", remaining)
	}

	history, err := recorder.LeakageHistory(ctx, contextID)
	if err != nil || len(history) != 1 || history[0] != event {
		t.Fatalf("history = %+v, %v", history, err)
	}
	raw, err := store.Get(ctx, "leakage/"+contextID.String())
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(raw), "\n"); lines != 1 {
		t.Errorf("stored %d lines, want 1", lines)
	}
}

func testEntry(contextID ids.ContextID, key string, at int64) journal.Entry {
	fact := journal.MustFact(journal.FactResident, key, journal.Resident{})
	return journal.Entry{Context: contextID, Authority: ids.Fill[ids.AuthorityID](9), Timestamp: at, Fact: fact}
}

func TestJournalPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	handler := NewJournal(store, nil)
	contextID := ids.Fill[ids.ContextID](2)

	first, err := handler.AppendFact(ctx, testEntry(contextID, "a", 1))
	if err != nil {
		t.Fatal(err)
	}
	stored, err := handler.CommitRelationalFacts(ctx, []journal.Entry{
		testEntry(contextID, "b", 2),
		testEntry(contextID, "a", 1),
		testEntry(contextID, "c", 3),
	})
	if err != nil {
		t.Fatal(err)
	}
	if stored[1].Sequence != first.Sequence || stored[2].Sequence != 2 {
		t.Errorf("sequences = %d %d %d", stored[0].Sequence, stored[1].Sequence, stored[2].Sequence)
	}

	reloaded := NewJournal(store, nil)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snapshot, err := reloaded.Snapshot(ctx, contextID)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Len() != 3 {
		t.Fatalf("reloaded %d entries, want 3", snapshot.Len())
	}
	if latest, ok := snapshot.Latest(journal.FactResident, "c"); !ok || latest.Sequence != 2 {
		t.Errorf("latest c = %+v, %v", latest, ok)
	}
}

type failingStorage struct {
	*storage.Memory
}

func (failingStorage) Batch(context.Context, []effects.StorageOp) error {
	return errors.New("disk full")
}

func TestJournalStorageFailureLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	handler := NewJournal(failingStorage{storage.NewMemory()}, nil)
	contextID := ids.Fill[ids.ContextID](3)
	handler.EnsureContext(contextID)

	if _, err := handler.AppendFact(ctx, testEntry(contextID, "a", 1)); err == nil {
		t.Fatal("append succeeded with failing storage")
	}
	snapshot, err := handler.Snapshot(ctx, contextID)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Len() != 0 {
		t.Errorf("memory holds %d entries after a failed write", snapshot.Len())
	}
}

func TestFlowLedgerChargesAndChainsReceipts(t *testing.T) {
	ctx := context.Background()
	crypto := NewCrypto(NewSeededRandom([]byte("ledger")))
	ledger, err := NewFlowLedger(crypto, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	contextID := ids.Fill[ids.ContextID](1)
	self, peer := ids.Fill[ids.AuthorityID](1), ids.Fill[ids.AuthorityID](2)

	if _, err := ledger.Charge(ctx, contextID, self, peer, 1); !errors.Is(err, effects.ErrInsufficientBudget) {
		t.Fatalf("charge without a limit: %v", err)
	}
	ledger.SetLimit(ctx, contextID, peer, 100)

	first, err := ledger.Charge(ctx, contextID, self, peer, 60)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.Charge(ctx, contextID, self, peer, 50); !errors.Is(err, effects.ErrInsufficientBudget) {
		t.Fatalf("over-budget charge: %v", err)
	}
	second, err := ledger.Charge(ctx, contextID, self, peer, 40)
	if err != nil {
		t.Fatal(err)
	}
	if second.PrevHash != first.Digest() || second.Nonce != first.Nonce+1 {
		t.Error("receipts are not chained")
	}
	if remaining, _ := ledger.Remaining(ctx, contextID, peer); remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if budgets := ledger.Budgets(); budgets[contextID][peer] != 0 {
		t.Errorf("Budgets = %v", budgets)
	}

	if err := ledger.VerifyReceipt(ctx, first, crypto.PublicKey()); err != nil {
		t.Fatalf("VerifyReceipt: %v", err)
	}
	if err := ledger.VerifyReceipt(ctx, first, crypto.PublicKey()); !errors.Is(err, effects.ErrInvalidReceipt) {
		t.Errorf("replayed receipt: %v", err)
	}
	tampered := second
	tampered.Cost = 1
	if err := ledger.VerifyReceipt(ctx, tampered, crypto.PublicKey()); !errors.Is(err, effects.ErrInvalidReceipt) {
		t.Errorf("tampered receipt: %v", err)
	}
}

func TestFlowLedgerEpochRotation(t *testing.T) {
	ctx := context.Background()
	crypto := NewCrypto(NewSeededRandom([]byte("ledger")))
	ledger, err := NewFlowLedger(crypto, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	contextID := ids.Fill[ids.ContextID](1)
	peer := ids.Fill[ids.AuthorityID](2)
	ledger.SetLimit(ctx, contextID, peer, 10)

	stale, err := ledger.Charge(ctx, contextID, ids.Fill[ids.AuthorityID](1), peer, 10)
	if err != nil {
		t.Fatal(err)
	}
	ledger.RotateEpoch(3)
	ledger.RotateEpoch(2)
	if ledger.Epoch() != 3 {
		t.Fatalf("epoch = %d, want 3", ledger.Epoch())
	}
	if err := ledger.VerifyReceipt(ctx, stale, crypto.PublicKey()); !errors.Is(err, effects.ErrInvalidReceipt) {
		t.Errorf("receipt from the old epoch: %v", err)
	}
	if remaining, _ := ledger.Remaining(ctx, contextID, peer); remaining != 10 {
		t.Errorf("remaining after rotation = %d, want 10", remaining)
	}
	fresh, err := ledger.Charge(ctx, contextID, ids.Fill[ids.AuthorityID](1), peer, 1)
	if err != nil || fresh.Epoch != 3 {
		t.Fatalf("charge after rotation: %+v, %v", fresh, err)
	}
}

func TestPoolIsLIFOAndNeverBlocks(t *testing.T) {
	var created atomic.Int64
	pool := NewPool(2, func(context.Context) (int64, error) {
		return created.Add(1), nil
	})
	ctx := context.Background()

	first, _ := pool.Get(ctx)
	second, _ := pool.Get(ctx)
	third, _ := pool.Get(ctx)
	if first != 1 || second != 2 || third != 3 {
		t.Fatalf("created %d %d %d", first, second, third)
	}
	pool.Put(first)
	pool.Put(second)
	if pool.Put(third) {
		t.Error("Put accepted beyond capacity")
	}
	if got, _ := pool.Get(ctx); got != second {
		t.Errorf("Get = %d, want most recently returned %d", got, second)
	}
	stats := pool.Stats()
	if stats.Hits != 1 || stats.Misses != 3 || stats.Dropped != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPoolWarm(t *testing.T) {
	pool := NewPool(4, func(context.Context) (string, error) { return "handler", nil })
	if err := pool.Warm(context.Background(), 10); err != nil {
		t.Fatal(err)
	}
	if pool.Len() != 4 {
		t.Errorf("Len = %d, want 4", pool.Len())
	}

	failing := NewPool(4, func(context.Context) (string, error) { return "", errors.New("no entropy") })
	if err := failing.Warm(context.Background(), 2); err == nil {
		t.Error("Warm succeeded with a failing constructor")
	}
	if failing.Len() != 0 {
		t.Errorf("failed warm left %d values", failing.Len())
	}
}

func TestInitializeJoinsFailures(t *testing.T) {
	var ran atomic.Int32
	err := Initialize(context.Background(), nil,
		Initializer{Name: "storage", Run: func(context.Context) error { ran.Add(1); return nil }},
		Initializer{Name: "transport", Run: func(context.Context) error { ran.Add(1); return errors.New("no route") }},
		Initializer{Name: "journal", Run: func(context.Context) error { ran.Add(1); return errors.New("corrupt") }},
	)
	if ran.Load() != 3 {
		t.Errorf("ran %d initializers, want 3", ran.Load())
	}
	if err == nil {
		t.Fatal("Initialize succeeded")
	}
	message := err.Error()
	for _, want := range []string{"transport: no route", "journal: corrupt"} {
		if !strings.Contains(message, want) {
			t.Errorf("error %q does not mention %q", message, want)
		}
	}
	if err := Initialize(context.Background(), nil); err != nil {
		t.Errorf("empty Initialize: %v", err)
	}
}

func TestSimulationSystemIsDeterministic(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	build := func() *effects.System {
		system, err := NewSimulationSystem(SimulationOptions{Seed: []byte{1}, Clock: clock.Fake(start)})
		if err != nil {
			t.Fatal(err)
		}
		return system
	}
	first, second := build(), build()
	if first.Authority != second.Authority || first.Device != second.Device {
		t.Error("identities differ")
	}
	if !bytes.Equal(first.Crypto.PublicKey(), second.Crypto.PublicKey()) {
		t.Error("signing keys differ")
	}
	if first.Random.Uint64() != second.Random.Uint64() {
		t.Error("random streams differ")
	}
	if !first.Time.Now().Equal(start) {
		t.Errorf("Now = %v", first.Time.Now())
	}
	if _, err := NewSimulationSystem(SimulationOptions{}); err == nil {
		t.Error("empty seed accepted")
	}
}
