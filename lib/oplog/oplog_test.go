// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"errors"
	"testing"

	"github.com/bureau-foundation/aura/lib/bloom"
	"github.com/bureau-foundation/aura/lib/tree"
)

func testOps(t *testing.T, count int) []tree.AttestedOp {
	t.Helper()
	state, err := tree.Genesis([]tree.Leaf{{ID: [32]byte{1}, Role: tree.RoleDevice, SigningKey: []byte("key")}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	var ops []tree.AttestedOp
	for index := range count {
		op, err := tree.NewOp(state, tree.RotateEpoch{})
		if err != nil {
			t.Fatal(err)
		}
		ops = append(ops, tree.AttestedOp{Op: op, SignerCount: 1, Signature: []byte{byte(index)}})
		state, err = tree.Apply(state, op)
		if err != nil {
			t.Fatal(err)
		}
	}
	return ops
}

func TestAppendIsIdempotent(t *testing.T) {
	log := New(nil)
	ops := testOps(t, 3)
	id, added, err := log.Append(ops[0])
	if err != nil || !added {
		t.Fatalf("Append = %v, %v", added, err)
	}
	again, added, err := log.Append(ops[0])
	if err != nil || added || again != id {
		t.Fatalf("second Append = %s, %v, %v", again, added, err)
	}
	count, err := log.AppendAll(ops)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 || log.Len() != 3 {
		t.Errorf("AppendAll added %d, Len = %d", count, log.Len())
	}
	if !log.Contains(id) {
		t.Error("Contains(first) = false")
	}
	if got, ok := log.Get(id); !ok || got.Signature[0] != 0 {
		t.Error("Get(first) returned the wrong op")
	}
	if log.LastEpoch() != 2 {
		t.Errorf("LastEpoch = %d", log.LastEpoch())
	}
}

func TestSinceReturnsIndependentSuffix(t *testing.T) {
	log := New(nil)
	ops := testOps(t, 4)
	log.AppendAll(ops[:2])

	cursor := log.Cursor()
	suffix, next := log.Since(1)
	if len(suffix) != 1 || next != cursor {
		t.Fatalf("Since(1) = %d ops, cursor %d", len(suffix), next)
	}
	log.AppendAll(ops[2:])
	if len(suffix) != 1 {
		t.Error("later append changed a returned suffix")
	}
	rest, next := log.Since(cursor)
	if len(rest) != 2 || next != 4 {
		t.Fatalf("Since(cursor) = %d ops, cursor %d", len(rest), next)
	}
	if empty, _ := log.Since(100); empty != nil {
		t.Error("Since past the end returned ops")
	}
}

func TestReduceReplaysLog(t *testing.T) {
	log := New(nil)
	ops := testOps(t, 3)
	log.AppendAll([]tree.AttestedOp{ops[2], ops[0], ops[1]})
	base, _ := tree.Genesis([]tree.Leaf{{ID: [32]byte{1}, Role: tree.RoleDevice, SigningKey: []byte("key")}}, nil)
	result, err := log.Reduce(base, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.State.Epoch() != 3 {
		t.Errorf("reduced epoch = %d", result.State.Epoch())
	}
}

func TestDigestDifference(t *testing.T) {
	ops := testOps(t, 4)
	left, right := New(nil), New(nil)
	left.AppendAll(ops[:3])
	right.AppendAll(ops[1:])

	leftDigest, err := left.Digest(bloom.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	rightDigest, err := right.Digest(bloom.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	wantLeft, _ := ops[3].ContentID()
	if missing := leftDigest.MissingFrom(rightDigest); len(missing) != 1 || missing[0] != wantLeft {
		t.Errorf("left is missing %v", missing)
	}
	wantRight, _ := ops[0].ContentID()
	if missing := rightDigest.MissingFrom(leftDigest); len(missing) != 1 || missing[0] != wantRight {
		t.Errorf("right is missing %v", missing)
	}

	data, err := leftDigest.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeDigest(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Count != 3 || decoded.LastEpoch != leftDigest.LastEpoch || len(decoded.MissingFrom(leftDigest)) != 0 {
		t.Errorf("decoded digest = %+v", decoded)
	}
}

func TestBatchesReassemble(t *testing.T) {
	ops := testOps(t, 5)
	batches := Batches(BatchID{7}, ops, 2)
	if len(batches) != 3 {
		t.Fatalf("%d batches", len(batches))
	}
	var assembler Assembler
	for index, batch := range batches {
		done, err := assembler.Add(batch)
		if err != nil {
			t.Fatal(err)
		}
		if done != (index == len(batches)-1) {
			t.Fatalf("batch %d: done = %v", index, done)
		}
	}
	if len(assembler.Items()) != 5 {
		t.Errorf("assembled %d items", len(assembler.Items()))
	}

	var outOfOrder Assembler
	if _, err := outOfOrder.Add(batches[1]); !errors.Is(err, ErrBatchOutOfOrder) {
		t.Errorf("starting at sequence 1 = %v", err)
	}

	empty := Batches(BatchID{8}, nil, 2)
	if len(empty) != 1 || !empty[0].IsFinal {
		t.Fatalf("empty transfer = %+v", empty)
	}
	var emptyAssembler Assembler
	if done, err := emptyAssembler.Add(empty[0]); !done || err != nil {
		t.Errorf("empty transfer: %v, %v", done, err)
	}
}
