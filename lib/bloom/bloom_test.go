// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bloom

import (
	"errors"
	"fmt"
	"testing"
)

func TestNoFalseNegatives(t *testing.T) {
	filter, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	for index := range 500 {
		filter.Add(fmt.Appendf(nil, "op-%d", index))
	}
	for index := range 500 {
		if !filter.Contains(fmt.Appendf(nil, "op-%d", index)) {
			t.Fatalf("op-%d missing", index)
		}
	}
	falsePositives := 0
	for index := 500; index < 10500; index++ {
		if filter.Contains(fmt.Appendf(nil, "op-%d", index)) {
			falsePositives++
		}
	}
	// Filter is sized for 1024 items at 1%; with 500 inserted the rate
	// is far lower.
	if falsePositives > 300 {
		t.Errorf("%d false positives in 10000 probes", falsePositives)
	}
	if estimate := filter.EstimatedCount(); estimate < 400 || estimate > 600 {
		t.Errorf("EstimatedCount = %d, want about 500", estimate)
	}
}

func TestUnion(t *testing.T) {
	left, _ := New(DefaultConfig())
	right, _ := New(DefaultConfig())
	left.Add([]byte("a"))
	right.Add([]byte("b"))
	if err := left.Union(right); err != nil {
		t.Fatal(err)
	}
	if !left.Contains([]byte("a")) || !left.Contains([]byte("b")) {
		t.Error("union lost an item")
	}

	other, _ := New(Config{FalsePositiveRate: 0.1, ExpectedItems: 10})
	if err := left.Union(other); !errors.Is(err, ErrIncompatible) {
		t.Errorf("Union(incompatible) = %v", err)
	}
}

func TestBinaryEncoding(t *testing.T) {
	filter, _ := New(Config{FalsePositiveRate: 0.05, ExpectedItems: 64})
	filter.Add([]byte("present"))
	data, err := filter.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Config() != filter.Config() {
		t.Errorf("config = %+v", decoded.Config())
	}
	if !decoded.Contains([]byte("present")) {
		t.Error("decoded filter lost its item")
	}
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Error("Decode accepted garbage")
	}
}

func TestConfigValidate(t *testing.T) {
	for _, config := range []Config{
		{FalsePositiveRate: 0, ExpectedItems: 10},
		{FalsePositiveRate: 1, ExpectedItems: 10},
		{FalsePositiveRate: 0.01, ExpectedItems: 0},
	} {
		if _, err := New(config); err == nil {
			t.Errorf("New(%+v) succeeded", config)
		}
	}
}
