// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"

	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

type record struct {
	Device ids.DeviceID      `cbor:"1,keyasint"`
	Labels map[string]string `cbor:"2,keyasint,omitempty"`
	Epoch  ids.Epoch         `cbor:"3,keyasint"`
	Parent hash.Digest       `cbor:"4,keyasint"`
	Extra  map[string]uint64 `cbor:"5,keyasint,omitempty"`
}

func TestMapOrderDoesNotAffectEncoding(t *testing.T) {
	first := record{Labels: map[string]string{}, Extra: map[string]uint64{}}
	second := record{Labels: map[string]string{}, Extra: map[string]uint64{}}
	keys := []string{"zeta", "alpha", "mid", "beta", "omega"}
	for index, key := range keys {
		first.Labels[key] = key
		first.Extra[key] = uint64(index)
	}
	for index := len(keys) - 1; index >= 0; index-- {
		second.Labels[keys[index]] = keys[index]
		second.Extra[keys[index]] = uint64(index)
	}

	a, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("equal values encoded to different bytes")
	}
}

func TestIdentifiersEncodeAsText(t *testing.T) {
	value := record{Device: ids.Fill[ids.DeviceID](0x42), Epoch: 9, Parent: hash.Sum([]byte("p"))}
	data, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Contains(data, []byte(value.Device.String())) {
		t.Error("device id was not encoded as hex text")
	}
	var decoded record
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Device != value.Device || decoded.Parent != value.Parent || decoded.Epoch != 9 {
		t.Errorf("decoded %+v", decoded)
	}
}

func TestDigestTracksContent(t *testing.T) {
	first, err := Digest(hash.DomainOpContent, record{Epoch: 1})
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	again, _ := Digest(hash.DomainOpContent, record{Epoch: 1})
	other, _ := Digest(hash.DomainOpContent, record{Epoch: 2})
	if first != again {
		t.Error("Digest is not deterministic")
	}
	if first == other {
		t.Error("Digest ignored a field change")
	}
}

func TestStreamEncoding(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for epoch := ids.Epoch(1); epoch <= 3; epoch++ {
		if err := encoder.Encode(record{Epoch: epoch}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}
	decoder := NewDecoder(&buffer)
	for epoch := ids.Epoch(1); epoch <= 3; epoch++ {
		var decoded record
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if decoded.Epoch != epoch {
			t.Errorf("decoded epoch %d, want %d", decoded.Epoch, epoch)
		}
	}
}
