// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

// FactType names the kind of a fact.
type FactType string

const (
	FactGuardianBinding      FactType = "guardian_binding"
	FactResident             FactType = "resident"
	FactSteward              FactType = "steward"
	FactRecoveryRequest      FactType = "recovery_request"
	FactGuardianNotification FactType = "guardian_notification"
	FactGuardianApproval     FactType = "guardian_approval"
	FactRecoveryCompleted    FactType = "recovery_completed"
	FactMaintenance          FactType = "maintenance"
	FactRendezvous           FactType = "rendezvous"
	FactRendezvousReceipt    FactType = "rendezvous_receipt"
	FactChannelCommitted     FactType = "channel_committed"
	FactChatMessage          FactType = "chat_message"
	FactSessionStarted       FactType = "session_started"
	FactSessionEnded         FactType = "session_ended"
	FactOperation            FactType = "operation"
	FactDenial               FactType = "denial"
	FactLockGranted          FactType = "lock_granted"
	FactLockReleased         FactType = "lock_released"
)

// Fact is a typed payload. Key is the reducer key for latest-wins
// types and may be empty otherwise.
type Fact struct {
	Type    FactType         `cbor:"1,keyasint"`
	Key     string           `cbor:"2,keyasint,omitempty"`
	Payload codec.RawMessage `cbor:"3,keyasint"`
}

// NewFact encodes payload into a fact.
func NewFact(factType FactType, key string, payload any) (Fact, error) {
	data, err := codec.Marshal(payload)
	if err != nil {
		return Fact{}, fmt.Errorf("journal: encoding %s payload: %w", factType, err)
	}
	return Fact{Type: factType, Key: key, Payload: data}, nil
}

// MustFact is NewFact for payload types whose encoding cannot fail.
func MustFact(factType FactType, key string, payload any) Fact {
	fact, err := NewFact(factType, key, payload)
	if err != nil {
		panic(err.Error())
	}
	return fact
}

// Decode unpacks the payload into v.
func (f Fact) Decode(v any) error {
	if err := codec.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("journal: decoding %s payload: %w", f.Type, err)
	}
	return nil
}

// Entry is a fact as recorded in a context: who appended it, when, and
// its position.
type Entry struct {
	Context   ids.ContextID   `cbor:"1,keyasint"`
	Authority ids.AuthorityID `cbor:"2,keyasint"`
	// Timestamp is Unix milliseconds.
	Timestamp int64  `cbor:"3,keyasint"`
	Sequence  uint64 `cbor:"4,keyasint"`
	Fact      Fact   `cbor:"5,keyasint"`
}

// NewEntry builds an unsequenced entry.
func NewEntry(context ids.ContextID, authority ids.AuthorityID, at time.Time, fact Fact) Entry {
	return Entry{Context: context, Authority: authority, Timestamp: at.UnixMilli(), Fact: fact}
}

// Time returns the timestamp as a time.Time.
func (e Entry) Time() time.Time { return time.UnixMilli(e.Timestamp).UTC() }

// ID identifies the entry independent of its sequence number, so the
// same fact appended twice by the same authority at the same time is
// recognized as a duplicate.
func (e Entry) ID() hash.Digest {
	unsequenced := e
	unsequenced.Sequence = 0
	digest, err := codec.Digest(hash.DomainEvent, unsequenced)
	if err != nil {
		panic("journal: entry digest: " + err.Error())
	}
	return digest
}
