// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package journal

import (
	"time"

	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

// GuardianParameters is a guardian's recovery policy.
type GuardianParameters struct {
	RecoveryDelay        time.Duration `cbor:"1,keyasint"`
	NotificationRequired bool          `cbor:"2,keyasint"`
}

// GuardianBinding records that a guardian protects an account. The
// newest binding per guardian wins.
type GuardianBinding struct {
	Guardian   ids.AuthorityID    `cbor:"1,keyasint"`
	Account    ids.AccountID      `cbor:"2,keyasint"`
	Parameters GuardianParameters `cbor:"3,keyasint"`
	// ExpiresAt is Unix milliseconds; zero never expires.
	ExpiresAt int64 `cbor:"4,keyasint,omitempty"`
	// ShareIdentifier is the guardian's FROST participant index.
	ShareIdentifier uint16 `cbor:"5,keyasint"`
}

// Expired reports whether the binding has lapsed at now.
func (b GuardianBinding) Expired(now time.Time) bool {
	return b.ExpiresAt != 0 && now.UnixMilli() >= b.ExpiresAt
}

// Resident records that an authority lives in a home context.
type Resident struct {
	Authority ids.AuthorityID `cbor:"1,keyasint"`
	Name      string          `cbor:"2,keyasint,omitempty"`
}

// Steward records that an authority administers a home context.
type Steward struct {
	Authority ids.AuthorityID `cbor:"1,keyasint"`
}

// RecoveryRequest opens a guardian recovery.
type RecoveryRequest struct {
	Account      ids.AccountID `cbor:"1,keyasint"`
	Requester    ids.DeviceID  `cbor:"2,keyasint"`
	NewDeviceKey []byte        `cbor:"3,keyasint"`
	RequestedAt  int64         `cbor:"4,keyasint"`
}

// GuardianNotification records that a guardian was told about a
// pending recovery.
type GuardianNotification struct {
	Guardian   ids.AuthorityID `cbor:"1,keyasint"`
	Account    ids.AccountID   `cbor:"2,keyasint"`
	NotifiedAt int64           `cbor:"3,keyasint"`
}

// GuardianApproval is a guardian's consent to one recovery request,
// carrying its round-one signing commitment.
type GuardianApproval struct {
	Guardian   ids.AuthorityID `cbor:"1,keyasint"`
	Account    ids.AccountID   `cbor:"2,keyasint"`
	Request    hash.Digest     `cbor:"3,keyasint"`
	Commitment []byte          `cbor:"4,keyasint"`
	ApprovedAt int64           `cbor:"5,keyasint"`
}

// RecoveryCompleted closes a recovery.
type RecoveryCompleted struct {
	Account     ids.AccountID `cbor:"1,keyasint"`
	EvidenceID  string        `cbor:"2,keyasint"`
	Guardians   []uint16      `cbor:"3,keyasint"`
	CompletedAt int64         `cbor:"4,keyasint"`
	// Request is the entry id of the completed recovery request.
	Request     hash.Digest   `cbor:"5,keyasint"`
}

// Maintenance records an administrative event (snapshot, upgrade).
type Maintenance struct {
	Kind   string `cbor:"1,keyasint"`
	Detail string `cbor:"2,keyasint,omitempty"`
}

// AgreementMode says how a rendezvous outcome becomes binding.
type AgreementMode uint8

const (
	AgreementProvisional AgreementMode = iota + 1
	AgreementConsensusFinalized
)

// Rendezvous records a handshake step between two authorities.
type Rendezvous struct {
	Channel   ids.ChannelID   `cbor:"1,keyasint"`
	Initiator ids.AuthorityID `cbor:"2,keyasint"`
	Responder ids.AuthorityID `cbor:"3,keyasint"`
	Epoch     ids.Epoch       `cbor:"4,keyasint"`
	Phase     string          `cbor:"5,keyasint"`
	Mode      AgreementMode   `cbor:"6,keyasint"`
}

// RendezvousReceipt records the receipt attached to one handshake
// envelope.
type RendezvousReceipt struct {
	Channel ids.ChannelID `cbor:"1,keyasint"`
	Phase   string        `cbor:"2,keyasint"`
	Receipt hash.Digest   `cbor:"3,keyasint"`
}

// ChannelCommitted binds a channel to a commitment-tree state.
type ChannelCommitted struct {
	Channel        ids.ChannelID `cbor:"1,keyasint"`
	Epoch          ids.Epoch     `cbor:"2,keyasint"`
	RootCommitment hash.Digest   `cbor:"3,keyasint"`
	Voters         uint16        `cbor:"4,keyasint"`
}

// ChatMessage records a message sent on a channel.
type ChatMessage struct {
	Channel ids.ChannelID   `cbor:"1,keyasint"`
	Sender  ids.AuthorityID `cbor:"2,keyasint"`
	Message hash.Digest     `cbor:"3,keyasint"`
	Size    int             `cbor:"4,keyasint"`
}

// SessionStarted records a protocol session.
type SessionStarted struct {
	Session      ids.SessionID     `cbor:"1,keyasint"`
	Protocol     string            `cbor:"2,keyasint"`
	Creator      ids.AuthorityID   `cbor:"3,keyasint"`
	Participants []ids.AuthorityID `cbor:"4,keyasint"`
	StartEpoch   ids.Epoch         `cbor:"5,keyasint"`
	TTLEpochs    uint64            `cbor:"6,keyasint"`
}

// SessionEnded records the terminal status of a session.
type SessionEnded struct {
	Session ids.SessionID `cbor:"1,keyasint"`
	Status  string        `cbor:"2,keyasint"`
	Reason  string        `cbor:"3,keyasint,omitempty"`
}

// Operation is written by the journal-coupling guard for every
// authorized operation.
type Operation struct {
	Authority   ids.AuthorityID `cbor:"1,keyasint"`
	Peer        ids.AuthorityID `cbor:"2,keyasint"`
	Operation   string          `cbor:"3,keyasint"`
	OperationID hash.Digest     `cbor:"4,keyasint"`
	Cost        uint64          `cbor:"5,keyasint"`
}

// Denial records a refused operation for audit.
type Denial struct {
	Authority ids.AuthorityID `cbor:"1,keyasint"`
	Operation string          `cbor:"2,keyasint"`
	Reason    string          `cbor:"3,keyasint"`
}

// LockGranted records the winner of a locking lottery.
type LockGranted struct {
	Operation string       `cbor:"1,keyasint"`
	Winner    ids.DeviceID `cbor:"2,keyasint"`
	Ticket    hash.Digest  `cbor:"3,keyasint"`
	Epoch     ids.Epoch    `cbor:"4,keyasint"`
	Signature []byte       `cbor:"5,keyasint"`
}

// LockReleased closes a critical section.
type LockReleased struct {
	Operation string       `cbor:"1,keyasint"`
	Holder    ids.DeviceID `cbor:"2,keyasint"`
}
