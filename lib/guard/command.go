// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
)

// Command is an effect a guard or protocol step asks the executor to
// perform. The set of implementations is closed.
type Command interface {
	// Kind names the command for logs and metrics.
	Kind() string
	isCommand()
}

// ChargeBudget debits a flow budget. Executing it yields a receipt.
type ChargeBudget struct {
	Context   ids.ContextID
	Authority ids.AuthorityID
	Peer      ids.AuthorityID
	Amount    uint64
}

// AppendJournal appends an entry to its context's journal.
type AppendJournal struct {
	Entry journal.Entry
}

// RecordLeakage accounts revealed metadata.
type RecordLeakage struct {
	Context   ids.ContextID
	Observer  effects.ObserverClass
	Bits      uint64
	Operation string
	// Timestamp is Unix milliseconds.
	Timestamp int64
}

// SendEnvelope hands an envelope to transport. The executor attaches
// the receipt of a preceding ChargeBudget when the envelope has none.
type SendEnvelope struct {
	Envelope effects.TransportEnvelope
}

// StartSession opens a protocol session created by the executing
// authority.
type StartSession struct {
	Protocol     string
	Participants []ids.AuthorityID
	TTLEpochs    uint64
}

// SessionEnd is how an EndSession closes its session.
type SessionEnd uint8

const (
	SessionCompleted SessionEnd = iota + 1
	SessionFailed
	SessionCancelled
)

// EndSession closes a protocol session.
type EndSession struct {
	Session ids.SessionID
	End     SessionEnd
	Reason  string
}

// SendSessionMessage sends a payload to one session participant.
type SendSessionMessage struct {
	Session ids.SessionID
	To      ids.AuthorityID
	Payload []byte
}

func (ChargeBudget) Kind() string       { return "charge_budget" }
func (AppendJournal) Kind() string      { return "append_journal" }
func (RecordLeakage) Kind() string      { return "record_leakage" }
func (SendEnvelope) Kind() string       { return "send_envelope" }
func (StartSession) Kind() string       { return "start_session" }
func (EndSession) Kind() string         { return "end_session" }
func (SendSessionMessage) Kind() string { return "send_session_message" }

func (ChargeBudget) isCommand()       {}
func (AppendJournal) isCommand()      {}
func (RecordLeakage) isCommand()      {}
func (SendEnvelope) isCommand()       {}
func (StartSession) isCommand()       {}
func (EndSession) isCommand()         {}
func (SendSessionMessage) isCommand() {}
