// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rendezvous establishes a channel between two authorities.
//
// The initiator journals a rendezvous fact and sends a handshake-init
// envelope; the responder checks it, journals its own fact, and
// answers with handshake-complete. Both sends run through the guard
// chain, so each carries a flow-budget receipt, and each side records
// the receipt of every envelope it sends as a rendezvous_receipt fact.
// A receiver verifies an envelope's receipt under the key its
// KeyDirectory registers for the sender, never a key the envelope
// carries. A channel in ConsensusFinalized mode is then committed to the
// commitment-tree state by a threshold vote.
package rendezvous

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/guard"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/version"
)

// Content types and protocol version of handshake envelopes.
const (
	ContentTypeInit     = "application/aura-rendezvous-handshake-init"
	ContentTypeComplete = "application/aura-rendezvous-handshake-complete"
	ProtocolVersion     = version.ProtocolVersion
)

// Operation is the guarded operation name of a handshake send.
const Operation = "rendezvous.handshake"

// Handshake phases recorded in rendezvous facts.
const (
	PhaseInit     = "init"
	PhaseComplete = "complete"
)

var (
	// ErrBadHandshake is returned for an envelope that is not a valid
	// handshake for the expected channel.
	ErrBadHandshake = errors.New("rendezvous: invalid handshake")
	// ErrNotFinalizable is returned when a provisional channel is put
	// to a consensus vote.
	ErrNotFinalizable = errors.New("rendezvous: channel is provisional")
)

// Channel identifies an established or pending channel.
type Channel struct {
	ID        ids.ChannelID
	Context   ids.ContextID
	Initiator ids.AuthorityID
	Responder ids.AuthorityID
	Epoch     ids.Epoch
	Mode      journal.AgreementMode
}

// ChannelFor derives the channel between initiator and responder at
// epoch.
func ChannelFor(initiator, responder ids.AuthorityID, epoch ids.Epoch, mode journal.AgreementMode) Channel {
	id := ids.ChannelID(hash.Keyed(hash.DomainChannel, initiator[:], responder[:], strconv.AppendUint(nil, uint64(epoch), 10)))
	return Channel{
		ID:        id,
		Context:   ids.ContextID(hash.Keyed(hash.DomainContextID, []byte("channel"), id[:])),
		Initiator: initiator,
		Responder: responder,
		Epoch:     epoch,
		Mode:      mode,
	}
}

type handshake struct {
	Channel   ids.ChannelID         `cbor:"1,keyasint"`
	Initiator ids.AuthorityID       `cbor:"2,keyasint"`
	Responder ids.AuthorityID       `cbor:"3,keyasint"`
	Epoch     ids.Epoch             `cbor:"4,keyasint"`
	Mode      journal.AgreementMode `cbor:"5,keyasint"`
}

// Config configures an Endpoint.
type Config struct {
	// Cost is charged against the peer's flow budget per envelope.
	Cost uint64
	// Testing skips flow-budget charging.
	Testing bool
	// Mode is the agreement mode of channels this endpoint initiates.
	// Zero means AgreementProvisional.
	Mode journal.AgreementMode
	// Keys resolves peers' receipt-signing keys. Every handshake from
	// an authority it does not know is refused.
	Keys KeyDirectory
}

// Endpoint runs both sides of the handshake for one authority.
type Endpoint struct {
	executor *protocol.Executor
	config   Config
	logger   *slog.Logger
}

// New returns an endpoint. The executor needs CapRendezvous and an
// allow decision for Operation.
func New(executor *protocol.Executor, config Config, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Mode == 0 {
		config.Mode = journal.AgreementProvisional
	}
	return &Endpoint{executor: executor, config: config, logger: logger}
}

func (e *Endpoint) cost() uint64 {
	if e.config.Testing {
		return 0
	}
	return e.config.Cost
}

func metadata(contentType string, channel Channel) map[string]string {
	return map[string]string{
		effects.MetadataContentType:      contentType,
		effects.MetadataProtocolVersion:  ProtocolVersion,
		effects.MetadataRendezvousEpoch:  strconv.FormatUint(uint64(channel.Epoch), 10),
		effects.MetadataRendezvousChanID: channel.ID.String(),
	}
}

func rendezvousFact(channel Channel, phase string) (journal.Fact, error) {
	return journal.NewFact(journal.FactRendezvous, channel.ID.String()+":"+phase, journal.Rendezvous{
		Channel:   channel.ID,
		Initiator: channel.Initiator,
		Responder: channel.Responder,
		Epoch:     channel.Epoch,
		Phase:     phase,
		Mode:      channel.Mode,
	})
}

// send journals the phase fact and sends one handshake envelope through
// the guard chain, then records the envelope's receipt.
func (e *Endpoint) send(ctx context.Context, channel Channel, peer ids.AuthorityID, phase, contentType string) error {
	system := e.executor.System()
	fact, err := rendezvousFact(channel, phase)
	if err != nil {
		return err
	}
	payload, err := codec.Marshal(handshake{
		Channel:   channel.ID,
		Initiator: channel.Initiator,
		Responder: channel.Responder,
		Epoch:     channel.Epoch,
		Mode:      channel.Mode,
	})
	if err != nil {
		return err
	}
	result, err := e.executor.Execute(ctx, guard.Request{
		Context:   channel.Context,
		Peer:      peer,
		Operation: Operation,
		Cost:      e.cost(),
		Required:  guard.NewCapSet(guard.CapRendezvous),
		Leakage:   &guard.Leakage{Observer: effects.ObserverNeighbor, Bits: 1},
	},
		guard.AppendJournal{Entry: journal.NewEntry(channel.Context, system.Authority, system.Time.Now(), fact)},
		guard.SendEnvelope{Envelope: effects.TransportEnvelope{
			Destination: peer,
			Context:     channel.Context,
			Payload:     payload,
			Metadata:    metadata(contentType, channel),
		}},
	)
	if err != nil {
		return fmt.Errorf("rendezvous: sending %s: %w", phase, err)
	}
	for _, receipt := range result.Receipts {
		receiptFact, err := journal.NewFact(journal.FactRendezvousReceipt, channel.ID.String()+":"+phase, journal.RendezvousReceipt{
			Channel: channel.ID,
			Phase:   phase,
			Receipt: receipt.Digest(),
		})
		if err != nil {
			return err
		}
		if _, err := e.executor.Run(ctx, []guard.Command{guard.AppendJournal{
			Entry: journal.NewEntry(channel.Context, system.Authority, system.Time.Now(), receiptFact),
		}}); err != nil {
			return fmt.Errorf("rendezvous: recording receipt: %w", err)
		}
	}
	e.logger.Info("handshake sent",
		"phase", phase,
		"channel", ids.Short(channel.ID),
		"peer", ids.Short(peer),
		"receipts", len(result.Receipts),
	)
	return nil
}

// receive waits for the next handshake envelope of contentType and
// checks its metadata and receipt.
func (e *Endpoint) receive(ctx context.Context, contentType string) (effects.TransportEnvelope, handshake, error) {
	system := e.executor.System()
	for {
		envelope, err := system.Transport.Receive(ctx)
		if err != nil {
			return effects.TransportEnvelope{}, handshake{}, fmt.Errorf("rendezvous: awaiting %s: %w", contentType, err)
		}
		if envelope.Metadata[effects.MetadataContentType] != contentType {
			e.logger.Warn("dropping unexpected envelope",
				"content_type", envelope.Metadata[effects.MetadataContentType],
				"source", ids.Short(envelope.Source),
			)
			continue
		}
		var message handshake
		if err := codec.Unmarshal(envelope.Payload, &message); err != nil {
			return envelope, handshake{}, fmt.Errorf("%w: %w", ErrBadHandshake, err)
		}
		if err := e.check(ctx, envelope, message); err != nil {
			return envelope, handshake{}, err
		}
		return envelope, message, nil
	}
}

func (e *Endpoint) check(ctx context.Context, envelope effects.TransportEnvelope, message handshake) error {
	channel := ChannelFor(message.Initiator, message.Responder, message.Epoch, message.Mode)
	switch {
	case envelope.Metadata[effects.MetadataProtocolVersion] != ProtocolVersion:
		return fmt.Errorf("%w: protocol version %q", ErrBadHandshake, envelope.Metadata[effects.MetadataProtocolVersion])
	case channel.ID != message.Channel || envelope.Metadata[effects.MetadataRendezvousChanID] != channel.ID.String():
		return fmt.Errorf("%w: channel id does not match its parties", ErrBadHandshake)
	case envelope.Metadata[effects.MetadataRendezvousEpoch] != strconv.FormatUint(uint64(message.Epoch), 10):
		return fmt.Errorf("%w: epoch metadata %q", ErrBadHandshake, envelope.Metadata[effects.MetadataRendezvousEpoch])
	case envelope.Context != channel.Context:
		return fmt.Errorf("%w: envelope context", ErrBadHandshake)
	}
	if envelope.Receipt == nil {
		return fmt.Errorf("%w: no flow receipt attached", ErrBadHandshake)
	}
	if envelope.Receipt.Source != envelope.Source || envelope.Receipt.Context != channel.Context {
		return fmt.Errorf("%w: receipt does not cover this envelope", ErrBadHandshake)
	}
	var key ed25519.PublicKey
	var known bool
	if e.config.Keys != nil {
		key, known = e.config.Keys.SigningKey(envelope.Source)
	}
	if !known {
		return fmt.Errorf("%w: no registered key for %s", ErrBadHandshake, ids.Short(envelope.Source))
	}
	if err := e.executor.System().Flow.VerifyReceipt(ctx, *envelope.Receipt, key); err != nil {
		return fmt.Errorf("%w: %w", ErrBadHandshake, err)
	}
	return nil
}

// Initiate opens a channel to responder and waits for its completion.
func (e *Endpoint) Initiate(ctx context.Context, responder ids.AuthorityID) (Channel, error) {
	system := e.executor.System()
	channel := ChannelFor(system.Authority, responder, system.Flow.Epoch(), e.config.Mode)
	if err := e.send(ctx, channel, responder, PhaseInit, ContentTypeInit); err != nil {
		return Channel{}, err
	}
	envelope, message, err := e.receive(ctx, ContentTypeComplete)
	if err != nil {
		return Channel{}, err
	}
	if message.Channel != channel.ID || envelope.Source != responder {
		return Channel{}, fmt.Errorf("%w: completion for another channel", ErrBadHandshake)
	}
	if err := e.journalPhase(ctx, channel, PhaseComplete); err != nil {
		return Channel{}, err
	}
	e.logger.Info("channel established", "channel", ids.Short(channel.ID), "responder", ids.Short(responder))
	return channel, nil
}

// Accept waits for one handshake-init addressed to this authority and
// completes it.
func (e *Endpoint) Accept(ctx context.Context) (Channel, error) {
	system := e.executor.System()
	envelope, message, err := e.receive(ctx, ContentTypeInit)
	if err != nil {
		return Channel{}, err
	}
	if message.Responder != system.Authority || message.Initiator != envelope.Source {
		return Channel{}, fmt.Errorf("%w: init not addressed to this authority", ErrBadHandshake)
	}
	channel := ChannelFor(message.Initiator, message.Responder, message.Epoch, message.Mode)
	if err := e.journalPhase(ctx, channel, PhaseInit); err != nil {
		return Channel{}, err
	}
	if err := e.send(ctx, channel, message.Initiator, PhaseComplete, ContentTypeComplete); err != nil {
		return Channel{}, err
	}
	return channel, nil
}

// journalPhase records the peer's phase in the local journal.
func (e *Endpoint) journalPhase(ctx context.Context, channel Channel, phase string) error {
	system := e.executor.System()
	fact, err := rendezvousFact(channel, phase)
	if err != nil {
		return err
	}
	_, err = e.executor.Run(ctx, []guard.Command{guard.AppendJournal{
		Entry: journal.NewEntry(channel.Context, system.Authority, system.Time.Now(), fact),
	}})
	return err
}
