// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat sends messages over an established rendezvous channel.
//
// A send is a guarded operation: it needs CapChatSend, spends flow
// budget toward the peer, records metadata leakage toward neighbors,
// and journals a chat_message fact in the channel context in the same
// step that hands the envelope to the transport. A denied send leaves
// no fact and sends nothing.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/guard"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/protocol/rendezvous"
)

// ContentType marks chat envelopes.
const ContentType = "application/aura-chat"

// Operation is the guarded operation name of a send.
const Operation = "chat.send"

// MaxBodySize bounds a message body in bytes.
const MaxBodySize = 64 << 10

var (
	// ErrNotMember is returned when the local authority is not a party
	// to the channel.
	ErrNotMember = errors.New("chat: authority is not a channel party")
	// ErrTooLarge is returned for a body over MaxBodySize.
	ErrTooLarge = errors.New("chat: message too large")
	// ErrInvalidMessage is returned for a received envelope that does
	// not carry a valid message for the channel.
	ErrInvalidMessage = errors.New("chat: invalid message")
)

// Message is the envelope payload.
type Message struct {
	Channel ids.ChannelID   `cbor:"1,keyasint"`
	Sender  ids.AuthorityID `cbor:"2,keyasint"`
	SentAt  time.Time       `cbor:"3,keyasint"`
	Body    string          `cbor:"4,keyasint"`
}

// Config sets the per-message charges.
type Config struct {
	// Cost is the flow budget spent per message.
	Cost uint64
	// LeakageBits is the metadata leakage a message reveals to
	// neighbors. Zero records none.
	LeakageBits uint64
}

// Room is one authority's side of a channel.
type Room struct {
	executor *protocol.Executor
	channel  rendezvous.Channel
	peer     ids.AuthorityID
	config   Config
	logger   *slog.Logger
}

// Grants gives executor the capability and decision a Room needs.
func Grants(executor *protocol.Executor) {
	executor.Grant(guard.CapChatSend)
	executor.Authorize(Operation, guard.DecisionAllow)
}

// New returns the local side of channel.
func New(executor *protocol.Executor, channel rendezvous.Channel, config Config, logger *slog.Logger) (*Room, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	local := executor.System().Authority
	var peer ids.AuthorityID
	switch local {
	case channel.Initiator:
		peer = channel.Responder
	case channel.Responder:
		peer = channel.Initiator
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotMember, ids.Short(local))
	}
	return &Room{
		executor: executor,
		channel:  channel,
		peer:     peer,
		config:   config,
		logger:   logger.With("channel", ids.Short(channel.ID)),
	}, nil
}

// Peer returns the other party.
func (r *Room) Peer() ids.AuthorityID { return r.peer }

// fact records message under the digest of its encoded payload.
func (r *Room) fact(message Message, payload []byte) (journal.Fact, error) {
	digest := hash.Sum(payload)
	return journal.NewFact(journal.FactChatMessage, digest.String(), journal.ChatMessage{
		Channel: message.Channel,
		Sender:  message.Sender,
		Message: digest,
		Size:    len(message.Body),
	})
}

// Send delivers body to the peer.
func (r *Room) Send(ctx context.Context, body string) (journal.ChatMessage, error) {
	if len(body) > MaxBodySize {
		return journal.ChatMessage{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(body))
	}
	system := r.executor.System()
	message := Message{Channel: r.channel.ID, Sender: system.Authority, SentAt: system.Time.Now(), Body: body}
	payload, err := codec.Marshal(message)
	if err != nil {
		return journal.ChatMessage{}, err
	}
	fact, err := r.fact(message, payload)
	if err != nil {
		return journal.ChatMessage{}, err
	}
	request := guard.Request{
		Context:   r.channel.Context,
		Peer:      r.peer,
		Operation: Operation,
		Cost:      r.config.Cost,
		Required:  guard.NewCapSet(guard.CapChatSend),
	}
	if r.config.LeakageBits > 0 {
		request.Leakage = &guard.Leakage{Observer: effects.ObserverNeighbor, Bits: r.config.LeakageBits}
	}
	result, err := r.executor.Execute(ctx, request,
		guard.AppendJournal{Entry: journal.NewEntry(r.channel.Context, system.Authority, message.SentAt, fact)},
		guard.SendEnvelope{Envelope: effects.TransportEnvelope{
			Destination: r.peer,
			Context:     r.channel.Context,
			Payload:     payload,
			Metadata:    map[string]string{effects.MetadataContentType: ContentType},
		}},
	)
	if err != nil {
		return journal.ChatMessage{}, fmt.Errorf("chat: send: %w", err)
	}
	var recorded journal.ChatMessage
	if err := result.Entries[len(result.Entries)-1].Fact.Decode(&recorded); err != nil {
		return journal.ChatMessage{}, err
	}
	r.logger.Debug("chat message sent", "size", len(body))
	return recorded, nil
}

// Receive waits for the next message on this channel and journals it.
// Envelopes for other channels or of other content types are dropped.
func (r *Room) Receive(ctx context.Context) (Message, error) {
	system := r.executor.System()
	for {
		envelope, err := system.Transport.Receive(ctx)
		if err != nil {
			return Message{}, fmt.Errorf("chat: receive: %w", err)
		}
		if envelope.Metadata[effects.MetadataContentType] != ContentType || envelope.Context != r.channel.Context {
			r.logger.Warn("dropping unexpected envelope",
				"content_type", envelope.Metadata[effects.MetadataContentType],
				"source", ids.Short(envelope.Source),
			)
			continue
		}
		message, err := r.check(envelope)
		if err != nil {
			return Message{}, err
		}
		fact, err := r.fact(message, envelope.Payload)
		if err != nil {
			return Message{}, err
		}
		if _, err := r.executor.Run(ctx, []guard.Command{guard.AppendJournal{
			Entry: journal.NewEntry(r.channel.Context, envelope.Source, message.SentAt, fact),
		}}); err != nil {
			return Message{}, fmt.Errorf("chat: recording message: %w", err)
		}
		return message, nil
	}
}

func (r *Room) check(envelope effects.TransportEnvelope) (Message, error) {
	var message Message
	if err := codec.Unmarshal(envelope.Payload, &message); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	switch {
	case envelope.Source != r.peer || message.Sender != r.peer:
		return Message{}, fmt.Errorf("%w: sender %s is not the channel peer", ErrInvalidMessage, ids.Short(message.Sender))
	case message.Channel != r.channel.ID:
		return Message{}, fmt.Errorf("%w: message for channel %s", ErrInvalidMessage, ids.Short(message.Channel))
	case len(message.Body) > MaxBodySize:
		return Message{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(message.Body))
	case envelope.Receipt == nil || envelope.Receipt.Context != r.channel.Context:
		return Message{}, fmt.Errorf("%w: no flow receipt for the channel", ErrInvalidMessage)
	}
	return message, nil
}

// History returns the chat_message facts journaled for the channel, in
// journal order.
func (r *Room) History(ctx context.Context) ([]journal.ChatMessage, error) {
	snapshot, err := r.executor.System().Journal.Snapshot(ctx, r.channel.Context)
	if errors.Is(err, journal.ErrUnknownContext) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	entries := snapshot.OfType(journal.FactChatMessage)
	history := make([]journal.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var message journal.ChatMessage
		if err := entry.Fact.Decode(&message); err != nil {
			return nil, err
		}
		history = append(history, message)
	}
	return history, nil
}
