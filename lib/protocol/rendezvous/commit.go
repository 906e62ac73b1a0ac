// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/tree"
)

// EventVote is the ledger event type of a channel-commit vote.
const EventVote = "rendezvous.vote"

type vote struct {
	Channel        ids.ChannelID `cbor:"1,keyasint"`
	Epoch          ids.Epoch     `cbor:"2,keyasint"`
	RootCommitment hash.Digest   `cbor:"3,keyasint"`
}

// Commit runs the threshold vote that binds a ConsensusFinalized
// channel to the commitment-tree state each voter holds. Every voter
// must hold the same state; a vote for a different root is Byzantine.
// On success each voter journals a channel_committed fact.
func Commit(ctx context.Context, session *protocol.Context, channel Channel, state tree.State, timeout time.Duration) (journal.ChannelCommitted, error) {
	if channel.Mode != journal.AgreementConsensusFinalized {
		return journal.ChannelCommitted{}, ErrNotFinalizable
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tracker := protocol.NewDeadlineTracker(session.System.Time.Clock(), session.Session, timeout)
	ctx, cancel := tracker.Phase(ctx, "vote", timeout)
	defer cancel()

	local := vote{Channel: channel.ID, Epoch: state.Epoch(), RootCommitment: state.RootCommitment()}
	if _, err := session.Publish(ctx, EventVote, local); err != nil {
		return journal.ChannelCommitted{}, err
	}
	threshold := max(int(session.Threshold), 1)
	events, err := session.AwaitThreshold(ctx, EventVote, threshold)
	if err != nil {
		return journal.ChannelCommitted{}, protocol.Errorf(protocol.KindThresholdNotMet, session.Session,
			"%d of %d votes: %w", len(events), threshold, protocol.Cause(ctx))
	}
	for _, event := range events {
		var remote vote
		if err := event.Decode(&remote); err != nil {
			return journal.ChannelCommitted{}, protocol.Errorf(protocol.KindByzantine, session.Session, "vote from %s: %w", ids.Short(event.Author), err)
		}
		if remote != local {
			session.Logger().Warn("conflicting channel vote", "peer", ids.Short(event.Author), "channel", ids.Short(channel.ID))
			return journal.ChannelCommitted{}, protocol.Errorf(protocol.KindByzantine, session.Session,
				"peer %s voted root %s at epoch %d, local %s at epoch %d",
				ids.Short(event.Author), remote.RootCommitment.Short(), remote.Epoch, local.RootCommitment.Short(), local.Epoch)
		}
	}

	committed := journal.ChannelCommitted{
		Channel:        channel.ID,
		Epoch:          local.Epoch,
		RootCommitment: local.RootCommitment,
		Voters:         uint16(len(events)),
	}
	fact, err := journal.NewFact(journal.FactChannelCommitted, channel.ID.String(), committed)
	if err != nil {
		return journal.ChannelCommitted{}, err
	}
	if _, err := session.System.Journal.AppendFact(ctx, journal.NewEntry(channel.Context, session.Authority(), session.Now(), fact)); err != nil {
		return journal.ChannelCommitted{}, fmt.Errorf("rendezvous: journaling commitment: %w", err)
	}
	session.Logger().Info("channel committed", "channel", ids.Short(channel.ID), "epoch", uint64(local.Epoch), "voters", len(events))
	return committed, nil
}
