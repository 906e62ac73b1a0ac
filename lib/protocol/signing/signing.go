// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package signing runs two-round FROST threshold signing over a
// protocol ledger.
//
// Round one: every participant publishes a signing commitment. The
// first threshold commitments in ledger order form the signing set, so
// every participant picks the same set. Round two: members of the set
// publish signature shares over the signing package, and every
// participant aggregates and verifies the result.
package signing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/tree"
)

// Ledger event types.
const (
	EventCommit = "frost.commit"
	EventShare  = "frost.share"
)

type commitMessage struct {
	Commitment frost.SigningCommitment `cbor:"1,keyasint"`
}

type shareMessage struct {
	Share frost.SignatureShare `cbor:"1,keyasint"`
}

// Config is one participant's signing material.
type Config struct {
	Share  frost.KeyShare
	Public frost.PublicKeyPackage
	// Timeout bounds both rounds on the effect system's clock. Zero
	// means 30 seconds.
	Timeout time.Duration
}

// Result is an aggregate signature and the identifiers that produced
// it.
type Result struct {
	Signature []byte
	Signers   []frost.Identifier
}

// Run signs message with config.Share. Every participant of the session
// that calls Run receives the same aggregate signature.
func Run(ctx context.Context, session *protocol.Context, config Config, message []byte) (Result, error) {
	share, public := config.Share, config.Public
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tracker := protocol.NewDeadlineTracker(session.System.Time.Clock(), session.Session, timeout)
	ctx, cancel := tracker.Phase(ctx, "sign", timeout)
	defer cancel()

	nonces, err := frost.Commit(share, session.System.Random)
	if err != nil {
		return Result{}, fmt.Errorf("signing: round one: %w", err)
	}
	if _, err := session.Publish(ctx, EventCommit, commitMessage{Commitment: nonces.Commitment}); err != nil {
		return Result{}, err
	}

	threshold := int(public.Threshold)
	events, err := session.AwaitThreshold(ctx, EventCommit, threshold)
	if err != nil {
		return Result{}, protocol.Errorf(protocol.KindThresholdNotMet, session.Session,
			"%d of %d commitments: %w", len(events), threshold, err)
	}
	signers := make(map[ids.AuthorityID]frost.Identifier, threshold)
	commitments := make([]frost.SigningCommitment, 0, threshold)
	for _, event := range events {
		var message commitMessage
		if err := event.Decode(&message); err != nil {
			return Result{}, protocol.Errorf(protocol.KindSignatureInvalid, session.Session, "commitment from %s: %w", ids.Short(event.Author), err)
		}
		if _, known := public.Share(message.Commitment.Identifier); !known {
			return Result{}, protocol.Errorf(protocol.KindSignatureInvalid, session.Session,
				"%w: %d from %s", frost.ErrUnknownIdentifier, message.Commitment.Identifier, ids.Short(event.Author))
		}
		signers[event.Author] = message.Commitment.Identifier
		commitments = append(commitments, message.Commitment)
	}
	pkg, err := frost.NewSigningPackage(commitments, message)
	if err != nil {
		return Result{}, protocol.Errorf(protocol.KindSignatureInvalid, session.Session, "%w", err)
	}

	if _, chosen := signers[session.Authority()]; chosen {
		signatureShare, err := frost.Sign(pkg, nonces, share)
		if err != nil {
			return Result{}, fmt.Errorf("signing: round two: %w", err)
		}
		if _, err := session.Publish(ctx, EventShare, shareMessage{Share: signatureShare}); err != nil {
			return Result{}, err
		}
	}

	shares := make([]frost.SignatureShare, 0, threshold)
	received := make(map[ids.AuthorityID]bool, threshold)
	for len(shares) < len(signers) {
		event, err := session.AwaitEvent(ctx, EventShare, func(event protocol.Event) bool {
			_, chosen := signers[event.Author]
			return chosen && !received[event.Author]
		})
		if err != nil {
			return Result{}, protocol.Errorf(protocol.KindThresholdNotMet, session.Session,
				"%d of %d signature shares: %w", len(shares), len(signers), err)
		}
		var message shareMessage
		if err := event.Decode(&message); err != nil {
			return Result{}, protocol.Errorf(protocol.KindSignatureInvalid, session.Session, "share from %s: %w", ids.Short(event.Author), err)
		}
		received[event.Author] = true
		shares = append(shares, message.Share)
	}

	signature, err := frost.Aggregate(pkg, shares, public)
	if err != nil {
		return Result{}, classify(session, err)
	}
	identifiers := make([]frost.Identifier, 0, len(signers))
	for _, identifier := range signers {
		identifiers = append(identifiers, identifier)
	}
	slices.Sort(identifiers)
	session.Logger().Info("threshold signature aggregated", "signers", len(identifiers))
	return Result{Signature: signature, Signers: identifiers}, nil
}

func classify(session *protocol.Context, err error) error {
	kind := protocol.KindSignatureInvalid
	if errors.Is(err, frost.ErrThreshold) {
		kind = protocol.KindThresholdNotMet
	}
	return &protocol.Error{Kind: kind, Session: session.Session, Err: err}
}

// Local runs both rounds in process for shares held by one party, as a
// simulation coordinator or a test does.
func Local(shares []frost.KeyShare, public frost.PublicKeyPackage, message []byte, random io.Reader) ([]byte, error) {
	nonces := make([]frost.SigningNonces, len(shares))
	commitments := make([]frost.SigningCommitment, len(shares))
	for index, share := range shares {
		var err error
		nonces[index], err = frost.Commit(share, random)
		if err != nil {
			return nil, fmt.Errorf("signing: round one: %w", err)
		}
		commitments[index] = nonces[index].Commitment
	}
	pkg, err := frost.NewSigningPackage(commitments, message)
	if err != nil {
		return nil, err
	}
	signatureShares := make([]frost.SignatureShare, len(shares))
	for index, share := range shares {
		signatureShares[index], err = frost.Sign(pkg, nonces[index], share)
		if err != nil {
			return nil, fmt.Errorf("signing: round two: %w", err)
		}
	}
	return frost.Aggregate(pkg, signatureShares, public)
}

// Attest signs op with shares as the group at node and returns the
// attested op.
func Attest(op tree.TreeOp, node tree.NodeIndex, shares []frost.KeyShare, public frost.PublicKeyPackage, random io.Reader) (tree.AttestedOp, error) {
	message, err := op.SigningBytes()
	if err != nil {
		return tree.AttestedOp{}, err
	}
	signature, err := Local(shares, public, message, random)
	if err != nil {
		return tree.AttestedOp{}, fmt.Errorf("signing: attesting %s: %w", op.Kind, err)
	}
	return tree.AttestedOp{Op: op, SignerNode: node, SignerCount: uint16(len(shares)), Signature: signature}, nil
}
