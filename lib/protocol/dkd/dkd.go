// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dkd implements commit/reveal distributed key derivation.
//
// Every participant draws a random scalar s and publishes the BLAKE3
// hash of its point s·G. Once the commitments are in, each reveals its
// point. The first reveal in ledger order closes the commit phase for
// everyone: the contributors are the participants whose commitments
// precede it, so every participant sums the same set no matter when it
// stopped waiting. A reveal whose hash differs from its author's
// commitment is Byzantine and aborts the run. The sum of the points is
// the derived public key, and a subkey bound to (application, context)
// is derived from it.
package dkd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/cloudflare/circl/group"

	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/protocol"
)

// Ledger event types.
const (
	EventCommit = "dkd.commit"
	EventReveal = "dkd.reveal"
)

// ErrRevealMismatch is wrapped by the Byzantine error of a reveal that
// does not match its commitment.
var ErrRevealMismatch = errors.New("dkd: reveal does not match commitment")

// Config configures one derivation.
type Config struct {
	App     string
	Context string
	// Threshold is the minimum number of contributors.
	Threshold uint16
	// CommitTimeout and RevealTimeout bound each phase on the effect
	// system's clock. Zero means 30 seconds.
	CommitTimeout time.Duration
	RevealTimeout time.Duration
}

func (c Config) phase(budget time.Duration) time.Duration {
	if budget <= 0 {
		return 30 * time.Second
	}
	return budget
}

// ContextID binds a derivation to an application and a context string.
func ContextID(app, context string) ids.ContextID {
	return ids.ContextID(hash.Sum([]byte("aura-dkd-context-v1:" + app + ":" + context)))
}

// Contribution is one participant's secret scalar and its point.
type Contribution struct {
	Scalar group.Scalar
	Point  []byte
}

// NewContribution draws a contribution from random.
func NewContribution(random io.Reader) (Contribution, error) {
	scalar, err := frost.RandomScalar(random)
	if err != nil {
		return Contribution{}, fmt.Errorf("dkd: drawing contribution: %w", err)
	}
	return Contribution{Scalar: scalar, Point: frost.EncodeElement(frost.Curve.NewElement().MulGen(scalar))}, nil
}

// Commitment is the published hash of a point.
func Commitment(point []byte) hash.Digest { return hash.Sum(point) }

// VerifyReveal checks a revealed point against its commitment.
func VerifyReveal(commitment hash.Digest, point []byte) error {
	if Commitment(point) != commitment {
		return ErrRevealMismatch
	}
	if _, err := frost.DecodeElement(point); err != nil {
		return fmt.Errorf("dkd: revealed point: %w", err)
	}
	return nil
}

// Aggregate sums points.
func Aggregate(points [][]byte) ([]byte, error) {
	if len(points) == 0 {
		return nil, errors.New("dkd: no points to aggregate")
	}
	sum := frost.Curve.Identity()
	for _, point := range points {
		element, err := frost.DecodeElement(point)
		if err != nil {
			return nil, fmt.Errorf("dkd: aggregating: %w", err)
		}
		sum.Add(sum, element)
	}
	return frost.EncodeElement(sum), nil
}

// DeriveKey derives the 32-byte subkey of an aggregate point in a
// context.
func DeriveKey(aggregate []byte, context ids.ContextID) [32]byte {
	return hash.Derive32("aura dkd derived key v1", slices.Concat(context[:], aggregate))
}

// Result is the outcome of a derivation.
type Result struct {
	Context ids.ContextID
	// Point is the aggregate public point.
	Point []byte
	Key   [32]byte
	// Contributors lists the authorities whose reveals were summed, in
	// byte order.
	Contributors []ids.AuthorityID
}

type commitMessage struct {
	Commitment hash.Digest `cbor:"1,keyasint"`
}

type revealMessage struct {
	Point []byte `cbor:"1,keyasint"`
}

// Run derives a key with the participants of session. It returns a
// KindThresholdNotMet error when fewer than config.Threshold
// commitments precede the first reveal or a contributor fails to reveal
// before the deadline, and a KindByzantine error on a mismatched reveal.
func Run(ctx context.Context, session *protocol.Context, config Config) (Result, error) {
	contribution, err := NewContribution(session.System.Random)
	if err != nil {
		return Result{}, err
	}
	return RunWith(ctx, session, config, contribution)
}

// RunWith is Run with a caller-chosen contribution.
func RunWith(ctx context.Context, session *protocol.Context, config Config, contribution Contribution) (Result, error) {
	logger := session.Logger()
	threshold := int(config.Threshold)
	if threshold <= 0 || threshold > len(session.Participants) {
		return Result{}, fmt.Errorf("dkd: threshold %d invalid for %d participants", threshold, len(session.Participants))
	}
	tracker := protocol.NewDeadlineTracker(session.System.Time.Clock(), session.Session,
		config.phase(config.CommitTimeout)+config.phase(config.RevealTimeout))

	if _, err := session.Publish(ctx, EventCommit, commitMessage{Commitment: Commitment(contribution.Point)}); err != nil {
		return Result{}, err
	}
	commitCtx, cancelCommit := tracker.Phase(ctx, "commit", config.phase(config.CommitTimeout))
	commits, err := session.AwaitThreshold(commitCtx, EventCommit, len(session.Participants))
	cancelCommit()
	if err != nil && ctx.Err() != nil {
		return Result{}, err
	}
	if len(commits) < threshold {
		return Result{}, protocol.Errorf(protocol.KindThresholdNotMet, session.Session,
			"%d of %d commitments before the commit deadline", len(commits), threshold)
	}

	reveal, err := session.Publish(ctx, EventReveal, revealMessage{Point: contribution.Point})
	if err != nil {
		return Result{}, err
	}
	committed, err := commitSet(session, reveal.Sequence)
	if err != nil {
		return Result{}, err
	}
	if len(committed) < threshold {
		return Result{}, protocol.Errorf(protocol.KindThresholdNotMet, session.Session,
			"%d of %d commitments before the first reveal", len(committed), threshold)
	}
	if _, ok := committed[session.Authority()]; !ok {
		logger.Info("commitment arrived after the first reveal, deriving without it")
	}
	revealCtx, cancelReveal := tracker.Phase(ctx, "reveal", config.phase(config.RevealTimeout))
	defer cancelReveal()
	revealed := make(map[ids.AuthorityID][]byte, len(committed))
	for len(revealed) < len(committed) {
		event, err := session.AwaitEvent(revealCtx, EventReveal, func(event protocol.Event) bool {
			_, wanted := committed[event.Author]
			_, done := revealed[event.Author]
			return wanted && !done
		})
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, err
			}
			return Result{}, protocol.Errorf(protocol.KindThresholdNotMet, session.Session,
				"%d of %d contributors revealed before the reveal deadline", len(revealed), len(committed))
		}
		var message revealMessage
		if err := event.Decode(&message); err != nil {
			return Result{}, protocol.Errorf(protocol.KindByzantine, session.Session, "reveal from %s: %w", ids.Short(event.Author), err)
		}
		if err := VerifyReveal(committed[event.Author], message.Point); err != nil {
			logger.Warn("byzantine reveal detected", "peer", ids.Short(event.Author), "error", err)
			return Result{}, protocol.Errorf(protocol.KindByzantine, session.Session, "peer %s: %w", ids.Short(event.Author), err)
		}
		revealed[event.Author] = message.Point
	}

	contributors := make([]ids.AuthorityID, 0, len(revealed))
	for author := range revealed {
		contributors = append(contributors, author)
	}
	slices.SortFunc(contributors, ids.Compare[ids.AuthorityID])
	points := make([][]byte, len(contributors))
	for index, author := range contributors {
		points[index] = revealed[author]
	}
	aggregate, err := Aggregate(points)
	if err != nil {
		return Result{}, err
	}
	contextID := ContextID(config.App, config.Context)
	logger.Info("key derivation complete", "contributors", len(contributors), "context", ids.Short(contextID))
	return Result{
		Context:      contextID,
		Point:        aggregate,
		Key:          DeriveKey(aggregate, contextID),
		Contributors: contributors,
	}, nil
}

// commitSet reads the ledger through sequence and returns the first
// commitment of every participant that precedes the session's first
// reveal.
func commitSet(session *protocol.Context, through uint64) (map[ids.AuthorityID]hash.Digest, error) {
	events := session.Ledger().Events(0)
	if uint64(len(events)) > through+1 {
		events = events[:through+1]
	}
	committed := make(map[ids.AuthorityID]hash.Digest)
	for _, event := range events {
		if event.Session != session.Session {
			continue
		}
		if !session.IsParticipant(event.Author) {
			continue
		}
		if event.Type == EventReveal {
			break
		}
		if event.Type != EventCommit {
			continue
		}
		if _, ok := committed[event.Author]; ok {
			continue
		}
		var message commitMessage
		if err := event.Decode(&message); err != nil {
			return nil, protocol.Errorf(protocol.KindByzantine, session.Session, "commitment from %s: %w", ids.Short(event.Author), err)
		}
		committed[event.Author] = message.Commitment
	}
	return committed, nil
}
