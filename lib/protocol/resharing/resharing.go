// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package resharing moves a FROST group key to a new member set and
// threshold without reconstructing it.
//
// Each dealing old member scales its share by its Lagrange coefficient
// over the dealer set and splits the result with a fresh polynomial of
// the new threshold. Sub-shares are sealed to each new member's HPKE
// key and published with Feldman commitments. A new member sums its
// verified sub-shares into its new share. The constant terms of the
// dealings sum to the unchanged group key, which every participant
// checks. Finalize attests a RotateEpoch op with the new shares and
// rotates the flow-budget epoch, invalidating earlier receipts.
package resharing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/protocol"
	"github.com/bureau-foundation/aura/lib/protocol/signing"
	"github.com/bureau-foundation/aura/lib/tree"
)

// EventDeal is the ledger event type of one dealing.
const EventDeal = "reshare.deal"

const sealInfo = "aura-reshare-v1"

// ErrInvalidDeal is wrapped by the Byzantine error of a dealing whose
// commitments or sub-shares do not check out.
var ErrInvalidDeal = errors.New("resharing: invalid dealing")

// Member is one holder of a new share.
type Member struct {
	Authority  ids.AuthorityID
	Identifier frost.Identifier
	// HPKEKey is the member's X25519 public key.
	HPKEKey []byte
}

// Config describes one resharing run from a participant's point of
// view.
type Config struct {
	// Old is this participant's current share, nil when it is only a
	// new member.
	Old       *frost.KeyShare
	OldPublic frost.PublicKeyPackage
	// Dealers are the old identifiers that deal. There must be at least
	// the old threshold of them.
	Dealers      []frost.Identifier
	NewMembers   []Member
	NewThreshold uint16
	// Timeout bounds the run on the effect system's clock. Zero means
	// two minutes.
	Timeout time.Duration
}

func (c Config) validate() error {
	if len(c.Dealers) < int(c.OldPublic.Threshold) {
		return fmt.Errorf("resharing: %d dealers below old threshold %d", len(c.Dealers), c.OldPublic.Threshold)
	}
	for _, dealer := range c.Dealers {
		if _, ok := c.OldPublic.Share(dealer); !ok {
			return fmt.Errorf("resharing: dealer %d: %w", dealer, frost.ErrUnknownIdentifier)
		}
	}
	if c.NewThreshold == 0 || int(c.NewThreshold) > len(c.NewMembers) {
		return fmt.Errorf("resharing: threshold %d invalid for %d new members", c.NewThreshold, len(c.NewMembers))
	}
	seen := make(map[frost.Identifier]bool, len(c.NewMembers))
	for _, member := range c.NewMembers {
		if member.Identifier == 0 || seen[member.Identifier] {
			return fmt.Errorf("resharing: new member identifier %d is zero or repeated", member.Identifier)
		}
		seen[member.Identifier] = true
	}
	return nil
}

type sealedShare struct {
	Recipient frost.Identifier `cbor:"1,keyasint"`
	Sealed    []byte           `cbor:"2,keyasint"`
}

type dealMessage struct {
	Dealer      frost.Identifier `cbor:"1,keyasint"`
	Commitments [][]byte         `cbor:"2,keyasint"`
	Shares      []sealedShare    `cbor:"3,keyasint"`
}

// Result is the outcome of a run. Share is nil for participants that
// are not new members.
type Result struct {
	Share  *frost.KeyShare
	Public frost.PublicKeyPackage
}

func aad(session ids.SessionID, dealer, recipient frost.Identifier) []byte {
	return fmt.Appendf(session[:], ":%d:%d", dealer, recipient)
}

// buildDeal splits this participant's scaled share for the new members.
func buildDeal(session *protocol.Context, config Config) (dealMessage, error) {
	old := *config.Old
	lambda, err := frost.LagrangeCoefficient(old.Identifier, config.Dealers)
	if err != nil {
		return dealMessage{}, fmt.Errorf("resharing: %w", err)
	}
	secret, err := frost.DecodeScalar(old.Secret)
	if err != nil {
		return dealMessage{}, fmt.Errorf("resharing: %w", err)
	}
	polynomial, err := frost.NewPolynomial(frost.Curve.NewScalar().Mul(lambda, secret), config.NewThreshold, session.System.Random)
	if err != nil {
		return dealMessage{}, fmt.Errorf("resharing: %w", err)
	}
	deal := dealMessage{Dealer: old.Identifier, Commitments: polynomial.Commitments()}
	for _, member := range config.NewMembers {
		plaintext := frost.EncodeScalar(polynomial.Evaluate(member.Identifier))
		sealed, err := session.System.Crypto.HPKESeal(member.HPKEKey, []byte(sealInfo), aad(session.Session, old.Identifier, member.Identifier), plaintext)
		if err != nil {
			return dealMessage{}, fmt.Errorf("resharing: sealing to %d: %w", member.Identifier, err)
		}
		deal.Shares = append(deal.Shares, sealedShare{Recipient: member.Identifier, Sealed: sealed})
	}
	return deal, nil
}

// checkDeal verifies the dealing's constant term against the dealer's
// scaled verifying share.
func checkDeal(deal dealMessage, config Config) error {
	if len(deal.Commitments) != int(config.NewThreshold) {
		return fmt.Errorf("%w: %d commitments for threshold %d", ErrInvalidDeal, len(deal.Commitments), config.NewThreshold)
	}
	encoded, _ := config.OldPublic.Share(deal.Dealer)
	verifying, err := frost.DecodeElement(encoded)
	if err != nil {
		return err
	}
	lambda, err := frost.LagrangeCoefficient(deal.Dealer, config.Dealers)
	if err != nil {
		return err
	}
	expected := frost.EncodeElement(frost.Curve.NewElement().Mul(verifying, lambda))
	if !bytes.Equal(expected, deal.Commitments[0]) {
		return fmt.Errorf("%w: constant term from %d does not match its verifying share", ErrInvalidDeal, deal.Dealer)
	}
	return nil
}

// Run executes one resharing. Dealers publish; every participant
// collects one dealing per dealer, checks it, and derives the new
// public key package. New members also derive their share.
func Run(ctx context.Context, session *protocol.Context, config Config) (Result, error) {
	if err := config.validate(); err != nil {
		return Result{}, err
	}
	logger := session.Logger()
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	tracker := protocol.NewDeadlineTracker(session.System.Time.Clock(), session.Session, timeout)
	ctx, cancel := tracker.Phase(ctx, "deal", timeout)
	defer cancel()

	if config.Old != nil && slices.Contains(config.Dealers, config.Old.Identifier) {
		deal, err := buildDeal(session, config)
		if err != nil {
			return Result{}, err
		}
		if _, err := session.Publish(ctx, EventDeal, deal); err != nil {
			return Result{}, err
		}
	}

	var self *Member
	for index, member := range config.NewMembers {
		if member.Authority == session.Authority() {
			self = &config.NewMembers[index]
		}
	}

	deals := make(map[frost.Identifier]dealMessage, len(config.Dealers))
	for len(deals) < len(config.Dealers) {
		event, err := session.AwaitEvent(ctx, EventDeal, nil)
		if err != nil {
			return Result{}, protocol.Errorf(protocol.KindThresholdNotMet, session.Session,
				"%d of %d dealings: %w", len(deals), len(config.Dealers), protocol.Cause(ctx))
		}
		var deal dealMessage
		if err := event.Decode(&deal); err != nil {
			return Result{}, protocol.Errorf(protocol.KindByzantine, session.Session, "dealing from %s: %w", ids.Short(event.Author), err)
		}
		if _, done := deals[deal.Dealer]; done || !slices.Contains(config.Dealers, deal.Dealer) {
			logger.Warn("ignoring unexpected dealing", "dealer", deal.Dealer, "author", ids.Short(event.Author))
			continue
		}
		if err := checkDeal(deal, config); err != nil {
			logger.Warn("byzantine dealing detected", "dealer", deal.Dealer, "error", err)
			return Result{}, protocol.Errorf(protocol.KindByzantine, session.Session, "dealer %d: %w", deal.Dealer, err)
		}
		deals[deal.Dealer] = deal
	}

	public, err := newPublic(deals, config)
	if err != nil {
		return Result{}, protocol.Errorf(protocol.KindByzantine, session.Session, "%w", err)
	}
	result := Result{Public: public}
	if self != nil {
		share, err := combine(session, deals, *self, public)
		if err != nil {
			return Result{}, protocol.Errorf(protocol.KindByzantine, session.Session, "%w", err)
		}
		result.Share = &share
	}
	logger.Info("resharing complete",
		"dealers", len(deals),
		"new_members", len(config.NewMembers),
		"new_threshold", config.NewThreshold,
		"holds_share", result.Share != nil,
	)
	return result, nil
}

// newPublic sums the dealings' commitments into the new verifying
// shares and checks that the group key is unchanged.
func newPublic(deals map[frost.Identifier]dealMessage, config Config) (frost.PublicKeyPackage, error) {
	groupKey := frost.Curve.Identity()
	for _, deal := range deals {
		constant, err := frost.DecodeElement(deal.Commitments[0])
		if err != nil {
			return frost.PublicKeyPackage{}, err
		}
		groupKey.Add(groupKey, constant)
	}
	encodedGroupKey := frost.EncodeElement(groupKey)
	if !bytes.Equal(encodedGroupKey, config.OldPublic.GroupKey) {
		return frost.PublicKeyPackage{}, fmt.Errorf("%w: dealings do not preserve the group key", ErrInvalidDeal)
	}
	public := frost.PublicKeyPackage{GroupKey: encodedGroupKey, Threshold: config.NewThreshold}
	for _, member := range config.NewMembers {
		verifying := frost.Curve.Identity()
		for _, deal := range deals {
			evaluated, err := frost.EvaluateCommitments(deal.Commitments, member.Identifier)
			if err != nil {
				return frost.PublicKeyPackage{}, err
			}
			verifying.Add(verifying, evaluated)
		}
		public.VerifyingShares = append(public.VerifyingShares, frost.VerifyingShare{
			Identifier: member.Identifier,
			Share:      frost.EncodeElement(verifying),
		})
	}
	slices.SortFunc(public.VerifyingShares, func(a, b frost.VerifyingShare) int { return int(a.Identifier) - int(b.Identifier) })
	return public, nil
}

func combine(session *protocol.Context, deals map[frost.Identifier]dealMessage, self Member, public frost.PublicKeyPackage) (frost.KeyShare, error) {
	secret := frost.Curve.NewScalar()
	for dealer, deal := range deals {
		index := slices.IndexFunc(deal.Shares, func(share sealedShare) bool { return share.Recipient == self.Identifier })
		if index < 0 {
			return frost.KeyShare{}, fmt.Errorf("%w: dealer %d sent nothing to %d", ErrInvalidDeal, dealer, self.Identifier)
		}
		plaintext, err := session.System.Crypto.HPKEOpen([]byte(sealInfo), aad(session.Session, dealer, self.Identifier), deal.Shares[index].Sealed)
		if err != nil {
			return frost.KeyShare{}, fmt.Errorf("%w: opening sub-share from %d: %w", ErrInvalidDeal, dealer, err)
		}
		value, err := frost.DecodeScalar(plaintext)
		if err != nil {
			return frost.KeyShare{}, fmt.Errorf("%w: sub-share from %d: %w", ErrInvalidDeal, dealer, err)
		}
		if err := frost.VerifyFeldman(deal.Commitments, self.Identifier, value); err != nil {
			return frost.KeyShare{}, fmt.Errorf("%w: dealer %d: %w", ErrInvalidDeal, dealer, err)
		}
		secret.Add(secret, value)
	}
	verifying, _ := public.Share(self.Identifier)
	share := frost.KeyShare{
		Identifier:     self.Identifier,
		Secret:         frost.EncodeScalar(secret),
		VerifyingShare: verifying,
		GroupKey:       public.GroupKey,
		Threshold:      public.Threshold,
	}
	if err := share.Validate(); err != nil {
		return frost.KeyShare{}, err
	}
	return share, nil
}

// Finalize has the new members threshold-sign a RotateEpoch op over
// state carrying the unchanged group key, applies it, and moves the
// flow-budget epoch up to the new tree epoch. Every new member that
// calls Finalize in the same session gets the same attested op.
func Finalize(ctx context.Context, session *protocol.Context, state tree.State, share frost.KeyShare, public frost.PublicKeyPackage) (tree.AttestedOp, tree.State, error) {
	count := state.NumLeaves()
	op, err := tree.NewOp(state, tree.RotateEpoch{
		Affected: tree.InternalNodes(count),
		GroupKey: public.GroupKey,
	})
	if err != nil {
		return tree.AttestedOp{}, tree.State{}, err
	}
	message, err := op.SigningBytes()
	if err != nil {
		return tree.AttestedOp{}, tree.State{}, err
	}
	signed, err := signing.Run(ctx, session, signing.Config{Share: share, Public: public}, message)
	if err != nil {
		return tree.AttestedOp{}, tree.State{}, err
	}
	attested := tree.AttestedOp{
		Op:          op,
		SignerNode:  tree.Root(count),
		SignerCount: uint16(len(signed.Signers)),
		Signature:   signed.Signature,
	}
	if err := (tree.SignatureVerifier{}).VerifyOp(state, attested); err != nil {
		return tree.AttestedOp{}, tree.State{}, protocol.Errorf(protocol.KindSignatureInvalid, session.Session, "%w", err)
	}
	next, err := tree.Apply(state, op)
	if err != nil {
		return tree.AttestedOp{}, tree.State{}, err
	}
	flow := session.System.Flow
	flow.RotateEpoch(next.Epoch())
	session.Logger().Info("resharing finalized",
		"tree_epoch", uint64(next.Epoch()),
		"flow_epoch", uint64(flow.Epoch()),
	)
	return attested, next, nil
}
