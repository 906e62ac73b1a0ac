// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/guard"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/protocol"
)

// ErrNotSelected is returned by SignShare when the guardian's approval
// is not among the first threshold approvals.
var ErrNotSelected = errors.New("recovery: guardian not in signing set")

// Guardian is one guardian's side of recovery. Its executor's journal
// is the guardian's replica of the account context.
type Guardian struct {
	executor *protocol.Executor
	share    frost.KeyShare
	account  ids.AccountID
	context  ids.ContextID
	logger   *slog.Logger

	mu     sync.Mutex
	nonces map[hash.Digest]frost.SigningNonces
}

// NewGuardian returns a guardian holding share for account.
func NewGuardian(executor *protocol.Executor, account ids.AccountID, share frost.KeyShare, logger *slog.Logger) *Guardian {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guardian{
		executor: executor,
		share:    share,
		account:  account,
		context:  AccountContext(account),
		logger:   logger.With("guardian", ids.Short(executor.System().Authority)),
		nonces:   make(map[hash.Digest]frost.SigningNonces),
	}
}

// Authority returns the guardian's authority.
func (g *Guardian) Authority() ids.AuthorityID { return g.executor.System().Authority }

// Approve evaluates request against the guardian's binding and, when
// allowed, journals an approval carrying a fresh signing commitment.
// A refusal is a *PermissionDeniedError.
func (g *Guardian) Approve(ctx context.Context, request journal.Entry) (journal.Entry, error) {
	var payload journal.RecoveryRequest
	if err := request.Fact.Decode(&payload); err != nil {
		return journal.Entry{}, fmt.Errorf("recovery: decoding request: %w", err)
	}
	if payload.Account != g.account {
		return journal.Entry{}, denied("request is for account %s", ids.Short(payload.Account))
	}
	snapshot, err := snapshotOf(ctx, g.executor, g.context)
	if err != nil {
		return journal.Entry{}, err
	}
	system := g.executor.System()
	if err := Evaluate(snapshot, system.Authority, payload, system.Time.Now()); err != nil {
		g.logger.Info("recovery approval refused", "request", request.ID().Short(), "error", err)
		return journal.Entry{}, err
	}

	nonces, err := frost.Commit(g.share, system.Random)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("recovery: committing: %w", err)
	}
	commitment, err := codec.Marshal(nonces.Commitment)
	if err != nil {
		return journal.Entry{}, err
	}
	requestID := request.ID()
	fact, err := journal.NewFact(journal.FactGuardianApproval, system.Authority.String(), journal.GuardianApproval{
		Guardian:   system.Authority,
		Account:    g.account,
		Request:    requestID,
		Commitment: commitment,
		ApprovedAt: system.Time.Now().UnixMilli(),
	})
	if err != nil {
		return journal.Entry{}, err
	}
	entry, err := journalGuarded(ctx, g.executor, g.context, OperationApprove, guard.CapRecoveryApprove, fact)
	if err != nil {
		return journal.Entry{}, err
	}
	g.mu.Lock()
	g.nonces[requestID] = nonces
	g.mu.Unlock()
	g.logger.Info("recovery approved", "request", requestID.Short())
	return entry, nil
}

// SignShare produces the guardian's signature share over request once
// threshold approvals are journaled. The approval's nonces are spent
// by the first call that finds a full signing set.
func (g *Guardian) SignShare(ctx context.Context, request journal.Entry) (frost.SignatureShare, error) {
	requestID := request.ID()
	g.mu.Lock()
	defer g.mu.Unlock()
	nonces, ok := g.nonces[requestID]
	if !ok {
		return frost.SignatureShare{}, fmt.Errorf("recovery: no approval pending for request %s", requestID.Short())
	}
	snapshot, err := snapshotOf(ctx, g.executor, g.context)
	if err != nil {
		return frost.SignatureShare{}, err
	}
	pkg, set, err := signingPackage(snapshot, request, int(g.share.Threshold), g.logger)
	if err != nil {
		return frost.SignatureShare{}, err
	}
	delete(g.nonces, requestID)
	if !slices.ContainsFunc(set, func(member approval) bool { return member.guardian == g.Authority() }) {
		return frost.SignatureShare{}, ErrNotSelected
	}
	share, err := frost.Sign(pkg, nonces, g.share)
	if err != nil {
		return frost.SignatureShare{}, fmt.Errorf("recovery: signing: %w", err)
	}
	return share, nil
}
