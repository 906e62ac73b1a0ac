// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package recovery implements guardian-approved account recovery.
//
// The account's relational context holds the guardian bindings. A
// requesting device journals a recovery request; each guardian checks
// it against its binding with Evaluate and, once the recovery delay
// has passed, journals an approval carrying its FROST round-one
// commitment. The first threshold approvals fix the signing set. Their
// signature shares aggregate into a group signature over the request,
// from which the new key material is derived. A completed recovery
// starts a cooldown during which further requests are refused.
package recovery

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/frost"
	"github.com/bureau-foundation/aura/lib/guard"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
	"github.com/bureau-foundation/aura/lib/protocol"
)

// Guarded operation names.
const (
	OperationBind     = "recovery.bind"
	OperationRequest  = "recovery.request"
	OperationApprove  = "recovery.approve"
	OperationComplete = "recovery.complete"
)

const keyInfo = "aura-recovery-key-v1"

// AccountContext is the relational context of an account.
func AccountContext(account ids.AccountID) ids.ContextID {
	return ids.ContextID(hash.Keyed(hash.DomainContextID, []byte("account"), account[:]))
}

// SigningMessage is what the guardians threshold-sign for a request.
func SigningMessage(request journal.Entry) ([]byte, error) {
	var payload journal.RecoveryRequest
	if err := request.Fact.Decode(&payload); err != nil {
		return nil, fmt.Errorf("recovery: decoding request: %w", err)
	}
	id := request.ID()
	digest := hash.Keyed(hash.DomainRecoveryProof, payload.Account[:], id[:], payload.NewDeviceKey)
	return digest[:], nil
}

// Config configures the account side of recovery.
type Config struct {
	Account ids.AccountID
	// Guardians is the public key package of the guardian group.
	Guardians frost.PublicKeyPackage
	// Cooldown defaults to DefaultCooldown.
	Cooldown time.Duration
}

// Evidence is the outcome of a completed recovery.
type Evidence struct {
	// ID is "<account hex>:<unix seconds>".
	ID          string
	Account     ids.AccountID
	Request     hash.Digest
	Guardians   []frost.Identifier
	Signature   []byte
	KeyMaterial []byte
	CompletedAt time.Time
}

// Account runs the account side: bindings, requests, notifications and
// completion. Its executor journals into the account context.
type Account struct {
	executor *protocol.Executor
	config   Config
	context  ids.ContextID
	logger   *slog.Logger
}

// NewAccount returns the account side of recovery. The executor must
// hold the recovery capabilities and an allow decision for every
// recovery operation; Grants does both.
func NewAccount(executor *protocol.Executor, config Config, logger *slog.Logger) *Account {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCooldown
	}
	return &Account{
		executor: executor,
		config:   config,
		context:  AccountContext(config.Account),
		logger:   logger.With("account", ids.Short(config.Account)),
	}
}

// Grants gives executor the capabilities and decisions recovery needs.
func Grants(executor *protocol.Executor) {
	executor.Grant(guard.CapRecoveryRequest, guard.CapRecoveryApprove, guard.CapJournalAppend)
	for _, operation := range []string{OperationBind, OperationRequest, OperationApprove, OperationComplete} {
		executor.Authorize(operation, guard.DecisionAllow)
	}
}

// Context returns the account's relational context id.
func (a *Account) Context() ids.ContextID { return a.context }

func (a *Account) now() time.Time { return a.executor.System().Time.Now() }

func (a *Account) snapshot(ctx context.Context) (journal.ContextSnapshot, error) {
	return snapshotOf(ctx, a.executor, a.context)
}

func snapshotOf(ctx context.Context, executor *protocol.Executor, context ids.ContextID) (journal.ContextSnapshot, error) {
	snapshot, err := executor.System().Journal.Snapshot(ctx, context)
	if errors.Is(err, journal.ErrUnknownContext) {
		return journal.ContextSnapshot{}, nil
	}
	if err != nil {
		return journal.ContextSnapshot{}, fmt.Errorf("recovery: reading account context: %w", err)
	}
	return snapshot, nil
}

// journalGuarded appends one fact through the guard chain.
func journalGuarded(ctx context.Context, executor *protocol.Executor, context ids.ContextID, operation string, required guard.Capability, fact journal.Fact) (journal.Entry, error) {
	system := executor.System()
	entry := journal.NewEntry(context, system.Authority, system.Time.Now(), fact)
	result, err := executor.Execute(ctx, guard.Request{
		Context:   context,
		Peer:      system.Authority,
		Operation: operation,
		Required:  guard.NewCapSet(required),
	}, guard.AppendJournal{Entry: entry})
	if err != nil {
		return journal.Entry{}, err
	}
	return result.Entries[len(result.Entries)-1], nil
}

// BindGuardian journals a guardian binding for the account.
func (a *Account) BindGuardian(ctx context.Context, binding journal.GuardianBinding) error {
	if err := ValidateDelay(binding.Parameters.RecoveryDelay); err != nil {
		return err
	}
	binding.Account = a.config.Account
	if _, ok := a.config.Guardians.Share(frost.Identifier(binding.ShareIdentifier)); !ok {
		return fmt.Errorf("recovery: binding %s: %w", ids.Short(binding.Guardian), frost.ErrUnknownIdentifier)
	}
	fact, err := journal.NewFact(journal.FactGuardianBinding, binding.Guardian.String(), binding)
	if err != nil {
		return err
	}
	if _, err := journalGuarded(ctx, a.executor, a.context, OperationBind, guard.CapJournalAppend, fact); err != nil {
		return err
	}
	a.logger.Info("guardian bound", "guardian", ids.Short(binding.Guardian), "recovery_delay", binding.Parameters.RecoveryDelay)
	return nil
}

// UpdateParameters replaces a guardian's recovery parameters. The delay
// must lie in [MinRecoveryDelay, MaxRecoveryDelay].
func (a *Account) UpdateParameters(ctx context.Context, guardian ids.AuthorityID, parameters journal.GuardianParameters) error {
	if err := ValidateDelay(parameters.RecoveryDelay); err != nil {
		return err
	}
	snapshot, err := a.snapshot(ctx)
	if err != nil {
		return err
	}
	binding, ok := Binding(snapshot, guardian)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoBinding, ids.Short(guardian))
	}
	binding.Parameters = parameters
	return a.BindGuardian(ctx, binding)
}

// Request journals a recovery request from the local device. It is
// refused while a previous recovery's cooldown is running.
func (a *Account) Request(ctx context.Context, newDeviceKey []byte) (journal.Entry, error) {
	now := a.now()
	evidence, found, err := a.LatestEvidence(ctx)
	if err != nil {
		return journal.Entry{}, err
	}
	if found {
		until := time.UnixMilli(evidence.CompletedAt).Add(a.config.Cooldown)
		if now.Before(until) {
			a.logger.Info("recovery request refused", "reason", "cooldown", "until", until)
			return journal.Entry{}, denied("recovery cooldown active until %s", until.UTC().Format(time.RFC3339))
		}
	}
	system := a.executor.System()
	fact, err := journal.NewFact(journal.FactRecoveryRequest, system.Device.String(), journal.RecoveryRequest{
		Account:      a.config.Account,
		Requester:    system.Device,
		NewDeviceKey: newDeviceKey,
		RequestedAt:  now.UnixMilli(),
	})
	if err != nil {
		return journal.Entry{}, err
	}
	entry, err := journalGuarded(ctx, a.executor, a.context, OperationRequest, guard.CapRecoveryRequest, fact)
	if err != nil {
		return journal.Entry{}, err
	}
	a.logger.Info("recovery requested", "request", entry.ID().Short())
	return entry, nil
}

// Notify records that guardian has been told about a pending recovery.
func (a *Account) Notify(ctx context.Context, guardian ids.AuthorityID) error {
	fact, err := journal.NewFact(journal.FactGuardianNotification, guardian.String(), journal.GuardianNotification{
		Guardian:   guardian,
		Account:    a.config.Account,
		NotifiedAt: a.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	_, err = journalGuarded(ctx, a.executor, a.context, OperationRequest, guard.CapRecoveryRequest, fact)
	return err
}

// approval is one journaled approval with its decoded commitment.
type approval struct {
	guardian   ids.AuthorityID
	commitment frost.SigningCommitment
}

// signingSet returns the first threshold approvals of request in
// journal order, one per guardian, whose commitment identifier matches
// the guardian's binding. A threshold of zero returns all of them.
func signingSet(snapshot journal.ContextSnapshot, request hash.Digest, threshold int, logger *slog.Logger) []approval {
	var set []approval
	seen := make(map[ids.AuthorityID]bool)
	for _, entry := range snapshot.OfType(journal.FactGuardianApproval) {
		if threshold > 0 && len(set) == threshold {
			break
		}
		var payload journal.GuardianApproval
		if err := entry.Fact.Decode(&payload); err != nil || payload.Request != request || seen[payload.Guardian] {
			continue
		}
		var commitment frost.SigningCommitment
		if err := codec.Unmarshal(payload.Commitment, &commitment); err != nil {
			logger.Warn("skipping undecodable approval", "guardian", ids.Short(payload.Guardian), "error", err)
			continue
		}
		binding, ok := Binding(snapshot, payload.Guardian)
		if !ok || frost.Identifier(binding.ShareIdentifier) != commitment.Identifier {
			logger.Warn("skipping approval with mismatched share identifier", "guardian", ids.Short(payload.Guardian))
			continue
		}
		seen[payload.Guardian] = true
		set = append(set, approval{guardian: payload.Guardian, commitment: commitment})
	}
	return set
}

func signingPackage(snapshot journal.ContextSnapshot, request journal.Entry, threshold int, logger *slog.Logger) (frost.SigningPackage, []approval, error) {
	set := signingSet(snapshot, request.ID(), threshold, logger)
	if len(set) < threshold {
		return frost.SigningPackage{}, set, fmt.Errorf("recovery: %d of %d approvals: %w", len(set), threshold, frost.ErrThreshold)
	}
	message, err := SigningMessage(request)
	if err != nil {
		return frost.SigningPackage{}, nil, err
	}
	commitments := make([]frost.SigningCommitment, len(set))
	for index, member := range set {
		commitments[index] = member.commitment
	}
	pkg, err := frost.NewSigningPackage(commitments, message)
	if err != nil {
		return frost.SigningPackage{}, nil, fmt.Errorf("recovery: %w", err)
	}
	return pkg, set, nil
}

// Approvals counts the journaled approvals of request.
func (a *Account) Approvals(ctx context.Context, request journal.Entry) (int, error) {
	snapshot, err := a.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return len(signingSet(snapshot, request.ID(), 0, a.logger)), nil
}

// Complete aggregates the guardians' signature shares over request,
// derives the new key material, and journals the completion.
func (a *Account) Complete(ctx context.Context, request journal.Entry, shares []frost.SignatureShare) (Evidence, error) {
	snapshot, err := a.snapshot(ctx)
	if err != nil {
		return Evidence{}, err
	}
	requestID := request.ID()
	for _, entry := range snapshot.OfType(journal.FactRecoveryCompleted) {
		var completed journal.RecoveryCompleted
		if err := entry.Fact.Decode(&completed); err != nil {
			return Evidence{}, fmt.Errorf("recovery: decoding evidence: %w", err)
		}
		if completed.Request == requestID {
			return Evidence{}, fmt.Errorf("%w: evidence %s", ErrAlreadyCompleted, completed.EvidenceID)
		}
	}
	pkg, set, err := signingPackage(snapshot, request, int(a.config.Guardians.Threshold), a.logger)
	if err != nil {
		return Evidence{}, err
	}
	signature, err := frost.Aggregate(pkg, shares, a.config.Guardians)
	if err != nil {
		return Evidence{}, fmt.Errorf("recovery: aggregating guardian signatures: %w", err)
	}
	keyMaterial := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, signature, requestID[:], []byte(keyInfo)), keyMaterial); err != nil {
		return Evidence{}, fmt.Errorf("recovery: deriving key material: %w", err)
	}

	now := a.now()
	evidence := Evidence{
		ID:          fmt.Sprintf("%s:%d", a.config.Account, now.Unix()),
		Account:     a.config.Account,
		Request:     requestID,
		Signature:   signature,
		KeyMaterial: keyMaterial,
		CompletedAt: now,
	}
	guardians := make([]uint16, len(set))
	for index, member := range set {
		evidence.Guardians = append(evidence.Guardians, member.commitment.Identifier)
		guardians[index] = uint16(member.commitment.Identifier)
	}
	fact, err := journal.NewFact(journal.FactRecoveryCompleted, a.config.Account.String(), journal.RecoveryCompleted{
		Account:     a.config.Account,
		EvidenceID:  evidence.ID,
		Guardians:   guardians,
		CompletedAt: now.UnixMilli(),
		Request:     requestID,
	})
	if err != nil {
		return Evidence{}, err
	}
	if _, err := journalGuarded(ctx, a.executor, a.context, OperationComplete, guard.CapRecoveryRequest, fact); err != nil {
		return Evidence{}, err
	}
	a.logger.Info("recovery completed", "evidence_id", evidence.ID, "guardians", len(set))
	return evidence, nil
}

// LatestEvidence returns the newest completed recovery of the account.
func (a *Account) LatestEvidence(ctx context.Context) (journal.RecoveryCompleted, bool, error) {
	snapshot, err := a.snapshot(ctx)
	if err != nil {
		return journal.RecoveryCompleted{}, false, err
	}
	entry, ok := snapshot.Latest(journal.FactRecoveryCompleted, a.config.Account.String())
	if !ok {
		return journal.RecoveryCompleted{}, false, nil
	}
	var completed journal.RecoveryCompleted
	if err := entry.Fact.Decode(&completed); err != nil {
		return journal.RecoveryCompleted{}, false, fmt.Errorf("recovery: decoding evidence: %w", err)
	}
	return completed, true, nil
}
