// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

var _ effects.FlowBudgetEffects = (*FlowLedger)(nil)

// DefaultReplayWindow is the number of receipt nonces remembered for
// replay detection.
const DefaultReplayWindow = 4096

type flowKey struct {
	context ids.ContextID
	peer    ids.AuthorityID
}

type replayKey struct {
	source ids.AuthorityID
	epoch  ids.Epoch
	nonce  uint64
}

// FlowLedger tracks flow budgets per (context, peer) and signs a
// receipt for every successful charge. Receipts issued by one ledger
// form a hash chain through PrevHash. Spent counters reset when the
// epoch rotates and receipts from earlier epochs stop verifying.
type FlowLedger struct {
	crypto effects.CryptoEffects
	logger *slog.Logger

	mu     sync.Mutex
	epoch  ids.Epoch
	limits map[flowKey]uint64
	spent  map[flowKey]uint64
	nonce  uint64
	last   hash.Digest

	seen *lru.Cache[replayKey, struct{}]
}

// NewFlowLedger returns a ledger at epoch 0 that signs with crypto.
func NewFlowLedger(crypto effects.CryptoEffects, replayWindow int, logger *slog.Logger) (*FlowLedger, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if replayWindow <= 0 {
		replayWindow = DefaultReplayWindow
	}
	seen, err := lru.New[replayKey, struct{}](replayWindow)
	if err != nil {
		return nil, fmt.Errorf("handler: replay cache: %w", err)
	}
	return &FlowLedger{
		crypto: crypto,
		logger: logger,
		limits: make(map[flowKey]uint64),
		spent:  make(map[flowKey]uint64),
		seen:   seen,
	}, nil
}

// SetLimit sets the per-epoch budget for peer in context.
func (l *FlowLedger) SetLimit(ctx context.Context, context ids.ContextID, peer ids.AuthorityID, limit uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[flowKey{context, peer}] = limit
	return nil
}

// Remaining returns the unspent budget; zero when no limit is set.
func (l *FlowLedger) Remaining(ctx context.Context, context ids.ContextID, peer ids.AuthorityID) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remainingLocked(flowKey{context, peer}), nil
}

func (l *FlowLedger) remainingLocked(key flowKey) uint64 {
	limit, spent := l.limits[key], l.spent[key]
	if spent >= limit {
		return 0
	}
	return limit - spent
}

// Budgets returns the remaining budget of every configured pair.
func (l *FlowLedger) Budgets() map[ids.ContextID]map[ids.AuthorityID]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	budgets := make(map[ids.ContextID]map[ids.AuthorityID]uint64)
	for key := range l.limits {
		if budgets[key.context] == nil {
			budgets[key.context] = make(map[ids.AuthorityID]uint64)
		}
		budgets[key.context][key.peer] = l.remainingLocked(key)
	}
	return budgets
}

// Charge spends amount from the (context, peer) budget and returns a
// signed receipt naming authority as the source.
func (l *FlowLedger) Charge(ctx context.Context, context ids.ContextID, authority, peer ids.AuthorityID, amount uint64) (effects.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := flowKey{context, peer}
	if remaining := l.remainingLocked(key); remaining < amount {
		l.logger.Info("flow budget charge refused",
			"context", ids.Short(context),
			"peer", ids.Short(peer),
			"amount", amount,
			"remaining", remaining,
		)
		return effects.Receipt{}, fmt.Errorf("handler: charging %d with %d remaining: %w",
			amount, remaining, effects.ErrInsufficientBudget)
	}

	receipt := effects.Receipt{
		Context:     context,
		Source:      authority,
		Destination: peer,
		Epoch:       l.epoch,
		Cost:        amount,
		Nonce:       l.nonce + 1,
		PrevHash:    l.last,
	}
	message, err := receipt.SigningBytes()
	if err != nil {
		return effects.Receipt{}, err
	}
	receipt.Signature, err = l.crypto.Sign(message)
	if err != nil {
		return effects.Receipt{}, fmt.Errorf("handler: signing receipt: %w", err)
	}

	l.spent[key] += amount
	l.nonce = receipt.Nonce
	l.last = receipt.Digest()
	return receipt, nil
}

// VerifyReceipt checks the signature, rejects receipts from earlier
// epochs, and rejects a nonce already verified for the same source.
func (l *FlowLedger) VerifyReceipt(ctx context.Context, receipt effects.Receipt, signer ed25519.PublicKey) error {
	message, err := receipt.SigningBytes()
	if err != nil {
		return err
	}
	if !l.crypto.Verify(signer, message, receipt.Signature) {
		return fmt.Errorf("handler: receipt signature: %w", effects.ErrInvalidReceipt)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if receipt.Epoch < l.epoch {
		return fmt.Errorf("handler: receipt from epoch %d, current %d: %w",
			receipt.Epoch, l.epoch, effects.ErrInvalidReceipt)
	}
	key := replayKey{source: receipt.Source, epoch: receipt.Epoch, nonce: receipt.Nonce}
	if l.seen.Contains(key) {
		return fmt.Errorf("handler: receipt nonce %d replayed: %w", receipt.Nonce, effects.ErrInvalidReceipt)
	}
	l.seen.Add(key, struct{}{})
	return nil
}

func (l *FlowLedger) Epoch() ids.Epoch {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.epoch
}

// RotateEpoch moves to a later epoch, resetting spent counters. An
// epoch not after the current one is ignored.
func (l *FlowLedger) RotateEpoch(epoch ids.Epoch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if epoch <= l.epoch {
		return
	}
	l.logger.Info("flow budget epoch rotated", "from", uint64(l.epoch), "to", uint64(epoch))
	l.epoch = epoch
	clear(l.spent)
}
