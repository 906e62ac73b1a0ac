// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/guard"
	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/journal"
)

// ContentTypeSession is the content type of session messages.
const ContentTypeSession = "application/aura-session"

// ErrNoSessions is returned for session commands on an executor built
// without a SessionRuntime.
var ErrNoSessions = errors.New("protocol: executor has no session runtime")

// ExecutorOptions configures NewExecutor.
type ExecutorOptions struct {
	// Chain defaults to guard.DefaultChain().
	Chain *guard.Chain
	// Sessions serves StartSession, EndSession and SendSessionMessage.
	Sessions *SessionRuntime
	Metrics  *Metrics
	Logger   *slog.Logger
}

// Executor evaluates operations against the guard chain and executes
// the resulting commands. It is safe for concurrent use; commands of
// one call run sequentially in chain order.
type Executor struct {
	system   *effects.System
	chain    *guard.Chain
	sessions *SessionRuntime
	metrics  *Metrics
	logger   *slog.Logger

	mu           sync.RWMutex
	capabilities guard.CapSet
	decisions    map[string]string
}

// NewExecutor returns an executor with no capabilities and no
// authorization decisions, so every guarded operation is refused until
// Grant and Authorize are called.
func NewExecutor(system *effects.System, options ExecutorOptions) *Executor {
	chain := options.Chain
	if chain == nil {
		chain = guard.DefaultChain()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		system:       system,
		chain:        chain,
		sessions:     options.Sessions,
		metrics:      options.Metrics,
		logger:       logger,
		capabilities: guard.NewCapSet(),
		decisions:    make(map[string]string),
	}
}

// System returns the effect system commands run against.
func (e *Executor) System() *effects.System { return e.system }

// Grant adds capabilities to the local authority's set.
func (e *Executor) Grant(capabilities ...guard.Capability) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.capabilities = e.capabilities.With(capabilities...)
}

// Authorize records the decision ("allow" or "deny") for operation.
func (e *Executor) Authorize(operation, decision string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decisions[guard.AuthorizationKey(operation)] = decision
}

// Snapshot captures the state the guard chain reads for request.
func (e *Executor) Snapshot(ctx context.Context, request guard.Request) (guard.Snapshot, error) {
	remaining, err := e.system.Flow.Remaining(ctx, request.Context, request.Peer)
	if err != nil {
		return guard.Snapshot{}, fmt.Errorf("protocol: reading flow budget: %w", err)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return guard.Snapshot{
		Now:          e.system.Time.Now(),
		Capabilities: e.capabilities,
		Budgets:      guard.BudgetView{{Context: request.Context, Peer: request.Peer}: remaining},
		Metadata:     maps.Clone(e.decisions),
		Seed:         e.system.Random.Uint64(),
	}, nil
}

// Result reports what an execution did.
type Result struct {
	Receipts []effects.Receipt
	Entries  []journal.Entry
	Sessions []Session
	Sent     int
}

// Execute evaluates request and, when allowed, runs the chain's
// commands followed by commands. A denial journals a denial fact and
// returns a *guard.DeniedError without running anything.
func (e *Executor) Execute(ctx context.Context, request guard.Request, commands ...guard.Command) (Result, error) {
	if request.Authority.IsZero() {
		request.Authority = e.system.Authority
	}
	snapshot, err := e.Snapshot(ctx, request)
	if err != nil {
		return Result{}, err
	}
	outcome := e.chain.Evaluate(snapshot, request)
	if !outcome.Allowed {
		return Result{}, e.deny(ctx, snapshot, request, outcome.Reason)
	}
	return e.Run(ctx, append(outcome.Effects, commands...))
}

func (e *Executor) deny(ctx context.Context, snapshot guard.Snapshot, request guard.Request, reason string) error {
	e.logger.Info("operation denied",
		"operation", request.Operation,
		"reason", reason,
		"context", ids.Short(request.Context),
		"peer", ids.Short(request.Peer),
	)
	if e.metrics != nil {
		e.metrics.Denials.WithLabelValues(request.Operation, reason).Inc()
	}
	denied := &guard.DeniedError{Operation: request.Operation, Reason: reason}
	fact, err := journal.NewFact(journal.FactDenial, request.Operation, journal.Denial{
		Authority: request.Authority,
		Operation: request.Operation,
		Reason:    reason,
	})
	if err == nil {
		_, err = e.system.Journal.AppendFact(ctx, journal.NewEntry(request.Context, request.Authority, snapshot.Now, fact))
	}
	if err != nil {
		return fmt.Errorf("protocol: journaling denial: %w (%w)", err, denied)
	}
	return denied
}

// Run executes commands in order and stops at the first failure. The
// receipt of a ChargeBudget is attached to the next SendEnvelope or
// SendSessionMessage that carries none.
func (e *Executor) Run(ctx context.Context, commands []guard.Command) (Result, error) {
	var result Result
	var pending *effects.Receipt
	for index, command := range commands {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		var err error
		switch command := command.(type) {
		case guard.ChargeBudget:
			var receipt effects.Receipt
			receipt, err = e.system.Flow.Charge(ctx, command.Context, command.Authority, command.Peer, command.Amount)
			if err == nil {
				result.Receipts = append(result.Receipts, receipt)
				pending = &receipt
			}
		case guard.AppendJournal:
			var entry journal.Entry
			entry, err = e.system.Journal.AppendFact(ctx, command.Entry)
			if err == nil {
				result.Entries = append(result.Entries, entry)
			}
		case guard.RecordLeakage:
			err = e.system.Leakage.RecordLeakage(ctx, effects.LeakageEvent{
				Context:   command.Context,
				Observer:  command.Observer,
				Bits:      command.Bits,
				Operation: command.Operation,
				Timestamp: command.Timestamp,
			})
		case guard.SendEnvelope:
			err = e.send(ctx, command.Envelope, &pending)
			if err == nil {
				result.Sent++
			}
		case guard.StartSession:
			var session Session
			session, err = e.startSession(ctx, command)
			if err == nil {
				result.Sessions = append(result.Sessions, session)
			}
		case guard.EndSession:
			err = e.endSession(ctx, command)
		case guard.SendSessionMessage:
			err = e.sendSessionMessage(ctx, command, &pending)
			if err == nil {
				result.Sent++
			}
		default:
			err = fmt.Errorf("protocol: unsupported command %T", command)
		}
		if err != nil {
			return result, fmt.Errorf("protocol: command %d (%s): %w", index, command.Kind(), err)
		}
		if e.metrics != nil {
			e.metrics.Commands.WithLabelValues(command.Kind()).Inc()
		}
	}
	return result, nil
}

func (e *Executor) send(ctx context.Context, envelope effects.TransportEnvelope, pending **effects.Receipt) error {
	if e.system.Transport == nil {
		return errors.New("protocol: effect system has no transport")
	}
	if envelope.Source.IsZero() {
		envelope.Source = e.system.Authority
	}
	if envelope.Receipt == nil && *pending != nil {
		envelope.Receipt = *pending
		*pending = nil
	}
	return e.system.Transport.Send(ctx, envelope)
}

func (e *Executor) startSession(ctx context.Context, command guard.StartSession) (Session, error) {
	if e.sessions == nil {
		return Session{}, ErrNoSessions
	}
	return e.sessions.Start(ctx, command.Protocol, command.Participants, command.TTLEpochs)
}

func (e *Executor) endSession(ctx context.Context, command guard.EndSession) error {
	if e.sessions == nil {
		return ErrNoSessions
	}
	switch command.End {
	case guard.SessionCompleted:
		return e.sessions.Complete(ctx, command.Session, e.system.Authority)
	case guard.SessionCancelled:
		return e.sessions.Cancel(ctx, command.Session, e.system.Authority, command.Reason)
	case guard.SessionFailed:
		return e.sessions.Fail(ctx, command.Session, command.Reason)
	default:
		return fmt.Errorf("protocol: unknown session end %d", command.End)
	}
}

func (e *Executor) sendSessionMessage(ctx context.Context, command guard.SendSessionMessage, pending **effects.Receipt) error {
	if e.sessions == nil {
		return ErrNoSessions
	}
	session, ok := e.sessions.Get(command.Session)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, ids.Short(command.Session))
	}
	if session.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrSessionClosed, ids.Short(session.ID), session.Status)
	}
	return e.send(ctx, effects.TransportEnvelope{
		Destination: command.To,
		Context:     session.Context(),
		Payload:     command.Payload,
		Metadata:    map[string]string{effects.MetadataContentType: ContentTypeSession},
	}, pending)
}
