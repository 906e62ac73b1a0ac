// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/aura/lib/journal"
)

// Denial reasons.
const (
	ReasonCapability         = "Capability check failed"
	ReasonMissingDecision    = "Missing authorization decision"
	ReasonInsufficientBudget = "Insufficient flow budget"
)

// ErrDenied is wrapped by every DeniedError.
var ErrDenied = errors.New("guard: denied")

// DeniedError reports an operation a chain refused.
type DeniedError struct {
	Operation string
	Reason    string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("guard: %s denied: %s", e.Operation, e.Reason)
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

// Outcome is a guard verdict. An allowed outcome carries the commands
// to execute in order; a denied outcome carries only the reason.
type Outcome struct {
	Allowed bool
	Reason  string
	Effects []Command
}

// Allow returns an allowing outcome.
func Allow(effects ...Command) Outcome {
	return Outcome{Allowed: true, Effects: effects}
}

// Deny returns a denying outcome.
func Deny(reason string) Outcome {
	return Outcome{Reason: reason}
}

// Err returns nil for an allowed outcome and a *DeniedError otherwise.
func (o Outcome) Err(operation string) error {
	if o.Allowed {
		return nil
	}
	return &DeniedError{Operation: operation, Reason: o.Reason}
}

// Guard evaluates one concern.
type Guard interface {
	Name() string
	Evaluate(snapshot Snapshot, request Request) Outcome
}

// CapabilityGuard requires an allow decision for the operation and
// every capability the request names.
type CapabilityGuard struct{}

func (CapabilityGuard) Name() string { return "capability" }

func (CapabilityGuard) Evaluate(snapshot Snapshot, request Request) Outcome {
	decision, ok := snapshot.Decision(request.Operation)
	if !ok {
		return Deny(ReasonMissingDecision)
	}
	if decision != DecisionAllow {
		return Deny(ReasonCapability)
	}
	if !snapshot.Capabilities.Covers(request.Required) {
		return Deny(ReasonCapability)
	}
	return Allow()
}

// FlowBudgetGuard requires request.Cost units of budget and charges
// them.
type FlowBudgetGuard struct{}

func (FlowBudgetGuard) Name() string { return "flow_budget" }

func (FlowBudgetGuard) Evaluate(snapshot Snapshot, request Request) Outcome {
	if !snapshot.Budgets.HasBudget(request.Context, request.Peer, request.Cost) {
		return Deny(ReasonInsufficientBudget)
	}
	return Allow(ChargeBudget{
		Context:   request.Context,
		Authority: request.Authority,
		Peer:      request.Peer,
		Amount:    request.Cost,
	})
}

// JournalCouplingGuard records every authorized operation as an
// operation fact.
type JournalCouplingGuard struct{}

func (JournalCouplingGuard) Name() string { return "journal_coupling" }

func (JournalCouplingGuard) Evaluate(snapshot Snapshot, request Request) Outcome {
	fact, err := journal.NewFact(journal.FactOperation, request.Operation, journal.Operation{
		Authority:   request.Authority,
		Peer:        request.Peer,
		Operation:   request.Operation,
		OperationID: OperationID(snapshot, request),
		Cost:        request.Cost,
	})
	if err != nil {
		return Deny(fmt.Sprintf("Journal coupling failed: %v", err))
	}
	entry := journal.NewEntry(request.Context, request.Authority, snapshot.Now, fact)
	return Allow(AppendJournal{Entry: entry})
}

// LeakageTrackingGuard accounts declared metadata exposure.
type LeakageTrackingGuard struct{}

func (LeakageTrackingGuard) Name() string { return "leakage_tracking" }

func (LeakageTrackingGuard) Evaluate(snapshot Snapshot, request Request) Outcome {
	if request.Leakage == nil || request.Leakage.Bits == 0 {
		return Allow()
	}
	return Allow(RecordLeakage{
		Context:   request.Context,
		Observer:  request.Leakage.Observer,
		Bits:      request.Leakage.Bits,
		Operation: request.Operation,
		Timestamp: snapshot.Now.UnixMilli(),
	})
}
