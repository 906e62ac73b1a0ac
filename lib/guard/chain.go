// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guard

// Chain evaluates guards in order.
type Chain struct {
	guards []Guard
}

// NewChain returns a chain of guards evaluated in the given order.
func NewChain(guards ...Guard) *Chain {
	return &Chain{guards: guards}
}

// DefaultChain is capability, flow budget, journal coupling, then
// leakage tracking.
func DefaultChain() *Chain {
	return NewChain(CapabilityGuard{}, FlowBudgetGuard{}, JournalCouplingGuard{}, LeakageTrackingGuard{})
}

// Guards returns the guard names in evaluation order.
func (c *Chain) Guards() []string {
	names := make([]string, len(c.guards))
	for index, guard := range c.guards {
		names[index] = guard.Name()
	}
	return names
}

// Evaluate runs every guard. The first denial is returned with no
// effects; otherwise the effects of all guards are concatenated in
// chain order.
func (c *Chain) Evaluate(snapshot Snapshot, request Request) Outcome {
	var effects []Command
	for _, guard := range c.guards {
		outcome := guard.Evaluate(snapshot, request)
		if !outcome.Allowed {
			return Deny(outcome.Reason)
		}
		effects = append(effects, outcome.Effects...)
	}
	return Allow(effects...)
}
