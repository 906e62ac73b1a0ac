// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"encoding/binary"
	"time"

	"github.com/bureau-foundation/aura/lib/effects"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

// Authorization decisions stored in snapshot metadata.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// AuthorizationKey is the metadata key holding the decision for
// operation.
func AuthorizationKey(operation string) string { return "authz:" + operation }

// BudgetKey addresses one flow budget.
type BudgetKey struct {
	Context ids.ContextID
	Peer    ids.AuthorityID
}

// BudgetView maps budgets to their remaining flow units.
type BudgetView map[BudgetKey]uint64

// Remaining returns the units left, zero for an unknown budget.
func (v BudgetView) Remaining(context ids.ContextID, peer ids.AuthorityID) uint64 {
	return v[BudgetKey{context, peer}]
}

// HasBudget reports whether cost fits in the remaining budget.
func (v BudgetView) HasBudget(context ids.ContextID, peer ids.AuthorityID, cost uint64) bool {
	return v.Remaining(context, peer) >= cost
}

// Snapshot is everything a guard may read. Callers must not mutate a
// snapshot's maps once it is handed to a chain.
type Snapshot struct {
	Now          time.Time
	Capabilities CapSet
	Budgets      BudgetView
	Metadata     map[string]string
	// Seed feeds deterministic per-evaluation values such as the
	// operation id.
	Seed uint64
}

// Decision returns the authorization decision recorded for operation.
func (s Snapshot) Decision(operation string) (string, bool) {
	decision, ok := s.Metadata[AuthorizationKey(operation)]
	return decision, ok
}

// Leakage declares metadata an operation reveals.
type Leakage struct {
	Observer effects.ObserverClass
	Bits     uint64
}

// Request describes an operation asking to run.
type Request struct {
	Authority ids.AuthorityID
	Context   ids.ContextID
	Peer      ids.AuthorityID
	Operation string
	Cost      uint64

	// Required lists capabilities the authority must hold. Empty means
	// the authorization decision alone suffices.
	Required CapSet

	// Leakage is nil for operations that reveal no metadata.
	Leakage *Leakage
}

// OperationID derives the id journaled for request under snapshot. It
// depends only on its inputs.
func OperationID(snapshot Snapshot, request Request) hash.Digest {
	var numbers [24]byte
	binary.BigEndian.PutUint64(numbers[0:8], request.Cost)
	binary.BigEndian.PutUint64(numbers[8:16], uint64(snapshot.Now.UnixNano()))
	binary.BigEndian.PutUint64(numbers[16:24], snapshot.Seed)
	return hash.Keyed(hash.DomainOperationID,
		request.Authority[:],
		request.Context[:],
		request.Peer[:],
		[]byte(request.Operation),
		numbers[:],
	)
}
