// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"slices"

	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

// Verifier checks that an attested op is authorized against the state
// it is bound to.
type Verifier interface {
	VerifyOp(state State, op AttestedOp) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(state State, op AttestedOp) error

func (f VerifierFunc) VerifyOp(state State, op AttestedOp) error { return f(state, op) }

// Rejection records an op that was a candidate but failed verification
// or validation.
type Rejection struct {
	ID  hash.Digest
	Err error
}

// ReduceResult is the outcome of replaying a set of ops.
type ReduceResult struct {
	State State

	// Applied lists content ids in application order.
	Applied []hash.Digest

	// Superseded lists valid-looking ops that lost a race for the same
	// parent state.
	Superseded []hash.Digest

	Rejected []Rejection

	// Orphaned lists ops whose parent state never occurred.
	Orphaned []hash.Digest
}

type parentBinding struct {
	epoch      ids.Epoch
	commitment hash.Digest
}

type candidate struct {
	id hash.Digest
	op AttestedOp
}

// Reduce replays ops from base. The result depends only on the set of
// ops: duplicates are ignored, and when several ops bind to the same
// parent state the one with the greatest content id is tried first.
// A nil verifier accepts every op.
func Reduce(base State, ops []AttestedOp, verifier Verifier) (ReduceResult, error) {
	groups := make(map[parentBinding][]candidate)
	seen := make(map[hash.Digest]struct{}, len(ops))
	for _, op := range ops {
		id, err := op.ContentID()
		if err != nil {
			return ReduceResult{}, err
		}
		if _, duplicate := seen[id]; duplicate {
			continue
		}
		seen[id] = struct{}{}
		binding := parentBinding{epoch: op.Op.ParentEpoch, commitment: op.Op.ParentCommitment}
		groups[binding] = append(groups[binding], candidate{id: id, op: op})
	}

	result := ReduceResult{State: base}
	for {
		binding := parentBinding{epoch: result.State.Epoch(), commitment: result.State.RootCommitment()}
		contenders := groups[binding]
		if len(contenders) == 0 {
			break
		}
		delete(groups, binding)
		slices.SortFunc(contenders, func(a, b candidate) int {
			return b.id.Compare(a.id)
		})

		advanced := false
		for _, contender := range contenders {
			if advanced {
				result.Superseded = append(result.Superseded, contender.id)
				continue
			}
			if verifier != nil {
				if err := verifier.VerifyOp(result.State, contender.op); err != nil {
					result.Rejected = append(result.Rejected, Rejection{ID: contender.id, Err: err})
					continue
				}
			}
			next, err := Apply(result.State, contender.op.Op)
			if err != nil {
				result.Rejected = append(result.Rejected, Rejection{ID: contender.id, Err: err})
				continue
			}
			result.State = next
			result.Applied = append(result.Applied, contender.id)
			advanced = true
		}
		if !advanced {
			break
		}
	}

	for _, remaining := range groups {
		for _, orphan := range remaining {
			result.Orphaned = append(result.Orphaned, orphan.id)
		}
	}
	slices.SortFunc(result.Orphaned, hash.Digest.Compare)
	return result, nil
}
