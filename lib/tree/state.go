// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"bytes"
	"errors"
	"fmt"
	"slices"

	"github.com/bureau-foundation/aura/lib/codec"
	"github.com/bureau-foundation/aura/lib/hash"
	"github.com/bureau-foundation/aura/lib/ids"
)

// Errors returned by Apply, Reduce and FromSnapshot.
var (
	ErrStaleParent    = errors.New("tree: op parent does not match current state")
	ErrInvalidOp      = errors.New("tree: invalid op")
	ErrLeafNotFound   = errors.New("tree: leaf not found")
	ErrDuplicateLeaf  = errors.New("tree: leaf already present")
	ErrNodeNotFound   = errors.New("tree: node not found")
	ErrInvalidPolicy  = errors.New("tree: invalid policy")
	ErrPolicyLoosened = errors.New("tree: policy change is less strict than current policy")
	ErrInvariant      = errors.New("tree: invariant violated")
)

// State is an immutable commitment-tree state. The zero value is the
// empty tree at epoch 0.
type State struct {
	epoch    ids.Epoch
	leaves   []Leaf
	policies map[NodeIndex]Policy
	groupKey []byte
}

// NodePolicy pairs an internal node with an explicitly set policy.
type NodePolicy struct {
	Node   NodeIndex `cbor:"1,keyasint"`
	Policy Policy    `cbor:"2,keyasint"`
}

// Snapshot is the serializable form of a State.
type Snapshot struct {
	Epoch    ids.Epoch    `cbor:"1,keyasint"`
	Leaves   []Leaf       `cbor:"2,keyasint"`
	Policies []NodePolicy `cbor:"3,keyasint,omitempty"`
	GroupKey []byte       `cbor:"4,keyasint,omitempty"`
}

// Genesis returns the epoch-0 state for a set of initial members and
// the threshold group verifying key that attests ops over them.
func Genesis(leaves []Leaf, groupKey []byte) (State, error) {
	return FromSnapshot(Snapshot{Leaves: leaves, GroupKey: groupKey})
}

// FromSnapshot rebuilds and validates a state.
func FromSnapshot(snapshot Snapshot) (State, error) {
	state := State{
		epoch:    snapshot.Epoch,
		groupKey: bytes.Clone(snapshot.GroupKey),
	}
	for _, leaf := range snapshot.Leaves {
		state.leaves = append(state.leaves, leaf.Clone())
	}
	if len(snapshot.Policies) > 0 {
		state.policies = make(map[NodeIndex]Policy, len(snapshot.Policies))
		for _, entry := range snapshot.Policies {
			state.policies[entry.Node] = entry.Policy
		}
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

// Snapshot returns a serializable deep copy of the state.
func (s State) Snapshot() Snapshot {
	return Snapshot{
		Epoch:    s.epoch,
		Leaves:   s.Leaves(),
		Policies: s.explicitPolicies(),
		GroupKey: bytes.Clone(s.groupKey),
	}
}

// Epoch returns the mutation counter.
func (s State) Epoch() ids.Epoch { return s.epoch }

// NumLeaves returns the number of leaves.
func (s State) NumLeaves() uint32 { return uint32(len(s.leaves)) }

// Leaves returns a copy of the leaves in index order.
func (s State) Leaves() []Leaf {
	leaves := make([]Leaf, len(s.leaves))
	for index, leaf := range s.leaves {
		leaves[index] = leaf.Clone()
	}
	return leaves
}

// Leaf returns a copy of the leaf at index.
func (s State) Leaf(index LeafIndex) (Leaf, bool) {
	if int(index) >= len(s.leaves) {
		return Leaf{}, false
	}
	return s.leaves[index].Clone(), true
}

// FindLeaf returns the index of the leaf with the given id.
func (s State) FindLeaf(id [32]byte) (LeafIndex, bool) {
	for index, leaf := range s.leaves {
		if leaf.ID == id {
			return LeafIndex(index), true
		}
	}
	return 0, false
}

// GroupKey returns the threshold verifying key for branch-signed ops.
func (s State) GroupKey() []byte { return bytes.Clone(s.groupKey) }

// Policy returns the policy of an internal node. Nodes without an
// explicit policy use Any.
func (s State) Policy(node NodeIndex) (Policy, error) {
	if !s.hasInternal(node) {
		return Policy{}, fmt.Errorf("%w: %d is not an internal node", ErrNodeNotFound, node)
	}
	if policy, ok := s.policies[node]; ok {
		return policy, nil
	}
	return Any(), nil
}

// HasNode reports whether node exists in the current layout.
func (s State) HasNode(node NodeIndex) bool {
	return uint32(node) < Width(s.NumLeaves())
}

func (s State) hasInternal(node NodeIndex) bool {
	return !node.IsLeaf() && s.HasNode(node)
}

func (s State) explicitPolicies() []NodePolicy {
	if len(s.policies) == 0 {
		return nil
	}
	entries := make([]NodePolicy, 0, len(s.policies))
	for node, policy := range s.policies {
		entries = append(entries, NodePolicy{Node: node, Policy: policy})
	}
	slices.SortFunc(entries, func(a, b NodePolicy) int {
		return int(a.Node) - int(b.Node)
	})
	return entries
}

func (s State) clone() State {
	clone := State{
		epoch:    s.epoch,
		leaves:   s.Leaves(),
		groupKey: bytes.Clone(s.groupKey),
	}
	if len(s.policies) > 0 {
		clone.policies = make(map[NodeIndex]Policy, len(s.policies))
		for node, policy := range s.policies {
			clone.policies[node] = policy
		}
	}
	return clone
}

// Validate checks the structural invariants: packed leaves with valid
// roles and keys, unique leaf ids, and policies consistent with the
// leaves each node covers.
func (s State) Validate() error {
	seen := make(map[[32]byte]struct{}, len(s.leaves))
	for index, leaf := range s.leaves {
		if !leaf.Role.valid() {
			return fmt.Errorf("%w: leaf %d has invalid role %d", ErrInvariant, index, leaf.Role)
		}
		if len(leaf.SigningKey) == 0 {
			return fmt.Errorf("%w: leaf %d has no signing key", ErrInvariant, index)
		}
		if _, duplicate := seen[leaf.ID]; duplicate {
			return fmt.Errorf("%w: leaf id repeated at %d", ErrInvariant, index)
		}
		seen[leaf.ID] = struct{}{}
	}
	count := s.NumLeaves()
	for node, policy := range s.policies {
		if !s.hasInternal(node) {
			return fmt.Errorf("%w: policy on absent node %d", ErrInvariant, node)
		}
		if err := policy.validate(len(LeavesUnder(node, count))); err != nil {
			return fmt.Errorf("%w: node %d: %w", ErrInvariant, node, err)
		}
	}
	return nil
}

// leafCommitment and branchCommitment are the preimages of node
// commitments.
type leafCommitment struct {
	Index LeafIndex `cbor:"1,keyasint"`
	Leaf  Leaf      `cbor:"2,keyasint"`
}

type branchCommitment struct {
	Node   NodeIndex   `cbor:"1,keyasint"`
	Epoch  ids.Epoch   `cbor:"2,keyasint"`
	Policy Policy      `cbor:"3,keyasint"`
	Left   hash.Digest `cbor:"4,keyasint"`
	Right  hash.Digest `cbor:"5,keyasint"`
}

// BranchView is an internal node with its computed commitment.
type BranchView struct {
	Node       NodeIndex   `cbor:"1,keyasint"`
	Policy     Policy      `cbor:"2,keyasint"`
	Commitment hash.Digest `cbor:"3,keyasint"`
}

type canonicalState struct {
	Epoch           ids.Epoch     `cbor:"1,keyasint"`
	Leaves          []Leaf        `cbor:"2,keyasint,omitempty"`
	LeafCommitments []hash.Digest `cbor:"3,keyasint,omitempty"`
	Branches        []BranchView  `cbor:"4,keyasint,omitempty"`
	GroupKey        []byte        `cbor:"5,keyasint,omitempty"`
}

// NodeCommitment returns the commitment of any present node.
func (s State) NodeCommitment(node NodeIndex) (hash.Digest, error) {
	if !s.HasNode(node) {
		return hash.Digest{}, fmt.Errorf("%w: %d", ErrNodeNotFound, node)
	}
	return s.commit(node, make(map[NodeIndex]hash.Digest)), nil
}

func (s State) commit(node NodeIndex, memo map[NodeIndex]hash.Digest) hash.Digest {
	if digest, ok := memo[node]; ok {
		return digest
	}
	var digest hash.Digest
	if node.IsLeaf() {
		index := node.Leaf()
		digest = mustDigest(hash.DomainTreeLeaf, leafCommitment{Index: index, Leaf: s.leaves[index]})
	} else {
		policy, _ := s.Policy(node)
		count := s.NumLeaves()
		digest = mustDigest(hash.DomainTreeBranch, branchCommitment{
			Node:   node,
			Epoch:  s.epoch,
			Policy: policy,
			Left:   s.commit(Left(node), memo),
			Right:  s.commit(Right(node, count), memo),
		})
	}
	memo[node] = digest
	return digest
}

// Branches returns every internal node with its policy and commitment.
func (s State) Branches() []BranchView {
	memo := make(map[NodeIndex]hash.Digest)
	var views []BranchView
	for _, node := range InternalNodes(s.NumLeaves()) {
		policy, _ := s.Policy(node)
		views = append(views, BranchView{Node: node, Policy: policy, Commitment: s.commit(node, memo)})
	}
	return views
}

// RootCommitment is the keyed BLAKE3 digest of the canonical
// serialization of the whole state. Equal states always produce equal
// commitments.
func (s State) RootCommitment() hash.Digest {
	memo := make(map[NodeIndex]hash.Digest)
	canonical := canonicalState{
		Epoch:    s.epoch,
		Leaves:   s.leaves,
		GroupKey: s.groupKey,
	}
	for index := range s.leaves {
		canonical.LeafCommitments = append(canonical.LeafCommitments, s.commit(LeafIndex(index).Node(), memo))
	}
	for _, node := range InternalNodes(s.NumLeaves()) {
		policy, _ := s.Policy(node)
		canonical.Branches = append(canonical.Branches, BranchView{Node: node, Policy: policy, Commitment: s.commit(node, memo)})
	}
	return mustDigest(hash.DomainTreeRoot, canonical)
}

// mustDigest encodes fixed, tag-annotated structs whose encoding cannot
// fail.
func mustDigest(domain hash.Domain, value any) hash.Digest {
	digest, err := codec.Digest(domain, value)
	if err != nil {
		panic("tree: encoding commitment preimage: " + err.Error())
	}
	return digest
}
