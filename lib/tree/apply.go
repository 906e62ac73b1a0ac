// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import (
	"bytes"
	"fmt"
	"slices"
)

// Apply returns the state that results from op. The input state is not
// modified. A successful Apply always increments the epoch.
func Apply(state State, op TreeOp) (State, error) {
	if op.ParentEpoch != state.epoch || op.ParentCommitment != state.RootCommitment() {
		return State{}, fmt.Errorf("%w: op at epoch %d, state at epoch %d", ErrStaleParent, op.ParentEpoch, state.epoch)
	}
	if err := op.checkPayload(); err != nil {
		return State{}, err
	}

	next := state.clone()
	var err error
	switch op.Kind {
	case OpAddLeaf:
		err = next.addLeaf(op.AddLeaf.Leaf)
	case OpRemoveLeaf:
		err = next.removeLeaf(op.RemoveLeaf.Index)
	case OpRotatePath:
		err = next.rotatePath(op.RotatePath.Index, op.RotatePath.SigningKey)
	case OpChangePolicy:
		err = next.changePolicy(op.ChangePolicy.Node, op.ChangePolicy.Policy)
	case OpRotateEpoch:
		err = next.rotateEpoch(op.RotateEpoch.Affected, op.RotateEpoch.GroupKey)
	default:
		err = fmt.Errorf("%w: unknown kind %d", ErrInvalidOp, op.Kind)
	}
	if err != nil {
		return State{}, err
	}

	next.epoch = state.epoch.Next()
	if err := next.Validate(); err != nil {
		return State{}, err
	}
	return next, nil
}

func (s *State) addLeaf(leaf Leaf) error {
	if !leaf.Role.valid() {
		return fmt.Errorf("%w: add_leaf with role %d", ErrInvalidOp, leaf.Role)
	}
	if len(leaf.SigningKey) == 0 {
		return fmt.Errorf("%w: add_leaf without signing key", ErrInvalidOp)
	}
	if _, exists := s.FindLeaf(leaf.ID); exists {
		return fmt.Errorf("%w: %x", ErrDuplicateLeaf, leaf.ID[:6])
	}
	s.leaves = append(s.leaves, leaf.Clone())
	s.reshape()
	return nil
}

func (s *State) removeLeaf(index LeafIndex) error {
	last := len(s.leaves) - 1
	if int(index) > last {
		return fmt.Errorf("%w: index %d with %d leaves", ErrLeafNotFound, index, len(s.leaves))
	}
	s.leaves[index] = s.leaves[last]
	s.leaves = slices.Delete(s.leaves, last, last+1)
	s.reshape()
	return nil
}

func (s *State) rotatePath(index LeafIndex, signingKey []byte) error {
	if int(index) >= len(s.leaves) {
		return fmt.Errorf("%w: index %d with %d leaves", ErrLeafNotFound, index, len(s.leaves))
	}
	if len(signingKey) == 0 {
		return fmt.Errorf("%w: rotate_path without signing key", ErrInvalidOp)
	}
	if bytes.Equal(s.leaves[index].SigningKey, signingKey) {
		return fmt.Errorf("%w: rotate_path reuses the current key", ErrInvalidOp)
	}
	s.leaves[index].SigningKey = bytes.Clone(signingKey)
	return nil
}

func (s *State) changePolicy(node NodeIndex, policy Policy) error {
	current, err := s.Policy(node)
	if err != nil {
		return err
	}
	count := len(LeavesUnder(node, s.NumLeaves()))
	if err := policy.validate(count); err != nil {
		return err
	}
	if !policy.AtLeastAsStrict(current, count) {
		return fmt.Errorf("%w: %s to %s on node %d", ErrPolicyLoosened, current, policy, node)
	}
	if s.policies == nil {
		s.policies = make(map[NodeIndex]Policy)
	}
	s.policies[node] = policy
	return nil
}

func (s *State) rotateEpoch(affected []NodeIndex, groupKey []byte) error {
	for _, node := range affected {
		if !s.HasNode(node) {
			return fmt.Errorf("%w: rotate_epoch names node %d", ErrNodeNotFound, node)
		}
	}
	if len(groupKey) > 0 {
		s.groupKey = bytes.Clone(groupKey)
	}
	return nil
}

// reshape drops policies of nodes that no longer exist and rescales
// threshold policies to the leaves their node now covers.
func (s *State) reshape() {
	count := s.NumLeaves()
	for node, policy := range s.policies {
		if !s.hasInternal(node) {
			delete(s.policies, node)
			continue
		}
		s.policies[node] = policy.rescale(len(LeavesUnder(node, count)))
	}
}
