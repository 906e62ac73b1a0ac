// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tree

import "math/bits"

// LeafIndex is a leaf position, 0..n-1.
type LeafIndex uint32

// NodeIndex is a position in the tree array.
type NodeIndex uint32

// Node returns the array position of a leaf.
func (l LeafIndex) Node() NodeIndex { return NodeIndex(2 * l) }

// IsLeaf reports whether x is a leaf position.
func (x NodeIndex) IsLeaf() bool { return x&1 == 0 }

// Leaf returns the leaf index of a leaf position.
func (x NodeIndex) Leaf() LeafIndex { return LeafIndex(x / 2) }

// Level is the height of x: 0 for leaves, and the number of trailing
// one bits otherwise.
func Level(x NodeIndex) uint {
	return uint(bits.TrailingZeros32(^uint32(x)))
}

// Width is the array width of a tree with n leaves.
func Width(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	return 2*(n-1) + 1
}

// Root returns the root position of a tree with n > 0 leaves.
func Root(n uint32) NodeIndex {
	width := Width(n)
	return NodeIndex((uint32(1) << log2(width)) - 1)
}

// Left returns the left child of an internal node. Leaves are their
// own left child.
func Left(x NodeIndex) NodeIndex {
	level := Level(x)
	if level == 0 {
		return x
	}
	return x ^ (NodeIndex(1) << (level - 1))
}

// Right returns the right child of an internal node in a tree of n
// leaves, descending left when the nominal child lies beyond the width.
func Right(x NodeIndex, n uint32) NodeIndex {
	level := Level(x)
	if level == 0 {
		return x
	}
	child := x ^ (NodeIndex(3) << (level - 1))
	for uint32(child) >= Width(n) {
		child = Left(child)
	}
	return child
}

// Parent returns the parent of x in a tree of n leaves. The second
// result is false for the root.
func Parent(x NodeIndex, n uint32) (NodeIndex, bool) {
	if n == 0 || x == Root(n) {
		return 0, false
	}
	parent := parentStep(x)
	for uint32(parent) >= Width(n) {
		parent = parentStep(parent)
	}
	return parent, true
}

// DirectPath lists the ancestors of x from its parent up to the root.
func DirectPath(x NodeIndex, n uint32) []NodeIndex {
	var path []NodeIndex
	for {
		parent, ok := Parent(x, n)
		if !ok {
			return path
		}
		path = append(path, parent)
		x = parent
	}
}

// InternalNodes lists every internal node of a tree with n leaves in
// ascending order.
func InternalNodes(n uint32) []NodeIndex {
	width := Width(n)
	var nodes []NodeIndex
	for x := uint32(1); x < width; x += 2 {
		nodes = append(nodes, NodeIndex(x))
	}
	return nodes
}

// LeavesUnder lists the leaves in the subtree rooted at x.
func LeavesUnder(x NodeIndex, n uint32) []LeafIndex {
	span := (uint32(1) << Level(x)) - 1
	first := uint32(x) - span
	last := uint32(x) + span
	width := Width(n)
	var leaves []LeafIndex
	for node := first; node <= last && node < width; node += 2 {
		leaves = append(leaves, NodeIndex(node).Leaf())
	}
	return leaves
}

func parentStep(x NodeIndex) NodeIndex {
	level := Level(x)
	bit := (x >> (level + 1)) & 1
	return (x | (NodeIndex(1) << level)) ^ (bit << (level + 1))
}

func log2(x uint32) uint {
	if x == 0 {
		return 0
	}
	return uint(bits.Len32(x) - 1)
}
