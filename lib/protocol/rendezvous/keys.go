// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rendezvous

import (
	"crypto/ed25519"

	"github.com/bureau-foundation/aura/lib/ids"
	"github.com/bureau-foundation/aura/lib/tree"
)

// KeyDirectory resolves the key an authority signs flow receipts with.
// A handshake is only accepted when its receipt verifies under the key
// the directory holds for the envelope's source.
type KeyDirectory interface {
	SigningKey(authority ids.AuthorityID) (ed25519.PublicKey, bool)
}

// Keys is a fixed KeyDirectory.
type Keys map[ids.AuthorityID]ed25519.PublicKey

func (k Keys) SigningKey(authority ids.AuthorityID) (ed25519.PublicKey, bool) {
	key, ok := k[authority]
	return key, ok
}

// TreeKeys resolves keys from the leaves of state. leaves maps each
// authority to the id of its leaf; authorities whose leaf is absent or
// does not hold an Ed25519 key are left out.
func TreeKeys(state tree.State, leaves map[ids.AuthorityID][32]byte) Keys {
	keys := make(Keys, len(leaves))
	for authority, id := range leaves {
		index, ok := state.FindLeaf(id)
		if !ok {
			continue
		}
		leaf, ok := state.Leaf(index)
		if !ok || len(leaf.SigningKey) != ed25519.PublicKeySize {
			continue
		}
		keys[authority] = ed25519.PublicKey(leaf.SigningKey)
	}
	return keys
}
