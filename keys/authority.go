// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keys

import (
	"cipherbox.dev/errors"
	"cipherbox.dev/vault"
)

// ReadAuthority is the single dispatch point for the two read modes the
// core supports: the vault owner unwrapping keys with their own private
// key, and a share recipient unwrapping re-wrapped copies from a share's
// child-key catalog (package share provides that implementation). Every
// read path takes a ReadAuthority and dispatches once at the boundary
// instead of branching on "is this a share?" deep inside decryption
// logic.
type ReadAuthority interface {
	// UnwrapKey recovers the plaintext symmetric key for the item. For
	// the owner, wrapped is the ECIES ciphertext stored in the item's
	// metadata; a share recipient ignores it and consults the share
	// catalog instead. The caller owns the returned buffer and must
	// zeroize it when done.
	UnwrapKey(item vault.ItemID, wrapped []byte) ([]byte, error)
}

// Owner is the ReadAuthority of the vault owner: every wrapped key in
// the owner's tree is ECIES-wrapped to the owner's public key (F6), so
// unwrapping is a single ECIES decryption with the session private key.
type Owner struct {
	// Priv is the user's secp256k1 private scalar, held by the session
	// and shared here by reference (H2). Owner never retains a copy.
	Priv []byte
}

// UnwrapKey implements ReadAuthority.
func (o Owner) UnwrapKey(item vault.ItemID, wrapped []byte) ([]byte, error) {
	const op = "keys.Owner.UnwrapKey"
	key, err := UnwrapForOwner(wrapped, o.Priv)
	if err != nil {
		return nil, errors.E(op, item, err)
	}
	return key, nil
}
