// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keys implements the lifecycle of every symmetric key and
// name-signing keypair in the vault's key hierarchy: generation, ECIES
// wrapping to a user or share recipient, and unwrapping. It holds no
// state of its own; every key flows through call arguments, the way
// upspin.io/factotum passes key material by value rather than caching it
// behind a package-level handle.
package keys

import (
	"encoding/hex"

	"cipherbox.dev/crypto"
	"cipherbox.dev/errors"
	"cipherbox.dev/vault"
)

// FolderKey is an AES-256 key owned by exactly one folder. It is
// affine: once passed to a wrap function it should be considered
// consumed by the caller, which must call Zero when it is done with it.
// The hierarchy itself never retains a copy.
type FolderKey struct {
	bytes vault.PrivateKeyBytes
}

// Bytes exposes the raw 32-byte key for use by package filecrypt or
// metacrypt. Callers must not retain the slice past the FolderKey's
// lifetime; use Zero to destroy both together.
func (k FolderKey) Bytes() []byte { return []byte(k.bytes) }

// Zero destroys the key material in place.
func (k FolderKey) Zero() { k.bytes.Zero() }

// FileKey is an AES-256 key owned by exactly one file. It is distinct
// from FolderKey only in name — spec.md §3.1 lists it as its own row in
// the key table, and giving it a distinct type keeps filecrypt call
// sites self-documenting — but is cryptographically and affinely
// identical: generated independently (K1), never reused across uploads
// of identical plaintext (K2), and zeroized via Zero when consumed.
type FileKey struct {
	bytes vault.PrivateKeyBytes
}

// Bytes exposes the raw 32-byte key for use by package filecrypt.
func (k FileKey) Bytes() []byte { return []byte(k.bytes) }

// Zero destroys the key material in place.
func (k FileKey) Zero() { k.bytes.Zero() }

// GenerateFileKey draws a fresh, independent AES-256 key for a single
// file's content. Invalidated (replaced, never reused) on update.
func GenerateFileKey() (FileKey, error) {
	const op = "keys.GenerateFileKey"
	b, err := crypto.RandomBytes(crypto.AESKeyLen)
	if err != nil {
		return FileKey{}, errors.E(op, err)
	}
	return FileKey{bytes: vault.PrivateKeyBytes(b)}, nil
}

// NameKeypair is an Ed25519 keypair used to sign and verify a single
// folder's or the root's mutable-name records.
type NameKeypair struct {
	Public  vault.PublicKey
	private vault.PrivateKeyBytes
}

// PrivateBytes exposes the raw 64-byte private key for signing. Callers
// must not retain the slice past the NameKeypair's lifetime.
func (n NameKeypair) PrivateBytes() []byte { return []byte(n.private) }

// Zero destroys the private half in place. The public half is not
// secret and is left untouched.
func (n NameKeypair) Zero() { n.private.Zero() }

// GenerateFolderKey draws a fresh, independent AES-256 key. Every
// created folder gets one of these (files get a FileKey from
// GenerateFileKey); nothing about it is derived from any other key in
// the hierarchy (K1).
func GenerateFolderKey() (FolderKey, error) {
	const op = "keys.GenerateFolderKey"
	b, err := crypto.RandomBytes(crypto.AESKeyLen)
	if err != nil {
		return FolderKey{}, errors.E(op, err)
	}
	return FolderKey{bytes: vault.PrivateKeyBytes(b)}, nil
}

// GenerateNameSigningKey draws a fresh Ed25519 keypair for signing one
// folder's (or the root's) mutable-name records.
func GenerateNameSigningKey() (NameKeypair, error) {
	const op = "keys.GenerateNameSigningKey"
	pub, priv, err := crypto.Ed25519GenerateKeypair()
	if err != nil {
		return NameKeypair{}, errors.E(op, err)
	}
	return NameKeypair{
		Public:  vault.PublicKey(hex.EncodeToString(pub)),
		private: vault.PrivateKeyBytes(priv),
	}, nil
}

// RotateFolderName issues a replacement name-signing keypair for a
// folder, returning the keypair together with its private half already
// wrapped to the owner — the form the parent envelope stores. Records
// signed by the outgoing key stay verifiable via
// namerecord.Countersign; the hierarchy itself retains nothing.
func RotateFolderName(userPub vault.PublicKey) (NameKeypair, []byte, error) {
	const op = "keys.RotateFolderName"
	kp, err := GenerateNameSigningKey()
	if err != nil {
		return NameKeypair{}, nil, errors.E(op, err)
	}
	wrapped, err := WrapForOwner(kp.PrivateBytes(), userPub)
	if err != nil {
		kp.Zero()
		return NameKeypair{}, nil, errors.E(op, err)
	}
	return kp, wrapped, nil
}

// WrapForOwner ECIES-wraps symKey to the owning user's secp256k1 public
// key (userPub, a 65-byte uncompressed point encoded as hex). The result
// is the ciphertext that is stored inside a parent folder's encrypted
// metadata envelope or held by the relay for root-level keys.
func WrapForOwner(symKey []byte, userPub vault.PublicKey) ([]byte, error) {
	const op = "keys.WrapForOwner"
	pub, err := hex.DecodeString(string(userPub))
	if err != nil {
		return nil, errors.E(op, errors.Invalid, err)
	}
	wrapped, err := crypto.ECIESEncrypt(symKey, pub)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return wrapped, nil
}

// UnwrapForOwner reverses WrapForOwner using the owning user's private
// scalar. Per invariant H2, userPriv is taken by reference here and
// never returned to any other component; it must already be resident
// in the caller's own session state.
func UnwrapForOwner(wrapped []byte, userPriv []byte) ([]byte, error) {
	const op = "keys.UnwrapForOwner"
	plain, err := crypto.ECIESDecrypt(wrapped, userPriv)
	if err != nil {
		return nil, errors.E(op, errors.AuthFailure, err)
	}
	return plain, nil
}

// WrapForRecipient is algorithmically identical to WrapForOwner; it
// exists as a distinct name because the Share Protocol calls it with a
// recipient's public key rather than the vault owner's, and giving it
// its own name keeps call sites self-documenting.
func WrapForRecipient(symKey []byte, recipientPub vault.PublicKey) ([]byte, error) {
	const op = "keys.WrapForRecipient"
	wrapped, err := WrapForOwner(symKey, recipientPub)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return wrapped, nil
}
