// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"cipherbox.dev/errors"
)

// Ed25519 key and signature sizes, re-exported here so callers never need
// to import crypto/ed25519 directly.
const (
	Ed25519PublicKeyLen  = ed25519.PublicKeySize
	Ed25519PrivateKeyLen = ed25519.PrivateKeySize
	Ed25519SignatureLen  = ed25519.SignatureSize
)

// Ed25519GenerateKeypair draws a fresh Ed25519 keypair from the OS
// CSPRNG. Name records are signed with this rather than secp256k1/ECDSA;
// upspin.io carries a long-standing TODO toward exactly this curve and
// library for its own packing, for the same reasons: deterministic
// signatures and no third-party nonce-generation pitfalls.
func Ed25519GenerateKeypair() (pub []byte, priv []byte, err error) {
	const op = "crypto.Ed25519GenerateKeypair"
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errors.E(op, err)
	}
	return []byte(pubKey), []byte(privKey), nil
}

// Ed25519Sign signs msg with the given 64-byte private key.
func Ed25519Sign(msg, priv []byte) ([]byte, error) {
	const op = "crypto.Ed25519Sign"
	if len(priv) != Ed25519PrivateKeyLen {
		return nil, errors.E(op, errors.Invalid, errors.Str("private key must be 64 bytes"))
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), msg), nil
}

// Ed25519Verify reports whether sig is a valid signature over msg by the
// holder of the given 32-byte public key. It never returns an error for a
// bad signature; callers wanting an errors.AuthFailure wrapper should
// check the bool and construct one at the call site, where the relevant
// item and op are known.
func Ed25519Verify(msg, sig, pub []byte) bool {
	if len(pub) != Ed25519PublicKeyLen || len(sig) != Ed25519SignatureLen {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
