// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"cipherbox.dev/errors"
)

// eciesInfo is the fixed HKDF info string binding derived key material to
// this scheme, so a transcript from one context can never be replayed as
// if it belonged to another.
const eciesInfo = "cipherbox-ecies-v1"

// ECIESEncrypt wraps keyBytes for recipientPub (a 65-byte uncompressed
// secp256k1 public key), returning
//
//	ephemeralPub(33, compressed) || nonce(12) || ciphertext || tag(16)
//
// An ephemeral keypair is generated for every call; ECDH against
// recipientPub plus HKDF-SHA256 derives both the AES-256 key and the
// GCM nonce, so the two parties never need to negotiate a nonce out of
// band. This is the wrap operation behind every per-recipient key share
// in the key hierarchy.
func ECIESEncrypt(keyBytes, recipientPub []byte) ([]byte, error) {
	const op = "crypto.ECIESEncrypt"
	if len(recipientPub) != Secp256k1PubLen {
		return nil, errors.E(op, errors.Invalid, errors.Str("recipient public key must be 65 bytes uncompressed"))
	}
	recipPub, err := secp.ParsePubKey(recipientPub)
	if err != nil {
		return nil, errors.E(op, errors.MalformedCiphertext, err)
	}

	ephPriv, err := secp.GeneratePrivateKey()
	if err != nil {
		return nil, errors.E(op, err)
	}
	defer ephPriv.Zero()

	shared := ecdhSharedSecret(ephPriv, recipPub)
	okm, err := HKDFSHA256(shared, nil, []byte(eciesInfo), AESKeyLen+GCMNonceLen)
	if err != nil {
		return nil, errors.E(op, err)
	}
	defer zero(okm)
	key, nonce := okm[:AESKeyLen], okm[AESKeyLen:]

	ciphertext, err := AESGCMEncrypt(keyBytes, key, nonce)
	if err != nil {
		return nil, errors.E(op, err)
	}

	ephPub := ephPriv.PubKey().SerializeCompressed()
	out := make([]byte, 0, len(ephPub)+len(nonce)+len(ciphertext))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// ECIESDecrypt unwraps a blob produced by ECIESEncrypt using the
// recipient's 32-byte private scalar.
func ECIESDecrypt(blob, recipientPriv []byte) ([]byte, error) {
	const op = "crypto.ECIESDecrypt"
	const ephPubLen = 33
	if len(recipientPriv) != Secp256k1PrivLen {
		return nil, errors.E(op, errors.Invalid, errors.Str("recipient private key must be 32 bytes"))
	}
	if len(blob) < ephPubLen+GCMNonceLen+GCMTagLen {
		return nil, errors.E(op, errors.MalformedCiphertext, errors.Str("blob too short"))
	}

	ephPubBytes := blob[:ephPubLen]
	nonce := blob[ephPubLen : ephPubLen+GCMNonceLen]
	ciphertext := blob[ephPubLen+GCMNonceLen:]

	ephPub, err := secp.ParsePubKey(ephPubBytes)
	if err != nil {
		return nil, errors.E(op, errors.MalformedCiphertext, err)
	}
	priv := secp.PrivKeyFromBytes(recipientPriv)
	defer priv.Zero()

	shared := ecdhSharedSecret(priv, ephPub)
	okm, err := HKDFSHA256(shared, nil, []byte(eciesInfo), AESKeyLen+GCMNonceLen)
	if err != nil {
		return nil, errors.E(op, err)
	}
	defer zero(okm)
	key, derivedNonce := okm[:AESKeyLen], okm[AESKeyLen:]
	if !ConstantTimeEqual(nonce, derivedNonce) {
		return nil, errors.E(op, errors.AuthFailure, errors.Str("nonce does not match derived transcript"))
	}

	plaintext, err := AESGCMDecrypt(ciphertext, key, nonce)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
