// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package crypto implements the cryptographic primitives shared by every
// other package: AES-256-GCM, AES-256-CTR, ECIES over secp256k1, Ed25519,
// HKDF-SHA256, SHA-256, and constant-time key zeroization. The surface is
// narrow and side-effect-free; every operation that returns key-like
// material documents the caller's zeroization responsibility, following
// the pattern of upspin.io/pack/ee's gcmWrap/aesUnwrap and crypt helpers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"

	"cipherbox.dev/errors"
)

// AESKeyLen is the key size in bytes for AES-256, used for every
// symmetric key in the hierarchy.
const AESKeyLen = 32

// GCMNonceLen is the IV/nonce length AES-GCM uses throughout the core.
const GCMNonceLen = 12

// GCMTagLen is the authentication tag length AES-GCM appends.
const GCMTagLen = 16

// AESGCMEncrypt seals plaintext with key under iv, returning the
// ciphertext with the 16-byte authentication tag appended. key must be
// AESKeyLen bytes and iv must be GCMNonceLen bytes.
func AESGCMEncrypt(plaintext, key, iv []byte) ([]byte, error) {
	const op = "crypto.AESGCMEncrypt"
	aead, err := newGCM(key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if len(iv) != GCMNonceLen {
		return nil, errors.E(op, errors.Invalid, errors.Str("iv must be 12 bytes"))
	}
	dst := make([]byte, 0, len(plaintext)+GCMTagLen)
	return aead.Seal(dst, iv, plaintext, nil), nil
}

// AESGCMDecrypt opens ciphertext (which must have the authentication tag
// appended, as produced by AESGCMEncrypt) with key under iv. It returns
// errors.AuthFailure on tag mismatch, never partial plaintext.
func AESGCMDecrypt(ciphertext, key, iv []byte) ([]byte, error) {
	const op = "crypto.AESGCMDecrypt"
	aead, err := newGCM(key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if len(iv) != GCMNonceLen {
		return nil, errors.E(op, errors.Invalid, errors.Str("iv must be 12 bytes"))
	}
	if len(ciphertext) < GCMTagLen {
		return nil, errors.E(op, errors.MalformedCiphertext, errors.Str("ciphertext shorter than tag"))
	}
	dst := make([]byte, 0, len(ciphertext)-GCMTagLen)
	plaintext, err := aead.Open(dst, iv, ciphertext, nil)
	if err != nil {
		return nil, errors.E(op, errors.AuthFailure, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeyLen {
		return nil, errors.E(errors.Invalid, errors.Str("key must be 32 bytes for AES-256"))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ConstantTimeEqual reports whether a and b have equal contents, in time
// independent of where they first differ. Every tag or signature
// comparison in the core goes through this rather than bytes.Equal.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
