// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"cipherbox.dev/errors"
)

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// HKDFSHA256 derives L bytes of key material from ikm using HKDF-SHA256
// with the given salt and info, exactly as upspin.io/pack/ee's gcmWrap
// and aesUnwrap derive a strong symmetric key from an ECDH shared point.
func HKDFSHA256(ikm, salt, info []byte, l int) ([]byte, error) {
	const op = "crypto.HKDFSHA256"
	out := make([]byte, l)
	r := hkdf.New(sha256.New, ikm, salt, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.E(op, err)
	}
	return out, nil
}

// RandomBytes draws n bytes from the OS CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	const op = "crypto.RandomBytes"
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, errors.E(op, err)
	}
	return b, nil
}
