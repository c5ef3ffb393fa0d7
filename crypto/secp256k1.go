// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"cipherbox.dev/errors"
)

// Secp256k1PrivLen and Secp256k1PubLen are the byte lengths of the
// private scalar and the uncompressed public key.
const (
	Secp256k1PrivLen = 32
	Secp256k1PubLen  = 65
)

// Secp256k1GenerateKeypair draws a fresh secp256k1 keypair from the OS
// CSPRNG. Used by tests and by anything standing in for the external
// identity collaborator (the core itself never generates the user's
// long-lived keypair — it receives one by value at session start).
func Secp256k1GenerateKeypair() (priv []byte, pubUncompressed []byte, err error) {
	const op = "crypto.Secp256k1GenerateKeypair"
	pk, err := secp.GeneratePrivateKey()
	if err != nil {
		return nil, nil, errors.E(op, err)
	}
	priv = pk.Serialize()
	pubUncompressed = pk.PubKey().SerializeUncompressed()
	return priv, pubUncompressed, nil
}

// Secp256k1DerivePublic returns the uncompressed public key matching the
// given 32-byte private scalar.
func Secp256k1DerivePublic(priv32 []byte) ([]byte, error) {
	const op = "crypto.Secp256k1DerivePublic"
	if len(priv32) != Secp256k1PrivLen {
		return nil, errors.E(op, errors.Invalid, errors.Str("private key must be 32 bytes"))
	}
	pk := secp.PrivKeyFromBytes(priv32)
	return pk.PubKey().SerializeUncompressed(), nil
}

// ecdhSharedSecret performs ECDH between priv and pub and returns a
// 65-byte buffer 0x04||X||Y of the resulting curve point, mirroring
// upspin.io/pack/ee's gcmWrap, which feeds elliptic.Marshal(curve, sx,
// sy) — the full point, not just the X coordinate — into HKDF.
func ecdhSharedSecret(priv *secp.PrivateKey, pub *secp.PublicKey) []byte {
	var pubPoint secp.JacobianPoint
	pub.AsJacobian(&pubPoint)

	var shared secp.JacobianPoint
	secp.ScalarMultNonConst(&priv.Key, &pubPoint, &shared)
	shared.ToAffine()

	x := shared.X.Bytes()
	y := shared.Y.Bytes()
	out := make([]byte, 0, 65)
	out = append(out, 0x04)
	out = append(out, x[:]...)
	out = append(out, y[:]...)
	return out
}
