// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keys

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherbox.dev/crypto"
	"cipherbox.dev/vault"
)

func TestGenerateFolderKeyIndependence(t *testing.T) {
	k1, err := GenerateFolderKey()
	require.NoError(t, err)
	k2, err := GenerateFolderKey()
	require.NoError(t, err)
	require.NotEqual(t, k1.Bytes(), k2.Bytes())
}

func TestWrapUnwrapForOwnerRoundTrip(t *testing.T) {
	priv, pub, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	userPub := vault.PublicKey(hex.EncodeToString(pub))

	fk, err := GenerateFolderKey()
	require.NoError(t, err)

	wrapped, err := WrapForOwner(fk.Bytes(), userPub)
	require.NoError(t, err)

	unwrapped, err := UnwrapForOwner(wrapped, priv)
	require.NoError(t, err)
	require.Equal(t, fk.Bytes(), unwrapped)
}

func TestUnwrapForOwnerWrongKeyFails(t *testing.T) {
	_, pub, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	otherPriv, _, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	userPub := vault.PublicKey(hex.EncodeToString(pub))

	fk, err := GenerateFolderKey()
	require.NoError(t, err)
	wrapped, err := WrapForOwner(fk.Bytes(), userPub)
	require.NoError(t, err)

	_, err = UnwrapForOwner(wrapped, otherPriv)
	require.Error(t, err)
}

func TestWrapForRecipientUsableByRecipientOnly(t *testing.T) {
	ownerPriv, ownerPub, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	recipientPriv, recipientPub, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)

	fk, err := GenerateFolderKey()
	require.NoError(t, err)

	shared, err := WrapForRecipient(fk.Bytes(), vault.PublicKey(hex.EncodeToString(recipientPub)))
	require.NoError(t, err)

	_, err = UnwrapForOwner(shared, ownerPriv)
	require.Error(t, err, "owner key must not unwrap a recipient-wrapped share")

	got, err := UnwrapForOwner(shared, recipientPriv)
	require.NoError(t, err)
	require.Equal(t, fk.Bytes(), got)

	_ = ownerPub
}

func TestRotateFolderName(t *testing.T) {
	priv, pub, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	userPub := vault.PublicKey(hex.EncodeToString(pub))

	kp, wrapped, err := RotateFolderName(userPub)
	require.NoError(t, err)
	require.NotEmpty(t, kp.Public)

	// The wrapped form the parent envelope stores unwraps back to the
	// new private key.
	unwrapped, err := UnwrapForOwner(wrapped, priv)
	require.NoError(t, err)
	require.Equal(t, kp.PrivateBytes(), unwrapped)
}

func TestFolderKeyZeroClearsBuffer(t *testing.T) {
	fk, err := GenerateFolderKey()
	require.NoError(t, err)
	fk.Zero()
	for _, b := range fk.Bytes() {
		require.Zero(t, b)
	}
}

func TestNameKeypairSignAndZero(t *testing.T) {
	nk, err := GenerateNameSigningKey()
	require.NoError(t, err)
	require.NotEmpty(t, nk.Public)

	msg := []byte("folder-record-transcript")
	sig, err := crypto.Ed25519Sign(msg, nk.PrivateBytes())
	require.NoError(t, err)

	pubBytes, err := hex.DecodeString(string(nk.Public))
	require.NoError(t, err)
	require.True(t, crypto.Ed25519Verify(msg, sig, pubBytes))

	nk.Zero()
	for _, b := range nk.PrivateBytes() {
		require.Zero(t, b)
	}
}
