// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package filecrypt

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherbox.dev/crypto"
	"cipherbox.dev/errors"
	"cipherbox.dev/vault"
)

func genUser(t *testing.T) (priv []byte, pub vault.PublicKey) {
	t.Helper()
	priv, pubBytes, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	return priv, vault.PublicKey(hex.EncodeToString(pubBytes))
}

func TestChooseMode(t *testing.T) {
	require.Equal(t, vault.ModeCTR, ChooseMode("video/mp4", true))
	require.Equal(t, vault.ModeCTR, ChooseMode("audio/mpeg", true))
	require.Equal(t, vault.ModeGCM, ChooseMode("video/mp4", false))
	require.Equal(t, vault.ModeGCM, ChooseMode("application/octet-stream", true))
}

func TestRoundTripGCM(t *testing.T) {
	priv, pub := genUser(t)
	plaintext := make([]byte, 256)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	ef, err := EncryptFile(plaintext, pub, vault.ModeGCM)
	require.NoError(t, err)
	require.Len(t, ef.IV, crypto.GCMNonceLen)
	require.Equal(t, int64(256), ef.OriginalSize)

	got, err := DecryptFile(ef, priv, "")
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestNoDedup(t *testing.T) {
	_, pub := genUser(t)
	plaintext := []byte("identical content uploaded twice")

	ef1, err := EncryptFile(plaintext, pub, vault.ModeGCM)
	require.NoError(t, err)
	ef2, err := EncryptFile(plaintext, pub, vault.ModeGCM)
	require.NoError(t, err)

	require.NotEqual(t, ef1.Ciphertext, ef2.Ciphertext)
	require.NotEqual(t, ef1.IV, ef2.IV)
	require.NotEqual(t, ef1.WrappedFileKey, ef2.WrappedFileKey)
}

func TestTamperDetection(t *testing.T) {
	priv, pub := genUser(t)
	plaintext := []byte("tamper me if you can")
	ef, err := EncryptFile(plaintext, pub, vault.ModeGCM)
	require.NoError(t, err)

	ef.Ciphertext[5] ^= 0xFF
	_, err = DecryptFile(ef, priv, "")
	require.True(t, errors.Is(errors.AuthFailure, err))
}

func TestWrongKeyFails(t *testing.T) {
	privA, pubA := genUser(t)
	privB, _ := genUser(t)
	_ = privA

	ef, err := EncryptFile([]byte("secret"), pubA, vault.ModeGCM)
	require.NoError(t, err)

	_, err = DecryptFile(ef, privB, "")
	require.True(t, errors.Is(errors.AuthFailure, err))
}

func TestCTRRequiresWitness(t *testing.T) {
	priv, pub := genUser(t)
	plaintext := []byte("streamed media bytes")
	ef, err := EncryptFile(plaintext, pub, vault.ModeCTR)
	require.NoError(t, err)

	_, err = DecryptFile(ef, priv, "")
	require.True(t, errors.Is(errors.AuthFailure, err))

	_, err = DecryptFile(ef, priv, "0000")
	require.True(t, errors.Is(errors.AuthFailure, err))

	got, err := DecryptFile(ef, priv, ContentAddress(ef.Ciphertext))
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestCTRRoundTrip(t *testing.T) {
	priv, pub := genUser(t)
	plaintext := make([]byte, 1<<20) // larger than one CTR chunk
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}
	ef, err := EncryptFile(plaintext, pub, vault.ModeCTR)
	require.NoError(t, err)

	got, err := DecryptFile(ef, priv, ContentAddress(ef.Ciphertext))
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}
