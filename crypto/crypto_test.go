// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherbox.dev/errors"
)

func TestAESGCMRoundTrip(t *testing.T) {
	key, err := RandomBytes(AESKeyLen)
	require.NoError(t, err)
	iv, err := RandomBytes(GCMNonceLen)
	require.NoError(t, err)
	plaintext := []byte("hello, vault")

	ct, err := AESGCMEncrypt(plaintext, key, iv)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ct)

	pt, err := AESGCMDecrypt(ct, key, iv)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestAESGCMTamperDetected(t *testing.T) {
	key, _ := RandomBytes(AESKeyLen)
	iv, _ := RandomBytes(GCMNonceLen)
	ct, err := AESGCMEncrypt([]byte("payload"), key, iv)
	require.NoError(t, err)

	ct[0] ^= 0xFF
	_, err = AESGCMDecrypt(ct, key, iv)
	require.Error(t, err)
	require.True(t, errors.Is(errors.AuthFailure, err))
}

func TestAESGCMWrongKey(t *testing.T) {
	key1, _ := RandomBytes(AESKeyLen)
	key2, _ := RandomBytes(AESKeyLen)
	iv, _ := RandomBytes(GCMNonceLen)
	ct, err := AESGCMEncrypt([]byte("payload"), key1, iv)
	require.NoError(t, err)

	_, err = AESGCMDecrypt(ct, key2, iv)
	require.Error(t, err)
}

func TestCTRRoundTripViaChunkReader(t *testing.T) {
	key, _ := RandomBytes(AESKeyLen)
	iv, _ := RandomBytes(CTRIVLen)
	plaintext := bytes.Repeat([]byte("A quick stream of bytes. "), 5000)

	encStream, err := NewCTRStream(key, iv)
	require.NoError(t, err)
	r := NewChunkReader(bytes.NewReader(plaintext), encStream, 1<<13)

	var ciphertext bytes.Buffer
	for {
		chunk, ok := r.Next()
		if !ok {
			break
		}
		ciphertext.Write(chunk)
	}
	require.NoError(t, r.Err())
	require.NotEqual(t, plaintext, ciphertext.Bytes())

	decStream, err := NewCTRStream(key, iv)
	require.NoError(t, err)
	r2 := NewChunkReader(bytes.NewReader(ciphertext.Bytes()), decStream, 1<<13)
	var recovered bytes.Buffer
	for {
		chunk, ok := r2.Next()
		if !ok {
			break
		}
		recovered.Write(chunk)
	}
	require.NoError(t, r2.Err())
	require.Equal(t, plaintext, recovered.Bytes())
}

func TestHKDFDeterministic(t *testing.T) {
	ikm := []byte("shared-secret")
	out1, err := HKDFSHA256(ikm, nil, []byte("ctx"), 44)
	require.NoError(t, err)
	out2, err := HKDFSHA256(ikm, nil, []byte("ctx"), 44)
	require.NoError(t, err)
	require.Equal(t, out1, out2)

	out3, err := HKDFSHA256(ikm, nil, []byte("other-ctx"), 44)
	require.NoError(t, err)
	require.NotEqual(t, out1, out3)
}

func TestSecp256k1DerivePublicMatchesGenerate(t *testing.T) {
	priv, pub, err := Secp256k1GenerateKeypair()
	require.NoError(t, err)
	derived, err := Secp256k1DerivePublic(priv)
	require.NoError(t, err)
	require.Equal(t, pub, derived)
}

func TestECIESRoundTrip(t *testing.T) {
	priv, pub, err := Secp256k1GenerateKeypair()
	require.NoError(t, err)

	keyMaterial, err := RandomBytes(AESKeyLen)
	require.NoError(t, err)

	wrapped, err := ECIESEncrypt(keyMaterial, pub)
	require.NoError(t, err)

	unwrapped, err := ECIESDecrypt(wrapped, priv)
	require.NoError(t, err)
	require.Equal(t, keyMaterial, unwrapped)
}

func TestECIESWrongRecipientFails(t *testing.T) {
	_, pub, err := Secp256k1GenerateKeypair()
	require.NoError(t, err)
	otherPriv, _, err := Secp256k1GenerateKeypair()
	require.NoError(t, err)

	keyMaterial, _ := RandomBytes(AESKeyLen)
	wrapped, err := ECIESEncrypt(keyMaterial, pub)
	require.NoError(t, err)

	_, err = ECIESDecrypt(wrapped, otherPriv)
	require.Error(t, err)
}

func TestECIESTamperedBlobFails(t *testing.T) {
	priv, pub, err := Secp256k1GenerateKeypair()
	require.NoError(t, err)

	keyMaterial, _ := RandomBytes(AESKeyLen)
	wrapped, err := ECIESEncrypt(keyMaterial, pub)
	require.NoError(t, err)
	wrapped[len(wrapped)-1] ^= 0xFF

	_, err = ECIESDecrypt(wrapped, priv)
	require.Error(t, err)
}

func TestEd25519SignVerify(t *testing.T) {
	pub, priv, err := Ed25519GenerateKeypair()
	require.NoError(t, err)

	msg := []byte("name-record-transcript")
	sig, err := Ed25519Sign(msg, priv)
	require.NoError(t, err)
	require.True(t, Ed25519Verify(msg, sig, pub))

	require.False(t, Ed25519Verify([]byte("tampered"), sig, pub))
}

func TestRandomBytesLength(t *testing.T) {
	b, err := RandomBytes(32)
	require.NoError(t, err)
	require.Len(t, b, 32)
}
