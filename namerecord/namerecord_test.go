// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package namerecord

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cipherbox.dev/crypto"
)

func genKeypair(t *testing.T) (pub, priv []byte) {
	t.Helper()
	pub, priv, err := crypto.Ed25519GenerateKeypair()
	require.NoError(t, err)
	return pub, priv
}

func TestSignAndVerify(t *testing.T) {
	pub, priv := genKeypair(t)
	r, err := SignRecord([]byte("envelope"), []byte("iv12"), 1, priv)
	require.NoError(t, err)
	require.True(t, VerifyRecord(r, pub))
}

func TestVerifyFailsOnTamperedPayload(t *testing.T) {
	pub, priv := genKeypair(t)
	r, err := SignRecord([]byte("envelope"), []byte("iv12"), 1, priv)
	require.NoError(t, err)

	r.EncryptedMetadata = []byte("tampered")
	require.False(t, VerifyRecord(r, pub))
}

func TestVerifyFailsOnTamperedSequence(t *testing.T) {
	pub, priv := genKeypair(t)
	r, err := SignRecord([]byte("envelope"), []byte("iv12"), 1, priv)
	require.NoError(t, err)

	r.SequenceNumber = 2
	require.False(t, VerifyRecord(r, pub))
}

func TestZeroSequenceNeverValid(t *testing.T) {
	pub, priv := genKeypair(t)
	r, err := SignRecord([]byte("envelope"), []byte("iv12"), 1, priv)
	require.NoError(t, err)
	r.SequenceNumber = 0
	require.False(t, VerifyRecord(r, pub))
}

func TestSignRecordRejectsZeroSeq(t *testing.T) {
	_, priv := genKeypair(t)
	_, err := SignRecord([]byte("x"), []byte("iv"), 0, priv)
	require.Error(t, err)
}

func TestCountersign(t *testing.T) {
	oldPub, oldPriv := genKeypair(t)
	newPub, newPriv := genKeypair(t)

	r, err := SignRecord([]byte("envelope"), []byte("iv12"), 1, oldPriv)
	require.NoError(t, err)
	require.True(t, VerifyRecord(r, oldPub))

	r2, err := Countersign(r, oldPub, newPriv)
	require.NoError(t, err)
	require.True(t, VerifyRecord(r2, newPub))
	require.Equal(t, r.SequenceNumber, r2.SequenceNumber)
	require.Equal(t, r.EncryptedMetadata, r2.EncryptedMetadata)
}

func TestCountersignRejectsBadOldSignature(t *testing.T) {
	oldPub, _ := genKeypair(t)
	_, otherPriv := genKeypair(t)
	_, newPriv := genKeypair(t)

	r, err := SignRecord([]byte("envelope"), []byte("iv12"), 1, otherPriv)
	require.NoError(t, err)

	_, err = Countersign(r, oldPub, newPriv)
	require.Error(t, err)
}
