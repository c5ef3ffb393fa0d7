// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metacrypt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cipherbox.dev/crypto"
	"cipherbox.dev/errors"
	"cipherbox.dev/vault"
)

func genFolderKey(t *testing.T) []byte {
	t.Helper()
	k, err := crypto.RandomBytes(crypto.AESKeyLen)
	require.NoError(t, err)
	return k
}

func TestFolderMetadataRoundTrip(t *testing.T) {
	key := genFolderKey(t)
	children := []Child{
		{Kind: ChildFilePointer, ID: "file1", Name: "blob.bin", FileMetaMutableName: "ipns-file1"},
	}
	env, err := EncryptFolderMetadata(children, 100, 200, key)
	require.NoError(t, err)

	got, created, modified, err := DecryptFolderMetadata(env, key)
	require.NoError(t, err)
	require.Equal(t, children, got)
	require.Equal(t, vault.Time(100), created)
	require.Equal(t, vault.Time(200), modified)
}

func TestFolderMetadataIdempotentPlaintext(t *testing.T) {
	key := genFolderKey(t)
	children := []Child{{Kind: ChildFolder, ID: "f1", Name: "docs"}}

	env1, err := EncryptFolderMetadata(children, 1, 1, key)
	require.NoError(t, err)
	env2, err := EncryptFolderMetadata(children, 1, 1, key)
	require.NoError(t, err)

	// Fresh IV each call -> different ciphertext, same decrypted value.
	require.NotEqual(t, env1.EncryptedMetadata, env2.EncryptedMetadata)

	got1, _, _, err := DecryptFolderMetadata(env1, key)
	require.NoError(t, err)
	got2, _, _, err := DecryptFolderMetadata(env2, key)
	require.NoError(t, err)
	require.Equal(t, got1, got2)
}

func TestFolderMetadataTamperDetected(t *testing.T) {
	key := genFolderKey(t)
	env, err := EncryptFolderMetadata(nil, 0, 0, key)
	require.NoError(t, err)
	env.EncryptedMetadata[0] ^= 0xFF

	_, _, _, err = DecryptFolderMetadata(env, key)
	require.True(t, errors.Is(errors.AuthFailure, err))
}

func TestFolderMetadataWrongKey(t *testing.T) {
	key := genFolderKey(t)
	other := genFolderKey(t)
	env, err := EncryptFolderMetadata(nil, 0, 0, key)
	require.NoError(t, err)

	_, _, _, err = DecryptFolderMetadata(env, other)
	require.True(t, errors.Is(errors.AuthFailure, err))
}

func TestFileMetadataRoundTrip(t *testing.T) {
	key := genFolderKey(t)
	fm := FileMetadata{
		ContentAddress: "cid123",
		WrappedFileKey: []byte{1, 2, 3},
		IV:             []byte{4, 5, 6},
		Mode:           vault.ModeGCM,
		Size:           42,
		OriginalName:   "report.pdf",
		Created:        10,
		Modified:       20,
	}
	env, err := EncryptFileMetadata(fm, key)
	require.NoError(t, err)

	got, err := DecryptFileMetadata(env, key)
	require.NoError(t, err)
	require.Equal(t, fm.ContentAddress, got.ContentAddress)
	require.Equal(t, fm.OriginalName, got.OriginalName)
	require.Len(t, got.Versions, 0)
}

func TestFileMetadataMalformed(t *testing.T) {
	key := genFolderKey(t)
	iv, err := crypto.RandomBytes(crypto.GCMNonceLen)
	require.NoError(t, err)
	ciphertext, err := crypto.AESGCMEncrypt([]byte("not json"), key, iv)
	require.NoError(t, err)

	_, err = DecryptFileMetadata(Envelope{EncryptedMetadata: ciphertext, IV: iv}, key)
	require.True(t, errors.Is(errors.MalformedMetadata, err))
}
