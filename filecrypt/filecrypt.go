// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package filecrypt implements the per-file content cryptor (spec.md
// §4.C): a fresh random key and IV per file, whole-buffer AES-256-GCM for
// most content, and a streaming AES-256-CTR pipeline for media that wants
// incremental playback. It is grounded on upspin.io/pack/ee's
// blockPacker/blockUnpacker and crypt helpers, generalized from a packed
// multi-block format to a single mode-tagged record per spec.md §3.3.
package filecrypt

import (
	"strings"

	"cipherbox.dev/crypto"
	"cipherbox.dev/errors"
	"cipherbox.dev/keys"
	"cipherbox.dev/vault"
)

// EncryptedFile is the result of encrypting one file's content: the
// ciphertext (with GCM tag appended, or raw CTR bytes), the IV used, the
// file key ECIES-wrapped to the owner, the plaintext size, and the mode.
type EncryptedFile struct {
	Ciphertext     []byte
	IV             []byte
	WrappedFileKey []byte
	OriginalSize   int64
	Mode           vault.EncryptionMode
}

// ChooseMode implements spec.md §4.C's mode-selection table: streamable
// audio/video gets CTR so a consumer can start playback before the whole
// file is fetched; everything else gets GCM for its cheaper, local
// integrity check.
func ChooseMode(mimeType string, streamingEnabled bool) vault.EncryptionMode {
	if streamingEnabled && isStreamableMIME(mimeType) {
		return vault.ModeCTR
	}
	return vault.ModeGCM
}

func isStreamableMIME(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "video/")
}

// EncryptFile encrypts plaintext for mode, generating an independent
// file key and IV (K1, K2: two calls on identical plaintext never share
// a key, IV, ciphertext, or wrapped key). The file key is wrapped to
// userPub so only the vault owner (or a share recipient holding a
// re-wrapped copy, §4.I) can recover it.
func EncryptFile(plaintext []byte, userPub vault.PublicKey, mode vault.EncryptionMode) (EncryptedFile, error) {
	const op = "filecrypt.EncryptFile"

	fileKey, err := keys.GenerateFileKey()
	if err != nil {
		return EncryptedFile{}, errors.E(op, err)
	}
	defer fileKey.Zero()

	switch mode {
	case vault.ModeGCM:
		return encryptGCM(op, plaintext, fileKey, userPub)
	case vault.ModeCTR:
		return encryptCTR(op, plaintext, fileKey, userPub)
	default:
		return EncryptedFile{}, errors.E(op, errors.Invalid, errors.Str("unknown encryption mode"))
	}
}

func encryptGCM(op string, plaintext []byte, fileKey keys.FileKey, userPub vault.PublicKey) (EncryptedFile, error) {
	iv, err := crypto.RandomBytes(crypto.GCMNonceLen)
	if err != nil {
		return EncryptedFile{}, errors.E(op, err)
	}
	ciphertext, err := crypto.AESGCMEncrypt(plaintext, fileKey.Bytes(), iv)
	if err != nil {
		return EncryptedFile{}, errors.E(op, err)
	}
	wrapped, err := keys.WrapForOwner(fileKey.Bytes(), userPub)
	if err != nil {
		return EncryptedFile{}, errors.E(op, err)
	}
	return EncryptedFile{
		Ciphertext:     ciphertext,
		IV:             iv,
		WrappedFileKey: wrapped,
		OriginalSize:   int64(len(plaintext)),
		Mode:           vault.ModeGCM,
	}, nil
}

func encryptCTR(op string, plaintext []byte, fileKey keys.FileKey, userPub vault.PublicKey) (EncryptedFile, error) {
	iv, err := crypto.RandomBytes(crypto.CTRIVLen)
	if err != nil {
		return EncryptedFile{}, errors.E(op, err)
	}
	stream, err := crypto.NewCTRStream(fileKey.Bytes(), iv)
	if err != nil {
		return EncryptedFile{}, errors.E(op, err)
	}
	ciphertext := make([]byte, len(plaintext))
	stream.XORKeyStream(ciphertext, plaintext)

	wrapped, err := keys.WrapForOwner(fileKey.Bytes(), userPub)
	if err != nil {
		return EncryptedFile{}, errors.E(op, err)
	}
	return EncryptedFile{
		Ciphertext:     ciphertext,
		IV:             iv,
		WrappedFileKey: wrapped,
		OriginalSize:   int64(len(plaintext)),
		Mode:           vault.ModeCTR,
	}, nil
}

// DecryptFile recovers plaintext from ef using userPriv to unwrap the
// file key. For GCM, the tag is verified before any plaintext is
// returned. For CTR, authenticatedContentAddress must be supplied and
// must equal the content address the caller already verified against a
// signed name record (§4.E); filecrypt never decrypts CTR content
// without this witness (P11).
func DecryptFile(ef EncryptedFile, userPriv []byte, authenticatedContentAddress string) ([]byte, error) {
	return DecryptFileWith(ef, keys.Owner{Priv: userPriv}, "", authenticatedContentAddress)
}

// DecryptFileWith is DecryptFile generalized over a keys.ReadAuthority,
// so the same decryption path serves the owner (keys.Owner) and a share
// recipient (share.Recipient) — dispatch happens once, here at the
// boundary. itemID identifies the file within a share's child-key
// catalog; the owner path ignores it.
func DecryptFileWith(ef EncryptedFile, auth keys.ReadAuthority, itemID vault.ItemID, authenticatedContentAddress string) ([]byte, error) {
	const op = "filecrypt.DecryptFile"

	fileKeyBytes, err := auth.UnwrapKey(itemID, ef.WrappedFileKey)
	if err != nil {
		return nil, errors.E(op, errors.AuthFailure, err)
	}
	defer zero(fileKeyBytes)

	switch ef.Mode {
	case vault.ModeGCM:
		plaintext, err := crypto.AESGCMDecrypt(ef.Ciphertext, fileKeyBytes, ef.IV)
		if err != nil {
			return nil, errors.E(op, err)
		}
		return plaintext, nil
	case vault.ModeCTR:
		if authenticatedContentAddress == "" {
			return nil, errors.E(op, errors.AuthFailure, errors.Str("CTR content requires an authenticated content address witness"))
		}
		want := ContentAddress(ef.Ciphertext)
		if !crypto.ConstantTimeEqual([]byte(want), []byte(authenticatedContentAddress)) {
			return nil, errors.E(op, errors.AuthFailure, errors.Str("CTR content address does not match signed record"))
		}
		stream, err := crypto.NewCTRStream(fileKeyBytes, ef.IV)
		if err != nil {
			return nil, errors.E(op, err)
		}
		plaintext := make([]byte, len(ef.Ciphertext))
		stream.XORKeyStream(plaintext, ef.Ciphertext)
		return plaintext, nil
	default:
		return nil, errors.E(op, errors.Invalid, errors.Str("unknown encryption mode"))
	}
}

// ContentAddress computes the content-address witness filecrypt expects
// for CTR decryption: a hex SHA-256 digest of the ciphertext. The actual
// storage network may use a different addressing scheme (e.g. a CID);
// callers bridging to a real relay compute this the same way the relay
// does and pass its result as the witness, not filecrypt's own digest,
// whenever the two differ. For content addressed exactly by
// sha256(ciphertext), this helper is sufficient on its own.
func ContentAddress(ciphertext []byte) string {
	return hexEncode(crypto.SHA256(ciphertext))
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// NewChunkedCTREncryptor returns a crypto.CTRStream plus its IV for
// encrypting plaintext incrementally (e.g. from crypto.NewChunkReader)
// instead of buffering the whole file, for large media uploads.
func NewChunkedCTREncryptor() (stream *crypto.CTRStream, fileKey keys.FileKey, iv []byte, err error) {
	const op = "filecrypt.NewChunkedCTREncryptor"
	fileKey, err = keys.GenerateFileKey()
	if err != nil {
		return nil, keys.FileKey{}, nil, errors.E(op, err)
	}
	iv, err = crypto.RandomBytes(crypto.CTRIVLen)
	if err != nil {
		fileKey.Zero()
		return nil, keys.FileKey{}, nil, errors.E(op, err)
	}
	stream, err = crypto.NewCTRStream(fileKey.Bytes(), iv)
	if err != nil {
		fileKey.Zero()
		return nil, keys.FileKey{}, nil, errors.E(op, err)
	}
	return stream, fileKey, iv, nil
}
