// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package namerecord implements the Name-Record Engine (spec.md §4.E):
// building, signing, and verifying the signed mutable-name records that
// point at the latest encrypted folder or file metadata. It is grounded
// on upspin.io/pack/ee's sign/verify pattern (a hash over the entry's
// identifying fields, checked with ecdsa.Verify) generalized to Ed25519
// over sha256(encryptedMetadata||iv||sequenceNumber), and on
// pack/ee.Countersign for the key-rotation supplement described in
// SPEC_FULL.md.
package namerecord

import (
	"encoding/binary"
	"time"

	"cipherbox.dev/crypto"
	"cipherbox.dev/errors"
	"cipherbox.dev/vault"
)

// RecordVersion is the fixed on-wire version tag (spec.md §3.4); there is
// no negotiation, only this single value today.
const RecordVersion = "1.0"

// Validity is how far into the future a freshly signed record's validity
// timestamp is set (spec.md §4.E). The core never re-signs on a timer;
// an external republisher (§6.3) is responsible for records approaching
// expiry.
const Validity = 24 * time.Hour

// Record is the on-wire mutable-name record (spec.md §3.4).
type Record struct {
	Version        string
	EncryptedMetadata []byte
	IV             []byte
	Signature      []byte
	SequenceNumber uint64
	ValidUntil     vault.Time
}

// SignRecord builds and signs a Record for the given payload and
// sequence number using a folder's Ed25519 name-signing private key. The
// signed hash is sha256(encryptedMetadata || iv || LE64(newSeq)), so a
// record cannot be replayed at a different sequence number or with a
// swapped payload without invalidating the signature (P5).
func SignRecord(encryptedMetadata, iv []byte, newSeq uint64, namePriv []byte) (Record, error) {
	const op = "namerecord.SignRecord"
	if newSeq == 0 {
		return Record{}, errors.E(op, errors.Invalid, errors.Str("sequence number must be > 0"))
	}
	hash := recordHash(encryptedMetadata, iv, newSeq)
	sig, err := crypto.Ed25519Sign(hash, namePriv)
	if err != nil {
		return Record{}, errors.E(op, err)
	}
	return Record{
		Version:           RecordVersion,
		EncryptedMetadata: encryptedMetadata,
		IV:                iv,
		Signature:         sig,
		SequenceNumber:    newSeq,
		ValidUntil:        vault.Time(time.Now().Add(Validity).Unix()),
	}, nil
}

// VerifyRecord reports whether r was validly signed by the holder of
// expectedPub (a 32-byte Ed25519 public key) and carries a nonzero
// sequence number. It runs in time independent of where a mismatch
// occurs, via crypto.Ed25519Verify's constant-time comparison.
func VerifyRecord(r Record, expectedPub []byte) bool {
	if r.SequenceNumber == 0 {
		return false
	}
	hash := recordHash(r.EncryptedMetadata, r.IV, r.SequenceNumber)
	return crypto.Ed25519Verify(hash, r.Signature, expectedPub)
}

// Countersign re-signs an already-signed record with a new name-signing
// key without changing its payload or sequence number, so a folder whose
// name-signing keypair is being rotated (keys.RotateFolderName) remains
// verifiable by readers who still expect the old key's signature to
// chain to something, the way pack/ee.Countersign lets a rotating
// directory-entry signer attest to an entry a previous key already
// signed. The caller must already have verified r against oldPub; this
// function only re-verifies the supplied record's payload integrity, not
// the chain of trust between oldPub and newPriv, which is an
// out-of-band (identity service) concern.
func Countersign(r Record, oldPub []byte, newPriv []byte) (Record, error) {
	const op = "namerecord.Countersign"
	if !VerifyRecord(r, oldPub) {
		return Record{}, errors.E(op, errors.AuthFailure, errors.Str("existing record does not verify against old key"))
	}
	hash := recordHash(r.EncryptedMetadata, r.IV, r.SequenceNumber)
	sig, err := crypto.Ed25519Sign(hash, newPriv)
	if err != nil {
		return Record{}, errors.E(op, err)
	}
	out := r
	out.Signature = sig
	return out, nil
}

func recordHash(encryptedMetadata, iv []byte, seq uint64) []byte {
	buf := make([]byte, 0, len(encryptedMetadata)+len(iv)+8)
	buf = append(buf, encryptedMetadata...)
	buf = append(buf, iv...)
	var seqBytes [8]byte
	binary.LittleEndian.PutUint64(seqBytes[:], seq)
	buf = append(buf, seqBytes[:]...)
	return crypto.SHA256(buf)
}
