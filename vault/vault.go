// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vault defines the shared domain types used throughout the
// cipherbox client core: identifiers, time, and the public/private key
// wrapper types that keep transport encoding (hex/base64 strings) distinct
// from live key material (raw bytes, zeroized on drop).
package vault

import (
	"encoding/hex"
	"time"
)

// ItemID identifies a folder, file, or share. The core never interprets
// its contents; it is opaque outside the Folder Tree State and Share
// Protocol components.
type ItemID string

// MutableName is the opaque string that resolves, via the external name
// network, to a current content address.
type MutableName string

// ContentAddress is the opaque, hash-derived identifier the storage
// network assigns to a blob of bytes.
type ContentAddress string

// EncryptionMode names the per-file content cipher.
type EncryptionMode string

// The two encryption modes a file record may carry.
const (
	ModeGCM EncryptionMode = "GCM"
	ModeCTR EncryptionMode = "CTR"
)

// Time is a Unix-epoch second count, matching the on-wire representation
// of record validity and created/modified fields throughout the core.
type Time int64

// Now returns the current time truncated to the wire representation.
// Callers needing determinism (tests, replays) should construct a Time
// directly rather than call Now.
func Now() Time { return Time(time.Now().Unix()) }

func (t Time) String() string { return time.Unix(int64(t), 0).UTC().Format(time.RFC3339) }

// PublicKey is the transport (hex) encoding of a public key. It never
// holds live secret material and is safe to log, copy, and retain for the
// lifetime of a process.
type PublicKey string

// PrivateKeyBytes is raw, sensitive key material: a private scalar, a
// symmetric key, or similar. It is distinct from the hex/base64 transport
// strings used on the wire (PublicKey, wrapped-key ciphertexts) — key
// material is represented as raw bytes in memory and hex only at the
// transport boundary.
//
// Every PrivateKeyBytes the core allocates must be zeroized via Zero
// before its owning container is dropped.
type PrivateKeyBytes []byte

// Zero overwrites b with zeroes in place. It is the core's one
// constant-time-by-construction zeroization primitive; every key-owning
// type's cleanup path calls it.
func (b PrivateKeyBytes) Zero() {
	for i := range b {
		b[i] = 0
	}
}

// HexString renders b as a lowercase hex string for wire transport. The
// caller is responsible for zeroizing b afterward if it is no longer
// needed; HexString does not consume or clear its receiver.
func (b PrivateKeyBytes) HexString() string {
	return hex.EncodeToString(b)
}

// Signature is the transport (base64, via encoding/base64 at the call
// site) encoding of an Ed25519 signature over a name record.
type Signature []byte
