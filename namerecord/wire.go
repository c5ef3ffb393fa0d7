// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package namerecord

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"cipherbox.dev/errors"
	"cipherbox.dev/vault"
)

// wireRecord is the JSON transport shape of a Record (spec.md §6.4):
// hex for the encrypted payload and IV, base64 for the signature.
type wireRecord struct {
	Version           string `json:"version"`
	EncryptedMetadata string `json:"encryptedMetadata"`
	IV                string `json:"iv"`
	SequenceNumber    uint64 `json:"sequenceNumber"`
	Signature         string `json:"signature"`
	Validity          int64  `json:"validity"`
}

// MarshalWire encodes r in its on-wire JSON form.
func (r Record) MarshalWire() ([]byte, error) {
	const op = "namerecord.MarshalWire"
	w := wireRecord{
		Version:           r.Version,
		EncryptedMetadata: hex.EncodeToString(r.EncryptedMetadata),
		IV:                hex.EncodeToString(r.IV),
		SequenceNumber:    r.SequenceNumber,
		Signature:         base64.StdEncoding.EncodeToString(r.Signature),
		Validity:          int64(r.ValidUntil),
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return data, nil
}

// UnmarshalWire decodes an on-wire JSON record, failing with
// MalformedMetadata on JSON or encoding errors.
func UnmarshalWire(data []byte) (Record, error) {
	const op = "namerecord.UnmarshalWire"
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, errors.E(op, errors.MalformedMetadata, err)
	}
	em, err := hex.DecodeString(w.EncryptedMetadata)
	if err != nil {
		return Record{}, errors.E(op, errors.MalformedMetadata, err)
	}
	iv, err := hex.DecodeString(w.IV)
	if err != nil {
		return Record{}, errors.E(op, errors.MalformedMetadata, err)
	}
	sig, err := base64.StdEncoding.DecodeString(w.Signature)
	if err != nil {
		return Record{}, errors.E(op, errors.MalformedMetadata, err)
	}
	return Record{
		Version:           w.Version,
		EncryptedMetadata: em,
		IV:                iv,
		SequenceNumber:    w.SequenceNumber,
		Signature:         sig,
		ValidUntil:        vault.Time(w.Validity),
	}, nil
}
