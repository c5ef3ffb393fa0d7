// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metacrypt

import (
	"encoding/hex"
	"encoding/json"

	"cipherbox.dev/errors"
)

// wireEnvelope is the JSON transport shape of an Envelope: the bytes
// that get submitted to the relay's add endpoint and fetched back via
// cat. Both fields are hex, matching the record codec.
type wireEnvelope struct {
	EncryptedMetadata string `json:"encryptedMetadata"`
	IV                string `json:"iv"`
}

// MarshalWire encodes e in its on-wire JSON form.
func (e Envelope) MarshalWire() ([]byte, error) {
	const op = "metacrypt.MarshalWire"
	data, err := json.Marshal(wireEnvelope{
		EncryptedMetadata: hex.EncodeToString(e.EncryptedMetadata),
		IV:                hex.EncodeToString(e.IV),
	})
	if err != nil {
		return nil, errors.E(op, err)
	}
	return data, nil
}

// UnmarshalWire decodes an on-wire JSON envelope, failing with
// MalformedMetadata on JSON or encoding errors.
func UnmarshalWire(data []byte) (Envelope, error) {
	const op = "metacrypt.UnmarshalWire"
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, errors.E(op, errors.MalformedMetadata, err)
	}
	em, err := hex.DecodeString(w.EncryptedMetadata)
	if err != nil {
		return Envelope{}, errors.E(op, errors.MalformedMetadata, err)
	}
	iv, err := hex.DecodeString(w.IV)
	if err != nil {
		return Envelope{}, errors.E(op, errors.MalformedMetadata, err)
	}
	return Envelope{EncryptedMetadata: em, IV: iv}, nil
}
