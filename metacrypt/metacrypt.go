// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metacrypt implements the Metadata Cryptor (spec.md §4.D):
// authenticated JSON envelopes for folder children lists and per-file
// metadata records. It is grounded on upspin.io/dir/server/tree's idea of
// a small authenticated envelope wrapping a children list, with field
// naming borrowed from the mapleapps-ca-monorepo file model's separation
// of encrypted-envelope fields from plaintext wire bookkeeping.
package metacrypt

import (
	"encoding/json"

	"cipherbox.dev/crypto"
	"cipherbox.dev/errors"
	"cipherbox.dev/vault"
)

// ChildKind discriminates the two variants a folder's children[] entry
// may take (spec.md §3.2).
type ChildKind string

const (
	ChildFolder      ChildKind = "folder"
	ChildFilePointer ChildKind = "file"
)

// Child is one entry in a folder's encrypted envelope. Exactly one of
// the Folder-only or FilePointer-only field groups is meaningful,
// selected by Kind; encoding/json serializes both but a well-formed
// envelope never sets the fields of the other variant.
type Child struct {
	Kind ChildKind `json:"kind"`
	ID   vault.ItemID `json:"id"`
	Name string       `json:"name"`

	// Folder-variant fields.
	MutableName           vault.MutableName `json:"mutableName,omitempty"`
	WrappedFolderKey       []byte            `json:"wrappedFolderKey,omitempty"`
	WrappedNameSigningKey  []byte            `json:"wrappedNameSigningKey,omitempty"`

	// FilePointer-variant field: the file's own metadata record name.
	// File pointers never carry the file key or content address
	// directly (spec.md §3.2) — those live one indirection away.
	FileMetaMutableName vault.MutableName `json:"fileMetaMutableName,omitempty"`

	Created  vault.Time `json:"created"`
	Modified vault.Time `json:"modified"`
}

// folderPlaintext is the JSON shape sealed inside a folder envelope
// (spec.md §3.5): children plus folder-level timestamps.
type folderPlaintext struct {
	Children []Child `json:"children"`
	Metadata struct {
		Created  vault.Time `json:"created"`
		Modified vault.Time `json:"modified"`
	} `json:"metadata"`
}

// Envelope is an authenticated-encrypted blob plus the IV used to seal
// it — the on-wire shape of both folder and file metadata records.
type Envelope struct {
	EncryptedMetadata []byte
	IV                []byte
}

// EncryptFolderMetadata JSON-serializes children and the folder's
// created/modified timestamps, then AES-256-GCM seals the result with
// folderKey under a fresh IV. The plaintext JSON is canonical enough
// that a fresh encrypt of an unchanged children list, followed by
// decrypt, round-trips to an equal value — only the IV (and therefore
// the ciphertext) varies between calls.
func EncryptFolderMetadata(children []Child, created, modified vault.Time, folderKey []byte) (Envelope, error) {
	const op = "metacrypt.EncryptFolderMetadata"
	if children == nil {
		children = []Child{}
	}
	p := folderPlaintext{Children: children}
	p.Metadata.Created = created
	p.Metadata.Modified = modified

	plaintext, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, errors.E(op, errors.MalformedMetadata, err)
	}
	return seal(op, plaintext, folderKey)
}

// DecryptFolderMetadata reverses EncryptFolderMetadata, failing with
// AuthFailure on tag mismatch or MalformedMetadata on JSON errors.
func DecryptFolderMetadata(env Envelope, folderKey []byte) (children []Child, created, modified vault.Time, err error) {
	const op = "metacrypt.DecryptFolderMetadata"
	plaintext, err := open(op, env, folderKey)
	if err != nil {
		return nil, 0, 0, err
	}
	var p folderPlaintext
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, 0, 0, errors.E(op, errors.MalformedMetadata, err)
	}
	return p.Children, p.Metadata.Created, p.Metadata.Modified, nil
}

// FileVersion is one entry in a file metadata record's ordered history
// (oldest first), spec.md §3.3.
type FileVersion struct {
	ContentAddress vault.ContentAddress `json:"contentAddress"`
	WrappedFileKey []byte               `json:"wrappedFileKey"`
	IV             []byte               `json:"iv"`
	Mode           vault.EncryptionMode `json:"mode"`
	Size           int64                `json:"size"`
	Timestamp      vault.Time           `json:"timestamp"`
}

// FileMetadata is the plaintext shape of a file's own metadata record
// (spec.md §3.3). It is encrypted with the parent folder's key, the same
// key that decrypts the parent's children envelope — the indirection
// exists so replacing a file's content address and key (update) never
// requires rewriting the parent folder's own record.
type FileMetadata struct {
	ContentAddress vault.ContentAddress `json:"contentAddress"`
	WrappedFileKey []byte               `json:"wrappedFileKey"`
	IV             []byte               `json:"iv"`
	Mode           vault.EncryptionMode `json:"mode"`
	Size           int64                `json:"size"`
	OriginalName   string               `json:"originalName"`
	Created        vault.Time           `json:"created"`
	Modified       vault.Time           `json:"modified"`
	Versions       []FileVersion        `json:"versions"`
}

// EncryptFileMetadata seals fm with the parent folder's key.
func EncryptFileMetadata(fm FileMetadata, parentFolderKey []byte) (Envelope, error) {
	const op = "metacrypt.EncryptFileMetadata"
	if fm.Versions == nil {
		fm.Versions = []FileVersion{}
	}
	plaintext, err := json.Marshal(fm)
	if err != nil {
		return Envelope{}, errors.E(op, errors.MalformedMetadata, err)
	}
	return seal(op, plaintext, parentFolderKey)
}

// DecryptFileMetadata reverses EncryptFileMetadata.
func DecryptFileMetadata(env Envelope, parentFolderKey []byte) (FileMetadata, error) {
	const op = "metacrypt.DecryptFileMetadata"
	plaintext, err := open(op, env, parentFolderKey)
	if err != nil {
		return FileMetadata{}, err
	}
	var fm FileMetadata
	if err := json.Unmarshal(plaintext, &fm); err != nil {
		return FileMetadata{}, errors.E(op, errors.MalformedMetadata, err)
	}
	return fm, nil
}

func seal(op string, plaintext, key []byte) (Envelope, error) {
	iv, err := crypto.RandomBytes(crypto.GCMNonceLen)
	if err != nil {
		return Envelope{}, errors.E(op, err)
	}
	ciphertext, err := crypto.AESGCMEncrypt(plaintext, key, iv)
	if err != nil {
		return Envelope{}, errors.E(op, err)
	}
	return Envelope{EncryptedMetadata: ciphertext, IV: iv}, nil
}

func open(op string, env Envelope, key []byte) ([]byte, error) {
	plaintext, err := crypto.AESGCMDecrypt(env.EncryptedMetadata, key, env.IV)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return plaintext, nil
}
