// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package share implements the Share Protocol (spec.md §4.I): re-wrap
// an item's key subtree for a named recipient. It is grounded directly
// on upspin.io/pack/ee.Share — extract the decryption key, re-wrap it
// for a revised reader set — generalized from a flat per-entry rewrap
// to a catalog built by walking a folder subtree. Share consumption is
// strictly read-only; a recipient never publishes.
package share

import (
	"context"
	"encoding/hex"
	"sync"

	"golang.org/x/sync/errgroup"

	"cipherbox.dev/crypto"
	"cipherbox.dev/errors"
	"cipherbox.dev/keys"
	"cipherbox.dev/relay"
	"cipherbox.dev/tree"
	"cipherbox.dev/vault"
)

// Item types a share may name.
const (
	ItemFile   = "file"
	ItemFolder = "folder"
)

// ChildKey is one re-wrapped descendant key, indexed by item id.
type ChildKey struct {
	ItemID       vault.ItemID
	EncryptedKey []byte
}

// Share authorizes a recipient (by public key) to read one item and
// its descendants (spec.md §3.6). For a folder, TopLevelEncryptedKey is
// the folder's own key wrapped to the recipient; for a file, it is the
// parent folder's key, so the recipient can decrypt the parent envelope
// holding the file pointer.
type Share struct {
	ShareID              string
	RecipientPublicKey   vault.PublicKey
	ItemType             string
	ItemMutableName      vault.MutableName
	ItemDisplayName      string
	TopLevelEncryptedKey []byte
	ChildKeys            []ChildKey
	CreatedAt            vault.Time
}

// Create walks the item's subtree in t, unwrapping every descendant key
// with auth (the owner) and re-wrapping it to recipientPub. Disjoint
// top-level branches are traversed in parallel; within a branch the
// walk is an explicit work queue with a depth check at enqueue time, so
// arbitrarily deep trees cost neither stack nor missed cancellation
// checks. Every plaintext key is zeroized before its scope returns.
func Create(ctx context.Context, t *tree.Tree, itemID vault.ItemID, recipientPub vault.PublicKey, auth keys.ReadAuthority) (Share, error) {
	const op = "share.Create"

	if f, err := t.File(itemID); err == nil {
		return createFileShare(op, t, f, recipientPub, auth)
	}
	folder, err := t.Folder(itemID)
	if err != nil {
		return Share{}, errors.E(op, itemID, errors.NotFound)
	}
	return createFolderShare(ctx, op, t, folder, recipientPub, auth)
}

func createFileShare(op string, t *tree.Tree, f tree.FileNode, recipientPub vault.PublicKey, auth keys.ReadAuthority) (Share, error) {
	parent, err := t.Folder(f.ParentID)
	if err != nil {
		return Share{}, errors.E(op, f.ParentID, err)
	}
	parentKey, err := auth.UnwrapKey(parent.ID, parent.WrappedFolderKey)
	if err != nil {
		return Share{}, errors.E(op, f.ID, err)
	}
	topLevel, err := keys.WrapForRecipient(parentKey, recipientPub)
	zero(parentKey)
	if err != nil {
		return Share{}, errors.E(op, f.ID, err)
	}

	fileKey, err := auth.UnwrapKey(f.ID, f.WrappedFileKey)
	if err != nil {
		return Share{}, errors.E(op, f.ID, err)
	}
	rewrapped, err := keys.WrapForRecipient(fileKey, recipientPub)
	zero(fileKey)
	if err != nil {
		return Share{}, errors.E(op, f.ID, err)
	}

	return Share{
		RecipientPublicKey:   recipientPub,
		ItemType:             ItemFile,
		ItemMutableName:      f.MutableName,
		ItemDisplayName:      f.Name,
		TopLevelEncryptedKey: topLevel,
		ChildKeys:            []ChildKey{{ItemID: f.ID, EncryptedKey: rewrapped}},
		CreatedAt:            vault.Now(),
	}, nil
}

func createFolderShare(ctx context.Context, op string, t *tree.Tree, folder tree.FolderNode, recipientPub vault.PublicKey, auth keys.ReadAuthority) (Share, error) {
	folderKey, err := auth.UnwrapKey(folder.ID, folder.WrappedFolderKey)
	if err != nil {
		return Share{}, errors.E(op, folder.ID, err)
	}
	topLevel, err := keys.WrapForRecipient(folderKey, recipientPub)
	zero(folderKey)
	if err != nil {
		return Share{}, errors.E(op, folder.ID, err)
	}

	// Rewrap the shared folder's own files inline, then fan the
	// disjoint subfolder branches out on an errgroup: ordering within
	// the catalog is irrelevant (spec.md §4.I).
	var (
		mu      sync.Mutex
		catalog []ChildKey
	)
	appendKeys := func(ks []ChildKey) {
		mu.Lock()
		catalog = append(catalog, ks...)
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, c := range folder.Children {
		if !c.IsFolder {
			ck, err := rewrapFile(t, c.ID, recipientPub, auth)
			if err != nil {
				return Share{}, errors.E(op, err)
			}
			appendKeys([]ChildKey{ck})
			continue
		}
		branchID := c.ID
		g.Go(func() error {
			ks, err := rewrapBranch(ctx, t, branchID, recipientPub, auth)
			if err != nil {
				return err
			}
			appendKeys(ks)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Share{}, errors.E(op, err)
	}

	return Share{
		RecipientPublicKey:   recipientPub,
		ItemType:             ItemFolder,
		ItemMutableName:      folder.MutableName,
		ItemDisplayName:      folder.Name,
		TopLevelEncryptedKey: topLevel,
		ChildKeys:            catalog,
		CreatedAt:            vault.Now(),
	}, nil
}

// rewrapBranch walks one subfolder branch breadth-first, rewrapping the
// branch root's folder key, every descendant folder key, and every
// descendant file key.
func rewrapBranch(ctx context.Context, t *tree.Tree, branchID vault.ItemID, recipientPub vault.PublicKey, auth keys.ReadAuthority) ([]ChildKey, error) {
	type item struct {
		id    vault.ItemID
		depth int
	}
	queue := []item{{id: branchID, depth: 1}}
	var out []ChildKey
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errors.E(errors.Cancelled, err)
		}
		cur := queue[0]
		queue = queue[1:]
		if cur.depth > tree.MaxDepth {
			return nil, errors.E(cur.id, errors.MaxDepthExceeded)
		}
		node, err := t.Folder(cur.id)
		if err != nil {
			return nil, err
		}
		folderKey, err := auth.UnwrapKey(node.ID, node.WrappedFolderKey)
		if err != nil {
			return nil, err
		}
		rewrapped, err := keys.WrapForRecipient(folderKey, recipientPub)
		zero(folderKey)
		if err != nil {
			return nil, err
		}
		out = append(out, ChildKey{ItemID: node.ID, EncryptedKey: rewrapped})

		for _, c := range node.Children {
			if c.IsFolder {
				if cur.depth+1 > tree.MaxDepth {
					return nil, errors.E(c.ID, errors.MaxDepthExceeded)
				}
				queue = append(queue, item{id: c.ID, depth: cur.depth + 1})
				continue
			}
			ck, err := rewrapFile(t, c.ID, recipientPub, auth)
			if err != nil {
				return nil, err
			}
			out = append(out, ck)
		}
	}
	return out, nil
}

func rewrapFile(t *tree.Tree, fileID vault.ItemID, recipientPub vault.PublicKey, auth keys.ReadAuthority) (ChildKey, error) {
	f, err := t.File(fileID)
	if err != nil {
		return ChildKey{}, err
	}
	fileKey, err := auth.UnwrapKey(f.ID, f.WrappedFileKey)
	if err != nil {
		return ChildKey{}, err
	}
	rewrapped, err := keys.WrapForRecipient(fileKey, recipientPub)
	zero(fileKey)
	if err != nil {
		return ChildKey{}, err
	}
	return ChildKey{ItemID: f.ID, EncryptedKey: rewrapped}, nil
}

// Index is the slice of the relay's share endpoints this package needs.
// *relay.Client satisfies it.
type Index interface {
	CreateShare(ctx context.Context, req relay.ShareRequest) (string, error)
	DeleteShare(ctx context.Context, shareID string) error
}

// Submit registers s with the relay's share index and returns s with
// the assigned share id filled in.
func Submit(ctx context.Context, idx Index, s Share) (Share, error) {
	const op = "share.Submit"
	req := relay.ShareRequest{
		RecipientPublicKey: s.RecipientPublicKey,
		ItemType:           s.ItemType,
		IpnsName:           s.ItemMutableName,
		ItemName:           s.ItemDisplayName,
		EncryptedKey:       hex.EncodeToString(s.TopLevelEncryptedKey),
	}
	for _, ck := range s.ChildKeys {
		req.ChildKeys = append(req.ChildKeys, relay.WireChildKey{
			ItemID:       ck.ItemID,
			EncryptedKey: hex.EncodeToString(ck.EncryptedKey),
		})
	}
	id, err := idx.CreateShare(ctx, req)
	if err != nil {
		return Share{}, errors.E(op, err)
	}
	s.ShareID = id
	return s, nil
}

// Revoke removes a share from the relay's index. This is a server-side
// mutation only: recipients keep any content addresses they already
// observed, and only a re-encryption of the item denies them future
// bytes (spec.md §3.7; cryptographic revocation is a non-goal).
func Revoke(ctx context.Context, idx Index, shareID string) error {
	const op = "share.Revoke"
	if err := idx.DeleteShare(ctx, shareID); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// FromWire rebuilds a Share from its relay record, on the recipient
// side.
func FromWire(rec relay.ShareRecord) (Share, error) {
	const op = "share.FromWire"
	top, err := hex.DecodeString(rec.EncryptedKey)
	if err != nil {
		return Share{}, errors.E(op, errors.MalformedMetadata, err)
	}
	s := Share{
		ShareID:              rec.ShareID,
		RecipientPublicKey:   rec.RecipientPublicKey,
		ItemType:             rec.ItemType,
		ItemMutableName:      rec.IpnsName,
		ItemDisplayName:      rec.ItemName,
		TopLevelEncryptedKey: top,
		CreatedAt:            rec.CreatedAt,
	}
	for _, ck := range rec.ChildKeys {
		raw, err := hex.DecodeString(ck.EncryptedKey)
		if err != nil {
			return Share{}, errors.E(op, errors.MalformedMetadata, err)
		}
		s.ChildKeys = append(s.ChildKeys, ChildKey{ItemID: ck.ItemID, EncryptedKey: raw})
	}
	return s, nil
}

// Recipient is the keys.ReadAuthority of a share recipient: every key
// lookup consults the share's re-wrapped catalog and unwraps with the
// recipient's own private key. The owner-wrapped ciphertext passed to
// UnwrapKey is ignored — a recipient cannot open it (K3).
type Recipient struct {
	priv    []byte
	top     []byte
	catalog map[vault.ItemID][]byte
}

var _ keys.ReadAuthority = Recipient{}

// NewRecipient builds the recipient-side view of s for the holder of
// recipientPriv.
func NewRecipient(s Share, recipientPriv []byte) Recipient {
	catalog := make(map[vault.ItemID][]byte, len(s.ChildKeys))
	for _, ck := range s.ChildKeys {
		catalog[ck.ItemID] = ck.EncryptedKey
	}
	return Recipient{priv: recipientPriv, top: s.TopLevelEncryptedKey, catalog: catalog}
}

// UnwrapKey implements keys.ReadAuthority.
func (r Recipient) UnwrapKey(item vault.ItemID, wrapped []byte) ([]byte, error) {
	const op = "share.Recipient.UnwrapKey"
	rewrapped, ok := r.catalog[item]
	if !ok {
		return nil, errors.E(op, item, errors.NotFound, errors.Str("item is not part of this share"))
	}
	key, err := crypto.ECIESDecrypt(rewrapped, r.priv)
	if err != nil {
		return nil, errors.E(op, item, errors.AuthFailure, err)
	}
	return key, nil
}

// TopLevelKey unwraps the share's top-level key: the shared folder's
// own key, or, for a file share, the parent folder's key. The caller
// owns the returned buffer and must zeroize it.
func (r Recipient) TopLevelKey() ([]byte, error) {
	const op = "share.Recipient.TopLevelKey"
	key, err := crypto.ECIESDecrypt(r.top, r.priv)
	if err != nil {
		return nil, errors.E(op, errors.AuthFailure, err)
	}
	return key, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
