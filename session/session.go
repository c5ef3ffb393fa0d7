// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session holds the VaultSession: the single value created at
// login that threads the user's keypair, the folder tree, the publish
// pipeline, and the sync engine through every public entry point
// (spec.md §9). There are no package-level singletons; all state hangs
// off the Session, the way upspin.io threads an immutable config value
// through its clients.
package session

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/google/uuid"

	"cipherbox.dev/config"
	"cipherbox.dev/errors"
	"cipherbox.dev/filecrypt"
	"cipherbox.dev/keys"
	"cipherbox.dev/log"
	"cipherbox.dev/publish"
	"cipherbox.dev/relay"
	"cipherbox.dev/share"
	"cipherbox.dev/syncengine"
	"cipherbox.dev/tree"
	"cipherbox.dev/vault"
)

// Session is one logged-in user's vault state. Created by New, armed by
// InitializeVault (first device) or Load (subsequent logins), destroyed
// by Logout.
type Session struct {
	cfg   config.Config
	relay *relay.Client

	userPub  vault.PublicKey
	userPriv vault.PrivateKeyBytes

	tree     *tree.Tree
	pipeline *publish.Pipeline
	engine   *syncengine.Engine
	quota    tree.QuotaChecker

	mu        sync.Mutex
	handles   []*Plaintext
	cancelBG  context.CancelFunc
	loggedOut bool
}

// New builds a Session from the identity collaborator's keypair
// (spec.md §6.1): the 65-byte uncompressed public key and the 32-byte
// private scalar, both received by value at session start. The private
// half lives only in this Session's memory until Logout.
func New(cfg config.Config, rc *relay.Client, userPub vault.PublicKey, userPriv []byte) *Session {
	return &Session{
		cfg:      cfg,
		relay:    rc,
		userPub:  userPub,
		userPriv: vault.PrivateKeyBytes(userPriv),
	}
}

// SetQuotaChecker wires a server-reported quota collaborator into
// subsequent tree construction. Must be called before InitializeVault
// or Load.
func (s *Session) SetQuotaChecker(q tree.QuotaChecker) { s.quota = q }

// auth returns the owner-side read authority over this session's
// private key. The key is shared by reference and never copied (H2).
func (s *Session) auth() keys.ReadAuthority {
	return keys.Owner{Priv: []byte(s.userPriv)}
}

// Tree exposes the session's folder graph for read-only consumers (the
// CLI's ls, a UI's browser pane). Mutations go through the Session's
// own methods so every one is snapshot-protected and published.
func (s *Session) Tree() *tree.Tree { return s.tree }

// InitialSyncComplete reports the sync engine's first-poll state so a
// caller can distinguish an empty vault from a not-yet-loaded one.
func (s *Session) InitialSyncComplete() bool {
	return s.engine != nil && s.engine.InitialSyncComplete()
}

// InitializeVault provisions a brand-new vault: a fresh root folder
// key and root name-signing keypair, both ECIES-wrapped to the user's
// public key and registered with the relay, followed by the first
// publish of the empty root envelope (sequence one — sequence zero is
// never a published value).
func (s *Session) InitializeVault(ctx context.Context) error {
	const op = "session.InitializeVault"
	if err := s.checkLive(op); err != nil {
		return err
	}

	rootKey, err := keys.GenerateFolderKey()
	if err != nil {
		return errors.E(op, err)
	}
	defer rootKey.Zero()
	nameKeypair, err := keys.GenerateNameSigningKey()
	if err != nil {
		return errors.E(op, err)
	}
	defer nameKeypair.Zero()

	wrappedRootKey, err := keys.WrapForOwner(rootKey.Bytes(), s.userPub)
	if err != nil {
		return errors.E(op, err)
	}
	wrappedNameKey, err := keys.WrapForOwner(nameKeypair.PrivateBytes(), s.userPub)
	if err != nil {
		return errors.E(op, err)
	}

	rootName := vault.MutableName(uuid.NewString())
	err = s.relay.InitializeVault(ctx, relay.InitVaultRequest{
		PublicKey:                   s.userPub,
		EncryptedRootFolderKey:      hex.EncodeToString(wrappedRootKey),
		EncryptedRootIpnsPrivateKey: hex.EncodeToString(wrappedNameKey),
		RootIpnsName:                rootName,
	})
	if err != nil {
		return s.fail(op, err)
	}

	s.arm(&tree.FolderNode{
		ID:                    vault.ItemID(uuid.NewString()),
		MutableName:           rootName,
		WrappedFolderKey:      wrappedRootKey,
		WrappedNameSigningKey: wrappedNameKey,
	}, nil)

	// First publish: the empty root envelope.
	err = s.pipeline.Publish(ctx, []tree.PublishIntent{
		{Kind: tree.FolderIntent, ItemID: s.tree.RootID()},
	})
	if err != nil {
		return s.fail(op, err)
	}
	return nil
}

// Load fetches the wrapped root key material for an existing vault
// from the relay and runs an initial sync, so the folder tree reflects
// the latest published state before the caller touches it.
func (s *Session) Load(ctx context.Context) error {
	const op = "session.Load"
	if err := s.checkLive(op); err != nil {
		return err
	}

	info, err := s.relay.MyVault(ctx)
	if err != nil {
		return s.fail(op, err)
	}
	wrappedRootKey, err := hex.DecodeString(info.EncryptedRootFolderKey)
	if err != nil {
		return errors.E(op, errors.MalformedMetadata, err)
	}
	wrappedNameKey, err := hex.DecodeString(info.EncryptedRootIpnsPrivateKey)
	if err != nil {
		return errors.E(op, errors.MalformedMetadata, err)
	}

	s.arm(&tree.FolderNode{
		ID:                    vault.ItemID(uuid.NewString()),
		MutableName:           info.RootIpnsName,
		WrappedFolderKey:      wrappedRootKey,
		WrappedNameSigningKey: wrappedNameKey,
	}, info.TEEKeys)

	if err := s.engine.SyncOnce(ctx); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// arm builds the tree, pipeline, and sync engine around a root node.
func (s *Session) arm(root *tree.FolderNode, tee *relay.TEEKeys) {
	s.tree = tree.New(root, s.userPub, s.quota, nil)
	s.pipeline = publish.New(s.relay, s.tree, s.auth())
	if tee != nil {
		s.pipeline.SetRepublisherKeys(tee)
	}
	s.engine = syncengine.New(s.relay, s.tree, s.auth(), s.cfg.PollInterval)
}

// StartSync launches the periodic sync loop. It runs until Logout.
func (s *Session) StartSync() {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancelBG = cancel
	s.mu.Unlock()
	go s.engine.Run(ctx)
}

// Sync performs one on-demand poll.
func (s *Session) Sync(ctx context.Context) error {
	const op = "session.Sync"
	if err := s.checkLive(op); err != nil {
		return err
	}
	if err := s.engine.SyncOnce(ctx); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// Upload encrypts data as name under parentID and publishes both the
// file's own record and the parent envelope. The encryption mode
// follows the MIME-type table of spec.md §4.C.
func (s *Session) Upload(ctx context.Context, parentID vault.ItemID, name, mimeType string, data []byte) (vault.ItemID, error) {
	const op = "session.Upload"
	if err := s.checkLive(op); err != nil {
		return "", err
	}

	mode := filecrypt.ChooseMode(mimeType, true)
	ef, err := filecrypt.EncryptFile(data, s.userPub, mode)
	if err != nil {
		return "", errors.E(op, err)
	}
	cid, err := s.relay.Add(ctx, ef.Ciphertext)
	if err != nil {
		return "", s.fail(op, err)
	}

	var fileID vault.ItemID
	err = s.mutate(ctx, func() ([]tree.PublishIntent, error) {
		intents, err := s.tree.AddFiles(parentID, []tree.Upload{{
			ContentAddress: cid,
			WrappedFileKey: ef.WrappedFileKey,
			IV:             ef.IV,
			OriginalName:   name,
			Size:           ef.OriginalSize,
			Mode:           ef.Mode,
		}})
		if err != nil {
			return nil, err
		}
		parent, err := s.tree.Folder(parentID)
		if err != nil {
			return nil, err
		}
		for _, c := range parent.Children {
			if c.Name == name {
				fileID = c.ID
			}
		}
		return intents, nil
	})
	if err != nil {
		return "", errors.E(op, err)
	}
	return fileID, nil
}

// Download fetches and decrypts one file, returning a scoped Plaintext
// handle the caller must Release (and which Logout zeroizes regardless).
// For CTR content the content address recorded in the file's
// authenticated metadata record is passed to the cryptor as its
// integrity witness (P11).
func (s *Session) Download(ctx context.Context, fileID vault.ItemID) (*Plaintext, error) {
	const op = "session.Download"
	if err := s.checkLive(op); err != nil {
		return nil, err
	}

	f, err := s.tree.File(fileID)
	if err != nil {
		return nil, errors.E(op, err)
	}
	ciphertext, err := s.relay.Cat(ctx, f.ContentAddress)
	if err != nil {
		return nil, s.fail(op, err)
	}
	ef := filecrypt.EncryptedFile{
		Ciphertext:     ciphertext,
		IV:             f.IV,
		WrappedFileKey: f.WrappedFileKey,
		OriginalSize:   f.Size,
		Mode:           f.Mode,
	}
	var witness string
	if f.Mode == vault.ModeCTR {
		witness = string(f.ContentAddress)
	}
	data, err := filecrypt.DecryptFileWith(ef, s.auth(), fileID, witness)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return s.newHandle(data), nil
}

// CreateFolder creates an empty folder under parentID and publishes it
// together with the updated parent envelope.
func (s *Session) CreateFolder(ctx context.Context, parentID vault.ItemID, name string) (vault.ItemID, error) {
	const op = "session.CreateFolder"
	if err := s.checkLive(op); err != nil {
		return "", err
	}
	var id vault.ItemID
	err := s.mutate(ctx, func() ([]tree.PublishIntent, error) {
		var err error
		var intents []tree.PublishIntent
		id, intents, err = s.tree.CreateFolder(parentID, name)
		return intents, err
	})
	if err != nil {
		return "", errors.E(op, err)
	}
	return id, nil
}

// Rename renames a child within parentID.
func (s *Session) Rename(ctx context.Context, parentID, itemID vault.ItemID, newName string) error {
	const op = "session.Rename"
	if err := s.checkLive(op); err != nil {
		return err
	}
	return s.wrap(op, s.mutate(ctx, func() ([]tree.PublishIntent, error) {
		return s.tree.Rename(parentID, itemID, newName)
	}))
}

// Move relocates items between folders, destination first (P8).
func (s *Session) Move(ctx context.Context, sourceParentID vault.ItemID, itemIDs []vault.ItemID, destParentID vault.ItemID) error {
	const op = "session.Move"
	if err := s.checkLive(op); err != nil {
		return err
	}
	return s.wrap(op, s.mutate(ctx, func() ([]tree.PublishIntent, error) {
		return s.tree.Move(sourceParentID, itemIDs, destParentID)
	}))
}

// Remove deletes items from parentID, publishes the parent, and then
// asks the relay to unpin every content address the removed subtree
// referenced (all file versions included, spec.md §3.7). Unpinning is
// best-effort: the envelope no longer references the addresses, so a
// failed unpin costs server quota, not correctness.
func (s *Session) Remove(ctx context.Context, parentID vault.ItemID, itemIDs []vault.ItemID) error {
	const op = "session.Remove"
	if err := s.checkLive(op); err != nil {
		return err
	}
	var unpins []vault.ContentAddress
	err := s.mutate(ctx, func() ([]tree.PublishIntent, error) {
		intents, addrs, err := s.tree.Remove(parentID, itemIDs)
		unpins = addrs
		return intents, err
	})
	if err != nil {
		return errors.E(op, err)
	}
	s.unpin(ctx, unpins)
	return nil
}

// UpdateFile re-encrypts a file's content wholesale: fresh key, fresh
// IV, new content address, prior version pushed onto the history. Only
// the file's own record is republished; the parent envelope is
// untouched (spec.md §3.3's indirection).
func (s *Session) UpdateFile(ctx context.Context, fileID vault.ItemID, mimeType string, data []byte) error {
	const op = "session.UpdateFile"
	if err := s.checkLive(op); err != nil {
		return err
	}

	mode := filecrypt.ChooseMode(mimeType, true)
	ef, err := filecrypt.EncryptFile(data, s.userPub, mode)
	if err != nil {
		return errors.E(op, err)
	}
	cid, err := s.relay.Add(ctx, ef.Ciphertext)
	if err != nil {
		return s.fail(op, err)
	}

	var replaced vault.ContentAddress
	err = s.mutate(ctx, func() ([]tree.PublishIntent, error) {
		intents, old, err := s.tree.UpdateFile(fileID, cid, ef.WrappedFileKey, ef.IV, ef.Mode, ef.OriginalSize)
		replaced = old
		return intents, err
	})
	if err != nil {
		return errors.E(op, err)
	}
	// The replaced address is unpinned now, although the version
	// history still lists it; spec.md §4.F schedules its unpin on update.
	s.unpin(ctx, []vault.ContentAddress{replaced})
	return nil
}

// RestoreVersion swaps a file's current content with a history entry.
func (s *Session) RestoreVersion(ctx context.Context, fileID vault.ItemID, versionIndex int) error {
	const op = "session.RestoreVersion"
	if err := s.checkLive(op); err != nil {
		return err
	}
	return s.wrap(op, s.mutate(ctx, func() ([]tree.PublishIntent, error) {
		return s.tree.RestoreVersion(fileID, versionIndex)
	}))
}

// ShareItem re-wraps the item's key subtree to recipientPub and
// registers the result with the relay's share index (spec.md §4.I).
func (s *Session) ShareItem(ctx context.Context, itemID vault.ItemID, recipientPub vault.PublicKey) (share.Share, error) {
	const op = "session.ShareItem"
	if err := s.checkLive(op); err != nil {
		return share.Share{}, err
	}
	sh, err := share.Create(ctx, s.tree, itemID, recipientPub, s.auth())
	if err != nil {
		return share.Share{}, errors.E(op, err)
	}
	sh, err = share.Submit(ctx, s.relay, sh)
	if err != nil {
		return share.Share{}, s.fail(op, err)
	}
	return sh, nil
}

// RevokeShare removes a share from the relay index. Recipients keep
// access to content addresses they already observed (non-goal: no
// cryptographic revocation).
func (s *Session) RevokeShare(ctx context.Context, shareID string) error {
	const op = "session.RevokeShare"
	if err := s.checkLive(op); err != nil {
		return err
	}
	if err := share.Revoke(ctx, s.relay, shareID); err != nil {
		return s.fail(op, err)
	}
	return nil
}

// ResolvePath walks a slash-separated display path from the root,
// returning the item's id and whether it is a folder.
func (s *Session) ResolvePath(path string) (vault.ItemID, bool, error) {
	const op = "session.ResolvePath"
	if s.tree == nil {
		return "", false, errors.E(op, errors.Invalid, errors.Str("vault not loaded"))
	}
	id := s.tree.RootID()
	isFolder := true
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		if !isFolder {
			return "", false, errors.E(op, errors.NotFound, errors.Errorf("%q is a file", part))
		}
		node, err := s.tree.Folder(id)
		if err != nil {
			return "", false, errors.E(op, err)
		}
		found := false
		for _, c := range node.Children {
			if c.Name == part {
				id = c.ID
				isFolder = c.IsFolder
				found = true
				break
			}
		}
		if !found {
			return "", false, errors.E(op, vault.ItemID(part), errors.NotFound)
		}
	}
	return id, isFolder, nil
}

// Logout destroys the session: the background sync stops, the pipeline
// refuses further intents, the user's private scalar and every open
// plaintext handle are zeroized (P9), and subsequent operations fail.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.loggedOut {
		s.mu.Unlock()
		return
	}
	s.loggedOut = true
	cancel := s.cancelBG
	handles := s.handles
	s.handles = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.pipeline != nil {
		s.pipeline.Close()
	}
	for _, h := range handles {
		h.Release()
	}
	s.userPriv.Zero()
	log.Info.Printf("session: logged out")
}

// mutate runs one tree mutation as a snapshot-protected transaction:
// the mutation's intents are published, and any publish failure rolls
// the in-memory tree back to the pre-intent snapshot (spec.md §7) so a
// reader never observes state the network rejected.
func (s *Session) mutate(ctx context.Context, fn func() ([]tree.PublishIntent, error)) error {
	snap := s.tree.Snapshot()
	intents, err := fn()
	if err != nil {
		return err
	}
	if err := s.pipeline.Publish(ctx, intents); err != nil {
		s.tree.Restore(snap)
		return s.failErr(err)
	}
	return nil
}

// unpin best-effort releases content addresses after a successful
// publish.
func (s *Session) unpin(ctx context.Context, addrs []vault.ContentAddress) {
	for _, cid := range addrs {
		if err := s.relay.Unpin(ctx, cid); err != nil {
			log.Info.Printf("session: unpin %s failed: %v", cid, err)
		}
	}
}

func (s *Session) checkLive(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedOut {
		return errors.E(op, errors.Permission, errors.Str("session logged out"))
	}
	return nil
}

// fail wraps a relay error, forcing logout on Unauthorized (spec.md §7).
func (s *Session) fail(op string, err error) error {
	return errors.E(op, s.failErr(err))
}

func (s *Session) failErr(err error) error {
	if errors.Is(errors.Unauthorized, err) {
		s.Logout()
	}
	return err
}

// wrap adds op to a non-nil error.
func (s *Session) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.E(op, err)
}

// Plaintext is a scoped handle over decrypted bytes: the UI layer may
// hold it for a preview, but must Release it when done, and Logout
// zeroizes every outstanding handle regardless (spec.md §9's scoped
// plaintext strategy).
type Plaintext struct {
	mu       sync.Mutex
	data     []byte
	released bool
}

func (s *Session) newHandle(data []byte) *Plaintext {
	h := &Plaintext{data: data}
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
	return h
}

// Bytes returns the plaintext, or nil after Release.
func (p *Plaintext) Bytes() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return nil
	}
	return p.data
}

// Release zeroizes the plaintext. Safe to call more than once.
func (p *Plaintext) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	vault.PrivateKeyBytes(p.data).Zero()
	p.released = true
}
