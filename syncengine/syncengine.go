// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package syncengine implements the Sync Engine (spec.md §4.H): a
// periodic poller that resolves each loaded folder's mutable name,
// compares sequence numbers, and refetches envelopes that advanced
// remotely, replacing local children last-writer-wins. Its shape is
// grounded on upspin.io/dir/dircache's background refresher, simplified
// to the sequence-compare rule the spec fixes.
package syncengine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cipherbox.dev/errors"
	"cipherbox.dev/keys"
	"cipherbox.dev/log"
	"cipherbox.dev/metacrypt"
	"cipherbox.dev/relay"
	"cipherbox.dev/tree"
	"cipherbox.dev/vault"
)

// Transport is the read-only slice of the relay contract the engine
// needs. *relay.Client satisfies it.
type Transport interface {
	Resolve(ctx context.Context, name vault.MutableName) (relay.Resolved, error)
	Cat(ctx context.Context, cid vault.ContentAddress) ([]byte, error)
}

// Engine polls the relay for remote changes to the folder tree.
type Engine struct {
	transport Transport
	tree      *tree.Tree
	auth      keys.ReadAuthority
	interval  time.Duration

	mu          sync.Mutex
	paused      bool
	initialDone bool

	resolves singleflight.Group
}

// New returns an Engine polling every interval (spec.md suggests 30s;
// zero uses that default).
func New(transport Transport, t *tree.Tree, auth keys.ReadAuthority, interval time.Duration) *Engine {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		transport: transport,
		tree:      t,
		auth:      auth,
		interval:  interval,
	}
}

// Pause suspends periodic polling (process backgrounded, offline).
// In-flight resolves complete; no new poll starts until Resume.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume reverses Pause.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// InitialSyncComplete reports whether at least one full poll has
// finished since login, letting a UI distinguish "empty vault" from
// "not yet loaded" (spec.md §4.H: sequence zero is never a valid
// loaded-from-network value, and neither is an unpolled tree).
func (e *Engine) InitialSyncComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialDone
}

// Run polls until ctx is canceled. The first poll starts immediately.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		e.mu.Lock()
		paused := e.paused
		e.mu.Unlock()
		if !paused {
			if err := e.SyncOnce(ctx); err != nil && !errors.Is(errors.Cancelled, err) {
				log.Error.Printf("sync: poll failed: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SyncOnce performs one full poll: every folder currently in the tree
// is resolved, and folders discovered while applying remote envelopes
// are synced in the same pass via an explicit work queue (arbitrary
// depth without recursion, cancellation checked at the top of the
// loop).
func (e *Engine) SyncOnce(ctx context.Context) error {
	const op = "syncengine.SyncOnce"

	queue := e.tree.Folders()
	seen := make(map[vault.ItemID]bool, len(queue))
	for _, n := range queue {
		seen[n.ID] = true
	}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return errors.E(op, errors.Cancelled, err)
		}
		node := queue[0]
		queue = queue[1:]
		if err := e.syncFolder(ctx, node); err != nil {
			return errors.E(op, node.ID, err)
		}
		// Pick up folders the remote envelope introduced.
		refreshed, err := e.tree.Folder(node.ID)
		if err != nil {
			continue // folder vanished in this very poll
		}
		for _, c := range refreshed.Children {
			if c.IsFolder && !seen[c.ID] {
				seen[c.ID] = true
				if sub, err := e.tree.Folder(c.ID); err == nil {
					queue = append(queue, sub)
				}
			}
		}
	}

	e.mu.Lock()
	e.initialDone = true
	e.mu.Unlock()
	return nil
}

// syncFolder applies spec.md §4.H's compare rule to one folder: a
// strictly greater remote sequence number triggers a refetch; equal or
// lesser is a no-op (stale resolve).
func (e *Engine) syncFolder(ctx context.Context, node tree.FolderNode) error {
	res, err := e.resolve(ctx, node.MutableName)
	if err != nil {
		if errors.Is(errors.NotFound, err) {
			// Never published: a freshly created local folder whose
			// first publish is still in flight.
			return nil
		}
		return err
	}
	if res.SequenceNumber <= node.SequenceNumber {
		return nil
	}
	if node.SequenceNumber > 0 && res.SequenceNumber > node.SequenceNumber+1 {
		// Another device published past us: the sequence did not
		// advance by the expected amount. Refetching below resolves
		// the inconsistency (last-writer-wins).
		log.Error.Printf("sync: %s jumped from sequence %d to %d; refetching",
			node.MutableName, node.SequenceNumber, res.SequenceNumber)
	}

	data, err := e.transport.Cat(ctx, res.CID)
	if err != nil {
		return err
	}
	env, err := metacrypt.UnmarshalWire(data)
	if err != nil {
		return err
	}
	folderKey, err := e.auth.UnwrapKey(node.ID, node.WrappedFolderKey)
	if err != nil {
		return err
	}
	defer zero(folderKey)

	children, _, modified, err := metacrypt.DecryptFolderMetadata(env, folderKey)
	if err != nil {
		return err
	}
	remote := make([]tree.RemoteChild, 0, len(children))
	for _, c := range children {
		remote = append(remote, tree.RemoteChild{
			IsFolder:              c.Kind == metacrypt.ChildFolder,
			ID:                    c.ID,
			Name:                  c.Name,
			MutableName:           c.MutableName,
			WrappedFolderKey:      c.WrappedFolderKey,
			WrappedNameSigningKey: c.WrappedNameSigningKey,
			FileMetaMutableName:   c.FileMetaMutableName,
			Created:               c.Created,
			Modified:              c.Modified,
		})
	}
	if err := e.tree.ApplyRemoteChildren(node.ID, remote, res.SequenceNumber, modified); err != nil {
		return err
	}

	// Fill in file nodes from their own metadata records.
	for _, c := range children {
		if c.Kind != metacrypt.ChildFilePointer {
			continue
		}
		if err := e.syncFile(ctx, c, folderKey); err != nil {
			if errors.Is(errors.NotFound, err) {
				continue // file record not yet published
			}
			return err
		}
	}
	return nil
}

func (e *Engine) syncFile(ctx context.Context, c metacrypt.Child, folderKey []byte) error {
	res, err := e.resolve(ctx, c.FileMetaMutableName)
	if err != nil {
		return err
	}
	data, err := e.transport.Cat(ctx, res.CID)
	if err != nil {
		return err
	}
	env, err := metacrypt.UnmarshalWire(data)
	if err != nil {
		return err
	}
	fm, err := metacrypt.DecryptFileMetadata(env, folderKey)
	if err != nil {
		return err
	}
	versions := make([]tree.FileVersion, 0, len(fm.Versions))
	for _, v := range fm.Versions {
		versions = append(versions, tree.FileVersion{
			ContentAddress: v.ContentAddress,
			WrappedFileKey: v.WrappedFileKey,
			IV:             v.IV,
			Mode:           v.Mode,
			Size:           v.Size,
			Timestamp:      v.Timestamp,
		})
	}
	return e.tree.ApplyRemoteFile(c.ID, fm.ContentAddress, fm.WrappedFileKey, fm.IV, fm.Mode, fm.Size, versions)
}

// resolve coalesces concurrent resolves of the same name into one
// relay call.
func (e *Engine) resolve(ctx context.Context, name vault.MutableName) (relay.Resolved, error) {
	v, err, _ := e.resolves.Do(string(name), func() (interface{}, error) {
		return e.transport.Resolve(ctx, name)
	})
	if err != nil {
		return relay.Resolved{}, err
	}
	return v.(relay.Resolved), nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
