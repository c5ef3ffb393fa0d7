// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tree owns the authoritative in-memory folder graph for the
// current session (spec.md §4.F): Folder Tree State. It is grounded on
// upspin.io/dir/server/tree's Tree interface shape (Lookup/Put/Delete/
// Flush over an in-memory authoritative state backed by an external log)
// and upspin.io/dir/server.go's invariant checks, generalized from
// upspin's DirEntry Merkle tree to spec.md's folder/file-pointer/share
// model. Every exported operation is a synchronous, all-or-nothing
// in-memory transaction: it either succeeds, leaving F1-F6 holding and
// returning publish intents, or fails leaving prior state unchanged
// (spec.md §5: folder-tree mutations are not suspension points).
package tree

import (
	"sync"

	"github.com/google/uuid"

	"cipherbox.dev/errors"
	"cipherbox.dev/keys"
	"cipherbox.dev/vault"
)

// MaxDepth is the nesting depth limit (F3): a folder directly under the
// vault root is depth 1.
const MaxDepth = 20

// QuotaChecker is the narrow collaborator interface a host wires in to
// reject uploads the server has reported would exceed quota. The core
// has no visibility into server-side usage; AddFiles calls this before
// mutating state if one is configured.
type QuotaChecker interface {
	CheckQuota(addedBytes int64) error
}

// ChildEntry is one entry in a folder's children list, carrying just
// enough to resolve the referenced node from the Tree's maps. The
// authoritative per-child fields (keys, timestamps, mutable names) live
// on the FolderNode or FileNode the entry points at.
type ChildEntry struct {
	ID       vault.ItemID
	Name     string
	IsFolder bool
}

// FolderNode is one folder in the in-memory graph (spec.md §3.2).
type FolderNode struct {
	ID                    vault.ItemID
	Name                  string
	ParentID              vault.ItemID // "" for the vault root
	MutableName           vault.MutableName
	WrappedFolderKey      []byte
	WrappedNameSigningKey []byte
	SequenceNumber        uint64
	Children              []ChildEntry
	Created               vault.Time
	Modified              vault.Time
}

// FileVersion mirrors metacrypt.FileVersion; duplicated here (rather than
// imported) to keep package tree free of a dependency on the encryption
// layer — Tree manipulates plaintext bookkeeping only, encryption is the
// Publish Pipeline's job (spec.md §4.G step 1).
type FileVersion struct {
	ContentAddress vault.ContentAddress
	WrappedFileKey []byte
	IV             []byte
	Mode           vault.EncryptionMode
	Size           int64
	Timestamp      vault.Time
}

// FileNode is one file's own metadata record (spec.md §3.3), indexed by
// its own mutable name, distinct from the FolderNode that holds the
// FilePointer referencing it.
type FileNode struct {
	ID             vault.ItemID
	ParentID       vault.ItemID
	Name           string
	MutableName    vault.MutableName
	ContentAddress vault.ContentAddress
	WrappedFileKey []byte
	IV             []byte
	Mode           vault.EncryptionMode
	Size           int64
	Created        vault.Time
	Modified       vault.Time
	Versions       []FileVersion
}

// IntentKind discriminates the two things a publish intent can target.
type IntentKind int

const (
	FolderIntent IntentKind = iota
	FileIntent
)

// PublishIntent names one mutable name whose envelope needs re-encrypting,
// signing, and publishing (spec.md §4.G). Tree never performs the
// publish itself; it only emits intents on success.
type PublishIntent struct {
	Kind   IntentKind
	ItemID vault.ItemID
}

// Upload is one file's worth of already-encrypted content ready to be
// recorded in the tree (spec.md §4.F addFiles).
type Upload struct {
	ContentAddress vault.ContentAddress
	WrappedFileKey []byte
	IV             []byte
	OriginalName   string
	Size           int64
	Mode           vault.EncryptionMode
}

// Tree is the authoritative in-memory folder graph for one vault.
type Tree struct {
	mu       sync.Mutex
	folders  map[vault.ItemID]*FolderNode
	files    map[vault.ItemID]*FileNode
	rootID   vault.ItemID
	ownerPub vault.PublicKey
	quota    QuotaChecker
	now      func() vault.Time
}

// New constructs an empty Tree rooted at an already-provisioned root
// folder (its key material is generated at vault initialization, outside
// package tree — see session.InitializeVault). ownerPub is the vault
// owner's public key, to which every key generated by CreateFolder is
// wrapped (F6). now lets tests supply a deterministic clock; nil uses
// vault.Now.
func New(root *FolderNode, ownerPub vault.PublicKey, quota QuotaChecker, now func() vault.Time) *Tree {
	if now == nil {
		now = vault.Now
	}
	t := &Tree{
		folders:  map[vault.ItemID]*FolderNode{root.ID: root},
		files:    map[vault.ItemID]*FileNode{},
		rootID:   root.ID,
		ownerPub: ownerPub,
		quota:    quota,
		now:      now,
	}
	return t
}

// RootID returns the vault root folder's id.
func (t *Tree) RootID() vault.ItemID { return t.rootID }

// Folder returns a copy of the folder node with the given id, or
// NotFound.
func (t *Tree) Folder(id vault.ItemID) (FolderNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.folders[id]
	if !ok {
		return FolderNode{}, errors.E("tree.Folder", id, errors.NotFound)
	}
	return *n, nil
}

// File returns a copy of the file node with the given id, or NotFound.
func (t *Tree) File(id vault.ItemID) (FileNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.files[id]
	if !ok {
		return FileNode{}, errors.E("tree.File", id, errors.NotFound)
	}
	return *n, nil
}

func (t *Tree) depthOf(id vault.ItemID) int {
	depth := 0
	for {
		n, ok := t.folders[id]
		if !ok || n.ParentID == "" {
			return depth
		}
		depth++
		id = n.ParentID
	}
}

func (t *Tree) childNamed(parent *FolderNode, name string) bool {
	for _, c := range parent.Children {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (t *Tree) removeChild(parent *FolderNode, id vault.ItemID) {
	out := parent.Children[:0]
	for _, c := range parent.Children {
		if c.ID != id {
			out = append(out, c)
		}
	}
	parent.Children = out
}

// AddFiles inserts one file pointer per upload into parent, creating
// each file's own metadata record. It emits one FileIntent per upload
// plus one FolderIntent for the parent (spec.md §4.F).
func (t *Tree) AddFiles(parentID vault.ItemID, uploads []Upload) ([]PublishIntent, error) {
	const op = "tree.AddFiles"
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.folders[parentID]
	if !ok {
		return nil, errors.E(op, parentID, errors.NotFound, errors.Str("parent not found"))
	}
	for _, u := range uploads {
		if t.childNamed(parent, u.OriginalName) {
			return nil, errors.E(op, parentID, errors.NameCollision, errors.Errorf("%q already exists", u.OriginalName))
		}
	}
	if t.quota != nil {
		var total int64
		for _, u := range uploads {
			total += u.Size
		}
		if err := t.quota.CheckQuota(total); err != nil {
			return nil, errors.E(op, parentID, errors.QuotaExceeded, err)
		}
	}

	now := t.now()
	intents := make([]PublishIntent, 0, len(uploads)+1)
	for _, u := range uploads {
		id := vault.ItemID(uuid.NewString())
		file := &FileNode{
			ID:             id,
			ParentID:       parentID,
			Name:           u.OriginalName,
			MutableName:    vault.MutableName(uuid.NewString()),
			ContentAddress: u.ContentAddress,
			WrappedFileKey: u.WrappedFileKey,
			IV:             u.IV,
			Mode:           u.Mode,
			Size:           u.Size,
			Created:        now,
			Modified:       now,
		}
		t.files[id] = file
		parent.Children = append(parent.Children, ChildEntry{ID: id, Name: u.OriginalName, IsFolder: false})
		intents = append(intents, PublishIntent{Kind: FileIntent, ItemID: id})
	}
	parent.Modified = now
	intents = append(intents, PublishIntent{Kind: FolderIntent, ItemID: parentID})
	return intents, nil
}

// CreateFolder generates a fresh folder key and name-signing keypair
// (K1) and inserts an empty folder under parent. Emits FolderIntent for
// both the new folder and parent.
func (t *Tree) CreateFolder(parentID vault.ItemID, name string) (vault.ItemID, []PublishIntent, error) {
	const op = "tree.CreateFolder"
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.folders[parentID]
	if !ok {
		return "", nil, errors.E(op, parentID, errors.NotFound, errors.Str("parent not found"))
	}
	if t.childNamed(parent, name) {
		return "", nil, errors.E(op, parentID, errors.NameCollision, errors.Errorf("%q already exists", name))
	}
	if t.depthOf(parentID)+1 > MaxDepth {
		return "", nil, errors.E(op, parentID, errors.MaxDepthExceeded)
	}

	folderKey, err := keys.GenerateFolderKey()
	if err != nil {
		return "", nil, errors.E(op, err)
	}
	defer folderKey.Zero()
	nameKeypair, err := keys.GenerateNameSigningKey()
	if err != nil {
		return "", nil, errors.E(op, err)
	}
	defer nameKeypair.Zero()

	wrappedFolderKey, err := keys.WrapForOwner(folderKey.Bytes(), t.ownerPub)
	if err != nil {
		return "", nil, errors.E(op, err)
	}
	wrappedNameKey, err := keys.WrapForOwner(nameKeypair.PrivateBytes(), t.ownerPub)
	if err != nil {
		return "", nil, errors.E(op, err)
	}

	now := t.now()
	id := vault.ItemID(uuid.NewString())
	node := &FolderNode{
		ID:                    id,
		Name:                  name,
		ParentID:              parentID,
		MutableName:           vault.MutableName(uuid.NewString()),
		WrappedFolderKey:      wrappedFolderKey,
		WrappedNameSigningKey: wrappedNameKey,
		Created:               now,
		Modified:              now,
	}
	t.folders[id] = node
	parent.Children = append(parent.Children, ChildEntry{ID: id, Name: name, IsFolder: true})
	parent.Modified = now

	return id, []PublishIntent{
		{Kind: FolderIntent, ItemID: id},
		{Kind: FolderIntent, ItemID: parentID},
	}, nil
}

// Rename changes the display name of a child within parent, keeping F1
// (unique sibling names). Emits one FolderIntent for parent.
func (t *Tree) Rename(parentID, itemID vault.ItemID, newName string) ([]PublishIntent, error) {
	const op = "tree.Rename"
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.folders[parentID]
	if !ok {
		return nil, errors.E(op, parentID, errors.NotFound)
	}
	idx := -1
	for i, c := range parent.Children {
		if c.ID == itemID {
			idx = i
			continue
		}
		if c.Name == newName {
			return nil, errors.E(op, itemID, errors.NameCollision, errors.Errorf("%q already exists", newName))
		}
	}
	if idx < 0 {
		return nil, errors.E(op, itemID, errors.NotFound)
	}
	parent.Children[idx].Name = newName
	if parent.Children[idx].IsFolder {
		t.folders[itemID].Name = newName
	} else {
		t.files[itemID].Name = newName
	}
	parent.Modified = t.now()
	return []PublishIntent{{Kind: FolderIntent, ItemID: parentID}}, nil
}

// isDescendant reports whether candidate is id itself or a descendant of
// id within the folder graph (used by Move's cycle check, F4).
func (t *Tree) isDescendant(id, candidate vault.ItemID) bool {
	for candidate != "" {
		if candidate == id {
			return true
		}
		n, ok := t.folders[candidate]
		if !ok {
			return false
		}
		candidate = n.ParentID
	}
	return false
}

// Move relocates itemIDs from sourceParent to destParent. It adds to the
// destination first, then removes from the source (P8: destination-first
// ordering prevents data loss on partial failure). Forbids moving a
// folder into itself or one of its own descendants (F4, WouldCreateCycle).
func (t *Tree) Move(sourceParentID vault.ItemID, itemIDs []vault.ItemID, destParentID vault.ItemID) ([]PublishIntent, error) {
	const op = "tree.Move"
	t.mu.Lock()
	defer t.mu.Unlock()

	source, ok := t.folders[sourceParentID]
	if !ok {
		return nil, errors.E(op, sourceParentID, errors.NotFound)
	}
	dest, ok := t.folders[destParentID]
	if !ok {
		return nil, errors.E(op, destParentID, errors.NotFound)
	}

	type moved struct {
		entry    ChildEntry
		isFolder bool
	}
	var toMove []moved
	for _, id := range itemIDs {
		var entry ChildEntry
		found := false
		for _, c := range source.Children {
			if c.ID == id {
				entry, found = c, true
				break
			}
		}
		if !found {
			return nil, errors.E(op, id, errors.NotFound)
		}
		if entry.IsFolder {
			if destParentID == id || t.isDescendant(id, destParentID) {
				return nil, errors.E(op, id, errors.WouldCreateCycle)
			}
		}
		toMove = append(toMove, moved{entry: entry, isFolder: entry.IsFolder})
	}
	for _, m := range toMove {
		if t.childNamed(dest, m.entry.Name) {
			return nil, errors.E(op, m.entry.ID, errors.NameCollision, errors.Errorf("%q already exists at destination", m.entry.Name))
		}
	}
	destDepth := t.depthOf(destParentID)
	for _, m := range toMove {
		if m.isFolder {
			sub := t.subtreeDepth(m.entry.ID)
			if destDepth+1+sub > MaxDepth {
				return nil, errors.E(op, m.entry.ID, errors.MaxDepthExceeded)
			}
		}
	}

	// Destination-first: add to dest before removing from source (P8).
	for _, m := range toMove {
		dest.Children = append(dest.Children, m.entry)
		if m.isFolder {
			t.folders[m.entry.ID].ParentID = destParentID
		} else {
			t.files[m.entry.ID].ParentID = destParentID
		}
	}
	for _, m := range toMove {
		t.removeChild(source, m.entry.ID)
	}
	now := t.now()
	source.Modified = now
	dest.Modified = now

	intents := []PublishIntent{{Kind: FolderIntent, ItemID: destParentID}}
	if sourceParentID != destParentID {
		intents = append(intents, PublishIntent{Kind: FolderIntent, ItemID: sourceParentID})
	}
	return intents, nil
}

// subtreeDepth returns the depth of the deepest descendant below id,
// relative to id itself (0 if id is a leaf or a file).
func (t *Tree) subtreeDepth(id vault.ItemID) int {
	n, ok := t.folders[id]
	if !ok {
		return 0
	}
	max := 0
	for _, c := range n.Children {
		if !c.IsFolder {
			continue
		}
		d := 1 + t.subtreeDepth(c.ID)
		if d > max {
			max = d
		}
	}
	return max
}

// Remove deletes itemIDs from parent and returns the set of content
// addresses whose unpin should be scheduled with the external relay:
// every version of every removed file, and (for removed folders) the
// same recursively across the whole subtree. Emits one FolderIntent for
// parent.
func (t *Tree) Remove(parentID vault.ItemID, itemIDs []vault.ItemID) ([]PublishIntent, []vault.ContentAddress, error) {
	const op = "tree.Remove"
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.folders[parentID]
	if !ok {
		return nil, nil, errors.E(op, parentID, errors.NotFound)
	}
	for _, id := range itemIDs {
		found := false
		for _, c := range parent.Children {
			if c.ID == id {
				found = true
				break
			}
		}
		if !found {
			return nil, nil, errors.E(op, id, errors.NotFound)
		}
	}

	var toUnpin []vault.ContentAddress
	for _, id := range itemIDs {
		toUnpin = append(toUnpin, t.collectAndDelete(id)...)
		t.removeChild(parent, id)
	}
	parent.Modified = t.now()
	return []PublishIntent{{Kind: FolderIntent, ItemID: parentID}}, toUnpin, nil
}

func (t *Tree) collectAndDelete(id vault.ItemID) []vault.ContentAddress {
	if f, ok := t.files[id]; ok {
		addrs := []vault.ContentAddress{f.ContentAddress}
		for _, v := range f.Versions {
			addrs = append(addrs, v.ContentAddress)
		}
		delete(t.files, id)
		return addrs
	}
	n, ok := t.folders[id]
	if !ok {
		return nil
	}
	var addrs []vault.ContentAddress
	for _, c := range n.Children {
		addrs = append(addrs, t.collectAndDelete(c.ID)...)
	}
	delete(t.folders, id)
	return addrs
}

// UpdateFile replaces a file's content address, key, IV, mode, and size,
// appending the prior values to the end of its version history (oldest
// first overall) and returning the replaced content address to unpin.
// Emits one FileIntent for the file's own record.
func (t *Tree) UpdateFile(fileID vault.ItemID, newContentAddress vault.ContentAddress, newWrappedKey, newIV []byte, newMode vault.EncryptionMode, newSize int64) ([]PublishIntent, vault.ContentAddress, error) {
	const op = "tree.UpdateFile"
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.files[fileID]
	if !ok {
		return nil, "", errors.E(op, fileID, errors.NotFound)
	}
	now := t.now()
	prior := FileVersion{
		ContentAddress: f.ContentAddress,
		WrappedFileKey: f.WrappedFileKey,
		IV:             f.IV,
		Mode:           f.Mode,
		Size:           f.Size,
		Timestamp:      f.Modified,
	}
	replaced := f.ContentAddress
	f.Versions = append(f.Versions, prior)
	f.ContentAddress = newContentAddress
	f.WrappedFileKey = newWrappedKey
	f.IV = newIV
	f.Mode = newMode
	f.Size = newSize
	f.Modified = now

	return []PublishIntent{{Kind: FileIntent, ItemID: fileID}}, replaced, nil
}

// RestoreVersion swaps a file's current content for a prior version
// (SPEC_FULL.md: index 0 is the current version, not present in
// Versions; restoring index i>=1 swaps Versions[i-1] into current and
// demotes the prior current into Versions[i-1]'s old slot, keeping
// Versions a contiguous, oldest-first history). Symmetric with
// UpdateFile.
func (t *Tree) RestoreVersion(fileID vault.ItemID, versionIndex int) ([]PublishIntent, error) {
	const op = "tree.RestoreVersion"
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.files[fileID]
	if !ok {
		return nil, errors.E(op, fileID, errors.NotFound)
	}
	if versionIndex < 1 || versionIndex > len(f.Versions) {
		return nil, errors.E(op, fileID, errors.VersionOutOfRange)
	}
	i := versionIndex - 1
	restored := f.Versions[i]
	demoted := FileVersion{
		ContentAddress: f.ContentAddress,
		WrappedFileKey: f.WrappedFileKey,
		IV:             f.IV,
		Mode:           f.Mode,
		Size:           f.Size,
		Timestamp:      f.Modified,
	}
	f.Versions[i] = demoted
	f.ContentAddress = restored.ContentAddress
	f.WrappedFileKey = restored.WrappedFileKey
	f.IV = restored.IV
	f.Mode = restored.Mode
	f.Size = restored.Size
	f.Modified = t.now()

	return []PublishIntent{{Kind: FileIntent, ItemID: fileID}}, nil
}

// MarkPublished records the sequence number a successful publish
// assigned to folderID, called by package publish after step 5 of its
// pipeline succeeds (spec.md §4.G).
func (t *Tree) MarkPublished(folderID vault.ItemID, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.folders[folderID]; ok {
		n.SequenceNumber = seq
	}
}

// Folders returns a copy of every folder node currently in the graph,
// root included. The sync engine iterates this to decide which mutable
// names to resolve.
func (t *Tree) Folders() []FolderNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FolderNode, 0, len(t.folders))
	for _, n := range t.folders {
		out = append(out, *n)
	}
	return out
}

// RemoteChild is one child entry learned from a decrypted remote folder
// envelope, mirroring metacrypt.Child without importing the encryption
// layer (tree manipulates plaintext bookkeeping only).
type RemoteChild struct {
	IsFolder bool
	ID       vault.ItemID
	Name     string

	// Folder-variant fields.
	MutableName           vault.MutableName
	WrappedFolderKey      []byte
	WrappedNameSigningKey []byte

	// FilePointer-variant field.
	FileMetaMutableName vault.MutableName

	Created  vault.Time
	Modified vault.Time
}

// ApplyRemoteChildren overwrites a folder's children list with the state
// decrypted from a newer remote envelope (last-writer-wins, spec.md
// §4.H), upserting folder nodes for remote folder children and
// placeholder file nodes for remote file pointers. Content fields of a
// placeholder file node are filled in by ApplyRemoteFile once the file's
// own metadata record has been resolved and decrypted. Local nodes no
// longer present remotely are dropped, subtree and all.
func (t *Tree) ApplyRemoteChildren(folderID vault.ItemID, children []RemoteChild, seq uint64, modified vault.Time) error {
	const op = "tree.ApplyRemoteChildren"
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.folders[folderID]
	if !ok {
		return errors.E(op, folderID, errors.NotFound)
	}

	remote := make(map[vault.ItemID]bool, len(children))
	entries := make([]ChildEntry, 0, len(children))
	for _, c := range children {
		remote[c.ID] = true
		entries = append(entries, ChildEntry{ID: c.ID, Name: c.Name, IsFolder: c.IsFolder})
		if c.IsFolder {
			sub, ok := t.folders[c.ID]
			if !ok {
				sub = &FolderNode{ID: c.ID, Created: c.Created}
				t.folders[c.ID] = sub
			}
			sub.Name = c.Name
			sub.ParentID = folderID
			sub.MutableName = c.MutableName
			sub.WrappedFolderKey = c.WrappedFolderKey
			sub.WrappedNameSigningKey = c.WrappedNameSigningKey
			sub.Modified = c.Modified
			continue
		}
		f, ok := t.files[c.ID]
		if !ok {
			f = &FileNode{ID: c.ID, Created: c.Created}
			t.files[c.ID] = f
		}
		f.Name = c.Name
		f.ParentID = folderID
		f.MutableName = c.FileMetaMutableName
		f.Modified = c.Modified
	}
	for _, old := range n.Children {
		if !remote[old.ID] {
			t.collectAndDelete(old.ID)
		}
	}
	n.Children = entries
	n.SequenceNumber = seq
	n.Modified = modified
	return nil
}

// ApplyRemoteFile fills in a file node's content fields from its
// decrypted remote metadata record (spec.md §3.3).
func (t *Tree) ApplyRemoteFile(fileID vault.ItemID, addr vault.ContentAddress, wrappedKey, iv []byte, mode vault.EncryptionMode, size int64, versions []FileVersion) error {
	const op = "tree.ApplyRemoteFile"
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fileID]
	if !ok {
		return errors.E(op, fileID, errors.NotFound)
	}
	f.ContentAddress = addr
	f.WrappedFileKey = wrappedKey
	f.IV = iv
	f.Mode = mode
	f.Size = size
	f.Versions = versions
	return nil
}

// Snapshot captures a deep copy of the entire graph. The session layer
// takes one before applying a mutation so that a fatal publish failure
// can roll the in-memory state back to the pre-intent view (spec.md §7:
// a stale in-memory state after a failed publish would violate
// read-your-writes).
type Snapshot struct {
	folders map[vault.ItemID]*FolderNode
	files   map[vault.ItemID]*FileNode
}

// Snapshot returns a deep copy of the current graph.
func (t *Tree) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		folders: make(map[vault.ItemID]*FolderNode, len(t.folders)),
		files:   make(map[vault.ItemID]*FileNode, len(t.files)),
	}
	for id, n := range t.folders {
		cp := *n
		cp.Children = append([]ChildEntry(nil), n.Children...)
		s.folders[id] = &cp
	}
	for id, f := range t.files {
		cp := *f
		cp.Versions = append([]FileVersion(nil), f.Versions...)
		s.files[id] = &cp
	}
	return s
}

// Restore replaces the graph with a snapshot previously taken from this
// tree, discarding every mutation applied since.
func (t *Tree) Restore(s Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.folders = s.folders
	t.files = s.files
}
