// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package share

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"cipherbox.dev/crypto"
	"cipherbox.dev/errors"
	"cipherbox.dev/filecrypt"
	"cipherbox.dev/keys"
	"cipherbox.dev/relay"
	"cipherbox.dev/tree"
	"cipherbox.dev/vault"
)

// fixture builds the S6 tree: /docs/{report.pdf, drafts/{v1.txt}} with
// genuinely encrypted file content, so the recipient-side assertions
// decrypt real ciphertext.
type fixture struct {
	tr        *tree.Tree
	ownerPriv []byte
	docsID    vault.ItemID
	reportID  vault.ItemID
	draftsID  vault.ItemID
	v1ID      vault.ItemID
	reportEF  filecrypt.EncryptedFile
	v1EF      filecrypt.EncryptedFile
	reportPT  []byte
	v1PT      []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	priv, pubBytes, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	pub := vault.PublicKey(hex.EncodeToString(pubBytes))

	folderKey, err := keys.GenerateFolderKey()
	require.NoError(t, err)
	wrappedFolderKey, err := keys.WrapForOwner(folderKey.Bytes(), pub)
	require.NoError(t, err)
	nameKeypair, err := keys.GenerateNameSigningKey()
	require.NoError(t, err)
	wrappedNameKey, err := keys.WrapForOwner(nameKeypair.PrivateBytes(), pub)
	require.NoError(t, err)

	root := &tree.FolderNode{
		ID:                    "root",
		MutableName:           "ipns-root",
		WrappedFolderKey:      wrappedFolderKey,
		WrappedNameSigningKey: wrappedNameKey,
	}
	tr := tree.New(root, pub, nil, nil)

	fx := &fixture{tr: tr, ownerPriv: priv}
	fx.docsID, _, err = tr.CreateFolder(tr.RootID(), "docs")
	require.NoError(t, err)
	fx.draftsID, _, err = tr.CreateFolder(fx.docsID, "drafts")
	require.NoError(t, err)

	fx.reportPT = []byte("quarterly report plaintext")
	fx.reportEF, err = filecrypt.EncryptFile(fx.reportPT, pub, vault.ModeGCM)
	require.NoError(t, err)
	_, err = tr.AddFiles(fx.docsID, []tree.Upload{{
		ContentAddress: "cid-report",
		WrappedFileKey: fx.reportEF.WrappedFileKey,
		IV:             fx.reportEF.IV,
		OriginalName:   "report.pdf",
		Size:           fx.reportEF.OriginalSize,
		Mode:           fx.reportEF.Mode,
	}})
	require.NoError(t, err)

	fx.v1PT = []byte("draft v1 plaintext")
	fx.v1EF, err = filecrypt.EncryptFile(fx.v1PT, pub, vault.ModeGCM)
	require.NoError(t, err)
	_, err = tr.AddFiles(fx.draftsID, []tree.Upload{{
		ContentAddress: "cid-v1",
		WrappedFileKey: fx.v1EF.WrappedFileKey,
		IV:             fx.v1EF.IV,
		OriginalName:   "v1.txt",
		Size:           fx.v1EF.OriginalSize,
		Mode:           fx.v1EF.Mode,
	}})
	require.NoError(t, err)

	docs, err := tr.Folder(fx.docsID)
	require.NoError(t, err)
	for _, c := range docs.Children {
		if !c.IsFolder {
			fx.reportID = c.ID
		}
	}
	drafts, err := tr.Folder(fx.draftsID)
	require.NoError(t, err)
	fx.v1ID = drafts.Children[0].ID
	return fx
}

func TestShareFolderCatalog(t *testing.T) {
	fx := newFixture(t)
	recipPriv, recipPubBytes, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	recipPub := vault.PublicKey(hex.EncodeToString(recipPubBytes))

	s, err := Create(context.Background(), fx.tr, fx.docsID, recipPub, keys.Owner{Priv: fx.ownerPriv})
	require.NoError(t, err)
	require.Equal(t, ItemFolder, s.ItemType)
	require.Equal(t, "docs", s.ItemDisplayName)

	// Exactly three catalog entries: report.pdf, drafts, v1.txt (S6).
	require.Len(t, s.ChildKeys, 3)
	got := map[vault.ItemID]bool{}
	for _, ck := range s.ChildKeys {
		got[ck.ItemID] = true
	}
	require.True(t, got[fx.reportID])
	require.True(t, got[fx.draftsID])
	require.True(t, got[fx.v1ID])

	// The top-level key is the docs folder key.
	docsKey, err := crypto.ECIESDecrypt(s.TopLevelEncryptedKey, recipPriv)
	require.NoError(t, err)
	docs, err := fx.tr.Folder(fx.docsID)
	require.NoError(t, err)
	ownerDocsKey, err := keys.UnwrapForOwner(docs.WrappedFolderKey, fx.ownerPriv)
	require.NoError(t, err)
	require.Equal(t, ownerDocsKey, docsKey)
}

func TestRecipientDecryptsSharedFiles(t *testing.T) {
	fx := newFixture(t)
	recipPriv, recipPubBytes, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	recipPub := vault.PublicKey(hex.EncodeToString(recipPubBytes))

	s, err := Create(context.Background(), fx.tr, fx.docsID, recipPub, keys.Owner{Priv: fx.ownerPriv})
	require.NoError(t, err)
	recipient := NewRecipient(s, recipPriv)

	// Recipient recovers both file plaintexts through the shared
	// decryption path, owner key never involved (P10).
	report, err := filecrypt.DecryptFileWith(fx.reportEF, recipient, fx.reportID, "")
	require.NoError(t, err)
	require.Equal(t, fx.reportPT, report)

	v1, err := filecrypt.DecryptFileWith(fx.v1EF, recipient, fx.v1ID, "")
	require.NoError(t, err)
	require.Equal(t, fx.v1PT, v1)

	// An item outside the catalog is refused.
	_, err = recipient.UnwrapKey("unshared-item", nil)
	require.True(t, errors.Is(errors.NotFound, err))
}

func TestWrongRecipientKeyFails(t *testing.T) {
	fx := newFixture(t)
	_, recipPubBytes, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	recipPub := vault.PublicKey(hex.EncodeToString(recipPubBytes))
	otherPriv, _, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)

	s, err := Create(context.Background(), fx.tr, fx.docsID, recipPub, keys.Owner{Priv: fx.ownerPriv})
	require.NoError(t, err)

	// A holder of a different private key gets AuthFailure on every
	// catalog entry and on the top-level key (P4, P10).
	imposter := NewRecipient(s, otherPriv)
	_, err = imposter.UnwrapKey(fx.reportID, nil)
	require.True(t, errors.Is(errors.AuthFailure, err))
	_, err = imposter.TopLevelKey()
	require.True(t, errors.Is(errors.AuthFailure, err))
}

func TestShareSingleFile(t *testing.T) {
	fx := newFixture(t)
	recipPriv, recipPubBytes, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	recipPub := vault.PublicKey(hex.EncodeToString(recipPubBytes))

	s, err := Create(context.Background(), fx.tr, fx.reportID, recipPub, keys.Owner{Priv: fx.ownerPriv})
	require.NoError(t, err)
	require.Equal(t, ItemFile, s.ItemType)
	require.Len(t, s.ChildKeys, 1)
	require.Equal(t, fx.reportID, s.ChildKeys[0].ItemID)

	// For a file share the top-level key is the parent folder's key,
	// so the recipient can decrypt the parent envelope that holds the
	// file pointer.
	recipient := NewRecipient(s, recipPriv)
	parentKey, err := recipient.TopLevelKey()
	require.NoError(t, err)
	docs, err := fx.tr.Folder(fx.docsID)
	require.NoError(t, err)
	ownerDocsKey, err := keys.UnwrapForOwner(docs.WrappedFolderKey, fx.ownerPriv)
	require.NoError(t, err)
	require.Equal(t, ownerDocsKey, parentKey)

	pt, err := filecrypt.DecryptFileWith(fx.reportEF, recipient, fx.reportID, "")
	require.NoError(t, err)
	require.Equal(t, fx.reportPT, pt)
}

type fakeIndex struct {
	created []relay.ShareRequest
	deleted []string
}

func (f *fakeIndex) CreateShare(ctx context.Context, req relay.ShareRequest) (string, error) {
	f.created = append(f.created, req)
	return "sh-1", nil
}

func (f *fakeIndex) DeleteShare(ctx context.Context, shareID string) error {
	f.deleted = append(f.deleted, shareID)
	return nil
}

func TestSubmitAndRevoke(t *testing.T) {
	fx := newFixture(t)
	recipPriv, recipPubBytes, err := crypto.Secp256k1GenerateKeypair()
	require.NoError(t, err)
	recipPub := vault.PublicKey(hex.EncodeToString(recipPubBytes))

	s, err := Create(context.Background(), fx.tr, fx.docsID, recipPub, keys.Owner{Priv: fx.ownerPriv})
	require.NoError(t, err)

	idx := &fakeIndex{}
	s, err = Submit(context.Background(), idx, s)
	require.NoError(t, err)
	require.Equal(t, "sh-1", s.ShareID)
	require.Len(t, idx.created, 1)
	require.Len(t, idx.created[0].ChildKeys, 3)

	// The wire round-trip preserves the catalog: a recipient built
	// from the relay record still decrypts.
	rec := relay.ShareRecord{
		ShareID:            s.ShareID,
		RecipientPublicKey: idx.created[0].RecipientPublicKey,
		ItemType:           idx.created[0].ItemType,
		IpnsName:           idx.created[0].IpnsName,
		ItemName:           idx.created[0].ItemName,
		EncryptedKey:       idx.created[0].EncryptedKey,
		ChildKeys:          idx.created[0].ChildKeys,
	}
	restored, err := FromWire(rec)
	require.NoError(t, err)
	recipient := NewRecipient(restored, recipPriv)
	pt, err := filecrypt.DecryptFileWith(fx.reportEF, recipient, fx.reportID, "")
	require.NoError(t, err)
	require.Equal(t, fx.reportPT, pt)

	require.NoError(t, Revoke(context.Background(), idx, s.ShareID))
	require.Equal(t, []string{"sh-1"}, idx.deleted)
}
