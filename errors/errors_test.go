// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errors

import (
	"testing"

	"cipherbox.dev/vault"
)

func TestEBuildsMessage(t *testing.T) {
	err := E("Tree.AddFiles", vault.ItemID("folder-1"), NameCollision, Str("blob.bin exists"))
	got := err.Error()
	want := "folder-1: Tree.AddFiles: name collision: blob.bin exists"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestEKindPullUp(t *testing.T) {
	inner := E("crypto.ECIESDecrypt", AuthFailure, Str("gcm tag mismatch"))
	outer := E("keys.UnwrapForOwner", inner)
	if KindOf(outer) != AuthFailure {
		t.Errorf("KindOf(outer) = %v, want AuthFailure", KindOf(outer))
	}
}

func TestEDuplicateItemSuppressed(t *testing.T) {
	id := vault.ItemID("file-9")
	inner := E(id, "metacrypt.decrypt", MalformedMetadata)
	outer := E(id, "filecrypt.decryptFile", inner)
	msg := outer.Error()
	if want := "file-9: filecrypt.decryptFile: malformed metadata:\n\tmetacrypt.decrypt"; msg != want {
		t.Errorf("Error() = %q, want %q", msg, want)
	}
}

func TestRetryable(t *testing.T) {
	if !NetworkTransient.Retryable() {
		t.Error("NetworkTransient should be retryable")
	}
	for _, k := range []Kind{AuthFailure, NetworkFatal, Unauthorized, Cancelled, NotFound} {
		if k.Retryable() {
			t.Errorf("%v should not be retryable", k)
		}
	}
}

func TestIs(t *testing.T) {
	err := E("publish.enqueue", Cancelled)
	if !Is(Cancelled, err) {
		t.Error("Is(Cancelled, err) = false, want true")
	}
	if Is(NotFound, err) {
		t.Error("Is(NotFound, err) = true, want false")
	}
}
