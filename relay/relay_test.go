// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cipherbox.dev/errors"
)

func TestAddAndCat(t *testing.T) {
	var stored []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ipfs/add":
			var err error
			stored, err = io.ReadAll(r.Body)
			require.NoError(t, err)
			json.NewEncoder(w).Encode(map[string]string{"cid": "bafy123"})
		case "/ipfs/cat":
			require.Equal(t, "bafy123", r.URL.Query().Get("cid"))
			w.Write(stored)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	cid, err := c.Add(context.Background(), []byte("opaque encrypted bytes"))
	require.NoError(t, err)
	require.Equal(t, "bafy123", string(cid))

	data, err := c.Cat(context.Background(), cid)
	require.NoError(t, err)
	require.Equal(t, []byte("opaque encrypted bytes"), data)
}

func TestResolveNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Resolve(context.Background(), "never-published")
	require.True(t, errors.Is(errors.NotFound, err))
}

func TestResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ipns/resolve", r.URL.Path)
		require.Equal(t, "some-name", r.URL.Query().Get("ipnsName"))
		json.NewEncoder(w).Encode(Resolved{CID: "bafyabc", SequenceNumber: 7})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	got, err := c.Resolve(context.Background(), "some-name")
	require.NoError(t, err)
	require.Equal(t, uint64(7), got.SequenceNumber)
	require.Equal(t, "bafyabc", string(got.CID))
}

func TestStatusMapping(t *testing.T) {
	for _, tc := range []struct {
		status int
		kind   errors.Kind
	}{
		{http.StatusUnauthorized, errors.Unauthorized},
		{http.StatusForbidden, errors.Unauthorized},
		{http.StatusBadRequest, errors.NetworkFatal},
		{http.StatusConflict, errors.NetworkFatal},
		{http.StatusInternalServerError, errors.NetworkTransient},
		{http.StatusBadGateway, errors.NetworkTransient},
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := New(srv.URL, time.Second)
		err := c.Publish(context.Background(), PublishRequest{IpnsName: "n", SignedRecord: "cg=="})
		require.True(t, errors.Is(tc.kind, err), "status %d should map to %v, got %v", tc.status, tc.kind, err)
		srv.Close()
	}
}

func TestCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	c := New(srv.URL, 10*time.Second)
	_, err := c.Add(ctx, []byte("data"))
	require.True(t, errors.Is(errors.Cancelled, err))
}

func TestShareLifecycle(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/shares":
			var req ShareRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			require.Equal(t, "folder", req.ItemType)
			require.Len(t, req.ChildKeys, 2)
			json.NewEncoder(w).Encode(map[string]string{"shareId": "sh-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/shares/sent":
			json.NewEncoder(w).Encode([]ShareRecord{{ShareID: "sh-1", ItemType: "folder"}})
		case r.Method == http.MethodDelete && r.URL.Path == "/shares/sh-1":
			deleted = "sh-1"
			json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	id, err := c.CreateShare(context.Background(), ShareRequest{
		ItemType: "folder",
		ChildKeys: []WireChildKey{
			{ItemID: "f1", EncryptedKey: "aa"},
			{ItemID: "f2", EncryptedKey: "bb"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "sh-1", id)

	sent, err := c.SentShares(context.Background())
	require.NoError(t, err)
	require.Len(t, sent, 1)

	require.NoError(t, c.DeleteShare(context.Background(), "sh-1"))
	require.Equal(t, "sh-1", deleted)
}

func TestMyVault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/my-vault", r.URL.Path)
		json.NewEncoder(w).Encode(VaultInfo{
			EncryptedRootFolderKey:      "aabb",
			EncryptedRootIpnsPrivateKey: "ccdd",
			RootIpnsName:                "root-name",
			TEEKeys:                     &TEEKeys{CurrentEpoch: 3, CurrentPublicKey: "04abcd"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	info, err := c.MyVault(context.Background())
	require.NoError(t, err)
	require.Equal(t, "root-name", string(info.RootIpnsName))
	require.NotNil(t, info.TEEKeys)
	require.Equal(t, uint64(3), info.TEEKeys.CurrentEpoch)
}
