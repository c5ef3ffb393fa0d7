// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package relay implements the HTTP client side of the external relay
// contract (spec.md §6.2): content add/cat/unpin, mutable-name
// resolve/publish, vault bootstrap, and the share index. The relay sees
// only opaque encrypted bytes and wrapped keys; everything it proxies
// was sealed client-side before reaching this package.
//
// Error mapping follows spec.md §7's taxonomy the way the teacher's
// clients map transport status to error kinds: 401/403 is Unauthorized
// (the session must log out), 404 is NotFound, other 4xx is
// NetworkFatal, 5xx and transport-level failures are NetworkTransient
// (retryable, by the
// Publish Pipeline only), and a canceled context is Cancelled.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"cipherbox.dev/errors"
	"cipherbox.dev/vault"
)

// Client is an HTTP client for one relay server.
type Client struct {
	base string
	http *http.Client
}

// New returns a Client for the relay at baseURL. timeout applies per
// request (spec.md §5 suggests 30s); zero uses that default.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: timeout},
	}
}

// Resolved is a successful resolve response: the content address the
// mutable name currently points at and the sequence number of the
// record that put it there.
type Resolved struct {
	CID            vault.ContentAddress `json:"cid"`
	SequenceNumber uint64               `json:"sequenceNumber"`
}

// PublishRequest is the body of POST /ipns/publish. SignedRecord is the
// base64-encoded wire form of a namerecord.Record. The encrypted IPNS
// private key and epoch are present only when the relay asked the core
// to forward signing keys to a trusted republisher (spec.md §6.3).
type PublishRequest struct {
	IpnsName                vault.MutableName `json:"ipnsName"`
	SignedRecord            string            `json:"signedRecord"`
	EncryptedIpnsPrivateKey string            `json:"encryptedIpnsPrivateKey,omitempty"`
	KeyEpoch                uint64            `json:"keyEpoch,omitempty"`
}

// InitVaultRequest is the body of POST /my-vault/initialize. Both
// encrypted keys are hex-encoded ECIES ciphertexts against the user's
// own public key.
type InitVaultRequest struct {
	PublicKey                   vault.PublicKey   `json:"publicKey"`
	EncryptedRootFolderKey      string            `json:"encryptedRootFolderKey"`
	EncryptedRootIpnsPrivateKey string            `json:"encryptedRootIpnsPrivateKey"`
	RootIpnsName                vault.MutableName `json:"rootIpnsName"`
}

// TEEKeys is the trusted-republisher key material the relay hands the
// core at login (spec.md §6.3). Epochs advance when the enclave rotates
// its keypair; the previous key is carried so publishes racing a
// rotation still verify server-side.
type TEEKeys struct {
	CurrentEpoch      uint64          `json:"currentEpoch"`
	CurrentPublicKey  vault.PublicKey `json:"currentPublicKey"`
	PreviousEpoch     uint64          `json:"previousEpoch,omitempty"`
	PreviousPublicKey vault.PublicKey `json:"previousPublicKey,omitempty"`
}

// VaultInfo is the response of GET /my-vault.
type VaultInfo struct {
	EncryptedRootFolderKey      string            `json:"encryptedRootFolderKey"`
	EncryptedRootIpnsPrivateKey string            `json:"encryptedRootIpnsPrivateKey"`
	RootIpnsName                vault.MutableName `json:"rootIpnsName"`
	TEEKeys                     *TEEKeys          `json:"teeKeys,omitempty"`
}

// WireChildKey is one re-wrapped descendant key in a share's catalog,
// indexed by item id (spec.md §3.6). EncryptedKey is hex.
type WireChildKey struct {
	ItemID       vault.ItemID `json:"itemId"`
	EncryptedKey string       `json:"encryptedKey"`
}

// ShareRequest is the body of POST /shares.
type ShareRequest struct {
	RecipientPublicKey vault.PublicKey   `json:"recipientPublicKey"`
	ItemType           string            `json:"itemType"`
	IpnsName           vault.MutableName `json:"ipnsName"`
	ItemName           string            `json:"itemName"`
	EncryptedKey       string            `json:"encryptedKey"`
	ChildKeys          []WireChildKey    `json:"childKeys"`
}

// ShareRecord is one entry of GET /shares/sent or /shares/received.
type ShareRecord struct {
	ShareID            string            `json:"shareId"`
	RecipientPublicKey vault.PublicKey   `json:"recipientPublicKey"`
	ItemType           string            `json:"itemType"`
	IpnsName           vault.MutableName `json:"ipnsName"`
	ItemName           string            `json:"itemName"`
	EncryptedKey       string            `json:"encryptedKey"`
	ChildKeys          []WireChildKey    `json:"childKeys"`
	CreatedAt          vault.Time        `json:"createdAt"`
}

// Add submits encrypted bytes to the storage network and returns the
// content address it assigned.
func (c *Client) Add(ctx context.Context, data []byte) (vault.ContentAddress, error) {
	const op = "relay.Add"
	var resp struct {
		CID vault.ContentAddress `json:"cid"`
	}
	err := c.do(ctx, op, http.MethodPost, "/ipfs/add", "application/octet-stream", data, &resp)
	if err != nil {
		return "", err
	}
	return resp.CID, nil
}

// Cat fetches the bytes behind a content address.
func (c *Client) Cat(ctx context.Context, cid vault.ContentAddress) ([]byte, error) {
	const op = "relay.Cat"
	path := "/ipfs/cat?cid=" + url.QueryEscape(string(cid))
	return c.doRaw(ctx, op, http.MethodGet, path, "", nil)
}

// Unpin asks the relay to release a content address no longer
// referenced by any record (removed files, replaced versions).
func (c *Client) Unpin(ctx context.Context, cid vault.ContentAddress) error {
	const op = "relay.Unpin"
	body := struct {
		CID vault.ContentAddress `json:"cid"`
	}{cid}
	return c.doJSON(ctx, op, http.MethodPost, "/vault/unpin", body, nil)
}

// Resolve looks up the current record for a mutable name. A name the
// network has never seen resolves to NotFound.
func (c *Client) Resolve(ctx context.Context, name vault.MutableName) (Resolved, error) {
	const op = "relay.Resolve"
	var resp Resolved
	path := "/ipns/resolve?ipnsName=" + url.QueryEscape(string(name))
	if err := c.do(ctx, op, http.MethodGet, path, "", nil, &resp); err != nil {
		return Resolved{}, err
	}
	return resp, nil
}

// Publish submits a signed name record.
func (c *Client) Publish(ctx context.Context, req PublishRequest) error {
	const op = "relay.Publish"
	return c.doJSON(ctx, op, http.MethodPost, "/ipns/publish", req, nil)
}

// InitializeVault registers a new vault's root key material with the
// relay.
func (c *Client) InitializeVault(ctx context.Context, req InitVaultRequest) error {
	const op = "relay.InitializeVault"
	return c.doJSON(ctx, op, http.MethodPost, "/my-vault/initialize", req, nil)
}

// MyVault fetches the wrapped root key material for the logged-in user.
func (c *Client) MyVault(ctx context.Context) (VaultInfo, error) {
	const op = "relay.MyVault"
	var resp VaultInfo
	if err := c.do(ctx, op, http.MethodGet, "/my-vault", "", nil, &resp); err != nil {
		return VaultInfo{}, err
	}
	return resp, nil
}

// CreateShare registers a share with the relay's index and returns the
// share id it assigned.
func (c *Client) CreateShare(ctx context.Context, req ShareRequest) (string, error) {
	const op = "relay.CreateShare"
	var resp struct {
		ShareID string `json:"shareId"`
	}
	if err := c.doJSON(ctx, op, http.MethodPost, "/shares", req, &resp); err != nil {
		return "", err
	}
	return resp.ShareID, nil
}

// SentShares lists shares the user has granted.
func (c *Client) SentShares(ctx context.Context) ([]ShareRecord, error) {
	const op = "relay.SentShares"
	var resp []ShareRecord
	if err := c.do(ctx, op, http.MethodGet, "/shares/sent", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ReceivedShares lists shares granted to the user.
func (c *Client) ReceivedShares(ctx context.Context) ([]ShareRecord, error) {
	const op = "relay.ReceivedShares"
	var resp []ShareRecord
	if err := c.do(ctx, op, http.MethodGet, "/shares/received", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeleteShare revokes a share. Server-side index mutation only; there
// is no cryptographic revocation (spec.md §4.I).
func (c *Client) DeleteShare(ctx context.Context, shareID string) error {
	const op = "relay.DeleteShare"
	return c.doJSON(ctx, op, http.MethodDelete, "/shares/"+url.PathEscape(shareID), nil, nil)
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out interface{}) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return errors.E(op, err)
		}
	}
	return c.do(ctx, op, method, path, "application/json", data, out)
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body []byte, out interface{}) error {
	data, err := c.doRaw(ctx, op, method, path, contentType, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.E(op, errors.NetworkFatal, errors.Errorf("decoding response: %v", err))
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, op, method, path, contentType string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, errors.E(op, errors.NetworkFatal, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.E(op, errors.Cancelled, ctx.Err())
		}
		return nil, errors.E(op, errors.NetworkTransient, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.E(op, errors.NetworkTransient, err)
	}
	if kind, ok := kindForStatus(resp.StatusCode); ok {
		return nil, errors.E(op, kind, errors.Errorf("relay returned %s: %s", resp.Status, firstLine(data)))
	}
	return data, nil
}

// kindForStatus maps an HTTP status to the error taxonomy of spec.md
// §7. The second return is false for success statuses.
func kindForStatus(status int) (errors.Kind, bool) {
	switch {
	case status >= 200 && status < 300:
		return errors.Other, false
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.Unauthorized, true
	case status == http.StatusNotFound:
		return errors.NotFound, true
	case status >= 400 && status < 500:
		return errors.NetworkFatal, true
	default:
		return errors.NetworkTransient, true
	}
}

func firstLine(data []byte) string {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		data = data[:i]
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}
