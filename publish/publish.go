// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package publish implements the Publish Pipeline (spec.md §4.G): it
// turns the publish intents emitted by tree mutations into encrypt →
// add → sign → publish sequences against the relay, serialized per
// mutable name and retried on transient network failure. It is the only
// component in the core permitted to retry (spec.md §7).
//
// The per-name queue shape is grounded on the teacher's bind package
// (one guarded worker per service endpoint) and its rpc client's
// backoff-wrapped remote calls, generalized to spec.md's fixed schedule.
package publish

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"cipherbox.dev/crypto"
	"cipherbox.dev/errors"
	"cipherbox.dev/keys"
	"cipherbox.dev/log"
	"cipherbox.dev/metacrypt"
	"cipherbox.dev/namerecord"
	"cipherbox.dev/relay"
	"cipherbox.dev/tree"
	"cipherbox.dev/vault"
)

// Transport is the slice of the relay contract the pipeline needs.
// *relay.Client satisfies it; tests substitute an in-memory fake.
type Transport interface {
	Add(ctx context.Context, data []byte) (vault.ContentAddress, error)
	Resolve(ctx context.Context, name vault.MutableName) (relay.Resolved, error)
	Publish(ctx context.Context, req relay.PublishRequest) error
}

// DefaultBackoff is the retry schedule for transient network failures
// (spec.md §4.G): exponential from 30s, capped at 300s, five attempts
// after the first.
var DefaultBackoff = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	300 * time.Second,
}

// Pipeline serializes publishes per mutable name: at most one in
// flight per name, total order matching enqueue order (O1). Distinct
// names proceed in parallel on their own queues.
type Pipeline struct {
	transport Transport
	tree      *tree.Tree
	auth      keys.ReadAuthority
	backoff   []time.Duration

	mu     sync.Mutex
	queues map[vault.MutableName]*nameQueue
	seq    map[vault.MutableName]uint64
	tee    *relay.TEEKeys
	closed bool

	resolves singleflight.Group
}

// New returns a Pipeline publishing through transport for the given
// tree. auth unwraps folder and name-signing keys; in practice this is
// the session acting as keys.Owner.
func New(transport Transport, t *tree.Tree, auth keys.ReadAuthority) *Pipeline {
	return &Pipeline{
		transport: transport,
		tree:      t,
		auth:      auth,
		backoff:   DefaultBackoff,
		queues:    make(map[vault.MutableName]*nameQueue),
		seq:       make(map[vault.MutableName]uint64),
	}
}

// SetBackoff overrides the retry schedule; tests use this to avoid
// multi-second sleeps.
func (p *Pipeline) SetBackoff(schedule []time.Duration) { p.backoff = schedule }

// SetRepublisherKeys installs the trusted-republisher key material the
// relay supplied at login (spec.md §6.3). Every subsequent publish
// forward-encrypts the name-signing key to the enclave's current key.
func (p *Pipeline) SetRepublisherKeys(tee *relay.TEEKeys) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tee = tee
}

// Publish executes the given intents. Intents that target the same
// mutable name run sequentially in slice order; intents on distinct
// names run in parallel. Publish blocks until every intent has either
// succeeded or failed, returning the first error.
func (p *Pipeline) Publish(ctx context.Context, intents []tree.PublishIntent) error {
	const op = "publish.Publish"
	g, ctx := errgroup.WithContext(ctx)
	for _, intent := range intents {
		name, err := p.nameOf(intent)
		if err != nil {
			return errors.E(op, err)
		}
		done, err := p.enqueue(ctx, name, intent)
		if err != nil {
			return errors.E(op, err)
		}
		g.Go(func() error {
			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				return errors.E(op, errors.Cancelled, ctx.Err())
			}
		})
	}
	return g.Wait()
}

// Close stops every per-name consumer once its queue drains. Pending
// jobs enqueued before Close still run; Publish after Close fails.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, q := range p.queues {
		q.close()
	}
}

func (p *Pipeline) nameOf(intent tree.PublishIntent) (vault.MutableName, error) {
	if intent.Kind == tree.FolderIntent {
		n, err := p.tree.Folder(intent.ItemID)
		if err != nil {
			return "", err
		}
		return n.MutableName, nil
	}
	f, err := p.tree.File(intent.ItemID)
	if err != nil {
		return "", err
	}
	return f.MutableName, nil
}

type job struct {
	ctx    context.Context
	intent tree.PublishIntent
	name   vault.MutableName
	done   chan error
}

// nameQueue is the unbounded FIFO with a single consumer that backs the
// at-most-one-in-flight-per-name contract (spec.md §5).
type nameQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []*job
	closed bool
}

func (p *Pipeline) enqueue(ctx context.Context, name vault.MutableName, intent tree.PublishIntent) (chan error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.E(errors.Cancelled, errors.Str("pipeline closed"))
	}
	q, ok := p.queues[name]
	if !ok {
		q = &nameQueue{}
		q.cond = sync.NewCond(&q.mu)
		p.queues[name] = q
		go p.consume(q)
	}
	j := &job{ctx: ctx, intent: intent, name: name, done: make(chan error, 1)}
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()
	q.cond.Signal()
	return j.done, nil
}

func (q *nameQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (p *Pipeline) consume(q *nameQueue) {
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.jobs) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		j.done <- p.execute(j.ctx, j.name, j.intent)
	}
}

// execute runs the five pipeline steps of spec.md §4.G for one intent.
func (p *Pipeline) execute(ctx context.Context, name vault.MutableName, intent tree.PublishIntent) error {
	const op = "publish.execute"
	if err := ctx.Err(); err != nil {
		return errors.E(op, errors.Cancelled, err)
	}

	// Step 1: fresh encrypted envelope plus the wrapped signing key
	// that will sign its record.
	env, wrappedNameKey, keyOwner, err := p.buildEnvelope(intent)
	if err != nil {
		return errors.E(op, err)
	}
	envBytes, err := env.MarshalWire()
	if err != nil {
		return errors.E(op, err)
	}

	// Step 2: submit the envelope bytes for content addressing.
	if _, err := p.withRetry(ctx, op, func() (vault.ContentAddress, error) {
		return p.transport.Add(ctx, envBytes)
	}); err != nil {
		return err
	}

	// Step 3: next sequence number for the name.
	current, err := p.currentSeq(ctx, name, intent)
	if err != nil {
		return errors.E(op, err)
	}
	newSeq := current + 1

	// Step 4: sign. The name-signing key is live only for the span of
	// this block; cancellation here is handled like a network failure —
	// the publish either fully applied remotely or not at all, and the
	// sync engine reconciles (spec.md §5).
	namePriv, err := p.auth.UnwrapKey(keyOwner, wrappedNameKey)
	if err != nil {
		return errors.E(op, err)
	}
	defer zero(namePriv)
	record, err := namerecord.SignRecord(env.EncryptedMetadata, env.IV, newSeq, namePriv)
	if err != nil {
		return errors.E(op, err)
	}
	recordWire, err := record.MarshalWire()
	if err != nil {
		return errors.E(op, err)
	}
	req := relay.PublishRequest{
		IpnsName:     name,
		SignedRecord: base64.StdEncoding.EncodeToString(recordWire),
	}
	if err := p.attachRepublisherKey(&req, namePriv); err != nil {
		return errors.E(op, err)
	}

	// Step 5: publish the signed record.
	if _, err := p.withRetry(ctx, op, func() (vault.ContentAddress, error) {
		return "", p.transport.Publish(ctx, req)
	}); err != nil {
		return err
	}

	p.mu.Lock()
	p.seq[name] = newSeq
	p.mu.Unlock()
	if intent.Kind == tree.FolderIntent {
		p.tree.MarkPublished(intent.ItemID, newSeq)
	}
	log.Debug.Printf("publish: %s now at sequence %d", name, newSeq)
	return nil
}

// buildEnvelope produces the fresh encrypted metadata for an intent:
// the folder children envelope for a FolderIntent, the file's own
// metadata record for a FileIntent. It also returns the wrapped
// name-signing key for the record (a file record is signed with its
// parent folder's name-signing key — file pointers carry no keypair of
// their own, spec.md §3.2) and the id of the item that owns that key.
func (p *Pipeline) buildEnvelope(intent tree.PublishIntent) (metacrypt.Envelope, []byte, vault.ItemID, error) {
	if intent.Kind == tree.FolderIntent {
		node, err := p.tree.Folder(intent.ItemID)
		if err != nil {
			return metacrypt.Envelope{}, nil, "", err
		}
		children, err := p.buildChildren(node)
		if err != nil {
			return metacrypt.Envelope{}, nil, "", err
		}
		folderKey, err := p.auth.UnwrapKey(node.ID, node.WrappedFolderKey)
		if err != nil {
			return metacrypt.Envelope{}, nil, "", err
		}
		defer zero(folderKey)
		env, err := metacrypt.EncryptFolderMetadata(children, node.Created, node.Modified, folderKey)
		if err != nil {
			return metacrypt.Envelope{}, nil, "", err
		}
		return env, node.WrappedNameSigningKey, node.ID, nil
	}

	f, err := p.tree.File(intent.ItemID)
	if err != nil {
		return metacrypt.Envelope{}, nil, "", err
	}
	parent, err := p.tree.Folder(f.ParentID)
	if err != nil {
		return metacrypt.Envelope{}, nil, "", err
	}
	parentKey, err := p.auth.UnwrapKey(parent.ID, parent.WrappedFolderKey)
	if err != nil {
		return metacrypt.Envelope{}, nil, "", err
	}
	defer zero(parentKey)

	fm := metacrypt.FileMetadata{
		ContentAddress: f.ContentAddress,
		WrappedFileKey: f.WrappedFileKey,
		IV:             f.IV,
		Mode:           f.Mode,
		Size:           f.Size,
		OriginalName:   f.Name,
		Created:        f.Created,
		Modified:       f.Modified,
	}
	for _, v := range f.Versions {
		fm.Versions = append(fm.Versions, metacrypt.FileVersion{
			ContentAddress: v.ContentAddress,
			WrappedFileKey: v.WrappedFileKey,
			IV:             v.IV,
			Mode:           v.Mode,
			Size:           v.Size,
			Timestamp:      v.Timestamp,
		})
	}
	env, err := metacrypt.EncryptFileMetadata(fm, parentKey)
	if err != nil {
		return metacrypt.Envelope{}, nil, "", err
	}
	return env, parent.WrappedNameSigningKey, parent.ID, nil
}

func (p *Pipeline) buildChildren(node tree.FolderNode) ([]metacrypt.Child, error) {
	children := make([]metacrypt.Child, 0, len(node.Children))
	for _, c := range node.Children {
		if c.IsFolder {
			sub, err := p.tree.Folder(c.ID)
			if err != nil {
				return nil, err
			}
			children = append(children, metacrypt.Child{
				Kind:                  metacrypt.ChildFolder,
				ID:                    sub.ID,
				Name:                  sub.Name,
				MutableName:           sub.MutableName,
				WrappedFolderKey:      sub.WrappedFolderKey,
				WrappedNameSigningKey: sub.WrappedNameSigningKey,
				Created:               sub.Created,
				Modified:              sub.Modified,
			})
			continue
		}
		f, err := p.tree.File(c.ID)
		if err != nil {
			return nil, err
		}
		children = append(children, metacrypt.Child{
			Kind:                metacrypt.ChildFilePointer,
			ID:                  f.ID,
			Name:                f.Name,
			FileMetaMutableName: f.MutableName,
			Created:             f.Created,
			Modified:            f.Modified,
		})
	}
	return children, nil
}

// currentSeq returns the last sequence number this pipeline knows for
// name: the greater of the local cache and the folder node's synced
// value when either is known, otherwise a singleflight-coalesced
// resolve. A name the network has never
// seen starts at zero, so its first publish carries sequence one —
// sequence zero is never a published value (spec.md §4.H).
func (p *Pipeline) currentSeq(ctx context.Context, name vault.MutableName, intent tree.PublishIntent) (uint64, error) {
	p.mu.Lock()
	cached, ok := p.seq[name]
	p.mu.Unlock()

	var nodeSeq uint64
	if intent.Kind == tree.FolderIntent {
		if n, err := p.tree.Folder(intent.ItemID); err == nil {
			nodeSeq = n.SequenceNumber
		}
	}
	if ok || nodeSeq > 0 {
		if nodeSeq > cached {
			return nodeSeq, nil
		}
		return cached, nil
	}

	v, err, _ := p.resolves.Do(string(name), func() (interface{}, error) {
		res, err := p.transport.Resolve(ctx, name)
		if err != nil {
			if errors.Is(errors.NotFound, err) {
				return uint64(0), nil
			}
			return nil, err
		}
		return res.SequenceNumber, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func (p *Pipeline) attachRepublisherKey(req *relay.PublishRequest, namePriv []byte) error {
	p.mu.Lock()
	tee := p.tee
	p.mu.Unlock()
	if tee == nil {
		return nil
	}
	pub, err := hex.DecodeString(string(tee.CurrentPublicKey))
	if err != nil {
		return errors.E(errors.Invalid, errors.Errorf("republisher key for epoch %d: %v", tee.CurrentEpoch, err))
	}
	wrapped, err := crypto.ECIESEncrypt(namePriv, pub)
	if err != nil {
		return err
	}
	req.EncryptedIpnsPrivateKey = hex.EncodeToString(wrapped)
	req.KeyEpoch = tee.CurrentEpoch
	return nil
}

// withRetry runs fn, retrying on NetworkTransient with the configured
// backoff schedule. Every other error kind — cryptographic failures
// above all — returns immediately (spec.md §7: only the Publish
// Pipeline retries, and never an AuthFailure).
func (p *Pipeline) withRetry(ctx context.Context, op string, fn func() (vault.ContentAddress, error)) (vault.ContentAddress, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		cid, err := fn()
		if err == nil {
			return cid, nil
		}
		if !errors.Is(errors.NetworkTransient, err) {
			return "", err
		}
		lastErr = err
		if attempt >= len(p.backoff) {
			return "", errors.E(op, errors.NetworkTransient, lastErr)
		}
		log.Info.Printf("publish: transient failure, retrying in %v: %v", p.backoff[attempt], err)
		select {
		case <-time.After(p.backoff[attempt]):
		case <-ctx.Done():
			return "", errors.E(op, errors.Cancelled, ctx.Err())
		}
	}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
