// Copyright 2024 The Cipherbox Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"io"

	"cipherbox.dev/errors"
)

// CTRIVLen is the IV length for AES-256-CTR: a full 16-byte block with the
// counter initialized to zero in network byte order.
const CTRIVLen = 16

// CTRChunkSize is the suggested chunk size for the CTR pull stream
// (implementation-defined; chosen for reasonable memory/throughput
// tradeoff on typical file sizes).
const CTRChunkSize = 64 * 1024

// CTRStream wraps a keystream cipher.Stream over a fixed key and IV. It
// has no integrity of its own: CTR authenticity is delegated to the
// content address of the resulting ciphertext plus the name-record
// signature that names that address. CTRStream never verifies anything;
// callers decrypting must supply an authenticated witness (see
// DecryptFile in package filecrypt).
type CTRStream struct {
	stream cipher.Stream
}

// NewCTRStream constructs a CTRStream for encryption or decryption; CTR
// mode is its own inverse, so the same stream type serves both
// directions as long as it is driven over the bytes in order exactly
// once from the start.
func NewCTRStream(key, iv []byte) (*CTRStream, error) {
	const op = "crypto.NewCTRStream"
	if len(key) != AESKeyLen {
		return nil, errors.E(op, errors.Invalid, errors.Str("key must be 32 bytes for AES-256"))
	}
	if len(iv) != CTRIVLen {
		return nil, errors.E(op, errors.Invalid, errors.Str("iv must be 16 bytes"))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return &CTRStream{stream: cipher.NewCTR(block, iv)}, nil
}

// XORKeyStream processes the next chunk in sequence, writing
// len(src) bytes to dst. Successive calls continue the keystream where
// the previous call left off; it is the caller's responsibility to drive
// the whole plaintext/ciphertext through in order.
func (s *CTRStream) XORKeyStream(dst, src []byte) {
	s.stream.XORKeyStream(dst, src)
}

// ChunkReader turns an io.Reader of plaintext (or ciphertext; CTR is
// symmetric) into a pull iterator of fixed-size ciphertext (or
// plaintext) chunks, so a consumer can drive decryption/encryption by its
// own backpressure instead of buffering a whole file in memory.
type ChunkReader struct {
	src       io.Reader
	stream    *CTRStream
	chunkSize int
	buf       []byte
	err       error
}

// NewChunkReader returns a ChunkReader pulling from src in chunkSize
// pieces (CTRChunkSize if chunkSize <= 0), transforming each with stream.
func NewChunkReader(src io.Reader, stream *CTRStream, chunkSize int) *ChunkReader {
	if chunkSize <= 0 {
		chunkSize = CTRChunkSize
	}
	return &ChunkReader{src: src, stream: stream, chunkSize: chunkSize, buf: make([]byte, chunkSize)}
}

// Next returns the next transformed chunk, or ok=false once the
// underlying reader is exhausted (err is io.EOF in that case, reported
// as nil) or a read error occurred (available via Err).
func (c *ChunkReader) Next() (chunk []byte, ok bool) {
	if c.err != nil {
		return nil, false
	}
	n, err := io.ReadFull(c.src, c.buf)
	if n > 0 {
		out := make([]byte, n)
		c.stream.XORKeyStream(out, c.buf[:n])
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			c.err = io.EOF
		} else if err != nil {
			c.err = err
		}
		return out, true
	}
	if err != nil && err != io.EOF {
		c.err = err
	} else {
		c.err = io.EOF
	}
	return nil, false
}

// Err returns the first non-EOF error encountered by Next, if any.
func (c *ChunkReader) Err() error {
	if c.err == io.EOF {
		return nil
	}
	return c.err
}
