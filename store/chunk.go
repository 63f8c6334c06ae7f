// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"

	"github.com/gocql/gocql"
)

// writeChunks splits size bytes from r into chunk rows under blobID and
// returns the hex MD5 of everything written. The digest is computed while
// streaming, the body is never buffered whole.
func (db *DB) writeChunks(ctx context.Context, blobID gocql.UUID, r io.Reader, size int64, g Geometry) (digest string, err error) {
	defer mon.Task()(&ctx)(&err)

	hash := md5.New()
	buf := make([]byte, g.ChunkSize)

	var written int64
	for n := int64(0); written < size; n++ {
		chunk := buf
		if remaining := size - written; remaining < g.ChunkSize {
			chunk = buf[:remaining]
		}
		if _, err := io.ReadFull(r, chunk); err != nil {
			return "", ErrInvalidRequest.New("stream ended at chunk %d: %v", n, err)
		}
		_, _ = hash.Write(chunk)

		partition, ix := g.Locate(n)
		if err := db.adapter.PutChunk(ctx, blobID, partition, ix, chunk); err != nil {
			return "", Error.Wrap(err)
		}
		written += int64(len(chunk))
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// readChunks streams the byte range [offset, offset+length) of blobID into
// w. The range must lie within the blob, a missing or short chunk row is
// reported as corruption.
func (db *DB) readChunks(ctx context.Context, w io.Writer, blobID gocql.UUID, offset, length int64, g Geometry) (err error) {
	defer mon.Task()(&ctx)(&err)

	skip := offset % g.ChunkSize
	for n := offset / g.ChunkSize; length > 0; n++ {
		partition, ix := g.Locate(n)
		data, ok, err := db.adapter.Chunk(ctx, blobID, partition, ix)
		if err != nil {
			return Error.Wrap(err)
		}
		if !ok {
			return ErrChunkMissing.New("blob %s chunk %d", blobID, n)
		}
		if skip >= int64(len(data)) {
			return ErrChunkMissing.New("blob %s chunk %d is short: %d bytes", blobID, n, len(data))
		}

		chunk := data[skip:]
		if int64(len(chunk)) > length {
			chunk = chunk[:length]
		}
		if _, err := w.Write(chunk); err != nil {
			return Error.Wrap(err)
		}
		length -= int64(len(chunk))
		skip = 0
	}
	return nil
}
