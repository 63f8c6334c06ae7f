// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"io"

	"github.com/gocql/gocql"
)

// writePart streams one part into a fresh blob and records its header. The
// header row is inserted before the bytes so a concurrent retry with the
// same number replaces it whole, and the digest lands with a second write
// once the stream is done.
func (db *DB) writePart(ctx context.Context, objectID gocql.UUID, version int64, number int, g Geometry, r io.Reader, size int64) (_ PartHeader, err error) {
	defer mon.Task()(&ctx)(&err)

	part := PartHeader{
		ObjectID: objectID,
		Version:  version,
		Number:   number,
		BlobID:   gocql.TimeUUID(),
		Size:     size,
	}
	if err := db.adapter.PutPartHeader(ctx, part); err != nil {
		return PartHeader{}, Error.Wrap(err)
	}

	digest, err := db.writeChunks(ctx, part.BlobID, r, size, g)
	if err != nil {
		return PartHeader{}, err
	}
	part.Digest = digest

	if err := db.adapter.FinalizePartHeader(ctx, objectID, version, number, digest); err != nil {
		return PartHeader{}, Error.Wrap(err)
	}

	mon.Meter("part_write_bytes").Mark64(size)
	return part, nil
}

// readParts walks the parts of a version in part number order and streams
// the byte range [offset, offset+length) into w. Ranges past the last part
// end silently.
func (db *DB) readParts(ctx context.Context, w io.Writer, objectID gocql.UUID, version int64, g Geometry, offset, length int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	parts, err := db.adapter.PartHeaders(ctx, objectID, version)
	if err != nil {
		return Error.Wrap(err)
	}

	for _, part := range parts {
		if length <= 0 {
			return nil
		}
		if offset >= part.Size {
			offset -= part.Size
			continue
		}

		n := part.Size - offset
		if n > length {
			n = length
		}
		if err := db.readChunks(ctx, w, part.BlobID, offset, n, g); err != nil {
			return err
		}
		length -= n
		offset = 0
	}
	return nil
}
