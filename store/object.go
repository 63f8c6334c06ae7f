// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"io"
	"time"

	"github.com/gocql/gocql"
)

// StoreObject contains arguments necessary for storing an object.
type StoreObject struct {
	Bucket      string
	Key         string
	ContentType string
	Headers     map[string]string
	Size        int64
	Body        io.Reader
}

// Verify verifies store object request fields.
func (opts *StoreObject) Verify() error {
	switch {
	case opts.Bucket == "":
		return ErrInvalidRequest.New("Bucket missing")
	case opts.Key == "":
		return ErrInvalidRequest.New("Key missing")
	case opts.Size < 0:
		return ErrInvalidRequest.New("Size negative: %v", opts.Size)
	case opts.Size > 0 && opts.Body == nil:
		return ErrInvalidRequest.New("Body missing")
	}
	return nil
}

// StoreObject writes the stream as the next version of the key and promotes
// it to current. Prior version rows stay in place, unreachable by key
// lookup.
func (db *DB) StoreObject(ctx context.Context, opts StoreObject) (_ Item, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return Item{}, err
	}

	bucket, err := db.GetBucket(ctx, opts.Bucket)
	if err != nil {
		return Item{}, err
	}

	header, version, err := db.nextVersion(ctx, bucket.ID, opts.Key)
	if err != nil {
		return Item{}, err
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	pending := VersionHeader{
		ObjectID:           header.ObjectID,
		Version:            version,
		BucketID:           bucket.ID,
		ChunkSize:          db.geometry.ChunkSize,
		ChunksPerPartition: db.geometry.ChunksPerPartition,
		ContentType:        contentType,
		CreatedAt:          time.Now(),
		Size:               opts.Size,
	}
	if err := db.adapter.PutVersionHeader(ctx, pending); err != nil {
		return Item{}, Error.Wrap(err)
	}

	part, err := db.writePart(ctx, header.ObjectID, version, 1, db.geometry, opts.Body, opts.Size)
	if err != nil {
		return Item{}, err
	}
	pending.Size = part.Size
	pending.Digest = part.Digest

	item, err := db.promote(ctx, bucket.Name, header, pending, opts.Headers)
	if err != nil {
		return Item{}, err
	}

	mon.Meter("object_store_bytes").Mark64(item.Size)
	return item, nil
}

// nextVersion loads or creates the object header for the key and picks the
// version number for the next write. The header insert is visible before
// any bytes are written, so a concurrent reader may briefly observe the key
// with an incomplete version.
func (db *DB) nextVersion(ctx context.Context, bucketID gocql.UUID, key string) (ObjectHeader, int64, error) {
	header, ok, err := db.adapter.ObjectHeader(ctx, bucketID, key)
	if err != nil {
		return ObjectHeader{}, 0, Error.Wrap(err)
	}
	if !ok {
		header = ObjectHeader{
			BucketID:       bucketID,
			Key:            key,
			ObjectID:       gocql.TimeUUID(),
			CurrentVersion: 1,
		}
		if err := db.adapter.PutObjectHeader(ctx, header); err != nil {
			return ObjectHeader{}, 0, Error.Wrap(err)
		}
	}

	_, found, err := db.adapter.VersionHeader(ctx, header.ObjectID, header.CurrentVersion)
	if err != nil {
		return ObjectHeader{}, 0, Error.Wrap(err)
	}
	if !found {
		return header, 1, nil
	}
	return header, header.CurrentVersion + 1, nil
}

// promote finalizes a pending version, which must already carry its final
// size and digest, and repoints the object header at it.
func (db *DB) promote(ctx context.Context, bucketName string, header ObjectHeader, version VersionHeader, headers map[string]string) (Item, error) {
	metadata, err := versionMetadata(version, filterHeaders(headers))
	if err != nil {
		return Item{}, err
	}
	version.Metadata = metadata

	if err := db.adapter.FinalizeVersionHeader(ctx, version.ObjectID, version.Version, version.Size, version.Digest, metadata); err != nil {
		return Item{}, Error.Wrap(err)
	}

	header.ObjectID = version.ObjectID
	header.CurrentVersion = version.Version
	header.Metadata = metadata
	if err := db.adapter.PutObjectHeader(ctx, header); err != nil {
		return Item{}, Error.Wrap(err)
	}

	return itemFrom(bucketName, header.Key, version), nil
}

// itemFrom combines a finalized version header into a servable item.
func itemFrom(bucket, key string, version VersionHeader) Item {
	return Item{
		Bucket:             bucket,
		Key:                key,
		ObjectID:           version.ObjectID,
		Version:            version.Version,
		ChunkSize:          version.ChunkSize,
		ChunksPerPartition: version.ChunksPerPartition,
		ContentType:        version.ContentType,
		Digest:             version.Digest,
		Size:               version.Size,
		CreatedAt:          version.CreatedAt,
		Headers:            decodeMetadata(version.Metadata).Headers,
	}
}

// GetObject contains arguments necessary for resolving an object.
type GetObject struct {
	Bucket string
	Key    string
}

// Verify verifies get object request fields.
func (opts *GetObject) Verify() error {
	switch {
	case opts.Bucket == "":
		return ErrInvalidRequest.New("Bucket missing")
	case opts.Key == "":
		return ErrInvalidRequest.New("Key missing")
	}
	return nil
}

// GetObject resolves the current version of the key into a servable item.
// The item pins (object_id, version), so reads keep serving the same bytes
// even when a concurrent writer promotes a newer version.
func (db *DB) GetObject(ctx context.Context, opts GetObject) (_ Item, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return Item{}, err
	}

	bucket, err := db.GetBucket(ctx, opts.Bucket)
	if err != nil {
		return Item{}, err
	}

	header, ok, err := db.adapter.ObjectHeader(ctx, bucket.ID, opts.Key)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}
	if !ok {
		return Item{}, ErrObjectNotFound.New("%s/%s", opts.Bucket, opts.Key)
	}

	version, ok, err := db.adapter.VersionHeader(ctx, header.ObjectID, header.CurrentVersion)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}
	if !ok {
		return Item{}, ErrVersionNotFound.New("%s/%s version %d", opts.Bucket, opts.Key, header.CurrentVersion)
	}

	return itemFrom(bucket.Name, opts.Key, version), nil
}

// ReadRange streams the bytes [offset, offset+length) of the item into w.
// Ranges reaching past the end of the object are truncated silently.
func (db *DB) ReadRange(ctx context.Context, w io.Writer, item Item, offset, length int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	switch {
	case offset < 0:
		return ErrInvalidRequest.New("offset negative: %v", offset)
	case length < 0:
		return ErrInvalidRequest.New("length negative: %v", length)
	}
	if offset >= item.Size {
		return nil
	}
	if remaining := item.Size - offset; length > remaining {
		length = remaining
	}

	geometry := item.Geometry()
	if err := geometry.Verify(); err != nil {
		return err
	}

	mon.Meter("object_read_bytes").Mark64(length)
	return db.readParts(ctx, w, item.ObjectID, item.Version, geometry, offset, length)
}
