// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"time"

	"github.com/gocql/gocql"
)

// BeginUpload contains arguments necessary for starting a multipart upload.
type BeginUpload struct {
	Bucket      string
	Key         string
	ContentType string
	Headers     map[string]string
}

// Verify verifies begin upload request fields.
func (opts *BeginUpload) Verify() error {
	switch {
	case opts.Bucket == "":
		return ErrInvalidRequest.New("Bucket missing")
	case opts.Key == "":
		return ErrInvalidRequest.New("Key missing")
	}
	return nil
}

// BeginUpload opens a multipart upload and pins the pending version it will
// write into. The object header is not touched until completion, so an
// upload that never completes leaves the key invisible.
func (db *DB) BeginUpload(ctx context.Context, opts BeginUpload) (_ Upload, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return Upload{}, err
	}

	bucket, err := db.GetBucket(ctx, opts.Bucket)
	if err != nil {
		return Upload{}, err
	}

	header, ok, err := db.adapter.ObjectHeader(ctx, bucket.ID, opts.Key)
	if err != nil {
		return Upload{}, Error.Wrap(err)
	}
	objectID, version := gocql.TimeUUID(), int64(1)
	if ok {
		objectID, version = header.ObjectID, header.CurrentVersion+1
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}

	pending := VersionHeader{
		ObjectID:           objectID,
		Version:            version,
		BucketID:           bucket.ID,
		ChunkSize:          db.geometry.ChunkSize,
		ChunksPerPartition: db.geometry.ChunksPerPartition,
		ContentType:        contentType,
		CreatedAt:          time.Now(),
		Multipart:          true,
	}
	if err := db.adapter.PutVersionHeader(ctx, pending); err != nil {
		return Upload{}, Error.Wrap(err)
	}

	metadata, err := versionMetadata(pending, filterHeaders(opts.Headers))
	if err != nil {
		return Upload{}, err
	}

	upload := Upload{
		Key:      opts.Key,
		ID:       gocql.TimeUUID().String(),
		BucketID: bucket.ID,
		ObjectID: objectID,
		Version:  version,
		Metadata: metadata,
	}
	if err := db.adapter.PutUpload(ctx, upload); err != nil {
		return Upload{}, Error.Wrap(err)
	}

	mon.Meter("multipart_begin").Mark(1)
	return upload, nil
}

// UploadPart contains arguments necessary for storing one part of an
// upload.
type UploadPart struct {
	Key      string
	UploadID string
	Number   int
	Size     int64
	Body     io.Reader
}

// Verify verifies upload part request fields.
func (opts *UploadPart) Verify() error {
	switch {
	case opts.Key == "":
		return ErrInvalidRequest.New("Key missing")
	case opts.UploadID == "":
		return ErrInvalidRequest.New("UploadID missing")
	case opts.Number < 1:
		return ErrInvalidRequest.New("Number invalid: %v", opts.Number)
	case opts.Size < 0:
		return ErrInvalidRequest.New("Size negative: %v", opts.Size)
	case opts.Size > 0 && opts.Body == nil:
		return ErrInvalidRequest.New("Body missing")
	}
	return nil
}

// UploadPart writes one part into the upload's pending version. Parts of
// the same upload may be written concurrently. Retrying a part number
// replaces the previous bytes under a fresh blob, the old blob lingers
// until a lifecycle sweep.
func (db *DB) UploadPart(ctx context.Context, opts UploadPart) (_ PartHeader, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return PartHeader{}, err
	}

	upload, ok, err := db.adapter.Upload(ctx, opts.Key, opts.UploadID)
	if err != nil {
		return PartHeader{}, Error.Wrap(err)
	}
	if !ok {
		return PartHeader{}, ErrUploadNotFound.New("%s/%s", opts.Key, opts.UploadID)
	}

	version, ok, err := db.adapter.VersionHeader(ctx, upload.ObjectID, upload.Version)
	if err != nil {
		return PartHeader{}, Error.Wrap(err)
	}
	if !ok {
		return PartHeader{}, ErrVersionNotFound.New("upload %s version %d", opts.UploadID, upload.Version)
	}

	part, err := db.writePart(ctx, upload.ObjectID, upload.Version, opts.Number, version.Geometry(), opts.Body, opts.Size)
	if err != nil {
		return PartHeader{}, err
	}

	mon.Meter("multipart_part_bytes").Mark64(part.Size)
	return part, nil
}

// CompleteUpload contains arguments necessary for finishing an upload.
type CompleteUpload struct {
	Bucket   string
	Key      string
	UploadID string
}

// Verify verifies complete upload request fields.
func (opts *CompleteUpload) Verify() error {
	switch {
	case opts.Key == "":
		return ErrInvalidRequest.New("Key missing")
	case opts.UploadID == "":
		return ErrInvalidRequest.New("UploadID missing")
	}
	return nil
}

// CompleteUpload finalizes the pending version and promotes it to current.
// The object's digest becomes the MD5 of the per-part hex digests
// concatenated in part number order, without the part count suffix.
func (db *DB) CompleteUpload(ctx context.Context, opts CompleteUpload) (_ Item, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return Item{}, err
	}

	upload, ok, err := db.adapter.Upload(ctx, opts.Key, opts.UploadID)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}
	if !ok {
		return Item{}, ErrUploadNotFound.New("%s/%s", opts.Key, opts.UploadID)
	}

	version, ok, err := db.adapter.VersionHeader(ctx, upload.ObjectID, upload.Version)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}
	if !ok {
		return Item{}, ErrVersionNotFound.New("upload %s version %d", opts.UploadID, upload.Version)
	}

	parts, err := db.adapter.PartHeaders(ctx, upload.ObjectID, upload.Version)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}
	if len(parts) == 0 {
		return Item{}, ErrInvalidRequest.New("upload %s has no parts", opts.UploadID)
	}

	hash := md5.New()
	version.Size = 0
	for _, part := range parts {
		_, _ = io.WriteString(hash, part.Digest)
		version.Size += part.Size
	}
	version.Digest = hex.EncodeToString(hash.Sum(nil))

	header, ok, err := db.adapter.ObjectHeader(ctx, upload.BucketID, opts.Key)
	if err != nil {
		return Item{}, Error.Wrap(err)
	}
	if !ok {
		header = ObjectHeader{
			BucketID: upload.BucketID,
			Key:      opts.Key,
			ObjectID: upload.ObjectID,
		}
	}

	item, err := db.promote(ctx, opts.Bucket, header, version, decodeMetadata(upload.Metadata).Headers)
	if err != nil {
		return Item{}, err
	}

	if err := db.adapter.DeleteUpload(ctx, opts.Key, opts.UploadID); err != nil {
		return Item{}, Error.Wrap(err)
	}

	mon.Meter("multipart_complete").Mark(1)
	return item, nil
}

// AbortUpload contains arguments necessary for canceling an upload.
type AbortUpload struct {
	Key      string
	UploadID string
}

// Verify verifies abort upload request fields.
func (opts *AbortUpload) Verify() error {
	switch {
	case opts.Key == "":
		return ErrInvalidRequest.New("Key missing")
	case opts.UploadID == "":
		return ErrInvalidRequest.New("UploadID missing")
	}
	return nil
}

// AbortUpload drops the upload row and schedules the pending version for
// background reclamation.
func (db *DB) AbortUpload(ctx context.Context, opts AbortUpload) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return err
	}

	upload, ok, err := db.adapter.Upload(ctx, opts.Key, opts.UploadID)
	if err != nil {
		return Error.Wrap(err)
	}
	if !ok {
		return ErrUploadNotFound.New("%s/%s", opts.Key, opts.UploadID)
	}

	if err := db.adapter.DeleteUpload(ctx, opts.Key, opts.UploadID); err != nil {
		return Error.Wrap(err)
	}
	db.gc.push(reclaimItem{ObjectID: upload.ObjectID, Version: upload.Version})

	mon.Meter("multipart_abort").Mark(1)
	return nil
}

// ListParts contains arguments necessary for listing uploaded parts.
type ListParts struct {
	Key      string
	UploadID string
}

// Verify verifies list parts request fields.
func (opts *ListParts) Verify() error {
	switch {
	case opts.Key == "":
		return ErrInvalidRequest.New("Key missing")
	case opts.UploadID == "":
		return ErrInvalidRequest.New("UploadID missing")
	}
	return nil
}

// ListParts returns the parts uploaded so far in part number order.
func (db *DB) ListParts(ctx context.Context, opts ListParts) (_ []PartHeader, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return nil, err
	}

	upload, ok, err := db.adapter.Upload(ctx, opts.Key, opts.UploadID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !ok {
		return nil, ErrUploadNotFound.New("%s/%s", opts.Key, opts.UploadID)
	}

	parts, err := db.adapter.PartHeaders(ctx, upload.ObjectID, upload.Version)
	return parts, Error.Wrap(err)
}
