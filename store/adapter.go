// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"

	"github.com/gocql/gocql"
)

// Adapter abstracts the cluster flavor behind row level reads and writes.
// Every method maps to a single table operation and implementations must be
// safe for concurrent use. Writes follow the cluster's upsert semantics, so
// finalizing a row that does not exist creates it.
type Adapter interface {
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error
	Close() error

	// PutBucket registers a bucket name and reports whether the name was
	// still free.
	PutBucket(ctx context.Context, bucket Bucket) (created bool, err error)
	Bucket(ctx context.Context, name string) (Bucket, bool, error)
	Buckets(ctx context.Context) ([]Bucket, error)

	PutObjectHeader(ctx context.Context, header ObjectHeader) error
	ObjectHeader(ctx context.Context, bucketID gocql.UUID, key string) (ObjectHeader, bool, error)
	DeleteObjectHeader(ctx context.Context, bucketID gocql.UUID, key string) error
	// IterateObjectHeaders visits headers in ascending key order until fn
	// returns false or the range is exhausted.
	IterateObjectHeaders(ctx context.Context, opts IterateHeaders, fn func(ObjectHeader) bool) error

	PutVersionHeader(ctx context.Context, version VersionHeader) error
	FinalizeVersionHeader(ctx context.Context, objectID gocql.UUID, version, size int64, digest, metadata string) error
	VersionHeader(ctx context.Context, objectID gocql.UUID, version int64) (VersionHeader, bool, error)
	// VersionHeaders returns every version of an object, newest first.
	VersionHeaders(ctx context.Context, objectID gocql.UUID) ([]VersionHeader, error)
	DeleteVersionHeader(ctx context.Context, objectID gocql.UUID, version int64) error

	PutPartHeader(ctx context.Context, part PartHeader) error
	FinalizePartHeader(ctx context.Context, objectID gocql.UUID, version int64, number int, digest string) error
	// PartHeaders returns the parts of a version in ascending part number
	// order.
	PartHeaders(ctx context.Context, objectID gocql.UUID, version int64) ([]PartHeader, error)
	DeletePartHeaders(ctx context.Context, objectID gocql.UUID, version int64) error

	// PutChunk stores one chunk row. The data slice is valid only for the
	// duration of the call.
	PutChunk(ctx context.Context, blobID gocql.UUID, partition, ix int64, data []byte) error
	Chunk(ctx context.Context, blobID gocql.UUID, partition, ix int64) ([]byte, bool, error)
	// DeleteBlob removes the chunk rows of partitions [0, partitions).
	DeleteBlob(ctx context.Context, blobID gocql.UUID, partitions int64) error

	PutUpload(ctx context.Context, upload Upload) error
	Upload(ctx context.Context, key, uploadID string) (Upload, bool, error)
	DeleteUpload(ctx context.Context, key, uploadID string) error
}

// IterateHeaders bounds an object header scan within one bucket.
type IterateHeaders struct {
	BucketID gocql.UUID
	// First is the smallest key to visit, empty means the start of the
	// bucket. Inclusive controls whether a row equal to First is visited.
	First     string
	Inclusive bool
	// Prefix, when non-empty, ends the scan at the end of the prefix range.
	// First must already be inside the range.
	Prefix string
}
