// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"sort"
	"time"

	"github.com/gocql/gocql"
)

// CreateBucket contains arguments necessary for registering a bucket.
type CreateBucket struct {
	Name string
}

// Verify verifies create bucket request fields.
func (opts *CreateBucket) Verify() error {
	if opts.Name == "" {
		return ErrInvalidRequest.New("Name missing")
	}
	return nil
}

// CreateBucket registers a new bucket name. Name registration goes through
// a conditional insert so two concurrent creates cannot both win.
func (db *DB) CreateBucket(ctx context.Context, opts CreateBucket) (_ Bucket, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return Bucket{}, err
	}

	bucket := Bucket{
		Name:      opts.Name,
		ID:        gocql.TimeUUID(),
		CreatedAt: time.Now(),
	}
	created, err := db.adapter.PutBucket(ctx, bucket)
	if err != nil {
		return Bucket{}, Error.Wrap(err)
	}
	if !created {
		return Bucket{}, ErrBucketExists.New("%q", opts.Name)
	}

	mon.Meter("bucket_create").Mark(1)
	return bucket, nil
}

// GetBucket resolves a bucket by name.
func (db *DB) GetBucket(ctx context.Context, name string) (_ Bucket, err error) {
	defer mon.Task()(&ctx)(&err)

	if name == "" {
		return Bucket{}, ErrInvalidRequest.New("Name missing")
	}

	bucket, ok, err := db.adapter.Bucket(ctx, name)
	if err != nil {
		return Bucket{}, Error.Wrap(err)
	}
	if !ok {
		return Bucket{}, ErrBucketNotFound.New("%q", name)
	}
	return bucket, nil
}

// ListBuckets returns all buckets sorted by name.
func (db *DB) ListBuckets(ctx context.Context) (_ []Bucket, err error) {
	defer mon.Task()(&ctx)(&err)

	buckets, err := db.adapter.Buckets(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Name < buckets[j].Name
	})
	return buckets, nil
}
