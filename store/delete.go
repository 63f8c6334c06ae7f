// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
)

// DeleteObject contains arguments necessary for deleting an object.
type DeleteObject struct {
	Bucket string
	Key    string
}

// Verify verifies delete object request fields.
func (opts *DeleteObject) Verify() error {
	switch {
	case opts.Bucket == "":
		return ErrInvalidRequest.New("Bucket missing")
	case opts.Key == "":
		return ErrInvalidRequest.New("Key missing")
	}
	return nil
}

// DeleteObject removes the object header, making the key invisible
// immediately. Version, part and chunk rows are reclaimed later by the
// background sweep.
func (db *DB) DeleteObject(ctx context.Context, opts DeleteObject) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return err
	}

	bucket, err := db.GetBucket(ctx, opts.Bucket)
	if err != nil {
		return err
	}

	header, ok, err := db.adapter.ObjectHeader(ctx, bucket.ID, opts.Key)
	if err != nil {
		return Error.Wrap(err)
	}
	if !ok {
		return ErrObjectNotFound.New("%s/%s", opts.Bucket, opts.Key)
	}

	if err := db.adapter.DeleteObjectHeader(ctx, bucket.ID, opts.Key); err != nil {
		return Error.Wrap(err)
	}
	db.gc.push(reclaimItem{ObjectID: header.ObjectID, AllVersions: true})

	mon.Meter("object_delete").Mark(1)
	return nil
}
