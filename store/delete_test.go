// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"colonnade.io/colonnade/internal/testcontext"
	"colonnade.io/colonnade/store"
	"colonnade.io/colonnade/store/storetest"
)

func TestDeleteObject(t *testing.T) {
	storetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB) {
		storetest.CreateBucket(ctx, t, db, "data")
		storetest.PutObject(ctx, t, db, "data", "gone", "body")

		require.NoError(t, db.DeleteObject(ctx, store.DeleteObject{Bucket: "data", Key: "gone"}))

		_, err := db.GetObject(ctx, store.GetObject{Bucket: "data", Key: "gone"})
		require.True(t, store.ErrObjectNotFound.Has(err))

		result, err := db.ListObjects(ctx, store.ListObjects{Bucket: "data"})
		require.NoError(t, err)
		require.Empty(t, result.Items)

		err = db.DeleteObject(ctx, store.DeleteObject{Bucket: "data", Key: "gone"})
		require.True(t, store.ErrObjectNotFound.Has(err))

		err = db.DeleteObject(ctx, store.DeleteObject{Bucket: "nope", Key: "gone"})
		require.True(t, store.ErrBucketNotFound.Has(err))
	})
}

func TestSweepDeleted(t *testing.T) {
	storetest.RunWithConfig(t, smallConfig(), func(ctx *testcontext.Context, t *testing.T, db *store.DB) {
		bucket := storetest.CreateBucket(ctx, t, db, "data")
		storetest.PutObject(ctx, t, db, "data", "gone", "v1 bytes")
		storetest.PutObject(ctx, t, db, "data", "gone", "v2 bytes!")

		header, ok, err := db.Adapter().ObjectHeader(ctx, bucket.ID, "gone")
		require.NoError(t, err)
		require.True(t, ok)
		parts, err := db.Adapter().PartHeaders(ctx, header.ObjectID, header.CurrentVersion)
		require.NoError(t, err)
		require.Len(t, parts, 1)
		blobID := parts[0].BlobID

		require.NoError(t, db.DeleteObject(ctx, store.DeleteObject{Bucket: "data", Key: "gone"}))

		// Both versions go away in one sweep.
		reclaimed, err := db.SweepDeleted(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, reclaimed)

		versions, err := db.Adapter().VersionHeaders(ctx, header.ObjectID)
		require.NoError(t, err)
		require.Empty(t, versions)

		parts, err = db.Adapter().PartHeaders(ctx, header.ObjectID, header.CurrentVersion)
		require.NoError(t, err)
		require.Empty(t, parts)

		_, ok, err = db.Adapter().Chunk(ctx, blobID, 0, 0)
		require.NoError(t, err)
		require.False(t, ok)

		// A second sweep finds nothing queued.
		reclaimed, err = db.SweepDeleted(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, reclaimed)
	})
}

func TestSweepAbortedUpload(t *testing.T) {
	storetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB) {
		storetest.CreateBucket(ctx, t, db, "data")
		storetest.PutObject(ctx, t, db, "data", "movie", "keep these bytes")

		upload := beginUpload(ctx, t, db, "data", "movie")
		uploadPart(ctx, t, db, "movie", upload.ID, 1, "discard")
		require.NoError(t, db.AbortUpload(ctx, store.AbortUpload{Key: "movie", UploadID: upload.ID}))

		reclaimed, err := db.SweepDeleted(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, reclaimed)

		// Only the pending version is reclaimed, the current one still
		// serves reads.
		versions, err := db.Adapter().VersionHeaders(ctx, upload.ObjectID)
		require.NoError(t, err)
		require.Len(t, versions, 1)

		_, body := storetest.ReadObject(ctx, t, db, "data", "movie")
		require.Equal(t, "keep these bytes", body)
	})
}

func TestRunGC(t *testing.T) {
	config := storetest.DefaultConfig()
	config.GC.Interval = 10 * time.Millisecond
	storetest.RunWithConfig(t, config, func(ctx *testcontext.Context, t *testing.T, db *store.DB) {
		storetest.CreateBucket(ctx, t, db, "data")
		item := storetest.PutObject(ctx, t, db, "data", "gone", "body")
		require.NoError(t, db.DeleteObject(ctx, store.DeleteObject{Bucket: "data", Key: "gone"}))

		gcCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		ctx.Go(func() error { return db.RunGC(gcCtx) })

		deadline := time.Now().Add(10 * time.Second)
		for {
			versions, err := db.Adapter().VersionHeaders(ctx, item.ObjectID)
			require.NoError(t, err)
			if len(versions) == 0 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("deleted versions were not reclaimed")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}

func TestRunGCDisabled(t *testing.T) {
	config := storetest.DefaultConfig()
	config.GC.Interval = 0
	storetest.RunWithConfig(t, config, func(ctx *testcontext.Context, t *testing.T, db *store.DB) {
		require.NoError(t, db.RunGC(ctx))
	})
}
