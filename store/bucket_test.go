// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"colonnade.io/colonnade/internal/testcontext"
	"colonnade.io/colonnade/store"
	"colonnade.io/colonnade/store/storetest"
)

func TestCreateBucket(t *testing.T) {
	storetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB) {
		bucket, err := db.CreateBucket(ctx, store.CreateBucket{Name: "alpha"})
		require.NoError(t, err)
		require.Equal(t, "alpha", bucket.Name)
		require.False(t, bucket.CreatedAt.IsZero())

		_, err = db.CreateBucket(ctx, store.CreateBucket{Name: "alpha"})
		require.True(t, store.ErrBucketExists.Has(err))

		_, err = db.CreateBucket(ctx, store.CreateBucket{})
		require.True(t, store.ErrInvalidRequest.Has(err))
	})
}

func TestGetBucket(t *testing.T) {
	storetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB) {
		created := storetest.CreateBucket(ctx, t, db, "alpha")

		bucket, err := db.GetBucket(ctx, "alpha")
		require.NoError(t, err)
		require.Equal(t, created.ID, bucket.ID)

		_, err = db.GetBucket(ctx, "beta")
		require.True(t, store.ErrBucketNotFound.Has(err))
	})
}

func TestListBuckets(t *testing.T) {
	storetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB) {
		buckets, err := db.ListBuckets(ctx)
		require.NoError(t, err)
		require.Empty(t, buckets)

		for _, name := range []string{"gamma", "alpha", "beta"} {
			storetest.CreateBucket(ctx, t, db, name)
		}

		buckets, err = db.ListBuckets(ctx)
		require.NoError(t, err)

		var names []string
		for _, bucket := range buckets {
			names = append(names, bucket.Name)
		}
		require.Equal(t, []string{"alpha", "beta", "gamma"}, names)
	})
}
