// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

// Package storetest provides a harness for exercising the engine against
// the in-memory adapter.
package storetest

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"colonnade.io/colonnade/internal/memory"
	"colonnade.io/colonnade/internal/testcontext"
	"colonnade.io/colonnade/store"
)

// DefaultConfig mirrors the production defaults.
func DefaultConfig() store.Config {
	return store.Config{
		ChunkSize:          128 * memory.KiB,
		ChunksPerPartition: 512,
		CompactionStrategy: "SizeTieredCompactionStrategy",
		Keyspace:           "s3",
		ReplicationFactor:  3,
		Consistency:        "quorum",
		Scylla: store.ClusterConfig{
			Hosts: "127.0.0.1",
			Port:  9042,
		},
		GC: store.GCConfig{
			Interval: 5 * time.Minute,
		},
	}
}

// Run opens an engine over a fresh in-memory adapter and calls fn.
func Run(t *testing.T, fn func(ctx *testcontext.Context, t *testing.T, db *store.DB)) {
	RunWithConfig(t, DefaultConfig(), fn)
}

// RunWithConfig is Run with custom engine configuration, usually a small
// chunk geometry so tests cross chunk and partition boundaries with tiny
// payloads.
func RunWithConfig(t *testing.T, config store.Config, fn func(ctx *testcontext.Context, t *testing.T, db *store.DB)) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, err := store.New(zaptest.NewLogger(t), store.NewMemory(), config)
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	fn(ctx, t, db)
}

// CreateBucket registers a bucket and fails the test on error.
func CreateBucket(ctx *testcontext.Context, t *testing.T, db *store.DB, name string) store.Bucket {
	bucket, err := db.CreateBucket(ctx, store.CreateBucket{Name: name})
	require.NoError(t, err)
	return bucket
}

// PutObject stores body under bucket/key and fails the test on error.
func PutObject(ctx *testcontext.Context, t *testing.T, db *store.DB, bucket, key, body string) store.Item {
	item, err := db.StoreObject(ctx, store.StoreObject{
		Bucket: bucket,
		Key:    key,
		Size:   int64(len(body)),
		Body:   strings.NewReader(body),
	})
	require.NoError(t, err)
	return item
}

// ReadObject reads back the full current body of bucket/key and fails the
// test on error.
func ReadObject(ctx *testcontext.Context, t *testing.T, db *store.DB, bucket, key string) (store.Item, string) {
	item, err := db.GetObject(ctx, store.GetObject{Bucket: bucket, Key: key})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, db.ReadRange(ctx, &buf, item, 0, item.Size))
	return item, buf.String()
}
