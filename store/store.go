// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"colonnade.io/colonnade/internal/memory"
)

var mon = monkit.Package()

// Config is the engine configuration.
type Config struct {
	ChunkSize          memory.Size `help:"maximum number of bytes kept in a single chunk row" default:"128KiB"`
	ChunksPerPartition int64       `help:"number of consecutive chunks sharing a chunk table partition" default:"512"`
	Username           string      `help:"username for cluster authentication, blank disables authentication" default:""`
	Password           string      `help:"password for cluster authentication" default:""`
	CompactionStrategy string      `help:"compaction strategy for the chunk table" default:"SizeTieredCompactionStrategy"`
	Keyspace           string      `help:"keyspace holding the object tables" default:"s3"`
	ReplicationFactor  int         `help:"replication factor for the keyspace" default:"3"`
	Consistency        string      `help:"consistency level for cluster reads and writes" default:"quorum"`

	Scylla ClusterConfig
	GC     GCConfig
}

// ClusterConfig addresses the backing cluster.
type ClusterConfig struct {
	Hosts string `help:"comma separated addresses of cluster nodes" default:"127.0.0.1"`
	Port  int    `help:"native transport port of the cluster" default:"9042"`
}

// GCConfig tunes background reclamation of deleted data.
type GCConfig struct {
	Interval time.Duration `help:"how often deleted objects are reclaimed, 0 disables the sweeper" default:"5m"`
}

// DB implements the object storage semantics on top of a cluster adapter.
type DB struct {
	log      *zap.Logger
	adapter  Adapter
	geometry Geometry
	config   Config
	gc       *reclaimQueue
}

// Open connects to the cluster named in config and binds the engine to it.
func Open(ctx context.Context, log *zap.Logger, config Config) (*DB, error) {
	adapter, err := OpenCluster(ctx, log.Named("cluster"), config)
	if err != nil {
		return nil, err
	}
	return New(log, adapter, config)
}

// New binds the engine to an already open adapter.
func New(log *zap.Logger, adapter Adapter, config Config) (*DB, error) {
	geometry := Geometry{
		ChunkSize:          config.ChunkSize.Int64(),
		ChunksPerPartition: config.ChunksPerPartition,
	}
	if err := geometry.Verify(); err != nil {
		return nil, err
	}
	return &DB{
		log:      log,
		adapter:  adapter,
		geometry: geometry,
		config:   config,
		gc:       &reclaimQueue{},
	}, nil
}

// Adapter exposes the underlying adapter, mostly for tests and tooling.
func (db *DB) Adapter() Adapter { return db.adapter }

// EnsureSchema creates the object tables when they are missing.
func (db *DB) EnsureSchema(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return db.adapter.EnsureSchema(ctx)
}

// DropSchema removes the object tables and everything in them.
func (db *DB) DropSchema(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return db.adapter.DropSchema(ctx)
}

// Ping checks whether the cluster is reachable.
func (db *DB) Ping(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	return db.adapter.Ping(ctx)
}

// Close releases the cluster session.
func (db *DB) Close() error {
	return db.adapter.Close()
}
