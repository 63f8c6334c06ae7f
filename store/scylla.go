// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"
)

// knownCompactionStrategies are the strategies accepted for the chunk table.
var knownCompactionStrategies = map[string]bool{
	"SizeTieredCompactionStrategy":  true,
	"LeveledCompactionStrategy":     true,
	"TimeWindowCompactionStrategy":  true,
	"DateTieredCompactionStrategy":  true,
	"IncrementalCompactionStrategy": true,
}

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

const (
	createKeyspace = `CREATE KEYSPACE IF NOT EXISTS %s ` +
		`WITH replication = {'class': 'NetworkTopologyStrategy', 'replication_factor': %d} ` +
		`AND durable_writes = true`

	createBuckets = `CREATE TABLE IF NOT EXISTS buckets (
		name text PRIMARY KEY,
		bucket_id uuid,
		creation_date timestamp,
		metadata text
	)`

	createObjects = `CREATE TABLE IF NOT EXISTS objects (
		bucket_id uuid,
		key text,
		object_id uuid,
		current_version bigint,
		metadata text,
		PRIMARY KEY ((bucket_id), key)
	)`

	createVersions = `CREATE TABLE IF NOT EXISTS versions (
		object_id uuid,
		version bigint,
		bucket_id uuid,
		chunk_size bigint,
		chunks_per_partition bigint,
		content_type text,
		creation_date timestamp,
		digest text,
		size bigint,
		parts_flag boolean,
		metadata text,
		PRIMARY KEY ((object_id), version)
	) WITH CLUSTERING ORDER BY (version DESC)`

	createParts = `CREATE TABLE IF NOT EXISTS parts (
		object_id uuid,
		version bigint,
		part_no int,
		blob_id uuid,
		digest text,
		size bigint,
		PRIMARY KEY ((object_id), version, part_no)
	)`

	createChunks = `CREATE TABLE IF NOT EXISTS chunks (
		blob_id uuid,
		partition bigint,
		ix bigint,
		data blob,
		PRIMARY KEY ((blob_id, partition), ix)
	) WITH compaction = {'class': '%s'}`

	createUploads = `CREATE TABLE IF NOT EXISTS uploads (
		key text,
		upload_id text,
		object_id uuid,
		version bigint,
		bucket_id uuid,
		metadata text,
		PRIMARY KEY ((key), upload_id)
	)`
)

// scyllaAdapter implements Adapter on a gocql session.
type scyllaAdapter struct {
	log     *zap.Logger
	session *gocql.Session
	config  Config
}

var _ Adapter = (*scyllaAdapter)(nil)

// OpenCluster dials the cluster, ensures the keyspace exists and returns an
// adapter bound to that keyspace.
func OpenCluster(ctx context.Context, log *zap.Logger, config Config) (_ Adapter, err error) {
	defer mon.Task()(&ctx)(&err)

	if !knownCompactionStrategies[config.CompactionStrategy] {
		return nil, ErrInvalidRequest.New("unknown compaction strategy %q", config.CompactionStrategy)
	}
	if !keyspacePattern.MatchString(config.Keyspace) {
		return nil, ErrInvalidRequest.New("invalid keyspace name %q", config.Keyspace)
	}
	if config.ReplicationFactor < 1 {
		return nil, ErrInvalidRequest.New("replication factor invalid: %v", config.ReplicationFactor)
	}

	cluster, err := newCluster(config)
	if err != nil {
		return nil, err
	}

	control, err := cluster.CreateSession()
	if err != nil {
		return nil, Error.New("connect to cluster: %v", err)
	}
	err = control.Query(fmt.Sprintf(createKeyspace, config.Keyspace, config.ReplicationFactor)).
		WithContext(ctx).Exec()
	control.Close()
	if err != nil {
		return nil, Error.New("create keyspace %s: %v", config.Keyspace, err)
	}

	cluster.Keyspace = config.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, Error.New("connect to keyspace %s: %v", config.Keyspace, err)
	}

	log.Debug("connected",
		zap.String("hosts", config.Scylla.Hosts),
		zap.Int("port", config.Scylla.Port),
		zap.String("keyspace", config.Keyspace))

	return &scyllaAdapter{log: log, session: session, config: config}, nil
}

func newCluster(config Config) (*gocql.ClusterConfig, error) {
	var hosts []string
	for _, host := range strings.Split(config.Scylla.Hosts, ",") {
		if host = strings.TrimSpace(host); host != "" {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		return nil, ErrInvalidRequest.New("no cluster hosts configured")
	}

	consistency, err := gocql.ParseConsistencyWrapper(config.Consistency)
	if err != nil {
		return nil, ErrInvalidRequest.New("unknown consistency level %q", config.Consistency)
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Port = config.Scylla.Port
	cluster.Consistency = consistency
	cluster.ProtoVersion = 4
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	if config.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}
	return cluster, nil
}

func (a *scyllaAdapter) Ping(ctx context.Context) error {
	var version string
	err := a.session.Query(`SELECT release_version FROM system.local`).
		WithContext(ctx).Scan(&version)
	return Error.Wrap(err)
}

func (a *scyllaAdapter) EnsureSchema(ctx context.Context) error {
	tables := []string{
		createBuckets,
		createObjects,
		createVersions,
		createParts,
		fmt.Sprintf(createChunks, a.config.CompactionStrategy),
		createUploads,
	}
	for _, table := range tables {
		if err := a.session.Query(table).WithContext(ctx).Exec(); err != nil {
			return Error.New("create tables: %v", err)
		}
	}
	return nil
}

func (a *scyllaAdapter) DropSchema(ctx context.Context) error {
	err := a.session.Query(fmt.Sprintf(`DROP KEYSPACE IF EXISTS %s`, a.config.Keyspace)).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) Close() error {
	a.session.Close()
	return nil
}

func (a *scyllaAdapter) PutBucket(ctx context.Context, bucket Bucket) (bool, error) {
	applied, err := a.session.Query(`
		INSERT INTO buckets (name, bucket_id, creation_date, metadata)
		VALUES (?, ?, ?, '')
		IF NOT EXISTS`,
		bucket.Name, bucket.ID, bucket.CreatedAt).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	return applied, Error.Wrap(err)
}

func (a *scyllaAdapter) Bucket(ctx context.Context, name string) (Bucket, bool, error) {
	bucket := Bucket{Name: name}
	err := a.session.Query(`
		SELECT bucket_id, creation_date FROM buckets WHERE name = ?`,
		name).
		WithContext(ctx).Scan(&bucket.ID, &bucket.CreatedAt)
	if err == gocql.ErrNotFound {
		return Bucket{}, false, nil
	}
	if err != nil {
		return Bucket{}, false, Error.Wrap(err)
	}
	return bucket, true, nil
}

func (a *scyllaAdapter) Buckets(ctx context.Context) ([]Bucket, error) {
	iter := a.session.Query(`SELECT name, bucket_id, creation_date FROM buckets`).
		WithContext(ctx).Iter()

	var buckets []Bucket
	var bucket Bucket
	for iter.Scan(&bucket.Name, &bucket.ID, &bucket.CreatedAt) {
		buckets = append(buckets, bucket)
	}
	return buckets, Error.Wrap(iter.Close())
}

func (a *scyllaAdapter) PutObjectHeader(ctx context.Context, header ObjectHeader) error {
	err := a.session.Query(`
		INSERT INTO objects (bucket_id, key, object_id, current_version, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		header.BucketID, header.Key, header.ObjectID, header.CurrentVersion, header.Metadata).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) ObjectHeader(ctx context.Context, bucketID gocql.UUID, key string) (ObjectHeader, bool, error) {
	header := ObjectHeader{BucketID: bucketID, Key: key}
	err := a.session.Query(`
		SELECT object_id, current_version, metadata
		FROM objects WHERE bucket_id = ? AND key = ?`,
		bucketID, key).
		WithContext(ctx).Scan(&header.ObjectID, &header.CurrentVersion, &header.Metadata)
	if err == gocql.ErrNotFound {
		return ObjectHeader{}, false, nil
	}
	if err != nil {
		return ObjectHeader{}, false, Error.Wrap(err)
	}
	return header, true, nil
}

func (a *scyllaAdapter) DeleteObjectHeader(ctx context.Context, bucketID gocql.UUID, key string) error {
	err := a.session.Query(`
		DELETE FROM objects WHERE bucket_id = ? AND key = ?`,
		bucketID, key).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) IterateObjectHeaders(ctx context.Context, opts IterateHeaders, fn func(ObjectHeader) bool) error {
	cql := `SELECT key, object_id, current_version, metadata FROM objects WHERE bucket_id = ?`
	args := []interface{}{opts.BucketID}

	if opts.First != "" {
		if opts.Inclusive {
			cql += ` AND key >= ?`
		} else {
			cql += ` AND key > ?`
		}
		args = append(args, opts.First)
	}
	if opts.Prefix != "" {
		if limit, ok := prefixLimit(opts.Prefix); ok {
			cql += ` AND key < ?`
			args = append(args, limit)
		}
	}

	iter := a.session.Query(cql, args...).WithContext(ctx).PageSize(512).Iter()
	header := ObjectHeader{BucketID: opts.BucketID}
	for iter.Scan(&header.Key, &header.ObjectID, &header.CurrentVersion, &header.Metadata) {
		if !fn(header) {
			break
		}
	}
	return Error.Wrap(iter.Close())
}

func (a *scyllaAdapter) PutVersionHeader(ctx context.Context, version VersionHeader) error {
	err := a.session.Query(`
		INSERT INTO versions (object_id, version, bucket_id, chunk_size, chunks_per_partition,
			content_type, creation_date, digest, size, parts_flag, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		version.ObjectID, version.Version, version.BucketID,
		version.ChunkSize, version.ChunksPerPartition,
		version.ContentType, version.CreatedAt,
		version.Digest, version.Size, version.Multipart, version.Metadata).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) FinalizeVersionHeader(ctx context.Context, objectID gocql.UUID, version, size int64, digest, metadata string) error {
	err := a.session.Query(`
		UPDATE versions SET size = ?, digest = ?, metadata = ?
		WHERE object_id = ? AND version = ?`,
		size, digest, metadata, objectID, version).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) VersionHeader(ctx context.Context, objectID gocql.UUID, version int64) (VersionHeader, bool, error) {
	header := VersionHeader{ObjectID: objectID, Version: version}
	err := a.session.Query(`
		SELECT bucket_id, chunk_size, chunks_per_partition, content_type,
			creation_date, digest, size, parts_flag, metadata
		FROM versions WHERE object_id = ? AND version = ?`,
		objectID, version).
		WithContext(ctx).Scan(
		&header.BucketID, &header.ChunkSize, &header.ChunksPerPartition, &header.ContentType,
		&header.CreatedAt, &header.Digest, &header.Size, &header.Multipart, &header.Metadata)
	if err == gocql.ErrNotFound {
		return VersionHeader{}, false, nil
	}
	if err != nil {
		return VersionHeader{}, false, Error.Wrap(err)
	}
	return header, true, nil
}

func (a *scyllaAdapter) VersionHeaders(ctx context.Context, objectID gocql.UUID) ([]VersionHeader, error) {
	iter := a.session.Query(`
		SELECT version, bucket_id, chunk_size, chunks_per_partition, content_type,
			creation_date, digest, size, parts_flag, metadata
		FROM versions WHERE object_id = ?`,
		objectID).
		WithContext(ctx).Iter()

	var headers []VersionHeader
	header := VersionHeader{ObjectID: objectID}
	for iter.Scan(
		&header.Version, &header.BucketID, &header.ChunkSize, &header.ChunksPerPartition,
		&header.ContentType, &header.CreatedAt, &header.Digest, &header.Size,
		&header.Multipart, &header.Metadata) {
		headers = append(headers, header)
	}
	return headers, Error.Wrap(iter.Close())
}

func (a *scyllaAdapter) DeleteVersionHeader(ctx context.Context, objectID gocql.UUID, version int64) error {
	err := a.session.Query(`
		DELETE FROM versions WHERE object_id = ? AND version = ?`,
		objectID, version).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) PutPartHeader(ctx context.Context, part PartHeader) error {
	err := a.session.Query(`
		INSERT INTO parts (object_id, version, part_no, blob_id, digest, size)
		VALUES (?, ?, ?, ?, ?, ?)`,
		part.ObjectID, part.Version, part.Number, part.BlobID, part.Digest, part.Size).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) FinalizePartHeader(ctx context.Context, objectID gocql.UUID, version int64, number int, digest string) error {
	err := a.session.Query(`
		UPDATE parts SET digest = ?
		WHERE object_id = ? AND version = ? AND part_no = ?`,
		digest, objectID, version, number).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) PartHeaders(ctx context.Context, objectID gocql.UUID, version int64) ([]PartHeader, error) {
	iter := a.session.Query(`
		SELECT part_no, blob_id, digest, size
		FROM parts WHERE object_id = ? AND version = ?`,
		objectID, version).
		WithContext(ctx).Iter()

	var parts []PartHeader
	part := PartHeader{ObjectID: objectID, Version: version}
	for iter.Scan(&part.Number, &part.BlobID, &part.Digest, &part.Size) {
		parts = append(parts, part)
	}
	return parts, Error.Wrap(iter.Close())
}

func (a *scyllaAdapter) DeletePartHeaders(ctx context.Context, objectID gocql.UUID, version int64) error {
	err := a.session.Query(`
		DELETE FROM parts WHERE object_id = ? AND version = ?`,
		objectID, version).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) PutChunk(ctx context.Context, blobID gocql.UUID, partition, ix int64, data []byte) error {
	err := a.session.Query(`
		INSERT INTO chunks (blob_id, partition, ix, data)
		VALUES (?, ?, ?, ?)`,
		blobID, partition, ix, data).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) Chunk(ctx context.Context, blobID gocql.UUID, partition, ix int64) ([]byte, bool, error) {
	var data []byte
	err := a.session.Query(`
		SELECT data FROM chunks WHERE blob_id = ? AND partition = ? AND ix = ?`,
		blobID, partition, ix).
		WithContext(ctx).Scan(&data)
	if err == gocql.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Error.Wrap(err)
	}
	return data, true, nil
}

func (a *scyllaAdapter) DeleteBlob(ctx context.Context, blobID gocql.UUID, partitions int64) error {
	for partition := int64(0); partition < partitions; partition++ {
		err := a.session.Query(`
			DELETE FROM chunks WHERE blob_id = ? AND partition = ?`,
			blobID, partition).
			WithContext(ctx).Exec()
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}

func (a *scyllaAdapter) PutUpload(ctx context.Context, upload Upload) error {
	err := a.session.Query(`
		INSERT INTO uploads (key, upload_id, object_id, version, bucket_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		upload.Key, upload.ID, upload.ObjectID, upload.Version, upload.BucketID, upload.Metadata).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}

func (a *scyllaAdapter) Upload(ctx context.Context, key, uploadID string) (Upload, bool, error) {
	upload := Upload{Key: key, ID: uploadID}
	err := a.session.Query(`
		SELECT object_id, version, bucket_id, metadata
		FROM uploads WHERE key = ? AND upload_id = ?`,
		key, uploadID).
		WithContext(ctx).Scan(&upload.ObjectID, &upload.Version, &upload.BucketID, &upload.Metadata)
	if err == gocql.ErrNotFound {
		return Upload{}, false, nil
	}
	if err != nil {
		return Upload{}, false, Error.Wrap(err)
	}
	return upload, true, nil
}

func (a *scyllaAdapter) DeleteUpload(ctx context.Context, key, uploadID string) error {
	err := a.session.Query(`
		DELETE FROM uploads WHERE key = ? AND upload_id = ?`,
		key, uploadID).
		WithContext(ctx).Exec()
	return Error.Wrap(err)
}
