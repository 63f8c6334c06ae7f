// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/gocql/gocql"
)

// Memory implements Adapter with in-process tables. Rows keep the same
// ordering as the cluster schema so the engine behaves identically against
// both. It backs tests and the gateway end-to-end suite.
type Memory struct {
	mu sync.Mutex

	buckets  []Bucket
	objects  map[gocql.UUID][]ObjectHeader
	versions map[gocql.UUID][]VersionHeader
	parts    map[memPartKey][]PartHeader
	chunks   map[memChunkKey][]byte
	uploads  map[memUploadKey]Upload
}

type memPartKey struct {
	object  gocql.UUID
	version int64
}

type memChunkKey struct {
	blob      gocql.UUID
	partition int64
	ix        int64
}

type memUploadKey struct {
	key string
	id  string
}

var _ Adapter = (*Memory)(nil)

// NewMemory constructs an empty in-process adapter.
func NewMemory() *Memory {
	return &Memory{
		objects:  map[gocql.UUID][]ObjectHeader{},
		versions: map[gocql.UUID][]VersionHeader{},
		parts:    map[memPartKey][]PartHeader{},
		chunks:   map[memChunkKey][]byte{},
		uploads:  map[memUploadKey]Upload{},
	}
}

func (mem *Memory) Ping(ctx context.Context) error         { return nil }
func (mem *Memory) EnsureSchema(ctx context.Context) error { return nil }
func (mem *Memory) Close() error                           { return nil }

func (mem *Memory) DropSchema(ctx context.Context) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.buckets = nil
	mem.objects = map[gocql.UUID][]ObjectHeader{}
	mem.versions = map[gocql.UUID][]VersionHeader{}
	mem.parts = map[memPartKey][]PartHeader{}
	mem.chunks = map[memChunkKey][]byte{}
	mem.uploads = map[memUploadKey]Upload{}
	return nil
}

func (mem *Memory) PutBucket(ctx context.Context, bucket Bucket) (bool, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	i := sort.Search(len(mem.buckets), func(i int) bool {
		return mem.buckets[i].Name >= bucket.Name
	})
	if i < len(mem.buckets) && mem.buckets[i].Name == bucket.Name {
		return false, nil
	}
	mem.buckets = append(mem.buckets, Bucket{})
	copy(mem.buckets[i+1:], mem.buckets[i:])
	mem.buckets[i] = bucket
	return true, nil
}

func (mem *Memory) Bucket(ctx context.Context, name string) (Bucket, bool, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	i := sort.Search(len(mem.buckets), func(i int) bool {
		return mem.buckets[i].Name >= name
	})
	if i < len(mem.buckets) && mem.buckets[i].Name == name {
		return mem.buckets[i], true, nil
	}
	return Bucket{}, false, nil
}

func (mem *Memory) Buckets(ctx context.Context) ([]Bucket, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	return append([]Bucket(nil), mem.buckets...), nil
}

func (mem *Memory) PutObjectHeader(ctx context.Context, header ObjectHeader) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	rows := mem.objects[header.BucketID]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].Key >= header.Key })
	if i < len(rows) && rows[i].Key == header.Key {
		rows[i] = header
		return nil
	}
	rows = append(rows, ObjectHeader{})
	copy(rows[i+1:], rows[i:])
	rows[i] = header
	mem.objects[header.BucketID] = rows
	return nil
}

func (mem *Memory) ObjectHeader(ctx context.Context, bucketID gocql.UUID, key string) (ObjectHeader, bool, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	rows := mem.objects[bucketID]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].Key >= key })
	if i < len(rows) && rows[i].Key == key {
		return rows[i], true, nil
	}
	return ObjectHeader{}, false, nil
}

func (mem *Memory) DeleteObjectHeader(ctx context.Context, bucketID gocql.UUID, key string) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	rows := mem.objects[bucketID]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].Key >= key })
	if i < len(rows) && rows[i].Key == key {
		mem.objects[bucketID] = append(rows[:i], rows[i+1:]...)
	}
	return nil
}

// IterateObjectHeaders visits rows in key order. fn runs while the table
// lock is held, so it must not call back into the adapter.
func (mem *Memory) IterateObjectHeaders(ctx context.Context, opts IterateHeaders, fn func(ObjectHeader) bool) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	rows := mem.objects[opts.BucketID]
	start := 0
	if opts.First != "" {
		if opts.Inclusive {
			start = sort.Search(len(rows), func(i int) bool { return rows[i].Key >= opts.First })
		} else {
			start = sort.Search(len(rows), func(i int) bool { return rows[i].Key > opts.First })
		}
	}
	for _, row := range rows[start:] {
		if opts.Prefix != "" && !strings.HasPrefix(row.Key, opts.Prefix) {
			break
		}
		if !fn(row) {
			break
		}
	}
	return nil
}

func (mem *Memory) PutVersionHeader(ctx context.Context, version VersionHeader) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.putVersionLocked(version)
	return nil
}

// putVersionLocked upserts into the per-object slice which is kept sorted
// newest first, mirroring the cluster clustering order.
func (mem *Memory) putVersionLocked(version VersionHeader) {
	rows := mem.versions[version.ObjectID]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].Version <= version.Version })
	if i < len(rows) && rows[i].Version == version.Version {
		rows[i] = version
		return
	}
	rows = append(rows, VersionHeader{})
	copy(rows[i+1:], rows[i:])
	rows[i] = version
	mem.versions[version.ObjectID] = rows
}

func (mem *Memory) FinalizeVersionHeader(ctx context.Context, objectID gocql.UUID, version, size int64, digest, metadata string) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	rows := mem.versions[objectID]
	for i := range rows {
		if rows[i].Version == version {
			rows[i].Size = size
			rows[i].Digest = digest
			rows[i].Metadata = metadata
			return nil
		}
	}
	mem.putVersionLocked(VersionHeader{
		ObjectID: objectID,
		Version:  version,
		Size:     size,
		Digest:   digest,
		Metadata: metadata,
	})
	return nil
}

func (mem *Memory) VersionHeader(ctx context.Context, objectID gocql.UUID, version int64) (VersionHeader, bool, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	for _, row := range mem.versions[objectID] {
		if row.Version == version {
			return row, true, nil
		}
	}
	return VersionHeader{}, false, nil
}

func (mem *Memory) VersionHeaders(ctx context.Context, objectID gocql.UUID) ([]VersionHeader, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	return append([]VersionHeader(nil), mem.versions[objectID]...), nil
}

func (mem *Memory) DeleteVersionHeader(ctx context.Context, objectID gocql.UUID, version int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	rows := mem.versions[objectID]
	for i := range rows {
		if rows[i].Version == version {
			mem.versions[objectID] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	return nil
}

func (mem *Memory) PutPartHeader(ctx context.Context, part PartHeader) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.putPartLocked(part)
	return nil
}

func (mem *Memory) putPartLocked(part PartHeader) {
	key := memPartKey{object: part.ObjectID, version: part.Version}
	rows := mem.parts[key]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].Number >= part.Number })
	if i < len(rows) && rows[i].Number == part.Number {
		rows[i] = part
		return
	}
	rows = append(rows, PartHeader{})
	copy(rows[i+1:], rows[i:])
	rows[i] = part
	mem.parts[key] = rows
}

func (mem *Memory) FinalizePartHeader(ctx context.Context, objectID gocql.UUID, version int64, number int, digest string) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	key := memPartKey{object: objectID, version: version}
	rows := mem.parts[key]
	for i := range rows {
		if rows[i].Number == number {
			rows[i].Digest = digest
			return nil
		}
	}
	mem.putPartLocked(PartHeader{
		ObjectID: objectID,
		Version:  version,
		Number:   number,
		Digest:   digest,
	})
	return nil
}

func (mem *Memory) PartHeaders(ctx context.Context, objectID gocql.UUID, version int64) ([]PartHeader, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	rows := mem.parts[memPartKey{object: objectID, version: version}]
	return append([]PartHeader(nil), rows...), nil
}

func (mem *Memory) DeletePartHeaders(ctx context.Context, objectID gocql.UUID, version int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	delete(mem.parts, memPartKey{object: objectID, version: version})
	return nil
}

func (mem *Memory) PutChunk(ctx context.Context, blobID gocql.UUID, partition, ix int64, data []byte) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	key := memChunkKey{blob: blobID, partition: partition, ix: ix}
	mem.chunks[key] = append([]byte(nil), data...)
	return nil
}

func (mem *Memory) Chunk(ctx context.Context, blobID gocql.UUID, partition, ix int64) ([]byte, bool, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	data, ok := mem.chunks[memChunkKey{blob: blobID, partition: partition, ix: ix}]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (mem *Memory) DeleteBlob(ctx context.Context, blobID gocql.UUID, partitions int64) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()

	for key := range mem.chunks {
		if key.blob == blobID && key.partition < partitions {
			delete(mem.chunks, key)
		}
	}
	return nil
}

func (mem *Memory) PutUpload(ctx context.Context, upload Upload) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.uploads[memUploadKey{key: upload.Key, id: upload.ID}] = upload
	return nil
}

func (mem *Memory) Upload(ctx context.Context, key, uploadID string) (Upload, bool, error) {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	upload, ok := mem.uploads[memUploadKey{key: key, id: uploadID}]
	return upload, ok, nil
}

func (mem *Memory) DeleteUpload(ctx context.Context, key, uploadID string) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	delete(mem.uploads, memUploadKey{key: key, id: uploadID})
	return nil
}
