// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/zeebo/errs"
)

var (
	// Error is the default error for the store package.
	Error = errs.Class("store")
	// ErrInvalidRequest is used to indicate malformed requests.
	ErrInvalidRequest = errs.Class("store: invalid request")
	// ErrBucketNotFound is used to indicate a missing bucket.
	ErrBucketNotFound = errs.Class("bucket not found")
	// ErrBucketExists is used to indicate the bucket name is already taken.
	ErrBucketExists = errs.Class("bucket already exists")
	// ErrObjectNotFound is used to indicate a missing object.
	ErrObjectNotFound = errs.Class("object not found")
	// ErrVersionNotFound is used to indicate an object header pointing at a
	// version row that is gone.
	ErrVersionNotFound = errs.Class("version not found")
	// ErrUploadNotFound is used to indicate a missing multipart upload.
	ErrUploadNotFound = errs.Class("upload not found")
	// ErrChunkMissing is used to indicate a blob that lost one of its chunk
	// rows.
	ErrChunkMissing = errs.Class("chunk missing")
)

// TimeFormat renders timestamps the way S3 clients expect them.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// DefaultContentType is assumed when a request does not carry one.
const DefaultContentType = "application/octet-stream"

// DirectoryContentType marks keys that emulate directories.
const DirectoryContentType = "application/x-directory"

// FormatTime renders t for XML payloads and metadata snapshots. Timestamps
// are truncated to whole seconds, the fraction is always zero.
func FormatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimeFormat)
}

// Geometry pins how a blob splits into chunk rows.
type Geometry struct {
	ChunkSize          int64
	ChunksPerPartition int64
}

// Verify verifies geometry fields.
func (g Geometry) Verify() error {
	switch {
	case g.ChunkSize <= 0:
		return ErrInvalidRequest.New("ChunkSize invalid: %v", g.ChunkSize)
	case g.ChunksPerPartition <= 0:
		return ErrInvalidRequest.New("ChunksPerPartition invalid: %v", g.ChunksPerPartition)
	}
	return nil
}

// Locate returns the partition and the index within that partition for the
// n-th chunk of a blob.
func (g Geometry) Locate(n int64) (partition, ix int64) {
	return n / g.ChunksPerPartition, n % g.ChunksPerPartition
}

// ChunkCount returns how many chunk rows a blob of the given size occupies.
func (g Geometry) ChunkCount(size int64) int64 {
	return (size + g.ChunkSize - 1) / g.ChunkSize
}

// Partitions returns how many partitions a blob of the given size spans.
func (g Geometry) Partitions(size int64) int64 {
	return (g.ChunkCount(size) + g.ChunksPerPartition - 1) / g.ChunksPerPartition
}

// Bucket is a single namespace for object keys.
type Bucket struct {
	Name      string
	ID        gocql.UUID
	CreatedAt time.Time
}

// ObjectHeader names the current version of a key. Metadata caches the
// snapshot of the current version so listings do not touch version rows.
type ObjectHeader struct {
	BucketID       gocql.UUID
	Key            string
	ObjectID       gocql.UUID
	CurrentVersion int64
	Metadata       string
}

// VersionHeader freezes the chunk geometry and content facts of one object
// revision. Readers use the geometry pinned here, never the engine defaults.
type VersionHeader struct {
	ObjectID           gocql.UUID
	Version            int64
	BucketID           gocql.UUID
	ChunkSize          int64
	ChunksPerPartition int64
	ContentType        string
	CreatedAt          time.Time
	Digest             string
	Size               int64
	Multipart          bool
	Metadata           string
}

// Geometry returns the chunk geometry pinned on the version.
func (v VersionHeader) Geometry() Geometry {
	return Geometry{ChunkSize: v.ChunkSize, ChunksPerPartition: v.ChunksPerPartition}
}

// PartHeader maps one part of a version to the blob holding its bytes.
type PartHeader struct {
	ObjectID gocql.UUID
	Version  int64
	Number   int
	BlobID   gocql.UUID
	Digest   string
	Size     int64
}

// Upload is the transient coordinator row of a multipart upload. It exists
// only between begin and complete or abort.
type Upload struct {
	Key      string
	ID       string
	BucketID gocql.UUID
	ObjectID gocql.UUID
	Version  int64
	Metadata string
}

// Item describes one readable object version. It carries everything a range
// read needs, so serving bytes never goes back to the object header.
type Item struct {
	Bucket             string
	Key                string
	ObjectID           gocql.UUID
	Version            int64
	ChunkSize          int64
	ChunksPerPartition int64
	ContentType        string
	Digest             string
	Size               int64
	CreatedAt          time.Time
	Headers            map[string]string
}

// Geometry returns the chunk geometry pinned on the item's version.
func (item Item) Geometry() Geometry {
	return Geometry{ChunkSize: item.ChunkSize, ChunksPerPartition: item.ChunksPerPartition}
}

// ObjectEntry is a single row of a bucket listing.
type ObjectEntry struct {
	Key         string
	Size        int64
	Digest      string
	ContentType string
	CreatedAt   time.Time
}

// persistedHeaders lists the request headers that survive a PUT and are
// replayed on reads. Content type is kept on its own column.
var persistedHeaders = map[string]bool{
	"cache-control":       true,
	"content-disposition": true,
	"content-encoding":    true,
	"content-language":    true,
	"expires":             true,
}

// filterHeaders returns the persisted subset of headers with lowercased
// names.
func filterHeaders(headers map[string]string) map[string]string {
	var filtered map[string]string
	for name, value := range headers {
		name = strings.ToLower(name)
		if !persistedHeaders[name] {
			continue
		}
		if filtered == nil {
			filtered = make(map[string]string, len(headers))
		}
		filtered[name] = value
	}
	return filtered
}

// versionMetadata renders the metadata snapshot cached on version and object
// rows.
func versionMetadata(version VersionHeader, headers map[string]string) (string, error) {
	fields := make(map[string]interface{}, len(headers)+4)
	for name, value := range headers {
		fields[strings.ToLower(name)] = value
	}
	fields["content_type"] = version.ContentType
	fields["creation_date"] = FormatTime(version.CreatedAt)
	fields["digest"] = version.Digest
	fields["size"] = version.Size

	data, err := json.Marshal(fields)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return string(data), nil
}

// itemMetadata is the decoded form of a metadata snapshot.
type itemMetadata struct {
	ContentType string
	CreatedAt   time.Time
	Digest      string
	Size        int64
	Headers     map[string]string
}

// decodeMetadata parses a metadata snapshot. Unknown and malformed fields
// are dropped instead of failing the read path.
func decodeMetadata(raw string) itemMetadata {
	var meta itemMetadata
	if raw == "" {
		return meta
	}
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return meta
	}
	for name, value := range fields {
		text, isText := value.(string)
		switch name {
		case "content_type":
			meta.ContentType = text
		case "creation_date":
			if t, err := time.Parse(TimeFormat, text); err == nil {
				meta.CreatedAt = t
			}
		case "digest":
			meta.Digest = text
		case "size":
			if number, ok := value.(float64); ok {
				meta.Size = int64(number)
			}
		default:
			if !isText || !persistedHeaders[name] {
				continue
			}
			if meta.Headers == nil {
				meta.Headers = map[string]string{}
			}
			meta.Headers[name] = text
		}
	}
	return meta
}
