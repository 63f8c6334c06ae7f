// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package store

import (
	"context"
	"strings"
)

// DefaultMaxKeys caps a listing page when the request does not name a size.
const DefaultMaxKeys = 1000

// ListObjects contains arguments necessary for listing keys of a bucket.
type ListObjects struct {
	Bucket    string
	Prefix    string
	Marker    string
	Delimiter string
	MaxKeys   int
}

// Verify verifies list request fields.
func (opts *ListObjects) Verify() error {
	if opts.Bucket == "" {
		return ErrInvalidRequest.New("Bucket missing")
	}
	return nil
}

// ListObjectsResult is one page of a bucket listing.
type ListObjectsResult struct {
	Items          []ObjectEntry
	CommonPrefixes []string
	IsTruncated    bool
}

// ListObjects returns one page of keys in ascending order, collapsing keys
// that share a delimiter-bound prefix into common prefixes. Listing reads
// the metadata snapshot cached on object headers and never touches version
// rows. Every returned entry and common prefix is strictly greater than the
// marker, so feeding the last entry of a page back as the marker never
// repeats anything. Both entries and common prefixes count against MaxKeys.
func (db *DB) ListObjects(ctx context.Context, opts ListObjects) (result ListObjectsResult, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return ListObjectsResult{}, err
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = DefaultMaxKeys
	}

	bucket, err := db.GetBucket(ctx, opts.Bucket)
	if err != nil {
		return ListObjectsResult{}, err
	}

	// A delimiter only collapses when the prefix does not stop in the
	// middle of a group.
	collapse := opts.Delimiter != "" &&
		(opts.Prefix == "" || strings.HasSuffix(opts.Prefix, opts.Delimiter))

	first, inclusive := opts.Prefix, true
	if opts.Marker != "" && opts.Marker >= first {
		first, inclusive = opts.Marker, false
	}

	count := 0
	err = db.adapter.IterateObjectHeaders(ctx, IterateHeaders{
		BucketID:  bucket.ID,
		First:     first,
		Inclusive: inclusive,
		Prefix:    opts.Prefix,
	}, func(header ObjectHeader) bool {
		if collapse {
			suffix := strings.TrimPrefix(header.Key, opts.Prefix)
			if i := strings.Index(suffix, opts.Delimiter); i >= 0 {
				common := opts.Prefix + suffix[:i+len(opts.Delimiter)]
				// Keys sort after their group prefix, so a marker at or
				// past the prefix means an earlier page delivered the
				// group already.
				if common <= opts.Marker {
					return true
				}
				// Rows arrive in key order, duplicates are adjacent.
				if n := len(result.CommonPrefixes); n > 0 && result.CommonPrefixes[n-1] == common {
					return true
				}
				if count == opts.MaxKeys {
					result.IsTruncated = true
					return false
				}
				result.CommonPrefixes = append(result.CommonPrefixes, common)
				count++
				return true
			}
		}

		if count == opts.MaxKeys {
			result.IsTruncated = true
			return false
		}

		meta := decodeMetadata(header.Metadata)
		result.Items = append(result.Items, ObjectEntry{
			Key:         header.Key,
			Size:        meta.Size,
			Digest:      meta.Digest,
			ContentType: meta.ContentType,
			CreatedAt:   meta.CreatedAt,
		})
		count++
		return true
	})
	if err != nil {
		return ListObjectsResult{}, Error.Wrap(err)
	}
	return result, nil
}

// prefixLimit returns the smallest string that is greater than every string
// starting with prefix, and false when no such bound exists.
func prefixLimit(prefix string) (string, bool) {
	end := len(prefix)
	for end > 0 && prefix[end-1] == 0xFF {
		end--
	}
	if end == 0 {
		return "", false
	}
	limit := []byte(prefix[:end])
	limit[len(limit)-1]++
	return string(limit), true
}
