// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package gateway_test

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"colonnade.io/colonnade/gateway"
	"colonnade.io/colonnade/internal/memory"
	"colonnade.io/colonnade/internal/testcontext"
	"colonnade.io/colonnade/store"
	"colonnade.io/colonnade/store/storetest"
)

// Response documents, as clients decode them.

type owner struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type bucketList struct {
	Owner   owner    `xml:"Owner"`
	Buckets []string `xml:"Buckets>Bucket>Name"`
}

type listedKey struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type objectList struct {
	Name           string      `xml:"Name"`
	Prefix         string      `xml:"Prefix"`
	Marker         string      `xml:"Marker"`
	NextMarker     string      `xml:"NextMarker"`
	MaxKeys        int         `xml:"MaxKeys"`
	Delimiter      string      `xml:"Delimiter"`
	IsTruncated    bool        `xml:"IsTruncated"`
	Keys           []listedKey `xml:"Contents"`
	CommonPrefixes []string    `xml:"CommonPrefixes>Prefix"`
}

type uploadInfo struct {
	Bucket   string `xml:"Bucket"`
	Key      string `xml:"Key"`
	UploadID string `xml:"UploadId"`
}

type completeInfo struct {
	Location string `xml:"Location"`
	Bucket   string `xml:"Bucket"`
	Key      string `xml:"Key"`
	ETag     string `xml:"ETag"`
}

type partInfo struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
	Size       int64  `xml:"Size"`
}

type partList struct {
	Bucket   string     `xml:"Bucket"`
	Key      string     `xml:"Key"`
	UploadID string     `xml:"UploadId"`
	Parts    []partInfo `xml:"Part"`
}

type deleteSummary struct {
	Deleted []string `xml:"Deleted>Key"`
}

type aclGrantee struct {
	Type        string `xml:"type,attr"`
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type aclGrant struct {
	Grantee    aclGrantee `xml:"Grantee"`
	Permission string     `xml:"Permission"`
}

type aclDoc struct {
	Owner  owner      `xml:"Owner"`
	Grants []aclGrant `xml:"AccessControlList>Grant"`
}

type errorDoc struct {
	Code      string `xml:"Code"`
	Message   string `xml:"Message"`
	Resource  string `xml:"Resource"`
	RequestID string `xml:"RequestId"`
}

func TestBuckets(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		resp := send(handler, "PUT", "http://127.0.0.1/films", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		t.Run("List", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "application/xml", resp.Header.Get("Content-Type"))

			var list bucketList
			decodeXML(t, resp, &list)
			assert.Equal(t, owner{ID: "123", DisplayName: "MockS3"}, list.Owner)
			assert.Equal(t, []string{"films"}, list.Buckets)
		})

		t.Run("Create again", func(t *testing.T) {
			resp := send(handler, "PUT", "http://127.0.0.1/films", "")
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, bodyOf(t, resp))
		})

		t.Run("List a missing bucket", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/books", "")
			require.Equal(t, http.StatusNotFound, resp.StatusCode)

			var failure errorDoc
			decodeXML(t, resp, &failure)
			assert.Equal(t, errorDoc{
				Code:      "NoSuchBucket",
				Message:   "The resource you requested does not exist",
				Resource:  "books",
				RequestID: "1",
			}, failure)
		})
	})
}

func TestObjectRoundtrip(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		storetest.CreateBucket(ctx, t, db, "data")

		resp := send(handler, "PUT", "http://127.0.0.1/data/greeting", "hello",
			"Content-Type", "text/plain",
			"Content-Disposition", "attachment")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, quoted(md5hex("hello")), resp.Header.Get("Etag"))

		t.Run("Get", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/data/greeting", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
			assert.Equal(t, "5", resp.Header.Get("Content-Length"))
			assert.Equal(t, quoted(md5hex("hello")), resp.Header.Get("Etag"))
			assert.Equal(t, "attachment", resp.Header.Get("Content-Disposition"))
			assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))
			assert.True(t, strings.HasSuffix(resp.Header.Get("Last-Modified"), "GMT"))
			assert.Equal(t, "hello", bodyOf(t, resp))
		})

		t.Run("Head", func(t *testing.T) {
			resp := send(handler, "HEAD", "http://127.0.0.1/data/greeting", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "5", resp.Header.Get("Content-Length"))
			assert.Equal(t, quoted(md5hex("hello")), resp.Header.Get("Etag"))
			assert.Empty(t, bodyOf(t, resp))
		})

		t.Run("Overwrite", func(t *testing.T) {
			resp := send(handler, "PUT", "http://127.0.0.1/data/greeting", "good morning")
			require.Equal(t, http.StatusOK, resp.StatusCode)

			resp = send(handler, "GET", "http://127.0.0.1/data/greeting", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, store.DefaultContentType, resp.Header.Get("Content-Type"))
			assert.Equal(t, "good morning", bodyOf(t, resp))
		})

		t.Run("Missing key", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/data/absent", "")
			require.Equal(t, http.StatusNotFound, resp.StatusCode)

			var failure errorDoc
			decodeXML(t, resp, &failure)
			assert.Equal(t, "NoSuchKey", failure.Code)
			assert.Equal(t, "data/absent", failure.Resource)
		})

		t.Run("Put into a missing bucket", func(t *testing.T) {
			resp := send(handler, "PUT", "http://127.0.0.1/void/key", "x")
			require.Equal(t, http.StatusNotFound, resp.StatusCode)

			var failure errorDoc
			decodeXML(t, resp, &failure)
			assert.Equal(t, "NoSuchBucket", failure.Code)
		})
	})
}

func TestGetObjectRange(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		storetest.CreateBucket(ctx, t, db, "data")
		storetest.PutObject(ctx, t, db, "data", "word", "hello")

		tests := []struct {
			name         string
			rng          string
			status       int
			body         string
			contentRange string
		}{
			{"middle", "bytes=1-3", http.StatusPartialContent, "ell", "bytes 1-3/5"},
			{"open end", "bytes=2-", http.StatusPartialContent, "llo", "bytes 2-4/5"},
			{"zero end means everything", "bytes=1-0", http.StatusPartialContent, "ello", "bytes 1-4/5"},
			{"zero to zero means everything", "bytes=0-0", http.StatusPartialContent, "hello", "bytes 0-4/5"},
			{"end clamped to size", "bytes=0-99", http.StatusPartialContent, "hello", "bytes 0-4/5"},
			{"last byte", "bytes=4-4", http.StatusPartialContent, "o", "bytes 4-4/5"},
			{"start past the end", "bytes=5-6", http.StatusOK, "hello", ""},
			{"malformed", "bytes=oops", http.StatusOK, "hello", ""},
			{"absent", "", http.StatusOK, "hello", ""},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				var headers []string
				if tt.rng != "" {
					headers = []string{"Range", tt.rng}
				}
				resp := send(handler, "GET", "http://127.0.0.1/data/word", "", headers...)
				require.Equal(t, tt.status, resp.StatusCode)
				assert.Equal(t, tt.contentRange, resp.Header.Get("Content-Range"))
				assert.Equal(t, strconv.Itoa(len(tt.body)), resp.Header.Get("Content-Length"))
				assert.Equal(t, tt.body, bodyOf(t, resp))
			})
		}
	})
}

func TestVirtualHostAddressing(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		resp := send(handler, "PUT", "http://data.127.0.0.1/", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = send(handler, "PUT", "http://data.127.0.0.1/nested/key", "payload")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		t.Run("Virtual-host read", func(t *testing.T) {
			resp := send(handler, "GET", "http://data.127.0.0.1/nested/key", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "payload", bodyOf(t, resp))
		})

		t.Run("Path style sees the same key", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/data/nested/key", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "payload", bodyOf(t, resp))
		})

		t.Run("Host port is ignored", func(t *testing.T) {
			resp := send(handler, "GET", "http://data.127.0.0.1:8000/nested/key", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "payload", bodyOf(t, resp))
		})

		t.Run("Localhost is the listen host", func(t *testing.T) {
			resp := send(handler, "GET", "http://localhost/data/nested/key", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "payload", bodyOf(t, resp))
		})
	})
}

func TestListObjectsQueries(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		storetest.CreateBucket(ctx, t, db, "data")
		for _, key := range []string{"p/a", "p/b/c", "p/b/d", "q"} {
			storetest.PutObject(ctx, t, db, "data", key, "body of "+key)
		}

		list := func(t *testing.T, query string) objectList {
			resp := send(handler, "GET", "http://127.0.0.1/data"+query, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var result objectList
			decodeXML(t, resp, &result)
			for i := range result.Keys {
				result.Keys[i].LastModified = ""
			}
			return result
		}

		t.Run("Everything", func(t *testing.T) {
			result := list(t, "")
			var keys []string
			for _, entry := range result.Keys {
				keys = append(keys, entry.Key)
			}
			assert.Equal(t, []string{"p/a", "p/b/c", "p/b/d", "q"}, keys)
			assert.Equal(t, "data", result.Name)
			assert.Equal(t, store.DefaultMaxKeys, result.MaxKeys)
			assert.Empty(t, result.CommonPrefixes)
			assert.False(t, result.IsTruncated)
		})

		t.Run("Prefix and delimiter", func(t *testing.T) {
			want := objectList{
				Name:      "data",
				Prefix:    "p/",
				MaxKeys:   store.DefaultMaxKeys,
				Delimiter: "/",
				Keys: []listedKey{{
					Key:          "p/a",
					ETag:         quoted(md5hex("body of p/a")),
					Size:         int64(len("body of p/a")),
					StorageClass: "STANDARD",
				}},
				CommonPrefixes: []string{"p/b/"},
			}
			require.Empty(t, cmp.Diff(want, list(t, "?prefix=p/&delimiter=/")))
		})

		t.Run("Paged walk", func(t *testing.T) {
			first := list(t, "?delimiter=/&max-keys=1")
			want := objectList{
				Name:           "data",
				NextMarker:     "p/",
				MaxKeys:        1,
				Delimiter:      "/",
				IsTruncated:    true,
				CommonPrefixes: []string{"p/"},
			}
			require.Empty(t, cmp.Diff(want, first))

			second := list(t, "?delimiter=/&max-keys=1&marker="+first.NextMarker)
			want = objectList{
				Name:      "data",
				Marker:    "p/",
				MaxKeys:   1,
				Delimiter: "/",
				Keys: []listedKey{{
					Key:          "q",
					ETag:         quoted(md5hex("body of q")),
					Size:         int64(len("body of q")),
					StorageClass: "STANDARD",
				}},
			}
			require.Empty(t, cmp.Diff(want, second))
		})

		t.Run("Invalid max-keys", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/data?max-keys=many", "")
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var failure errorDoc
			decodeXML(t, resp, &failure)
			assert.Equal(t, "InvalidRequest", failure.Code)
		})
	})
}

func TestDirectoryObjects(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		storetest.CreateBucket(ctx, t, db, "data")

		resp := send(handler, "PUT", "http://127.0.0.1/data/docs", "",
			"Content-Type", store.DirectoryContentType)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		t.Run("Synthesized attributes", func(t *testing.T) {
			resp := send(handler, "HEAD", "http://127.0.0.1/data/docs", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, store.DirectoryContentType, resp.Header.Get("Content-Type"))
			assert.Equal(t, "493", resp.Header.Get("x-amz-meta-mode"))
			assert.Equal(t, "1000", resp.Header.Get("x-amz-meta-uid"))
			assert.Equal(t, "1001", resp.Header.Get("x-amz-meta-gid"))
			assert.NotEmpty(t, resp.Header.Get("x-amz-meta-ctime"))
			assert.Equal(t, resp.Header.Get("x-amz-meta-ctime"), resp.Header.Get("x-amz-meta-mtime"))
		})

		t.Run("Trailing slash in listings", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/data?delimiter=/", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var result objectList
			decodeXML(t, resp, &result)
			require.Len(t, result.Keys, 1)
			assert.Equal(t, "docs/", result.Keys[0].Key)
		})
	})
}

func TestDeleteObject(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		storetest.CreateBucket(ctx, t, db, "data")
		storetest.PutObject(ctx, t, db, "data", "temp", "x")

		resp := send(handler, "DELETE", "http://127.0.0.1/data/temp", "")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = send(handler, "GET", "http://127.0.0.1/data/temp", "")
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		t.Run("Again", func(t *testing.T) {
			resp := send(handler, "DELETE", "http://127.0.0.1/data/temp", "")
			require.Equal(t, http.StatusNotFound, resp.StatusCode)

			var failure errorDoc
			decodeXML(t, resp, &failure)
			assert.Equal(t, "NoSuchKey", failure.Code)
		})
	})
}

func TestBulkDelete(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		storetest.CreateBucket(ctx, t, db, "data")
		storetest.PutObject(ctx, t, db, "data", "one", "1")
		storetest.PutObject(ctx, t, db, "data", "two", "2")

		request := `<Delete>` +
			`<Object><Key>one</Key></Object>` +
			`<Object><Key>two</Key></Object>` +
			`<Object><Key>ghost</Key></Object>` +
			`</Delete>`
		resp := send(handler, "POST", "http://127.0.0.1/data?delete", request)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var result deleteSummary
		decodeXML(t, resp, &result)
		// Absent keys are reported deleted too, so retries converge.
		assert.Equal(t, []string{"one", "two", "ghost"}, result.Deleted)

		for _, key := range []string{"one", "two"} {
			resp := send(handler, "GET", "http://127.0.0.1/data/"+key, "")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		}

		t.Run("Malformed document", func(t *testing.T) {
			resp := send(handler, "POST", "http://127.0.0.1/data?delete", "<Delete><Object>")
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var failure errorDoc
			decodeXML(t, resp, &failure)
			assert.Equal(t, "InvalidRequest", failure.Code)
		})
	})
}

func TestMultipartUpload(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		storetest.CreateBucket(ctx, t, db, "data")

		partOne := strings.Repeat("A", 4)
		partTwo := "BB"

		resp := send(handler, "POST", "http://127.0.0.1/data/big?uploads", "",
			"Content-Type", "video/mp4")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var upload uploadInfo
		decodeXML(t, resp, &upload)
		assert.Equal(t, "data", upload.Bucket)
		assert.Equal(t, "big", upload.Key)
		require.NotEmpty(t, upload.UploadID)

		resp = send(handler, "PUT", "http://127.0.0.1/data/big?partNumber=1&uploadId="+upload.UploadID, partOne)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, quoted(md5hex(partOne)), resp.Header.Get("Etag"))

		resp = send(handler, "PUT", "http://127.0.0.1/data/big?partNumber=2&uploadId="+upload.UploadID, partTwo)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		t.Run("List parts", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/data/big?uploadId="+upload.UploadID, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)

			var parts partList
			decodeXML(t, resp, &parts)
			want := partList{
				Bucket:   "data",
				Key:      "big",
				UploadID: upload.UploadID,
				Parts: []partInfo{
					{PartNumber: 1, ETag: quoted(md5hex(partOne)), Size: 4},
					{PartNumber: 2, ETag: quoted(md5hex(partTwo)), Size: 2},
				},
			}
			require.Empty(t, cmp.Diff(want, parts))
		})

		t.Run("Key invisible before completion", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/data/big", "")
			require.Equal(t, http.StatusNotFound, resp.StatusCode)
		})

		resp = send(handler, "POST", "http://127.0.0.1/data/big?uploadId="+upload.UploadID, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var completed completeInfo
		decodeXML(t, resp, &completed)
		assert.Equal(t, completeInfo{
			Location: "http://data.127.0.0.1/big",
			Bucket:   "data",
			Key:      "big",
			ETag:     quoted(compositeETag(partOne, partTwo)),
		}, completed)

		t.Run("Assembled object", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/data/big", "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
			assert.Equal(t, quoted(compositeETag(partOne, partTwo)), resp.Header.Get("Etag"))
			assert.Equal(t, partOne+partTwo, bodyOf(t, resp))
		})

		t.Run("Upload is gone", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/data/big?uploadId="+upload.UploadID, "")
			require.Equal(t, http.StatusNotFound, resp.StatusCode)

			var failure errorDoc
			decodeXML(t, resp, &failure)
			assert.Equal(t, "NoSuchUpload", failure.Code)
		})
	})
}

func TestAbortUpload(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		storetest.CreateBucket(ctx, t, db, "data")

		resp := send(handler, "POST", "http://127.0.0.1/data/doomed?uploads", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var upload uploadInfo
		decodeXML(t, resp, &upload)

		resp = send(handler, "PUT", "http://127.0.0.1/data/doomed?partNumber=1&uploadId="+upload.UploadID, "junk")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = send(handler, "DELETE", "http://127.0.0.1/data/doomed?uploadId="+upload.UploadID, "")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)

		t.Run("Complete after abort", func(t *testing.T) {
			resp := send(handler, "POST", "http://127.0.0.1/data/doomed?uploadId="+upload.UploadID, "")
			require.Equal(t, http.StatusNotFound, resp.StatusCode)

			var failure errorDoc
			decodeXML(t, resp, &failure)
			assert.Equal(t, "NoSuchUpload", failure.Code)
		})

		t.Run("Key never appears", func(t *testing.T) {
			resp := send(handler, "GET", "http://127.0.0.1/data/doomed", "")
			require.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	})
}

func TestObjectACL(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		// The grant is static, nothing has to exist.
		resp := send(handler, "GET", "http://127.0.0.1/data/key?acl", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var policy aclDoc
		decodeXML(t, resp, &policy)
		assert.Equal(t, owner{ID: "123", DisplayName: "MockS3"}, policy.Owner)
		require.Len(t, policy.Grants, 1)
		assert.Equal(t, "CanonicalUser", policy.Grants[0].Grantee.Type)
		assert.Equal(t, "abc", policy.Grants[0].Grantee.ID)
		assert.Equal(t, "You", policy.Grants[0].Grantee.DisplayName)
		assert.Equal(t, "FULL_CONTROL", policy.Grants[0].Permission)
	})
}

func TestUnroutedRequests(t *testing.T) {
	runHandler(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler) {
		storetest.CreateBucket(ctx, t, db, "data")

		tests := []struct {
			name    string
			method  string
			target  string
			headers []string
		}{
			{"copy", "PUT", "http://127.0.0.1/data/key", []string{"x-amz-copy-source", "/data/other"}},
			{"acl write", "PUT", "http://127.0.0.1/data/key?acl", nil},
			{"bucket post", "POST", "http://127.0.0.1/data", nil},
			{"bucket delete", "DELETE", "http://127.0.0.1/data", nil},
			{"root put", "PUT", "http://127.0.0.1/", nil},
			{"patch", "PATCH", "http://127.0.0.1/data/key", nil},
		}
		for _, tt := range tests {
			tt := tt
			t.Run(tt.name, func(t *testing.T) {
				resp := send(handler, tt.method, tt.target, "", tt.headers...)
				assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
			})
		}
	})
}

func TestChunkedStreaming(t *testing.T) {
	config := storetest.DefaultConfig()
	config.ChunkSize = 4 * memory.B
	config.ChunksPerPartition = 2

	storetest.RunWithConfig(t, config, func(ctx *testcontext.Context, t *testing.T, db *store.DB) {
		handler := gateway.NewHandler(zaptest.NewLogger(t), db, "127.0.0.1")
		storetest.CreateBucket(ctx, t, db, "data")

		body := "The quick brown fox jumps over the lazy dog"
		resp := send(handler, "PUT", "http://127.0.0.1/data/pangram", body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, quoted(md5hex(body)), resp.Header.Get("Etag"))

		resp = send(handler, "GET", "http://127.0.0.1/data/pangram", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, body, bodyOf(t, resp))

		// A slice crossing chunk and partition seams.
		resp = send(handler, "GET", "http://127.0.0.1/data/pangram", "", "Range", "bytes=7-18")
		require.Equal(t, http.StatusPartialContent, resp.StatusCode)
		assert.Equal(t, "bytes 7-18/43", resp.Header.Get("Content-Range"))
		assert.Equal(t, body[7:19], bodyOf(t, resp))
	})
}

func TestPeer(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, err := store.New(zaptest.NewLogger(t).Named("store"), store.NewMemory(), storetest.DefaultConfig())
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	peer, err := gateway.New(zaptest.NewLogger(t).Named("gateway"), db, gateway.Config{
		Hostname: "127.0.0.1",
		Port:     0,
	})
	require.NoError(t, err)
	defer ctx.Check(peer.Close)

	ctx.Go(func() error {
		return peer.Run(ctx)
	})

	base := "http://" + peer.Addr()

	request, err := http.NewRequest(http.MethodPut, base+"/data", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	request, err = http.NewRequest(http.MethodPut, base+"/data/live", strings.NewReader("over the wire"))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(request)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/data/live")
	require.NoError(t, err)
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "over the wire", string(body))
}

// runHandler runs fn against a request-level S3 handler over a fresh
// in-memory engine, with 127.0.0.1 as the virtual-host suffix.
func runHandler(t *testing.T, fn func(ctx *testcontext.Context, t *testing.T, db *store.DB, handler http.Handler)) {
	storetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *store.DB) {
		fn(ctx, t, db, gateway.NewHandler(zaptest.NewLogger(t), db, "127.0.0.1"))
	})
}

// send replays one request against the handler and returns the recorded
// response. headers are alternating name, value pairs.
func send(handler http.Handler, method, target, body string, headers ...string) *http.Response {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		request.Header.Set(headers[i], headers[i+1])
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder.Result()
}

func bodyOf(t *testing.T, resp *http.Response) string {
	t.Helper()

	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return string(body)
}

// decodeXML checks the response opens with an XML declaration and decodes
// the document into into.
func decodeXML(t *testing.T, resp *http.Response, into interface{}) {
	t.Helper()

	body := bodyOf(t, resp)
	require.True(t, strings.HasPrefix(body, "<?xml "), "missing declaration: %q", body)
	require.NoError(t, xml.Unmarshal([]byte(body), into))
}

func md5hex(body string) string {
	sum := md5.Sum([]byte(body))
	return hex.EncodeToString(sum[:])
}

func quoted(etag string) string {
	return `"` + etag + `"`
}

// compositeETag mirrors how completed multipart uploads digest their parts:
// MD5 over the concatenated hex digests of every part in number order.
func compositeETag(parts ...string) string {
	var digests string
	for _, part := range parts {
		digests += md5hex(part)
	}
	return md5hex(digests)
}
