// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package gateway

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"colonnade.io/colonnade/store"
)

// notFoundMessage is the message of every missing-resource error document.
const notFoundMessage = "The resource you requested does not exist"

// Handler routes the S3 REST dialect. The operation is selected by HTTP
// method, query string and addressing style rather than by path patterns,
// so everything dispatches through one ServeHTTP.
type Handler struct {
	log      *zap.Logger
	db       *store.DB
	hostname string
}

// NewHandler creates an S3 request handler over the engine. hostname is the
// virtual-host addressing suffix: requests whose Host is
// "<bucket>.<hostname>" address the bucket through DNS instead of the path.
func NewHandler(log *zap.Logger, db *store.DB, hostname string) *Handler {
	return &Handler{
		log:      log,
		db:       db,
		hostname: hostname,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket, key := h.address(r)
	query := r.URL.Query()

	h.log.Debug("request",
		zap.String("method", r.Method),
		zap.String("host", r.Host),
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.String("query", r.URL.RawQuery))

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		switch {
		case bucket == "":
			h.listBuckets(ctx, w)
		case key == "":
			h.listObjects(ctx, w, bucket, query)
		case hasQuery(query, "acl"):
			h.writeXML(w, http.StatusOK, staticACL)
		case query.Get("uploadId") != "":
			h.listParts(ctx, w, bucket, key, query.Get("uploadId"))
		default:
			h.getObject(ctx, w, r, bucket, key)
		}

	case http.MethodPut:
		switch {
		case r.Header.Get("x-amz-copy-source") != "":
			h.log.Warn("copy not implemented")
			w.WriteHeader(http.StatusMethodNotAllowed)
		case bucket == "":
			w.WriteHeader(http.StatusMethodNotAllowed)
		case key == "":
			h.createBucket(ctx, w, bucket)
		case hasQuery(query, "acl"):
			h.log.Warn("acl write not implemented")
			w.WriteHeader(http.StatusMethodNotAllowed)
		case query.Get("uploadId") != "" && query.Get("partNumber") != "":
			h.uploadPart(ctx, w, r, key, query)
		default:
			h.putObject(ctx, w, r, bucket, key)
		}

	case http.MethodPost:
		switch {
		case bucket != "" && key == "" && hasQuery(query, "delete"):
			h.deleteObjects(ctx, w, r, bucket)
		case key != "" && hasQuery(query, "uploads"):
			h.beginUpload(ctx, w, r, bucket, key)
		case key != "" && query.Get("uploadId") != "":
			h.completeUpload(ctx, w, bucket, key, query.Get("uploadId"))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case http.MethodDelete:
		switch {
		case key != "" && query.Get("uploadId") != "":
			h.abortUpload(ctx, w, key, query.Get("uploadId"))
		case key != "":
			h.deleteObject(ctx, w, bucket, key)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// address extracts the bucket and key of a request. When the Host header
// (minus port) ends with "."+hostname the bucket rides in the host and the
// whole path is the key, otherwise the first path segment is the bucket.
func (h *Handler) address(r *http.Request) (bucket, key string) {
	host := r.Host
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	if host == "localhost" {
		host = "127.0.0.1"
	}

	path := strings.Trim(r.URL.Path, "/")
	if suffix := "." + h.hostname; strings.HasSuffix(host, suffix) {
		return strings.TrimSuffix(host, suffix), path
	}
	if i := strings.Index(path, "/"); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

func (h *Handler) listBuckets(ctx context.Context, w http.ResponseWriter) {
	buckets, err := h.db.ListBuckets(ctx)
	if err != nil {
		h.writeError(w, "/", err)
		return
	}

	result := listAllMyBucketsResult{
		XMLNS: xmlnsBucketList,
		Owner: resourceOwner,
	}
	for _, bucket := range buckets {
		result.Buckets = append(result.Buckets, bucketEntry{
			Name:         bucket.Name,
			CreationDate: store.FormatTime(bucket.CreatedAt),
		})
	}
	h.writeXML(w, http.StatusOK, result)
}

func (h *Handler) listObjects(ctx context.Context, w http.ResponseWriter, bucket string, query url.Values) {
	maxKeys := store.DefaultMaxKeys
	if raw := query.Get("max-keys"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, bucket, store.ErrInvalidRequest.New("max-keys invalid: %q", raw))
			return
		}
		maxKeys = parsed
	}

	opts := store.ListObjects{
		Bucket:    bucket,
		Prefix:    query.Get("prefix"),
		Marker:    query.Get("marker"),
		Delimiter: query.Get("delimiter"),
		MaxKeys:   maxKeys,
	}
	listing, err := h.db.ListObjects(ctx, opts)
	if err != nil {
		h.writeError(w, bucket, err)
		return
	}

	result := listBucketResult{
		XMLNS:       xmlnsDoc,
		Name:        bucket,
		Prefix:      opts.Prefix,
		Marker:      opts.Marker,
		MaxKeys:     opts.MaxKeys,
		Delimiter:   opts.Delimiter,
		IsTruncated: listing.IsTruncated,
	}
	for _, item := range listing.Items {
		key := item.Key
		if item.ContentType == store.DirectoryContentType {
			key += "/"
		}
		result.Contents = append(result.Contents, contentsEntry{
			Key:          key,
			LastModified: store.FormatTime(item.CreatedAt),
			ETag:         quoteETag(item.Digest),
			Size:         item.Size,
			StorageClass: "STANDARD",
			Owner:        resourceOwner,
		})
	}
	for _, prefix := range listing.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, commonPrefix{Prefix: prefix})
	}
	if listing.IsTruncated && opts.Delimiter != "" {
		result.NextMarker = nextMarker(listing)
	}
	h.writeXML(w, http.StatusOK, result)
}

// nextMarker returns the last entry of the page in key order, which is where
// the next page resumes. Items and common prefixes are each already sorted,
// the page tail is the greater of the two tails.
func nextMarker(listing store.ListObjectsResult) string {
	var marker string
	if n := len(listing.Items); n > 0 {
		marker = listing.Items[n-1].Key
	}
	if n := len(listing.CommonPrefixes); n > 0 && listing.CommonPrefixes[n-1] > marker {
		marker = listing.CommonPrefixes[n-1]
	}
	return marker
}

func (h *Handler) createBucket(ctx context.Context, w http.ResponseWriter, bucket string) {
	_, err := h.db.CreateBucket(ctx, store.CreateBucket{Name: bucket})
	if err != nil {
		h.writeError(w, bucket, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) putObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key string) {
	item, err := h.db.StoreObject(ctx, store.StoreObject{
		Bucket:      bucket,
		Key:         key,
		ContentType: r.Header.Get("Content-Type"),
		Headers:     flattenHeaders(r.Header),
		Size:        r.ContentLength,
		Body:        r.Body,
	})
	if err != nil {
		h.writeError(w, bucket+"/"+key, err)
		return
	}
	w.Header().Set("Etag", quoteETag(item.Digest))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) getObject(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key string) {
	item, err := h.db.GetObject(ctx, store.GetObject{Bucket: bucket, Key: key})
	if err != nil {
		h.writeError(w, bucket+"/"+key, err)
		return
	}

	headers := w.Header()
	for name, value := range item.Headers {
		headers.Set(name, value)
	}
	headers.Set("Content-Type", item.ContentType)
	headers.Set("Last-Modified", item.CreatedAt.UTC().Format(http.TimeFormat))
	headers.Set("Etag", quoteETag(item.Digest))
	headers.Set("Accept-Ranges", "bytes")

	if item.ContentType == store.DirectoryContentType {
		epoch := strconv.FormatInt(item.CreatedAt.Unix(), 10)
		headers.Set("x-amz-meta-ctime", epoch)
		headers.Set("x-amz-meta-mtime", epoch)
		headers.Set("x-amz-meta-mode", "493")
		headers.Set("x-amz-meta-uid", "1000")
		headers.Set("x-amz-meta-gid", "1001")
	}

	offset, length := int64(0), item.Size
	status := http.StatusOK
	if start, n, ok := parseRange(r.Header.Get("Range"), item.Size); ok {
		offset, length = start, n
		headers.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+n-1, item.Size))
		status = http.StatusPartialContent
	}
	headers.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}
	err = h.db.ReadRange(ctx, w, item, offset, length)
	switch {
	case err == nil:
	case store.ErrChunkMissing.Has(err):
		// The status line is gone, the client sees a short body.
		h.log.Error("object read failed",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Error(err))
	default:
		h.log.Warn("response streaming interrupted",
			zap.String("bucket", bucket),
			zap.String("key", key),
			zap.Error(err))
	}
}

// parseRange interprets "bytes=start-end" against the object size. An
// omitted or zero end means everything through the last byte, which is what
// the existing clients send. Reports ok=false when the header is absent,
// malformed or starts past the end, in which case the whole object is
// served.
func parseRange(header string, size int64) (start, length int64, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	dash := strings.Index(header[len(prefix):], "-")
	if dash < 0 {
		return 0, 0, false
	}
	dash += len(prefix)

	start, err := strconv.ParseInt(header[len(prefix):dash], 10, 64)
	if err != nil || start < 0 {
		return 0, 0, false
	}
	var finish int64
	if rest := header[dash+1:]; rest != "" {
		finish, err = strconv.ParseInt(rest, 10, 64)
		if err != nil || finish < 0 {
			return 0, 0, false
		}
	}
	if finish == 0 || finish > size-1 {
		finish = size - 1
	}
	if start >= size || start > finish {
		return 0, 0, false
	}
	return start, finish - start + 1, true
}

func (h *Handler) deleteObject(ctx context.Context, w http.ResponseWriter, bucket, key string) {
	if err := h.db.DeleteObject(ctx, store.DeleteObject{Bucket: bucket, Key: key}); err != nil {
		h.writeError(w, bucket+"/"+key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteObjects(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket string) {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		h.log.Warn("request streaming interrupted", zap.String("bucket", bucket), zap.Error(err))
		return
	}
	var request deleteRequest
	if err := xml.Unmarshal(body, &request); err != nil {
		h.writeError(w, bucket, store.ErrInvalidRequest.New("malformed delete document: %v", err))
		return
	}

	result := deleteResult{XMLNS: xmlnsDelete}
	for _, object := range request.Objects {
		err := h.db.DeleteObject(ctx, store.DeleteObject{Bucket: bucket, Key: object.Key})
		if err != nil && !store.ErrObjectNotFound.Has(err) {
			h.writeError(w, bucket+"/"+object.Key, err)
			return
		}
		// Deleting an absent key still reports it deleted, so retries
		// converge.
		result.Deleted = append(result.Deleted, deletedEntry{Key: object.Key})
	}
	h.writeXML(w, http.StatusOK, result)
}

func (h *Handler) beginUpload(ctx context.Context, w http.ResponseWriter, r *http.Request, bucket, key string) {
	upload, err := h.db.BeginUpload(ctx, store.BeginUpload{
		Bucket:      bucket,
		Key:         key,
		ContentType: r.Header.Get("Content-Type"),
		Headers:     flattenHeaders(r.Header),
	})
	if err != nil {
		h.writeError(w, bucket+"/"+key, err)
		return
	}
	h.writeXML(w, http.StatusOK, initiateMultipartUploadResult{
		Bucket:   bucket,
		Key:      key,
		UploadID: upload.ID,
	})
}

func (h *Handler) uploadPart(ctx context.Context, w http.ResponseWriter, r *http.Request, key string, query url.Values) {
	number, err := strconv.Atoi(query.Get("partNumber"))
	if err != nil {
		h.writeError(w, key, store.ErrInvalidRequest.New("partNumber invalid: %q", query.Get("partNumber")))
		return
	}

	part, err := h.db.UploadPart(ctx, store.UploadPart{
		Key:      key,
		UploadID: query.Get("uploadId"),
		Number:   number,
		Size:     r.ContentLength,
		Body:     r.Body,
	})
	if err != nil {
		h.writeError(w, key, err)
		return
	}
	w.Header().Set("Etag", quoteETag(part.Digest))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) completeUpload(ctx context.Context, w http.ResponseWriter, bucket, key, uploadID string) {
	item, err := h.db.CompleteUpload(ctx, store.CompleteUpload{
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
	})
	if err != nil {
		h.writeError(w, bucket+"/"+key, err)
		return
	}
	h.writeXML(w, http.StatusOK, completeMultipartUploadResult{
		Location: "http://" + bucket + "." + h.hostname + "/" + key,
		Bucket:   bucket,
		Key:      key,
		ETag:     quoteETag(item.Digest),
	})
}

func (h *Handler) listParts(ctx context.Context, w http.ResponseWriter, bucket, key, uploadID string) {
	parts, err := h.db.ListParts(ctx, store.ListParts{Key: key, UploadID: uploadID})
	if err != nil {
		h.writeError(w, bucket+"/"+key, err)
		return
	}

	result := listPartsResult{
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
	}
	for _, part := range parts {
		result.Parts = append(result.Parts, partEntry{
			PartNumber: part.Number,
			ETag:       quoteETag(part.Digest),
			Size:       part.Size,
		})
	}
	h.writeXML(w, http.StatusOK, result)
}

func (h *Handler) abortUpload(ctx context.Context, w http.ResponseWriter, key, uploadID string) {
	if err := h.db.AbortUpload(ctx, store.AbortUpload{Key: key, UploadID: uploadID}); err != nil {
		h.writeError(w, key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps engine error classes onto S3 error documents.
func (h *Handler) writeError(w http.ResponseWriter, resource string, err error) {
	switch {
	case store.ErrBucketNotFound.Has(err):
		h.writeErrorXML(w, http.StatusNotFound, "NoSuchBucket", notFoundMessage, resource)
	case store.ErrObjectNotFound.Has(err), store.ErrVersionNotFound.Has(err):
		h.writeErrorXML(w, http.StatusNotFound, "NoSuchKey", notFoundMessage, resource)
	case store.ErrUploadNotFound.Has(err):
		h.writeErrorXML(w, http.StatusNotFound, "NoSuchUpload", notFoundMessage, resource)
	case store.ErrBucketExists.Has(err):
		// Non-canonical S3 answers 409, existing clients expect a bare 400.
		w.WriteHeader(http.StatusBadRequest)
	case store.ErrInvalidRequest.Has(err):
		h.writeErrorXML(w, http.StatusBadRequest, "InvalidRequest", err.Error(), resource)
	default:
		h.log.Error("request failed", zap.String("resource", resource), zap.Error(err))
		h.writeErrorXML(w, http.StatusInternalServerError, "InternalError", "We encountered an internal error. Please try again.", resource)
	}
}

func (h *Handler) writeErrorXML(w http.ResponseWriter, status int, code, message, resource string) {
	h.writeXML(w, status, errorResponse{
		Code:      code,
		Message:   message,
		Resource:  resource,
		RequestID: "1",
	})
}

// writeXML sends an XML document. Write failures mean the client went away,
// they are logged and the response is left as-is.
func (h *Handler) writeXML(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, xml.Header); err != nil {
		h.log.Warn("response streaming interrupted", zap.Error(err))
		return
	}
	if err := xml.NewEncoder(w).Encode(payload); err != nil {
		h.log.Warn("response streaming interrupted", zap.Error(err))
	}
}

// quoteETag wraps a digest in the double quotes clients expect around every
// ETag, in headers and XML alike.
func quoteETag(digest string) string {
	return `"` + digest + `"`
}

// flattenHeaders lowercases header names and keeps the first value of each,
// the form the metadata snapshot persists.
func flattenHeaders(header http.Header) map[string]string {
	flat := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) > 0 {
			flat[strings.ToLower(name)] = values[0]
		}
	}
	return flat
}

// hasQuery reports whether the query string carries the name, with or
// without a value. Flag-style parameters like "?acl" and "?uploads" arrive
// valueless.
func hasQuery(query url.Values, name string) bool {
	_, ok := query[name]
	return ok
}
