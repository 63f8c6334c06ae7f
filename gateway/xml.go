// Copyright (C) 2019 Colonnade Storage, Inc.
// See LICENSE for copying information.

package gateway

import (
	"encoding/xml"
)

// The 2006-03-01 dialect is inconsistent about namespaces: the bucket list
// uses the doc.s3 form, listings and ACLs the s3/doc form, and DeleteResult
// the s3/doc form with a trailing slash. Existing clients validate against
// these exact strings.
const (
	xmlnsBucketList = "http://doc.s3.amazonaws.com/2006-03-01"
	xmlnsDoc        = "http://s3.amazonaws.com/doc/2006-03-01"
	xmlnsDelete     = "http://s3.amazonaws.com/doc/2006-03-01/"
)

// resourceOwner is reported as the owner of every bucket and key. There is
// no account model behind the gateway.
var resourceOwner = ownerInfo{ID: "123", DisplayName: "MockS3"}

type ownerInfo struct {
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

type listAllMyBucketsResult struct {
	XMLName xml.Name      `xml:"ListAllMyBucketsResult"`
	XMLNS   string        `xml:"xmlns,attr"`
	Owner   ownerInfo     `xml:"Owner"`
	Buckets []bucketEntry `xml:"Buckets>Bucket"`
}

type bucketEntry struct {
	Name         string `xml:"Name"`
	CreationDate string `xml:"CreationDate"`
}

type listBucketResult struct {
	XMLName        xml.Name        `xml:"ListBucketResult"`
	XMLNS          string          `xml:"xmlns,attr"`
	Name           string          `xml:"Name"`
	Prefix         string          `xml:"Prefix"`
	Marker         string          `xml:"Marker"`
	NextMarker     string          `xml:"NextMarker,omitempty"`
	MaxKeys        int             `xml:"MaxKeys"`
	Delimiter      string          `xml:"Delimiter"`
	IsTruncated    bool            `xml:"IsTruncated"`
	Contents       []contentsEntry `xml:"Contents"`
	CommonPrefixes []commonPrefix  `xml:"CommonPrefixes"`
}

type contentsEntry struct {
	Key          string    `xml:"Key"`
	LastModified string    `xml:"LastModified"`
	ETag         string    `xml:"ETag"`
	Size         int64     `xml:"Size"`
	StorageClass string    `xml:"StorageClass"`
	Owner        ownerInfo `xml:"Owner"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type accessControlPolicy struct {
	XMLName xml.Name  `xml:"AccessControlPolicy"`
	XMLNS   string    `xml:"xmlns,attr"`
	Owner   ownerInfo `xml:"Owner"`
	Grants  []grant   `xml:"AccessControlList>Grant"`
}

type grant struct {
	Grantee    grantee `xml:"Grantee"`
	Permission string  `xml:"Permission"`
}

type grantee struct {
	XMLNSXSI    string `xml:"xmlns:xsi,attr"`
	Type        string `xml:"xsi:type,attr"`
	ID          string `xml:"ID"`
	DisplayName string `xml:"DisplayName"`
}

// deleteRequest is the body of a bulk delete.
type deleteRequest struct {
	XMLName xml.Name           `xml:"Delete"`
	Objects []objectIdentifier `xml:"Object"`
}

type objectIdentifier struct {
	Key string `xml:"Key"`
}

type deleteResult struct {
	XMLName xml.Name       `xml:"DeleteResult"`
	XMLNS   string         `xml:"xmlns,attr"`
	Deleted []deletedEntry `xml:"Deleted"`
}

type deletedEntry struct {
	Key string `xml:"Key"`
}

type initiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

type completeMultipartUploadResult struct {
	XMLName  xml.Name `xml:"CompleteMultipartUploadResult"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

type listPartsResult struct {
	XMLName  xml.Name    `xml:"ListPartsResult"`
	Bucket   string      `xml:"Bucket"`
	Key      string      `xml:"Key"`
	UploadID string      `xml:"UploadId"`
	Parts    []partEntry `xml:"Part"`
}

type partEntry struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
	Size       int64  `xml:"Size"`
}

type errorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

// staticACL is the fixed grant answered for every ACL read.
var staticACL = accessControlPolicy{
	XMLNS: xmlnsDoc,
	Owner: resourceOwner,
	Grants: []grant{{
		Grantee: grantee{
			XMLNSXSI:    "http://www.w3.org/2001/XMLSchema-instance",
			Type:        "CanonicalUser",
			ID:          "abc",
			DisplayName: "You",
		},
		Permission: "FULL_CONTROL",
	}},
}
