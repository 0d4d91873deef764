// Package storage reads objects from an S3-compatible store.
package storage

import (
	"context"
	"io"
)

// ObjectStorage is the read-only slice of object storage the judge needs.
type ObjectStorage interface {
	// GetObject streams an object. The caller closes the reader.
	GetObject(ctx context.Context, bucket, objectKey string) (ObjectReader, error)
	StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

type ObjectReader = io.ReadCloser

// ObjectStat is object metadata, fetched without reading the body.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}
