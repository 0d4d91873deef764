package storage

import (
	"context"
	"errors"
	"net/http"

	appErr "classjudge/pkg/errors"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig holds the S3-compatible endpoint that serves test data packs.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSSL"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

func (c MinIOConfig) validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New("minio endpoint is required")
	case c.AccessKey == "" || c.SecretKey == "":
		return errors.New("minio credentials are required")
	}
	return nil
}

// MinIOStorage reads objects through minio-go.
type MinIOStorage struct {
	client *minio.Client
}

func NewMinIOStorage(cfg MinIOConfig) (*MinIOStorage, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create minio client failed")
	}
	return &MinIOStorage{client: client}, nil
}

// GetObject stats the object first so a missing key fails here rather than on the first Read.
func (s *MinIOStorage) GetObject(ctx context.Context, bucket, objectKey string) (ObjectReader, error) {
	obj, err := s.client.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, storageError(err, "get", objectKey)
	}
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, storageError(err, "get", objectKey)
	}
	return obj, nil
}

func (s *MinIOStorage) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	info, err := s.client.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectStat{}, storageError(err, "stat", objectKey)
	}
	return ObjectStat{SizeBytes: info.Size, ETag: info.ETag, ContentType: info.ContentType}, nil
}

func (s *MinIOStorage) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, storageError(err, "bucket exists", bucket)
	}
	return ok, nil
}

// storageError tags missing objects and buckets as NotFound and everything else as unavailable.
func storageError(err error, op, name string) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
		return appErr.Wrapf(err, appErr.NotFound, "object %s not found", name).WithDetail("op", op)
	}
	return appErr.Wrapf(err, appErr.ServiceUnavailable, "object storage %s failed", op).WithDetail("object", name)
}
