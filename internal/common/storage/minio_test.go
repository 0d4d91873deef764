package storage

import (
	"errors"
	"net/http"
	"testing"

	appErr "classjudge/pkg/errors"

	"github.com/minio/minio-go/v7"
)

func TestNewMinIOStorageValidates(t *testing.T) {
	if _, err := NewMinIOStorage(MinIOConfig{}); err == nil {
		t.Fatalf("endpoint is required")
	}
	if _, err := NewMinIOStorage(MinIOConfig{Endpoint: "minio:9000", AccessKey: "a"}); err == nil {
		t.Fatalf("secret key is required")
	}
	if _, err := NewMinIOStorage(MinIOConfig{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "b"}); err != nil {
		t.Fatalf("valid config: %v", err)
	}
}

func TestStorageErrorMapping(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}
	if err := storageError(missing, "get", "packs/a.tar.zst"); !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("missing key should map to NotFound, got %v", err)
	}
	if err := storageError(errors.New("connection refused"), "get", "k"); !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("transport errors should map to ServiceUnavailable, got %v", err)
	}
}
