// Package storage persists extracted document images to a blob store and
// computes their deterministic object paths. It talks to an S3-style
// bucket HTTP API or, for local development, to a directory on disk.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrUpload is returned when the blob store rejects an object write.
var ErrUpload = errors.New("storage: upload failed")

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// BlobStore is the object storage contract. Upload overwrites existing
// objects under the same path, which makes re-ingestion idempotent.
type BlobStore interface {
	// Upload writes an object and returns its public URL.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// Download reads an object back.
	Download(ctx context.Context, path string) ([]byte, error)

	// List returns the object paths under a prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Remove deletes the given objects. Missing objects are not an error.
	Remove(ctx context.Context, paths []string) error
}

// Config selects and configures the blob backend. A BucketURL selects the
// HTTP bucket API; otherwise images land in Dir on the local filesystem.
type Config struct {
	BucketURL     string `json:"bucket_url" yaml:"bucket_url"`
	Bucket        string `json:"bucket" yaml:"bucket"`
	APIKey        string `json:"api_key" yaml:"api_key"`
	PublicBaseURL string `json:"public_base_url" yaml:"public_base_url"`
	Dir           string `json:"dir" yaml:"dir"`
}

// NewBlobStore builds the configured backend.
func NewBlobStore(cfg Config) (BlobStore, error) {
	if cfg.BucketURL != "" {
		return NewBucket(cfg), nil
	}
	if cfg.Dir != "" {
		return NewLocal(cfg.Dir)
	}
	return nil, fmt.Errorf("storage: neither bucket URL nor local directory configured")
}
