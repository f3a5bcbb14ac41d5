package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// bucketStore talks to an S3-style bucket over its HTTP object API
// (Supabase storage wire format).
type bucketStore struct {
	baseURL    string
	bucket     string
	apiKey     string
	publicBase string
	httpc      *http.Client
}

// NewBucket creates a BlobStore over the bucket HTTP API.
func NewBucket(cfg Config) BlobStore {
	public := cfg.PublicBaseURL
	if public == "" {
		public = cfg.BucketURL
	}
	return &bucketStore{
		baseURL:    strings.TrimRight(cfg.BucketURL, "/"),
		bucket:     cfg.Bucket,
		apiKey:     cfg.APIKey,
		publicBase: strings.TrimRight(public, "/"),
		httpc:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (b *bucketStore) objectURL(path string) string {
	return b.baseURL + "/object/" + b.bucket + "/" + escapePath(path)
}

// PublicURL returns the unauthenticated read URL for an object.
func (b *bucketStore) publicURL(path string) string {
	return b.publicBase + "/object/public/" + b.bucket + "/" + escapePath(path)
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func (b *bucketStore) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.objectURL(path), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", contentType)
	// Overwrite on re-ingestion instead of failing on the duplicate key.
	req.Header.Set("x-upsert", "true")

	resp, err := b.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d: %s", ErrUpload, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return b.publicURL(path), nil
}

func (b *bucketStore) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: download %s: status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (b *bucketStore) List(ctx context.Context, prefix string) ([]string, error) {
	payload, err := json.Marshal(map[string]any{"prefix": prefix, "limit": 1000})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/object/list/"+b.bucket, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("storage: list %s: status %d", prefix, resp.StatusCode)
	}

	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("storage: decoding list response: %w", err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			continue
		}
		paths = append(paths, strings.TrimRight(prefix, "/")+"/"+e.Name)
	}
	return paths, nil
}

func (b *bucketStore) Remove(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string]any{"prefixes": paths})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		b.baseURL+"/object/"+b.bucket, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("storage: remove: status %d", resp.StatusCode)
	}
	return nil
}
