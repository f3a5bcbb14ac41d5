package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Mkas1988/digital-script/pdfdoc"
)

// memStore is an in-memory BlobStore with optional per-path failures.
type memStore struct {
	objects map[string][]byte
	failOn  map[string]bool
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, failOn: map[string]bool{}}
}

func (m *memStore) Upload(_ context.Context, path string, data []byte, _ string) (string, error) {
	if m.failOn[path] {
		return "", fmt.Errorf("%w: injected", ErrUpload)
	}
	m.objects[path] = data
	return "https://cdn.example.com/" + path, nil
}

func (m *memStore) Download(_ context.Context, path string) ([]byte, error) {
	data, ok := m.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, nil
}

func (m *memStore) List(_ context.Context, prefix string) ([]string, error) {
	var paths []string
	for p := range m.objects {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (m *memStore) Remove(_ context.Context, paths []string) error {
	for _, p := range paths {
		delete(m.objects, p)
	}
	return nil
}

func encoded(page, index int) pdfdoc.EncodedImage {
	return pdfdoc.EncodedImage{
		Data: []byte{0x89, 0x50, 0x4e, 0x47}, Width: 120, Height: 80,
		PageNumber: page, Index: index, Format: "png",
	}
}

func TestObjectPath_Deterministic(t *testing.T) {
	a := ObjectPath("user1", "doc1", 3, 0, "png")
	b := ObjectPath("user1", "doc1", 3, 0, "png")
	if a != b {
		t.Fatalf("paths differ: %q vs %q", a, b)
	}
	if a != "documents/user1/doc1/page3_img0.png" {
		t.Errorf("path = %q", a)
	}
	if a == ObjectPath("user1", "doc1", 3, 1, "png") {
		t.Error("distinct image indexes must map to distinct paths")
	}
}

func TestUploadImages_AllStored(t *testing.T) {
	store := newMemStore()
	up := NewUploader(store, nil)

	stored := up.UploadImages(context.Background(), "u", "d",
		[]pdfdoc.EncodedImage{encoded(1, 0), encoded(2, 0), encoded(2, 1)})

	if len(stored) != 3 {
		t.Fatalf("stored %d images, want 3", len(stored))
	}
	if stored[0].PublicURL == "" {
		t.Error("public URL missing")
	}
	if stored[0].AltText != "Abbildung auf Seite 1" {
		t.Errorf("fallback alt text = %q", stored[0].AltText)
	}
	if len(store.objects) != 3 {
		t.Errorf("blob store holds %d objects, want 3", len(store.objects))
	}
}

func TestUploadImages_SkipsFailedUpload(t *testing.T) {
	store := newMemStore()
	store.failOn[ObjectPath("u", "d", 2, 0, "png")] = true
	up := NewUploader(store, nil)

	stored := up.UploadImages(context.Background(), "u", "d",
		[]pdfdoc.EncodedImage{encoded(1, 0), encoded(2, 0), encoded(3, 0)})

	if len(stored) != 2 {
		t.Fatalf("stored %d images, want 2 (one skipped)", len(stored))
	}
	for _, s := range stored {
		if s.PageNumber == 2 {
			t.Error("failed upload must not appear in results")
		}
	}
}

func TestUploadImages_AltTextHook(t *testing.T) {
	store := newMemStore()
	up := NewUploader(store, func(_ context.Context, _ []byte, _ string, page int) (string, error) {
		if page == 2 {
			return "", errors.New("vision model unavailable")
		}
		return fmt.Sprintf("Diagramm auf Seite %d", page), nil
	})

	stored := up.UploadImages(context.Background(), "u", "d",
		[]pdfdoc.EncodedImage{encoded(1, 0), encoded(2, 0)})

	if stored[0].AltText != "Diagramm auf Seite 1" {
		t.Errorf("alt text = %q", stored[0].AltText)
	}
	if stored[1].AltText != "Abbildung auf Seite 2" {
		t.Errorf("failed captioning must fall back, got %q", stored[1].AltText)
	}
}

func TestDeleteAll_RemovesOnlyOwnPrefix(t *testing.T) {
	store := newMemStore()
	up := NewUploader(store, nil)
	ctx := context.Background()

	up.UploadImages(ctx, "u", "doc1", []pdfdoc.EncodedImage{encoded(1, 0)})
	up.UploadImages(ctx, "u", "doc2", []pdfdoc.EncodedImage{encoded(1, 0)})

	if err := up.DeleteAll(ctx, "u", "doc1"); err != nil {
		t.Fatal(err)
	}
	if len(store.objects) != 1 {
		t.Fatalf("blob store holds %d objects, want 1", len(store.objects))
	}
	if _, ok := store.objects[ObjectPath("u", "doc2", 1, 0, "png")]; !ok {
		t.Error("sibling document's image was removed")
	}
}

func TestLocalStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	path := ObjectPath("u", "d", 1, 0, "png")
	if _, err := store.Upload(ctx, path, []byte("pixels"), "image/png"); err != nil {
		t.Fatal(err)
	}

	data, err := store.Download(ctx, path)
	if err != nil || string(data) != "pixels" {
		t.Fatalf("download = %q, %v", data, err)
	}

	paths, err := store.List(ctx, "documents/u/d")
	if err != nil || len(paths) != 1 {
		t.Fatalf("list = %v, %v", paths, err)
	}

	if err := store.Remove(ctx, []string{path}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Download(ctx, path); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Upload(context.Background(), "../escape.png", []byte("x"), "image/png"); err == nil {
		t.Fatal("path traversal must be rejected")
	}
}
