package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// localStore keeps objects in a directory tree. It serves single-machine
// deployments and tests; public URLs are file paths.
type localStore struct {
	root string
}

// NewLocal creates a filesystem-backed BlobStore rooted at dir.
func NewLocal(dir string) (BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating blob dir: %w", err)
	}
	return &localStore{root: dir}, nil
}

func (l *localStore) fullPath(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", fmt.Errorf("storage: invalid object path %q", path)
	}
	return filepath.Join(l.root, clean), nil
}

func (l *localStore) Upload(_ context.Context, path string, data []byte, _ string) (string, error) {
	full, err := l.fullPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	return full, nil
}

func (l *localStore) Download(_ context.Context, path string) ([]byte, error) {
	full, err := l.fullPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, err
}

func (l *localStore) List(_ context.Context, prefix string) ([]string, error) {
	dir, err := l.fullPath(prefix)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (l *localStore) Remove(_ context.Context, paths []string) error {
	for _, path := range paths {
		full, err := l.fullPath(path)
		if err != nil {
			return err
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
