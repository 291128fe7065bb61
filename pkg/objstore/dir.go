package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dir stores objects as files under root/bucket. Keys may contain slashes,
// which become subdirectories.
type Dir struct {
	root   string
	bucket string
}

func NewDir(root, bucket string) (*Dir, error) {
	err := os.MkdirAll(filepath.Join(root, bucket), os.ModePerm)
	if err != nil {
		return nil, fmt.Errorf("%w: creating bucket directory: %w", ErrObjectStore, err)
	}
	return &Dir{root: root, bucket: bucket}, nil
}

func (s *Dir) Bucket() string {
	return s.bucket
}

func (s *Dir) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: invalid key %q", ErrObjectStore, key)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: key %q escapes the bucket", ErrObjectStore, key)
	}
	return filepath.Join(s.root, s.bucket, clean), nil
}

// Put writes to a temporary file and renames it over the key, so readers see
// either the old or the new object.
func (s *Dir) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(key)
	if err != nil {
		return err
	}

	err = os.MkdirAll(filepath.Dir(path), os.ModePerm)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrObjectStore, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrObjectStore, err)
	}
	_, err = tmp.Write(data)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: writing %q: %w", ErrObjectStore, key, err)
	}
	err = tmp.Close()
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: writing %q: %w", ErrObjectStore, key, err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("%w: storing %q: %w", ErrObjectStore, key, err)
	}
	return nil
}

func (s *Dir) Fetch(ctx context.Context, key string) (Lookup, error) {
	if err := ctx.Err(); err != nil {
		return Lookup{}, err
	}
	path, err := s.path(key)
	if err != nil {
		return Lookup{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Lookup{}, nil
	}
	if err != nil {
		return Lookup{}, fmt.Errorf("%w: reading %q: %w", ErrObjectStore, key, err)
	}
	return Lookup{Found: true, Object: data}, nil
}

func (s *Dir) Close() error {
	return nil
}
