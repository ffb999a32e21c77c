package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"wal-recover/internal/recovery"
)

// FileSystemStore is an ObjectStore backed by a local directory, laid out as:
//
//	<root>/
//	  <bucket>/
//	    <key>      (keys may contain slashes)
//
// It serves NFS-mounted archives and local testing.
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a filesystem store rooted at root.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

// objectPath maps bucket/key to a path below root, rejecting anything that
// would escape it.
func (s *FileSystemStore) objectPath(bucket, key string) (string, error) {
	rel := filepath.Join(bucket, filepath.FromSlash(key))
	if bucket == "" || key == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid object name %q/%q", bucket, key)
	}
	return filepath.Join(s.root, rel), nil
}

// Size returns the length of the file holding bucket/key.
func (s *FileSystemStore) Size(ctx context.Context, bucket, key string) (int64, error) {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	if err != nil {
		return 0, fmt.Errorf("stat object: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("object %s/%s is not a regular file", bucket, key)
	}
	return info.Size(), nil
}

// Get copies bucket/key into w.
func (s *FileSystemStore) Get(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open object: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(io.NewOffsetWriter(w, 0), &ctxReader{ctx: ctx, r: f})
	if err != nil {
		return n, fmt.Errorf("failed to read object: %w", err)
	}
	return n, nil
}

// Put writes bucket/key atomically (temp file + rename).
func (s *FileSystemStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	path, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create bucket directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	committed = true
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Compile-time check that FileSystemStore implements recovery.ObjectStore
var _ recovery.ObjectStore = (*FileSystemStore)(nil)
