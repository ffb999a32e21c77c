package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"wal-recover/internal/recovery"
)

// ErrNotFound is returned for a bucket/key that holds no object.
var ErrNotFound = errors.New("object not found")

// MemoryStore is an in-memory ObjectStore, useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte // "bucket/key" -> content
}

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Size returns the stored length of bucket/key.
func (m *MemoryStore) Size(ctx context.Context, bucket, key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	return int64(len(data)), nil
}

// Get copies bucket/key into w.
func (m *MemoryStore) Get(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	data, ok := m.objects[objectKey(bucket, key)]
	m.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}

	n, err := io.Copy(io.NewOffsetWriter(w, 0), bytes.NewReader(data))
	if err != nil {
		return n, fmt.Errorf("failed to write object: %w", err)
	}
	return n, nil
}

// Put stores size bytes from r under bucket/key.
func (m *MemoryStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, key)] = data
	return nil
}

// Keys lists the stored "bucket/key" names in order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Compile-time check that MemoryStore implements recovery.ObjectStore
var _ recovery.ObjectStore = (*MemoryStore)(nil)
