package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"wal-recover/internal/objectstore"
	"wal-recover/internal/recovery"
)

// TestBucket is the bucket fixtures are stored under.
const TestBucket = "test-logs"

// NewTestObjectStore creates an in-memory object store holding objects,
// keyed by object key under TestBucket.
func NewTestObjectStore(t *testing.T, objects map[string][]byte) *objectstore.MemoryStore {
	t.Helper()
	s := objectstore.NewMemoryStore()
	for key, data := range objects {
		if err := s.Put(context.Background(), TestBucket, key, bytes.NewReader(data), int64(len(data))); err != nil {
			t.Fatalf("seeding object %s: %v", key, err)
		}
	}
	return s
}

// ErrInjected is the transport failure FailingObjectStore reports.
var ErrInjected = errors.New("injected transport failure")

// FailingObjectStore wraps an ObjectStore and fails the first FailGets Get
// calls, and every Size call when FailSize is set. With a nil Inner every
// call fails.
type FailingObjectStore struct {
	Inner    recovery.ObjectStore
	FailGets int
	FailSize bool

	mu   sync.Mutex
	gets int
}

func (f *FailingObjectStore) Size(ctx context.Context, bucket, key string) (int64, error) {
	if f.FailSize || f.Inner == nil {
		return 0, ErrInjected
	}
	return f.Inner.Size(ctx, bucket, key)
}

func (f *FailingObjectStore) Get(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	f.mu.Lock()
	f.gets++
	fail := f.gets <= f.FailGets || f.Inner == nil
	f.mu.Unlock()
	if fail {
		// A broken transfer leaves partial bytes behind.
		w.WriteAt([]byte("partial"), 0)
		return 7, ErrInjected
	}
	return f.Inner.Get(ctx, bucket, key, w)
}

func (f *FailingObjectStore) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	if f.Inner == nil {
		return ErrInjected
	}
	return f.Inner.Put(ctx, bucket, key, r, size)
}

// Gets returns the number of Get calls made.
func (f *FailingObjectStore) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

// MisreportingObjectStore declares a size Delta bytes off from the real one,
// simulating a truncated or padded transfer.
type MisreportingObjectStore struct {
	recovery.ObjectStore
	Delta int64
}

func (m *MisreportingObjectStore) Size(ctx context.Context, bucket, key string) (int64, error) {
	n, err := m.ObjectStore.Size(ctx, bucket, key)
	return n + m.Delta, err
}

// HookedObjectStore calls AfterGet once each Get on the wrapped store
// returns, e.g. to advance a StubClock or cancel a context mid-session.
type HookedObjectStore struct {
	recovery.ObjectStore
	AfterGet func()
}

func (h *HookedObjectStore) Get(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error) {
	n, err := h.ObjectStore.Get(ctx, bucket, key, w)
	if h.AfterGet != nil {
		h.AfterGet()
	}
	return n, err
}

var (
	_ recovery.ObjectStore = (*FailingObjectStore)(nil)
	_ recovery.ObjectStore = (*MisreportingObjectStore)(nil)
	_ recovery.ObjectStore = (*HookedObjectStore)(nil)
)
