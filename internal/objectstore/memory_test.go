package objectstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
)

func TestMemoryStore_PutGetSize(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		key     string
		content string
	}{
		{name: "wal segment", key: "db/app.db-wal", content: "WAL bytes"},
		{name: "empty object", key: "empty", content: ""},
		{name: "large object", key: "large", content: strings.Repeat("x", 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			if err := s.Put(ctx, "logs", tt.key, strings.NewReader(tt.content), int64(len(tt.content))); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			size, err := s.Size(ctx, "logs", tt.key)
			if err != nil {
				t.Fatalf("Size() error = %v", err)
			}
			if size != int64(len(tt.content)) {
				t.Errorf("Size() = %d, want %d", size, len(tt.content))
			}

			buf := manager.NewWriteAtBuffer(nil)
			n, err := s.Get(ctx, "logs", tt.key, buf)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if n != size {
				t.Errorf("Get() n = %d, want %d", n, size)
			}
			if got := string(buf.Bytes()); got != tt.content {
				t.Errorf("Get() content mismatch: got %d bytes", len(got))
			}
		})
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.Size(ctx, "logs", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Size() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "logs", "missing", manager.NewWriteAtBuffer(nil)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_PutSizeMismatch(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Put(context.Background(), "logs", "k", strings.NewReader("abc"), 10); err == nil {
		t.Error("Put() expected error for size mismatch")
	}
	if len(s.Keys()) != 0 {
		t.Errorf("Keys() = %v, want none after failed Put", s.Keys())
	}
}

func TestMemoryStore_GetCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()
	if err := s.Put(ctx, "b", "k", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	cancel()
	if _, err := s.Get(ctx, "b", "k", manager.NewWriteAtBuffer(nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
}

func TestMemoryStore_Keys(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, k := range []string{"b", "a"} {
		if err := s.Put(ctx, "logs", k, strings.NewReader(k), 1); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	got := s.Keys()
	if len(got) != 2 || got[0] != "logs/a" || got[1] != "logs/b" {
		t.Errorf("Keys() = %v, want [logs/a logs/b]", got)
	}
}
