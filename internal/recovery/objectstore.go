package recovery

import (
	"context"
	"io"
)

// ObjectStore is the remote content store log artifacts are archived in.
// Implementations report transport failures as plain errors; the Fetcher
// classifies them.
type ObjectStore interface {
	// Size returns the declared byte size of bucket/key.
	Size(ctx context.Context, bucket, key string) (int64, error)

	// Get downloads bucket/key into w starting at offset 0 and returns the
	// number of bytes written.
	Get(ctx context.Context, bucket, key string, w io.WriterAt) (int64, error)

	// Put uploads size bytes read from r to bucket/key, replacing any
	// existing object.
	Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error
}
