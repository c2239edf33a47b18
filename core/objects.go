package core

import (
	"context"
	"io"
	"time"
)

var ErrObjectNotFound = NewNotFoundError("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStore is any blob storage keyed by slash separated paths.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	// Usage sums the size of every object under prefix.
	Usage(ctx context.Context, prefix string) (int64, error)
}
