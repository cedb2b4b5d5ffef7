package ports

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is the shared sentinel every backend maps its own
// missing-key error onto.
var ErrObjectNotFound = errors.New("object not found")

func IsObjectNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key, contentType string, reader io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

// PresignInput constrains the policy a presigned POST is signed over.
type PresignInput struct {
	ContentType string
	MaxBytes    int64
	TTL         time.Duration
}

type PresignedPostPolicy struct {
	URL       string
	Fields    map[string]string
	ExpiresAt time.Time
}

// PostPresigner mints a time-limited write credential for one object key.
type PostPresigner interface {
	PresignPost(ctx context.Context, key string, input PresignInput) (*PresignedPostPolicy, error)
}
