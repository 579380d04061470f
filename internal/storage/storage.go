package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrAccessDenied   = errors.New("access denied")
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStore reads result objects for a single bucket. List returns
// object keys under a prefix in ascending key order.
type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Opener resolves a bucket name to a store bound to that bucket.
type Opener interface {
	Open(bucket string) (ObjectStore, error)
}

// ParseURI splits an s3:// result location into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	const scheme = "s3://"
	if !strings.HasPrefix(uri, scheme) {
		return "", "", fmt.Errorf("parse object uri %q: missing s3:// scheme", uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("parse object uri %q: empty bucket", uri)
	}
	return bucket, key, nil
}

// IsPrefix reports whether a result location names an object prefix
// rather than a single object.
func IsPrefix(uri string) bool {
	return strings.HasSuffix(uri, "/")
}
