package storage

import (
	"context"

	"github.com/dvloznov/pricepaid-importer/internal/apperrors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = apperrors.ErrObjectNotFound

// ObjectStore provides an interface for the object storage holding the
// partitioned output. Implementations are bound to a single bucket.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the object bytes, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys beginning with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Bucket names the bucket the store writes to.
	Bucket() string

	// Close releases the underlying client.
	Close() error
}

// Content types used by the writers.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeText    = "text/plain; charset=utf-8"
	ContentTypeParquet = "application/vnd.apache.parquet"
)
