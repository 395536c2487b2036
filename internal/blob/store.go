// Package blob stores visitor photos behind a small key/value interface
// with memory, MySQL and S3-compatible backends.
package blob

import (
	"context"
	"errors"
	"time"
)

// Driver identifies a concrete backend.
type Driver string

const (
	DriverDB     Driver = "db"     // photos table in the main database (default)
	DriverS3     Driver = "s3"     // S3 / MinIO compatible
	DriverMemory Driver = "memory" // in-process, tests and demos
)

// DefaultContentType is served when a photo was stored without one.
const DefaultContentType = "image/jpeg"

// ErrNotFound is returned by Get and Head for unknown keys.
var ErrNotFound = errors.New("blob: not found")

// Info describes a stored object.
type Info struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size_bytes"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Store is the photo persistence contract.  Put overwrites an existing
// key.  Delete reports whether the key existed.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (Info, error)
	Get(ctx context.Context, key string) (Info, []byte, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	Driver() Driver
}

func contentTypeOr(ct string) string {
	if ct == "" {
		return DefaultContentType
	}
	return ct
}
