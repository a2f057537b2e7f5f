// Package storage defines the object storage port used for staged files and
// job archives, with S3 and filesystem adapters.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectMetadata describes an object at rest.
type ObjectMetadata struct {
	ContentType   string            `json:"content_type,omitempty"`
	ContentLength int64             `json:"content_length,omitempty"`
	// ExpiresAt marks ephemeral objects; consumers must treat expired
	// objects as gone even if the backend has not purged them yet.
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	UserMetadata map[string]string `json:"user_metadata,omitempty"`
}

// ObjectInfo is a listing entry.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStorage is the port all storage adapters implement.
type ObjectStorage interface {
	// Put stores an object under key.
	Put(ctx context.Context, key string, reader io.Reader, metadata ObjectMetadata) error

	// Get retrieves an object. Returns ErrObjectNotFound when missing.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// List returns objects whose keys start with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// PresignedURL returns a time-limited public URL for the object.
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
