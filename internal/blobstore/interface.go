package blobstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"time"
)

var (
	// ErrObjectNotFound is returned by Open when the key has no stored object.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys a store cannot address.
	ErrInvalidKey = errors.New("invalid object key")
)

// PutResult describes one persisted object payload.
type PutResult struct {
	Key       string
	SizeBytes int64
}

// ObjectInfo is one entry returned by a listing.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	LastModified time.Time
}

// ObjectStore is the byte-storage abstraction used by ImageService.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) (PutResult, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	// PublicURL derives the externally reachable URL for key without I/O.
	PublicURL(key string) string
}

// Lister enumerates stored objects. Orphan sweeps require it.
type Lister interface {
	List(ctx context.Context) ([]ObjectInfo, error)
}

// Opener reads stored objects back. Stores without their own public endpoint
// implement it so the HTTP server can serve their bytes.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// joinURL appends key to base, escaping each key segment.
func joinURL(base, key string) string {
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(segments, "/")
}
