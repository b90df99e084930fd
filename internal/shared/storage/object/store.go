package object

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ObjectStore defines the contract for storing binary objects under opaque keys
// and handing out time-limited retrieval links.
type ObjectStore interface {
	// Put stores data under key. Readers never observe a partially written object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// SignedURL returns a link to key valid for ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Open streams a stored object back.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ErrInvalidKey is returned for empty, absolute or traversing keys.
var ErrInvalidKey = errors.New("invalid object key")

// ValidateKey rejects keys that could escape the store namespace.
func ValidateKey(key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" || trimmed != key {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrInvalidKey
		}
	}
	if path.Clean(key) != key {
		return ErrInvalidKey
	}
	return nil
}
