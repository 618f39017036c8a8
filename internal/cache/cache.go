package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"clip-demo/internal/embeddings"
)

// Cache stores encoder output keyed by content hash.
type Cache interface {
	// GetVector retrieves a cached vector by key
	// Returns nil if not found
	GetVector(ctx context.Context, key string) (embeddings.Vector, error)

	// SetVector stores a vector with TTL
	SetVector(ctx context.Context, key string, vec embeddings.Vector, ttl time.Duration) error

	// Close closes the cache connection
	Close() error
}

// Key derives a stable cache key for content encoded by model.
func Key(model string, kind embeddings.Kind, content []byte) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
