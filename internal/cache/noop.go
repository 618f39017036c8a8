package cache

import (
	"context"
	"time"

	"clip-demo/internal/embeddings"
)

// NoOpCache never stores anything, so every lookup is a miss and encoders
// always run. Used when CACHE_PROVIDER=none or Redis is unreachable.
type NoOpCache struct{}

func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (c *NoOpCache) GetVector(context.Context, string) (embeddings.Vector, error) {
	return nil, nil
}

func (c *NoOpCache) SetVector(context.Context, string, embeddings.Vector, time.Duration) error {
	return nil
}

func (c *NoOpCache) Close() error {
	return nil
}
