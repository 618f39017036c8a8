package cache

import (
	"context"
	"image"
	"log/slog"
	"time"

	"clip-demo/internal/embeddings"
	"clip-demo/internal/imaging"
)

// CachedTextEncoder consults c before calling next. Cache failures are logged
// and never fail the encode.
type CachedTextEncoder struct {
	next  embeddings.TextEncoder
	cache Cache
	model string
	ttl   time.Duration
	log   *slog.Logger
}

func NewCachedTextEncoder(next embeddings.TextEncoder, c Cache, model string, ttl time.Duration, log *slog.Logger) *CachedTextEncoder {
	return &CachedTextEncoder{next: next, cache: c, model: model, ttl: ttl, log: log}
}

func (e *CachedTextEncoder) EncodeText(ctx context.Context, text string) (embeddings.Vector, error) {
	if text == "" {
		return nil, embeddings.ErrEmptyText
	}
	key := Key(e.model, embeddings.KindText, []byte(text))
	return lookup(ctx, e.cache, e.log, key, e.ttl, func() (embeddings.Vector, error) {
		return e.next.EncodeText(ctx, text)
	})
}

// CachedImageEncoder keys on the PNG bytes of the image resized to the model
// input size, so the same picture uploaded twice hits the cache.
type CachedImageEncoder struct {
	next  embeddings.ImageEncoder
	cache Cache
	model string
	ttl   time.Duration
	log   *slog.Logger
}

func NewCachedImageEncoder(next embeddings.ImageEncoder, c Cache, model string, ttl time.Duration, log *slog.Logger) *CachedImageEncoder {
	return &CachedImageEncoder{next: next, cache: c, model: model, ttl: ttl, log: log}
}

func (e *CachedImageEncoder) EncodeImage(ctx context.Context, img image.Image, size image.Point) (embeddings.Vector, error) {
	if img == nil {
		return nil, embeddings.ErrNilImage
	}
	resized, err := imaging.Resize(img, size)
	if err != nil {
		return e.next.EncodeImage(ctx, img, size)
	}
	data, err := imaging.EncodePNG(resized)
	if err != nil {
		return e.next.EncodeImage(ctx, img, size)
	}
	key := Key(e.model, embeddings.KindImage, data)
	return lookup(ctx, e.cache, e.log, key, e.ttl, func() (embeddings.Vector, error) {
		return e.next.EncodeImage(ctx, resized, size)
	})
}

func lookup(ctx context.Context, c Cache, log *slog.Logger, key string, ttl time.Duration, encode func() (embeddings.Vector, error)) (embeddings.Vector, error) {
	if cached, err := c.GetVector(ctx, key); err != nil {
		log.Warn("embedding cache read failed", "err", err)
	} else if cached != nil {
		log.Debug("embedding cache hit", "key", key)
		return cached, nil
	}

	vec, err := encode()
	if err != nil {
		return nil, err
	}
	if err := c.SetVector(ctx, key, vec, ttl); err != nil {
		log.Warn("embedding cache write failed", "err", err)
	}
	return vec, nil
}
