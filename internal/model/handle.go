package model

import (
	"context"
	"fmt"
	"image"
	"sync"

	"clip-demo/internal/embeddings"
)

// Handle owns a loaded encoder. Encoders obtained from it fail with ErrClosed
// once Close has been called.
type Handle struct {
	manifest Manifest
	image    embeddings.ImageEncoder
	text     embeddings.TextEncoder

	mu     sync.RWMutex
	closed bool
}

func newHandle(m Manifest, encs Encoders) (*Handle, error) {
	h := &Handle{manifest: m}
	switch m.Kind {
	case embeddings.KindImage:
		if encs.Image == nil {
			return nil, fmt.Errorf("provider %s returned no image encoder", m.Provider)
		}
		h.image = embeddings.GuardImage(encs.Image, m.Dimension)
	case embeddings.KindText:
		if encs.Text == nil {
			return nil, fmt.Errorf("provider %s returned no text encoder", m.Provider)
		}
		h.text = embeddings.GuardText(encs.Text, m.Dimension)
	}
	return h, nil
}

func (h *Handle) Kind() embeddings.Kind { return h.manifest.Kind }

func (h *Handle) Manifest() Manifest { return h.manifest }

// ImageEncoder returns the handle's image encoder.
func (h *Handle) ImageEncoder() (embeddings.ImageEncoder, error) {
	if h.manifest.Kind != embeddings.KindImage {
		return nil, fmt.Errorf("%w: %s is a %s model", ErrKindMismatch, h.manifest.Name, h.manifest.Kind)
	}
	return handleImage{h}, nil
}

// TextEncoder returns the handle's text encoder.
func (h *Handle) TextEncoder() (embeddings.TextEncoder, error) {
	if h.manifest.Kind != embeddings.KindText {
		return nil, fmt.Errorf("%w: %s is a %s model", ErrKindMismatch, h.manifest.Name, h.manifest.Kind)
	}
	return handleText{h}, nil
}

// Close releases the handle. It is idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *Handle) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

type handleImage struct{ h *Handle }

func (e handleImage) EncodeImage(ctx context.Context, img image.Image, size image.Point) (embeddings.Vector, error) {
	if e.h.isClosed() {
		return nil, ErrClosed
	}
	return e.h.image.EncodeImage(ctx, img, size)
}

type handleText struct{ h *Handle }

func (e handleText) EncodeText(ctx context.Context, text string) (embeddings.Vector, error) {
	if e.h.isClosed() {
		return nil, ErrClosed
	}
	return e.h.text.EncodeText(ctx, text)
}
