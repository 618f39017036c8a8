package embeddings

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEncode              = errors.New("encode failed")
	ErrEmptyText           = errors.New("text is empty")
	ErrNilImage            = errors.New("image is nil")
	ErrUnexpectedDimension = errors.New("unexpected embedding dimension")
)

// Vector is a simple float32 slice wrapper.
type Vector []float32

// Clone returns a copy that shares no memory with v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Kind records which encoder produced a vector.
type Kind string

const (
	KindImage Kind = "image"
	KindText  Kind = "text"
)

func (k Kind) Valid() bool {
	return k == KindImage || k == KindText
}

// LabeledEmbedding pairs a vector with the artifact it was produced from.
// Label is the source text, or the image's name for image embeddings.
type LabeledEmbedding struct {
	ID        uuid.UUID `json:"id"`
	Kind      Kind      `json:"kind"`
	Label     string    `json:"label"`
	Vector    Vector    `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// NewLabeled stamps a fresh ID and creation time on an encoder result.
func NewLabeled(kind Kind, label string, v Vector) LabeledEmbedding {
	return LabeledEmbedding{
		ID:        uuid.New(),
		Kind:      kind,
		Label:     label,
		Vector:    v,
		CreatedAt: time.Now().UTC(),
	}
}

// ImageEncoder embeds a decoded bitmap. size is the pixel size the model expects;
// implementations resize as needed.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, img image.Image, size image.Point) (Vector, error)
}

// TextEncoder embeds a string.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) (Vector, error)
}

// DimensionGuard rejects encoder output whose length is not Dim.
type DimensionGuard struct {
	Dim int
}

func (g DimensionGuard) Check(v Vector) (Vector, error) {
	if g.Dim > 0 && len(v) != g.Dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnexpectedDimension, len(v), g.Dim)
	}
	return v, nil
}

type guardedImage struct {
	next  ImageEncoder
	guard DimensionGuard
}

// GuardImage wraps enc so every result is checked against dim.
func GuardImage(enc ImageEncoder, dim int) ImageEncoder {
	return &guardedImage{next: enc, guard: DimensionGuard{Dim: dim}}
}

func (g *guardedImage) EncodeImage(ctx context.Context, img image.Image, size image.Point) (Vector, error) {
	if img == nil {
		return nil, ErrNilImage
	}
	v, err := g.next.EncodeImage(ctx, img, size)
	if err != nil {
		return nil, err
	}
	return g.guard.Check(v)
}

type guardedText struct {
	next  TextEncoder
	guard DimensionGuard
}

// GuardText wraps enc so every result is checked against dim.
func GuardText(enc TextEncoder, dim int) TextEncoder {
	return &guardedText{next: enc, guard: DimensionGuard{Dim: dim}}
}

func (g *guardedText) EncodeText(ctx context.Context, text string) (Vector, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	v, err := g.next.EncodeText(ctx, text)
	if err != nil {
		return nil, err
	}
	return g.guard.Check(v)
}
