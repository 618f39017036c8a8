package cache

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"clip-demo/internal/embeddings"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCachedTextEncoder(t *testing.T) {
	ctx := context.Background()
	key := Key("clip", embeddings.KindText, []byte("a dog"))

	tests := []struct {
		name  string
		setup func(*MockCache, *embeddings.MockTextEncoder)
		want  embeddings.Vector
	}{
		{
			name: "hit skips encoder",
			setup: func(c *MockCache, e *embeddings.MockTextEncoder) {
				c.On("GetVector", mock.Anything, key).Return(embeddings.Vector{1, 2}, nil).Once()
			},
			want: embeddings.Vector{1, 2},
		},
		{
			name: "miss encodes and stores",
			setup: func(c *MockCache, e *embeddings.MockTextEncoder) {
				c.On("GetVector", mock.Anything, key).Return(nil, nil).Once()
				e.On("EncodeText", mock.Anything, "a dog").Return(embeddings.Vector{3, 4}, nil).Once()
				c.On("SetVector", mock.Anything, key, embeddings.Vector{3, 4}, time.Minute).Return(nil).Once()
			},
			want: embeddings.Vector{3, 4},
		},
		{
			name: "cache errors do not fail the encode",
			setup: func(c *MockCache, e *embeddings.MockTextEncoder) {
				c.On("GetVector", mock.Anything, key).Return(nil, errors.New("redis down")).Once()
				e.On("EncodeText", mock.Anything, "a dog").Return(embeddings.Vector{5, 6}, nil).Once()
				c.On("SetVector", mock.Anything, key, mock.Anything, time.Minute).Return(errors.New("redis down")).Once()
			},
			want: embeddings.Vector{5, 6},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &MockCache{}
			e := &embeddings.MockTextEncoder{}
			tt.setup(c, e)

			got, err := NewCachedTextEncoder(e, c, "clip", time.Minute, discardLogger()).EncodeText(ctx, "a dog")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			c.AssertExpectations(t)
			e.AssertExpectations(t)
		})
	}
}

func TestCachedTextEncoderPropagatesEncodeError(t *testing.T) {
	c := &MockCache{}
	c.On("GetVector", mock.Anything, mock.Anything).Return(nil, nil).Once()
	e := &embeddings.MockTextEncoder{}
	e.On("EncodeText", mock.Anything, "a dog").Return(nil, embeddings.ErrEncode).Once()

	_, err := NewCachedTextEncoder(e, c, "clip", time.Minute, discardLogger()).EncodeText(context.Background(), "a dog")
	assert.ErrorIs(t, err, embeddings.ErrEncode)
	c.AssertNotCalled(t, "SetVector", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCachedImageEncoder(t *testing.T) {
	size := image.Pt(4, 4)
	imgA := image.NewRGBA(image.Rect(0, 0, 16, 16))
	imgB := image.NewRGBA(image.Rect(0, 0, 16, 16))

	c := &MockCache{}
	e := &embeddings.MockImageEncoder{}

	var stored string
	c.On("GetVector", mock.Anything, mock.Anything).Return(nil, nil).Once()
	e.On("EncodeImage", mock.Anything, mock.Anything, size).Return(embeddings.Vector{1, 0}, nil).Once()
	c.On("SetVector", mock.Anything, mock.Anything, embeddings.Vector{1, 0}, time.Minute).
		Run(func(args mock.Arguments) { stored = args.String(1) }).Return(nil).Once()

	enc := NewCachedImageEncoder(e, c, "clip", time.Minute, discardLogger())
	_, err := enc.EncodeImage(context.Background(), imgA, size)
	require.NoError(t, err)

	// An identical picture maps to the same key.
	c.On("GetVector", mock.Anything, mock.MatchedBy(func(k string) bool { return k == stored })).
		Return(embeddings.Vector{1, 0}, nil).Once()
	got, err := enc.EncodeImage(context.Background(), imgB, size)
	require.NoError(t, err)
	assert.Equal(t, embeddings.Vector{1, 0}, got)

	c.AssertExpectations(t)
	e.AssertExpectations(t)
}
