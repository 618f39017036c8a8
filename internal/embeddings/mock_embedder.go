package embeddings

import (
	"context"
	"image"

	"github.com/stretchr/testify/mock"
)

// MockTextEncoder is a mock implementation of TextEncoder using testify/mock.
type MockTextEncoder struct {
	mock.Mock
}

func (m *MockTextEncoder) EncodeText(ctx context.Context, text string) (Vector, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Vector), args.Error(1)
}

// MockImageEncoder is a mock implementation of ImageEncoder using testify/mock.
type MockImageEncoder struct {
	mock.Mock
}

func (m *MockImageEncoder) EncodeImage(ctx context.Context, img image.Image, size image.Point) (Vector, error) {
	args := m.Called(ctx, img, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Vector), args.Error(1)
}
