package session

import (
	"context"

	"github.com/stretchr/testify/mock"

	"clip-demo/internal/embeddings"
	"clip-demo/internal/model"
)

// MockLoader is a mock implementation of Loader using testify/mock.
type MockLoader struct {
	mock.Mock
}

func (m *MockLoader) Load(ctx context.Context, path string, kind embeddings.Kind) (*model.Handle, error) {
	args := m.Called(ctx, path, kind)
	if h := args.Get(0); h != nil {
		return h.(*model.Handle), args.Error(1)
	}
	return nil, args.Error(1)
}
