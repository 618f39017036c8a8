package model

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of Provider using testify/mock.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Open(ctx context.Context, man Manifest) (Encoders, error) {
	args := m.Called(ctx, man)
	return args.Get(0).(Encoders), args.Error(1)
}
