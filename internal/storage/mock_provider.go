package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore is a testify mock of visit.BlobStore.
type MockBlobStore struct {
	mock.Mock
}

// PutObject records the call.
func (m *MockBlobStore) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

// GetObject records the call.
func (m *MockBlobStore) GetObject(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1) //nolint:wrapcheck
}

// Exists records the call.
func (m *MockBlobStore) Exists(ctx context.Context, path string) (string, bool, error) {
	args := m.Called(ctx, path)
	return args.String(0), args.Bool(1), args.Error(2) //nolint:wrapcheck
}
