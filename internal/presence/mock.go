package presence

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockTracker struct {
	mock.Mock
}

func (m *MockTracker) SetOnline(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}

func (m *MockTracker) SetOffline(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}

func (m *MockTracker) Touch(ctx context.Context, userId string) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}

func (m *MockTracker) Get(ctx context.Context, userId string) (Record, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(Record), args.Error(1)
}

func (m *MockTracker) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
