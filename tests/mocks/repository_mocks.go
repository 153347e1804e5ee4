// Package mocks provides testify mocks for repository interfaces, used by
// handler tests that only need to script repository behavior.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/solvereach/remindly-backend/internal/models"
)

// MockAccountRepository implements repository.AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.ConnectedAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.ConnectedAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ConnectedAccount), args.Error(1)
}

func (m *MockAccountRepository) ListActive(ctx context.Context) ([]models.ConnectedAccount, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ConnectedAccount), args.Error(1)
}

func (m *MockAccountRepository) MergeSyncCursor(ctx context.Context, id, provider, cursor string, syncedAt time.Time) error {
	args := m.Called(ctx, id, provider, cursor, syncedAt)
	return args.Error(0)
}

func (m *MockAccountRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error {
	args := m.Called(ctx, id, accessToken, refreshToken, expiry)
	return args.Error(0)
}

func (m *MockAccountRepository) Deactivate(ctx context.Context, id, reason string) error {
	args := m.Called(ctx, id, reason)
	return args.Error(0)
}

// MockQueueRepository implements repository.QueueRepository
type MockQueueRepository struct {
	mock.Mock
}

func (m *MockQueueRepository) Enqueue(ctx context.Context, email *models.QueuedEmail, baseDelay time.Duration) error {
	args := m.Called(ctx, email, baseDelay)
	return args.Error(0)
}

func (m *MockQueueRepository) GetByID(ctx context.Context, id string) (*models.QueuedEmail, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueuedEmail), args.Error(1)
}

func (m *MockQueueRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.QueuedEmail, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.QueuedEmail), args.Error(1)
}

func (m *MockQueueRepository) MarkProcessing(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQueueRepository) MarkSent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQueueRepository) MarkFailed(ctx context.Context, id string, sendErr string, baseDelay time.Duration, now time.Time) (*models.QueuedEmail, error) {
	args := m.Called(ctx, id, sendErr, baseDelay, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.QueuedEmail), args.Error(1)
}

func (m *MockQueueRepository) Cancel(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockQueueRepository) List(ctx context.Context, status models.QueuedEmailStatus, limit, offset int) ([]models.QueuedEmail, int64, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.QueuedEmail), args.Get(1).(int64), args.Error(2)
}
