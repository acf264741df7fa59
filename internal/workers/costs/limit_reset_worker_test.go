package costs

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"coursecast/internal/domain/cost_limit"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// MockRepository is a mock for cost_limit.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) GetByOwner(ctx context.Context, ownerID string) (*cost_limit.CostLimit, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cost_limit.CostLimit), args.Error(1)
}

func (m *MockRepository) Create(ctx context.Context, l *cost_limit.CostLimit) error {
	return m.Called(ctx, l).Error(0)
}

func (m *MockRepository) Update(ctx context.Context, l *cost_limit.CostLimit) error {
	return m.Called(ctx, l).Error(0)
}

func (m *MockRepository) AddSpend(ctx context.Context, ownerID string, amount decimal.Decimal, now time.Time) (*cost_limit.SpendUpdate, error) {
	args := m.Called(ctx, ownerID, amount, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cost_limit.SpendUpdate), args.Error(1)
}

func (m *MockRepository) ResetExpired(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockInvalidator is a mock for LimitInvalidator
type MockInvalidator struct {
	mock.Mock
}

func (m *MockInvalidator) InvalidateCostLimit(ctx context.Context, ownerID string) {
	m.Called(ctx, ownerID)
}

func TestLimitResetWorker_InvalidatesResetOwners(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 30, 0, time.UTC)
	repo := &MockRepository{}
	inv := &MockInvalidator{}

	repo.On("ResetExpired", mock.Anything, now).Return([]string{"creator-1", "user-7"}, nil)
	inv.On("InvalidateCostLimit", mock.Anything, "creator-1").Once()
	inv.On("InvalidateCostLimit", mock.Anything, "user-7").Once()

	w := NewLimitResetWorker(repo, inv, time.Minute, true, logger.NewNop())
	w.now = func() time.Time { return now }

	require.NoError(t, w.Run(context.Background()))
	repo.AssertExpectations(t)
	inv.AssertExpectations(t)
}

func TestLimitResetWorker_NothingExpired(t *testing.T) {
	repo := &MockRepository{}
	inv := &MockInvalidator{}
	repo.On("ResetExpired", mock.Anything, mock.Anything).Return([]string{}, nil)

	w := NewLimitResetWorker(repo, inv, time.Minute, true, logger.NewNop())

	require.NoError(t, w.Run(context.Background()))
	inv.AssertNotCalled(t, "InvalidateCostLimit", mock.Anything, mock.Anything)
}

func TestLimitResetWorker_RepositoryError(t *testing.T) {
	repo := &MockRepository{}
	repo.On("ResetExpired", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset"))

	w := NewLimitResetWorker(repo, &MockInvalidator{}, time.Minute, true, logger.NewNop())

	err := w.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset expired limits")
	assert.Equal(t, "limit_reset", w.Name())
}
