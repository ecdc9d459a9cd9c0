package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/segyhp/vault-engine/internal/domain"
)

type MockScheduleRepository struct {
	mock.Mock
}

func (m *MockScheduleRepository) Create(ctx context.Context, schedule *domain.PayrollSchedule) error {
	args := m.Called(ctx, schedule)
	return args.Error(0)
}

func (m *MockScheduleRepository) GetByID(ctx context.Context, owner, id string) (*domain.PayrollSchedule, error) {
	args := m.Called(ctx, owner, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PayrollSchedule), args.Error(1)
}

func (m *MockScheduleRepository) Save(ctx context.Context, schedule *domain.PayrollSchedule) error {
	args := m.Called(ctx, schedule)
	return args.Error(0)
}

func (m *MockScheduleRepository) Update(ctx context.Context, owner, id string, fields map[string]any) error {
	args := m.Called(ctx, owner, id, fields)
	return args.Error(0)
}

func (m *MockScheduleRepository) Delete(ctx context.Context, owner, id string) error {
	args := m.Called(ctx, owner, id)
	return args.Error(0)
}

func (m *MockScheduleRepository) ListByOwner(ctx context.Context, owner string) ([]*domain.PayrollSchedule, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PayrollSchedule), args.Error(1)
}

func (m *MockScheduleRepository) ListAll(ctx context.Context) ([]*domain.PayrollSchedule, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PayrollSchedule), args.Error(1)
}

type MockNomineeRepository struct {
	mock.Mock
}

func (m *MockNomineeRepository) Get(ctx context.Context, owner string) (*domain.NomineeConfig, error) {
	args := m.Called(ctx, owner)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.NomineeConfig), args.Error(1)
}

func (m *MockNomineeRepository) Save(ctx context.Context, cfg *domain.NomineeConfig) error {
	args := m.Called(ctx, cfg)
	return args.Error(0)
}

func (m *MockNomineeRepository) Update(ctx context.Context, owner string, fields map[string]any) error {
	args := m.Called(ctx, owner, fields)
	return args.Error(0)
}

func (m *MockNomineeRepository) Delete(ctx context.Context, owner string) error {
	args := m.Called(ctx, owner)
	return args.Error(0)
}
