package repository

import (
	"context"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/store"
)

// Schedules live below their owner: payrollSchedules/{owner}/{id}.
type scheduleRepository struct {
	store store.DocumentStore
}

func NewScheduleRepository(s store.DocumentStore) ScheduleRepository {
	return &scheduleRepository{store: s}
}

func schedulePath(owner, id string) string {
	return store.Join(SchedulesPath, owner, id)
}

func (r *scheduleRepository) Create(ctx context.Context, schedule *domain.PayrollSchedule) error {
	key, err := store.NewKey()
	if err != nil {
		return err
	}
	schedule.ID = key
	return r.store.Set(ctx, schedulePath(schedule.OwnerAccount, key), schedule)
}

func (r *scheduleRepository) GetByID(ctx context.Context, owner, id string) (*domain.PayrollSchedule, error) {
	var s domain.PayrollSchedule
	if err := r.store.Get(ctx, schedulePath(owner, id), &s); err != nil {
		return nil, err
	}
	s.ID = id
	return &s, nil
}

func (r *scheduleRepository) Save(ctx context.Context, schedule *domain.PayrollSchedule) error {
	return r.store.Set(ctx, schedulePath(schedule.OwnerAccount, schedule.ID), schedule)
}

func (r *scheduleRepository) Update(ctx context.Context, owner, id string, fields map[string]any) error {
	return r.store.Update(ctx, schedulePath(owner, id), fields)
}

func (r *scheduleRepository) Delete(ctx context.Context, owner, id string) error {
	return r.store.Set(ctx, schedulePath(owner, id), nil)
}

func (r *scheduleRepository) ListByOwner(ctx context.Context, owner string) ([]*domain.PayrollSchedule, error) {
	return r.list(ctx, store.Join(SchedulesPath, owner))
}

func (r *scheduleRepository) ListAll(ctx context.Context) ([]*domain.PayrollSchedule, error) {
	return r.list(ctx, SchedulesPath)
}

func (r *scheduleRepository) list(ctx context.Context, prefix string) ([]*domain.PayrollSchedule, error) {
	docs, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	schedules, err := store.Decode[*domain.PayrollSchedule](docs)
	if err != nil {
		return nil, err
	}
	for i, s := range schedules {
		s.ID = docs[i].ID()
	}
	return schedules, nil
}
