package repository

import (
	"context"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/store"
)

type nomineeRepository struct {
	store store.DocumentStore
}

func NewNomineeRepository(s store.DocumentStore) NomineeRepository {
	return &nomineeRepository{store: s}
}

func (r *nomineeRepository) Get(ctx context.Context, owner string) (*domain.NomineeConfig, error) {
	var cfg domain.NomineeConfig
	if err := r.store.Get(ctx, store.Join(NomineesPath, owner), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *nomineeRepository) Save(ctx context.Context, cfg *domain.NomineeConfig) error {
	return r.store.Set(ctx, store.Join(NomineesPath, cfg.OwnerAccount), cfg)
}

func (r *nomineeRepository) Update(ctx context.Context, owner string, fields map[string]any) error {
	return r.store.Update(ctx, store.Join(NomineesPath, owner), fields)
}

func (r *nomineeRepository) Delete(ctx context.Context, owner string) error {
	return r.store.Set(ctx, store.Join(NomineesPath, owner), nil)
}
