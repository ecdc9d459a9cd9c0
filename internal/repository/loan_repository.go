package repository

import (
	"context"
	"encoding/json"

	"github.com/segyhp/vault-engine/internal/domain"
	"github.com/segyhp/vault-engine/internal/store"
)

type offerRepository struct {
	store store.DocumentStore
}

func NewOfferRepository(s store.DocumentStore) OfferRepository {
	return &offerRepository{store: s}
}

func (r *offerRepository) Create(ctx context.Context, offer *domain.LoanOffer) error {
	key, err := store.NewKey()
	if err != nil {
		return err
	}
	offer.ID = key
	return r.store.Set(ctx, store.Join(OffersPath, key), offer)
}

func (r *offerRepository) GetByID(ctx context.Context, id string) (*domain.LoanOffer, error) {
	var offer domain.LoanOffer
	if err := r.store.Get(ctx, store.Join(OffersPath, id), &offer); err != nil {
		return nil, err
	}
	offer.ID = id
	return &offer, nil
}

func (r *offerRepository) Save(ctx context.Context, offer *domain.LoanOffer) error {
	return r.store.Set(ctx, store.Join(OffersPath, offer.ID), offer)
}

func (r *offerRepository) Delete(ctx context.Context, id string) error {
	return r.store.Set(ctx, store.Join(OffersPath, id), nil)
}

func (r *offerRepository) List(ctx context.Context) ([]*domain.LoanOffer, error) {
	docs, err := r.store.List(ctx, OffersPath)
	if err != nil {
		return nil, err
	}
	offers, err := store.Decode[*domain.LoanOffer](docs)
	if err != nil {
		return nil, err
	}
	for i, o := range offers {
		o.ID = docs[i].ID()
	}
	return offers, nil
}

type loanRequestRepository struct {
	store store.DocumentStore
}

func NewLoanRequestRepository(s store.DocumentStore) LoanRequestRepository {
	return &loanRequestRepository{store: s}
}

func (r *loanRequestRepository) Create(ctx context.Context, req *domain.LoanRequest) error {
	key, err := store.NewKey()
	if err != nil {
		return err
	}
	req.ID = key
	return r.store.Set(ctx, store.Join(LoanRequestsPath, key), req)
}

func (r *loanRequestRepository) GetByID(ctx context.Context, id string) (*domain.LoanRequest, error) {
	var req domain.LoanRequest
	if err := r.store.Get(ctx, store.Join(LoanRequestsPath, id), &req); err != nil {
		return nil, err
	}
	req.ID = id
	return &req, nil
}

func (r *loanRequestRepository) Save(ctx context.Context, req *domain.LoanRequest) error {
	return r.store.Set(ctx, store.Join(LoanRequestsPath, req.ID), req)
}

func (r *loanRequestRepository) Update(ctx context.Context, id string, fields map[string]any) error {
	return r.store.Update(ctx, store.Join(LoanRequestsPath, id), fields)
}

func (r *loanRequestRepository) List(ctx context.Context) ([]*domain.LoanRequest, error) {
	docs, err := r.store.List(ctx, LoanRequestsPath)
	if err != nil {
		return nil, err
	}
	reqs, err := store.Decode[*domain.LoanRequest](docs)
	if err != nil {
		return nil, err
	}
	for i, q := range reqs {
		q.ID = docs[i].ID()
	}
	return reqs, nil
}

type loanRepository struct {
	store store.DocumentStore
}

func NewLoanRepository(s store.DocumentStore) LoanRepository {
	return &loanRepository{store: s}
}

func (r *loanRepository) Save(ctx context.Context, loan *domain.Loan) error {
	return r.store.Set(ctx, store.Join(LoansPath, loan.ID), loan)
}

func (r *loanRepository) GetByID(ctx context.Context, id string) (*domain.Loan, error) {
	var loan domain.Loan
	if err := r.store.Get(ctx, store.Join(LoansPath, id), &loan); err != nil {
		return nil, err
	}
	loan.ID = id
	return &loan, nil
}

func (r *loanRepository) List(ctx context.Context) ([]*domain.Loan, error) {
	docs, err := r.store.List(ctx, LoansPath)
	if err != nil {
		return nil, err
	}
	loans, err := store.Decode[*domain.Loan](docs)
	if err != nil {
		return nil, err
	}
	for i, l := range loans {
		l.ID = docs[i].ID()
	}
	return loans, nil
}

// Watch skips deletions and documents that fail to decode.
func (r *loanRepository) Watch(ctx context.Context, fn func(*domain.Loan)) (func(), error) {
	return r.store.Subscribe(ctx, LoansPath, func(c store.Change) {
		if c.Data == nil {
			return
		}
		var loan domain.Loan
		if err := json.Unmarshal(c.Data, &loan); err != nil {
			return
		}
		loan.ID = store.LastSegment(c.Path)
		fn(&loan)
	})
}
