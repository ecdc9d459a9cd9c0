package repository

import (
	"context"

	"github.com/segyhp/vault-engine/internal/domain"
)

// Store paths for each collection.
const (
	OffersPath       = "offers"
	LoanRequestsPath = "loanRequests"
	LoansPath        = "loans"
	SchedulesPath    = "payrollSchedules"
	NomineesPath     = "nominees"
)

// Not-found conditions surface as store.ErrNotFound.

// OfferRepository defines the interface for loan offer data operations
type OfferRepository interface {
	// Create stores a new offer under a generated id and sets offer.ID
	Create(ctx context.Context, offer *domain.LoanOffer) error

	// GetByID retrieves an offer by id
	GetByID(ctx context.Context, id string) (*domain.LoanOffer, error)

	// Save overwrites an existing offer
	Save(ctx context.Context, offer *domain.LoanOffer) error

	// Delete removes an offer
	Delete(ctx context.Context, id string) error

	// List returns every offer, oldest first
	List(ctx context.Context) ([]*domain.LoanOffer, error)
}

// LoanRequestRepository defines the interface for loan request data operations
type LoanRequestRepository interface {
	Create(ctx context.Context, req *domain.LoanRequest) error
	GetByID(ctx context.Context, id string) (*domain.LoanRequest, error)
	Save(ctx context.Context, req *domain.LoanRequest) error

	// Update merges fields into the stored request
	Update(ctx context.Context, id string, fields map[string]any) error

	List(ctx context.Context) ([]*domain.LoanRequest, error)
}

// LoanRepository defines the interface for loan data operations
type LoanRepository interface {
	// Save writes the loan at its own id, creating it if needed
	Save(ctx context.Context, loan *domain.Loan) error

	GetByID(ctx context.Context, id string) (*domain.Loan, error)
	List(ctx context.Context) ([]*domain.Loan, error)

	// Watch calls fn whenever a loan changes until the returned func is called
	Watch(ctx context.Context, fn func(*domain.Loan)) (func(), error)
}

// ScheduleRepository defines the interface for payroll schedule data operations
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *domain.PayrollSchedule) error
	GetByID(ctx context.Context, owner, id string) (*domain.PayrollSchedule, error)
	Save(ctx context.Context, schedule *domain.PayrollSchedule) error

	// Update merges fields into the stored schedule
	Update(ctx context.Context, owner, id string, fields map[string]any) error

	Delete(ctx context.Context, owner, id string) error
	ListByOwner(ctx context.Context, owner string) ([]*domain.PayrollSchedule, error)
	ListAll(ctx context.Context) ([]*domain.PayrollSchedule, error)
}

// NomineeRepository defines the interface for nominee configuration data operations
type NomineeRepository interface {
	Get(ctx context.Context, owner string) (*domain.NomineeConfig, error)
	Save(ctx context.Context, cfg *domain.NomineeConfig) error

	// Update merges fields into the stored configuration
	Update(ctx context.Context, owner string, fields map[string]any) error

	Delete(ctx context.Context, owner string) error
}
