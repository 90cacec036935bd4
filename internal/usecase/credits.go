package usecase

import (
	"context"
	"errors"

	"support-agent/internal/domain"
)

// CreditService handles balances, the package catalog, and admin-confirmed
// top-ups. Real payment settlement happens outside this system; by the time
// Grant is called the purchase is already confirmed.
type CreditService struct {
	ledger  Ledger
	locks   *UserLocks
	catalog []domain.Package
}

type BalanceOutput struct {
	FreeRemaining int
	PaidCredits   int
}

func NewCreditService(ledger Ledger, locks *UserLocks, catalog []domain.Package) (*CreditService, error) {
	if ledger == nil {
		return nil, errors.New("usecase: ledger must not be nil")
	}
	if locks == nil {
		return nil, errors.New("usecase: user locks must not be nil")
	}
	if len(catalog) == 0 {
		catalog = domain.DefaultCatalog()
	}
	return &CreditService{ledger: ledger, locks: locks, catalog: catalog}, nil
}

// Balance returns the user's current balances, creating the account on first
// sight.
func (s *CreditService) Balance(ctx context.Context, userID int64) (BalanceOutput, error) {
	acct, err := s.ledger.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return BalanceOutput{}, newError(ErrorInternal, "ledger_account_error", err)
	}
	return BalanceOutput{FreeRemaining: acct.FreeAnswers, PaidCredits: acct.PaidCredits}, nil
}

// Grant adds amount paid credits to the user's balance. Non-positive amounts
// are rejected without touching the ledger.
func (s *CreditService) Grant(ctx context.Context, userID int64, amount int) (BalanceOutput, error) {
	if amount <= 0 {
		return BalanceOutput{}, newError(ErrorInvalidInput, "non_positive_amount", nil)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	acct, err := s.ledger.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return BalanceOutput{}, newError(ErrorInternal, "ledger_account_error", err)
	}
	newPaid := acct.PaidCredits + amount
	if err := s.ledger.SetPaidCredits(ctx, userID, newPaid); err != nil {
		return BalanceOutput{}, newError(ErrorInternal, "ledger_grant_error", err)
	}
	return BalanceOutput{FreeRemaining: acct.FreeAnswers, PaidCredits: newPaid}, nil
}

// Packages returns the purchasable credit bundles.
func (s *CreditService) Packages() []domain.Package {
	out := make([]domain.Package, len(s.catalog))
	copy(out, s.catalog)
	return out
}
