package domain

import "time"

// Account is the per-user credit ledger record. Both balances are always
// non-negative; FreeAnswers is drained before PaidCredits is touched.
type Account struct {
	UserID      int64
	FreeAnswers int
	PaidCredits int
	CreatedAt   time.Time
}
