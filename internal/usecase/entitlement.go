package usecase

import "support-agent/internal/domain"

// ConsumptionKind names how an allowed answer will be paid for.
type ConsumptionKind string

const (
	KindFree ConsumptionKind = "free"
	KindPaid ConsumptionKind = "paid"
	KindNone ConsumptionKind = ""
)

// Entitlement is the decision for one chargeable action.
type Entitlement struct {
	Allowed       bool
	Kind          ConsumptionKind
	FreeRemaining int
	PaidCredits   int
}

// Evaluate decides whether one generated answer may proceed and how it is
// paid for. Free-trial answers are always exhausted before paid credits are
// touched: free answers carry no monetary value and must not linger unused
// while paid credits are spent. Pure; performs no mutation.
func Evaluate(acct domain.Account, costPerAnswer int) Entitlement {
	ent := Entitlement{
		FreeRemaining: acct.FreeAnswers,
		PaidCredits:   acct.PaidCredits,
	}
	switch {
	case acct.FreeAnswers > 0:
		ent.Allowed = true
		ent.Kind = KindFree
	case acct.PaidCredits >= costPerAnswer:
		ent.Allowed = true
		ent.Kind = KindPaid
	default:
		ent.Allowed = false
		ent.Kind = KindNone
	}
	return ent
}
