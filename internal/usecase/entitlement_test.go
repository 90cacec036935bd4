package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"support-agent/internal/domain"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name    string
		free    int
		paid    int
		cost    int
		allowed bool
		kind    ConsumptionKind
	}{
		{name: "fresh account uses free", free: 5, paid: 0, cost: 3, allowed: true, kind: KindFree},
		{name: "free preferred over paid", free: 1, paid: 30, cost: 3, allowed: true, kind: KindFree},
		{name: "paid when free exhausted", free: 0, paid: 3, cost: 3, allowed: true, kind: KindPaid},
		{name: "paid above cost", free: 0, paid: 4, cost: 3, allowed: true, kind: KindPaid},
		{name: "denied below cost", free: 0, paid: 2, cost: 3, allowed: false, kind: KindNone},
		{name: "denied empty", free: 0, paid: 0, cost: 3, allowed: false, kind: KindNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			acct := domain.Account{UserID: 1, FreeAnswers: tc.free, PaidCredits: tc.paid}
			ent := Evaluate(acct, tc.cost)
			require.Equal(t, tc.allowed, ent.Allowed)
			require.Equal(t, tc.kind, ent.Kind)
			require.Equal(t, tc.free, ent.FreeRemaining)
			require.Equal(t, tc.paid, ent.PaidCredits)
		})
	}
}

func TestEvaluate_DoesNotMutate(t *testing.T) {
	acct := domain.Account{UserID: 1, FreeAnswers: 2, PaidCredits: 6}
	_ = Evaluate(acct, 3)
	require.Equal(t, 2, acct.FreeAnswers)
	require.Equal(t, 6, acct.PaidCredits)
}
