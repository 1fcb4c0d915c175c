package ledger

import (
	"fmt"

	"github.com/remitops/minorista-ledger/pkg/money"
)

// The allocation engine is the single implementation of the waterfall
// arithmetic for reseller accounts. It is pure and deterministic: no I/O, no
// clock, no randomness. Service is the only mutating caller; Auditor replays
// history through the same functions.

// ChargeAllocation is the three-way split of a charge.
// FromSurplus + FromCredit + ExternalDebt always equals the charged amount.
type ChargeAllocation struct {
	FromSurplus  money.Money
	FromCredit   money.Money
	ExternalDebt money.Money
}

// ProfitDistribution is the three-way split of an earned profit.
// DebtPaid + CreditRestored + SurplusAdded always equals the profit.
type ProfitDistribution struct {
	DebtPaid            money.Money
	CreditRestored      money.Money
	SurplusAdded        money.Money
	NewSurplus          money.Money
	CreditUsedRemaining money.Money
}

// SufficiencyResult is the outcome of the single affordability check.
type SufficiencyResult struct {
	Accepted     bool
	UnpaidDebt   money.Money
	TotalAfter   money.Money
	Profit       money.Money
	Allocation   ChargeAllocation
	Distribution ProfitDistribution
}

// AllocateCharge consumes a charge from surplus first, then available credit.
// Whatever neither bucket covers becomes external debt.
func AllocateCharge(balanceInFavor, availableCredit, amount money.Money) (ChargeAllocation, error) {
	if err := requireNonNegative("charge amount", amount); err != nil {
		return ChargeAllocation{}, err
	}
	if err := requireNonNegative("balance in favor", balanceInFavor); err != nil {
		return ChargeAllocation{}, err
	}
	if err := requireNonNegative("available credit", availableCredit); err != nil {
		return ChargeAllocation{}, err
	}
	fromSurplus := amount.Min(balanceInFavor)
	remaining := amount.Sub(fromSurplus)
	fromCredit := remaining.Min(availableCredit)
	return ChargeAllocation{
		FromSurplus:  fromSurplus,
		FromCredit:   fromCredit,
		ExternalDebt: remaining.Sub(fromCredit),
	}, nil
}

// DistributeProfit applies an earned profit in priority order: pay down
// external debt, restore used credit, then add the remainder to surplus.
func DistributeProfit(profit, externalDebt, creditUsed, currentSurplus money.Money) (ProfitDistribution, error) {
	if err := requireNonNegative("profit", profit); err != nil {
		return ProfitDistribution{}, err
	}
	if err := requireNonNegative("external debt", externalDebt); err != nil {
		return ProfitDistribution{}, err
	}
	if err := requireNonNegative("credit used", creditUsed); err != nil {
		return ProfitDistribution{}, err
	}
	if err := requireNonNegative("current surplus", currentSurplus); err != nil {
		return ProfitDistribution{}, err
	}
	debtPaid := profit.Min(externalDebt)
	remaining := profit.Sub(debtPaid)
	creditRestored := remaining.Min(creditUsed)
	surplusAdded := remaining.Sub(creditRestored)
	return ProfitDistribution{
		DebtPaid:            debtPaid,
		CreditRestored:      creditRestored,
		SurplusAdded:        surplusAdded,
		NewSurplus:          currentSurplus.Add(surplusAdded),
		CreditUsedRemaining: creditUsed.Sub(creditRestored),
	}, nil
}

// EvaluateSufficiency dry-runs a charge plus its profit distribution and
// decides whether the account can afford the charge. This is the only
// affordability check in the system; callers never re-derive it.
func EvaluateSufficiency(balanceInFavor, availableCredit, amount, profit money.Money) (SufficiencyResult, error) {
	allocation, err := AllocateCharge(balanceInFavor, availableCredit, amount)
	if err != nil {
		return SufficiencyResult{}, err
	}
	distribution, err := DistributeProfit(profit, allocation.ExternalDebt, allocation.FromCredit, balanceInFavor.Sub(allocation.FromSurplus))
	if err != nil {
		return SufficiencyResult{}, err
	}
	unpaidDebt := allocation.ExternalDebt.Sub(distribution.DebtPaid).Max(money.Zero())
	totalAfter := distribution.NewSurplus.Add(availableCredit.Sub(allocation.FromCredit).Add(distribution.CreditRestored))
	return SufficiencyResult{
		Accepted:     !unpaidDebt.IsPositive() && !totalAfter.IsNegative(),
		UnpaidDebt:   unpaidDebt,
		TotalAfter:   totalAfter,
		Profit:       profit,
		Allocation:   allocation,
		Distribution: distribution,
	}, nil
}

func requireNonNegative(subject string, amount money.Money) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s %s is negative", ErrInvalidAmount, subject, amount)
	}
	return nil
}
