package ledger

import (
	"context"
	"fmt"

	"github.com/remitops/minorista-ledger/pkg/money"
)

// AuditStatus reports the outcome of a replay audit.
type AuditStatus string

const (
	AuditStatusOK           AuditStatus = "ok"
	AuditStatusInconsistent AuditStatus = "inconsistent"
)

// AuditOptions bounds a replay. Zero values mean the full log.
type AuditOptions struct {
	FromUnixUTC int64
	ToUnixUTC   int64
}

// AuditReport compares the replayed state against the stored projection.
// Divergence is surfaced for manual review; nothing is ever written back.
type AuditReport struct {
	AccountID       AccountID
	Status          AuditStatus
	EntriesReplayed int

	CalculatedAvailableCredit   money.Money
	CalculatedBalanceInFavor    money.Money
	CalculatedDebt              money.Money
	CalculatedAccumulatedProfit money.Money
	StoredAvailableCredit       money.Money
	StoredBalanceInFavor        money.Money
	StoredDebt                  money.Money
	StoredAccumulatedProfit     money.Money

	AvailableCreditDifference   money.Money
	BalanceInFavorDifference    money.Money
	AccumulatedProfitDifference money.Money

	Trace []string
}

// Auditor replays an account's transaction log through the live allocation
// engine and reports any divergence from the stored projection. It is a
// detection tool, not a repair tool: the cause of a divergence has to be
// understood before state is touched.
type Auditor struct {
	store Store
}

// NewAuditor wires an Auditor over a read-only view of the store.
func NewAuditor(store Store) (*Auditor, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &Auditor{store: store}, nil
}

type replayState struct {
	creditLimit       money.Money
	availableCredit   money.Money
	balanceInFavor    money.Money
	accumulatedProfit money.Money
}

func (state replayState) debt() money.Money {
	shortfall := state.creditLimit.Sub(state.availableCredit.Add(state.balanceInFavor))
	return shortfall.Max(money.Zero())
}

// AuditAccount replays the account's entries in log order and compares the
// final calculated balances against the stored account.
func (auditor *Auditor) AuditAccount(ctx context.Context, accountID AccountID, options AuditOptions) (AuditReport, error) {
	account, err := auditor.store.GetAccount(ctx, accountID)
	if err != nil {
		return AuditReport{}, err
	}
	entries, err := auditor.store.ListEntriesForReplay(ctx, accountID, options.FromUnixUTC, options.ToUnixUTC)
	if err != nil {
		return AuditReport{}, err
	}

	state := replayState{
		creditLimit:       money.Zero(),
		availableCredit:   money.Zero(),
		balanceInFavor:    money.Zero(),
		accumulatedProfit: money.Zero(),
	}
	if options.FromUnixUTC > 0 && len(entries) > 0 {
		// Partial audit: seed from the first entry's pre-application snapshot.
		first := entries[0]
		state.availableCredit = first.Snapshot.PreviousAvailableCredit
		state.balanceInFavor = first.Snapshot.PreviousBalanceInFavor
		state.creditLimit = first.Snapshot.CreditLimit
		state.accumulatedProfit = first.Snapshot.AccumulatedProfit.Sub(first.Snapshot.ProfitEarned)
		if detail, ok := first.Detail.(AdjustmentDetail); ok && detail.Kind == AdjustmentCreditLimit {
			state.creditLimit = detail.PreviousCreditLimit
		}
	}

	trace := make([]string, 0, len(entries))
	for _, entry := range entries {
		nextState, err := replayEntry(state, entry)
		if err != nil {
			return AuditReport{}, err
		}
		line := fmt.Sprintf("#%04d %-10s amount=%s credit=%s->%s surplus=%s->%s debt=%s",
			entry.Sequence, entry.Type, entry.Amount,
			state.availableCredit, nextState.availableCredit,
			state.balanceInFavor, nextState.balanceInFavor,
			nextState.debt())
		if !nextState.availableCredit.Equal(entry.Snapshot.AvailableCredit) || !nextState.balanceInFavor.Equal(entry.Snapshot.RemainingBalance) {
			line += fmt.Sprintf(" MISMATCH recorded credit=%s surplus=%s", entry.Snapshot.AvailableCredit, entry.Snapshot.RemainingBalance)
		}
		trace = append(trace, line)
		state = nextState
	}

	report := AuditReport{
		AccountID:                   accountID,
		EntriesReplayed:             len(entries),
		CalculatedAvailableCredit:   state.availableCredit,
		CalculatedBalanceInFavor:    state.balanceInFavor,
		CalculatedDebt:              state.debt(),
		CalculatedAccumulatedProfit: state.accumulatedProfit,
		StoredAvailableCredit:       account.AvailableCredit,
		StoredBalanceInFavor:        account.BalanceInFavor,
		StoredDebt:                  account.Debt(),
		StoredAccumulatedProfit:     account.AccumulatedProfit,
		AvailableCreditDifference:   account.AvailableCredit.Sub(state.availableCredit),
		BalanceInFavorDifference:    account.BalanceInFavor.Sub(state.balanceInFavor),
		AccumulatedProfitDifference: account.AccumulatedProfit.Sub(state.accumulatedProfit),
		Trace:                       trace,
	}
	if report.AvailableCreditDifference.IsZero() && report.BalanceInFavorDifference.IsZero() && report.AccumulatedProfitDifference.IsZero() {
		report.Status = AuditStatusOK
	} else {
		report.Status = AuditStatusInconsistent
	}
	return report, nil
}

// replayEntry re-applies one entry through the allocation engine.
func replayEntry(state replayState, entry Entry) (replayState, error) {
	switch entry.Type {
	case EntryDiscount:
		allocation, err := AllocateCharge(state.balanceInFavor, state.availableCredit, entry.Amount)
		if err != nil {
			return state, err
		}
		distribution, err := DistributeProfit(entry.Snapshot.ProfitEarned, allocation.ExternalDebt, allocation.FromCredit, state.balanceInFavor.Sub(allocation.FromSurplus))
		if err != nil {
			return state, err
		}
		state.availableCredit = state.availableCredit.Sub(allocation.FromCredit).Add(distribution.CreditRestored)
		state.balanceInFavor = distribution.NewSurplus
		state.accumulatedProfit = state.accumulatedProfit.Add(entry.Snapshot.ProfitEarned)
		return state, nil
	case EntryProfit:
		state.balanceInFavor = state.balanceInFavor.Add(entry.Amount)
		state.accumulatedProfit = state.accumulatedProfit.Add(entry.Amount)
		return state, nil
	case EntryRecharge:
		debtPaid := entry.Amount.Min(state.debt())
		state.availableCredit = state.availableCredit.Add(debtPaid)
		state.balanceInFavor = state.balanceInFavor.Add(entry.Amount.Sub(debtPaid))
		return state, nil
	case EntryAdjustment:
		if detail, ok := entry.Detail.(AdjustmentDetail); ok && detail.Kind == AdjustmentCreditLimit {
			state.availableCredit = state.availableCredit.Add(detail.NewCreditLimit.Sub(detail.PreviousCreditLimit))
			state.creditLimit = detail.NewCreditLimit
			return state, nil
		}
		if entry.Amount.IsNegative() {
			allocation, err := AllocateCharge(state.balanceInFavor, state.availableCredit, entry.Amount.Neg())
			if err != nil {
				return state, err
			}
			state.balanceInFavor = state.balanceInFavor.Sub(allocation.FromSurplus)
			state.availableCredit = state.availableCredit.Sub(allocation.FromCredit)
			return state, nil
		}
		state.balanceInFavor = state.balanceInFavor.Add(entry.Amount)
		return state, nil
	}
	return state, fmt.Errorf("%w: %q", ErrInvalidEntryType, entry.Type)
}
