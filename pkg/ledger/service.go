package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/remitops/minorista-ledger/pkg/money"
)

// Service is the single entry point for balance-affecting commands. It owns
// the waterfall arithmetic end to end; callers (order creation, debt payment,
// credit assignment, display) never re-derive balances themselves.
type Service struct {
	store    Store
	nowFn    func() int64
	logger   OperationLogger
	notifier MutationNotifier
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// DischargeResult reports an accepted charge.
type DischargeResult struct {
	Account     Account
	Entry       Entry
	ProfitEntry *Entry
	Evaluation  SufficiencyResult
}

// PaymentResult reports a debt payment.
type PaymentResult struct {
	Account      Account
	Entry        Entry
	DebtPaid     money.Money
	SurplusAdded money.Money
}

// AdjustmentResult reports a manual correction.
type AdjustmentResult struct {
	Account Account
	Entry   Entry
}

// ApplyDischarge charges a transfer amount against the account, consuming
// surplus before credit, and distributes the earned profit (amount times
// profitRate) against debt, used credit, then surplus. Rejected charges leave
// no trace in the log.
//
// When the profit is fully attributable to surplus (no credit touched, no
// external debt), the discount entry records zero profit and a separate
// profit entry itemizes the surplus credit; otherwise the profit stays inside
// the discount entry. Both shapes advance the accumulated profit total by the
// same amount, so the two views reconcile.
func (service *Service) ApplyDischarge(ctx context.Context, accountID AccountID, amount money.Money, profitRate money.Rate, reference string, metadata MetadataJSON) (DischargeResult, error) {
	var result DischargeResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if amount.IsNegative() {
			return fmt.Errorf("%w: discharge amount %s is negative", ErrInvalidAmount, amount)
		}
		account, err := txStore.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		profit := amount.MulRate(profitRate)
		evaluation, err := EvaluateSufficiency(account.BalanceInFavor, account.AvailableCredit, amount, profit)
		if err != nil {
			return err
		}
		if !evaluation.Accepted {
			return InsufficientBalanceError{UnpaidDebt: evaluation.UnpaidDebt, TotalAfter: evaluation.TotalAfter}
		}
		allocation := evaluation.Allocation
		distribution := evaluation.Distribution
		pureProfit := profit.IsPositive() && allocation.FromCredit.IsZero() && allocation.ExternalDebt.IsZero()

		previousAvailable := account.AvailableCredit
		previousSurplus := account.BalanceInFavor
		discountProfit := profit
		surplusAfterDiscount := distribution.NewSurplus
		if pureProfit {
			// Profit is itemized as its own entry; the discount carries none.
			discountProfit = money.Zero()
			surplusAfterDiscount = previousSurplus.Sub(allocation.FromSurplus)
		}
		nowUnixUTC := service.nowFn()
		account.AvailableCredit = previousAvailable.Sub(allocation.FromCredit).Add(distribution.CreditRestored)
		account.BalanceInFavor = surplusAfterDiscount
		account.AccumulatedProfit = account.AccumulatedProfit.Add(discountProfit)
		account.UpdatedUnixUTC = nowUnixUTC

		discountEntry, err := txStore.InsertEntry(ctx, Entry{
			AccountID: accountID,
			Type:      EntryDiscount,
			Amount:    amount,
			Snapshot: Snapshot{
				PreviousAvailableCredit: previousAvailable,
				AvailableCredit:         account.AvailableCredit,
				PreviousBalanceInFavor:  previousSurplus,
				RemainingBalance:        account.BalanceInFavor,
				BalanceInFavorUsed:      allocation.FromSurplus,
				CreditUsed:              allocation.FromCredit,
				ProfitEarned:            discountProfit,
				CreditLimit:             account.CreditLimit,
				AccumulatedDebt:         account.Debt(),
				AccumulatedProfit:       account.AccumulatedProfit,
			},
			Detail:         DischargeDetail{Reference: reference, ProfitRate: profitRate},
			MetadataJSON:   metadata,
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		result = DischargeResult{Entry: discountEntry, Evaluation: evaluation}

		if pureProfit {
			profitPreviousSurplus := account.BalanceInFavor
			account.BalanceInFavor = profitPreviousSurplus.Add(profit)
			account.AccumulatedProfit = account.AccumulatedProfit.Add(profit)
			profitEntry, err := txStore.InsertEntry(ctx, Entry{
				AccountID: accountID,
				Type:      EntryProfit,
				Amount:    profit,
				Snapshot: Snapshot{
					PreviousAvailableCredit: account.AvailableCredit,
					AvailableCredit:         account.AvailableCredit,
					PreviousBalanceInFavor:  profitPreviousSurplus,
					RemainingBalance:        account.BalanceInFavor,
					BalanceInFavorUsed:      money.Zero(),
					CreditUsed:              money.Zero(),
					ProfitEarned:            profit,
					CreditLimit:             account.CreditLimit,
					AccumulatedDebt:         account.Debt(),
					AccumulatedProfit:       account.AccumulatedProfit,
				},
				Detail:         ProfitDetail{DischargeEntryID: discountEntry.EntryID},
				MetadataJSON:   metadata,
				CreatedUnixUTC: nowUnixUTC,
			})
			if err != nil {
				return err
			}
			result.ProfitEntry = &profitEntry
		}
		if err := txStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		result.Account = account
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDischarge,
		AccountID: accountID,
		Amount:    amount,
		Reference: reference,
		Error:     operationError,
	})
	if operationError != nil {
		return DischargeResult{}, operationError
	}
	entryIDs := []string{result.Entry.EntryID}
	if result.ProfitEntry != nil {
		entryIDs = append(entryIDs, result.ProfitEntry.EntryID)
	}
	service.notifyMutation(ctx, operationDischarge, accountID, entryIDs, amount)
	return result, nil
}

// PayDebt reduces the account's derived debt; any excess beyond current debt
// becomes new balance in favor.
func (service *Service) PayDebt(ctx context.Context, accountID AccountID, amount money.Money, metadata MetadataJSON) (PaymentResult, error) {
	var result PaymentResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if amount.IsNegative() {
			return fmt.Errorf("%w: payment amount %s is negative", ErrInvalidAmount, amount)
		}
		account, err := txStore.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		previousAvailable := account.AvailableCredit
		previousSurplus := account.BalanceInFavor
		debtPaid := amount.Min(account.Debt())
		surplusAdded := amount.Sub(debtPaid)
		nowUnixUTC := service.nowFn()
		account.AvailableCredit = previousAvailable.Add(debtPaid)
		account.BalanceInFavor = previousSurplus.Add(surplusAdded)
		account.UpdatedUnixUTC = nowUnixUTC

		entry, err := txStore.InsertEntry(ctx, Entry{
			AccountID: accountID,
			Type:      EntryRecharge,
			Amount:    amount,
			Snapshot: Snapshot{
				PreviousAvailableCredit: previousAvailable,
				AvailableCredit:         account.AvailableCredit,
				PreviousBalanceInFavor:  previousSurplus,
				RemainingBalance:        account.BalanceInFavor,
				BalanceInFavorUsed:      money.Zero(),
				CreditUsed:              money.Zero(),
				ProfitEarned:            money.Zero(),
				CreditLimit:             account.CreditLimit,
				AccumulatedDebt:         account.Debt(),
				AccumulatedProfit:       account.AccumulatedProfit,
			},
			Detail:         RechargeDetail{DebtPaid: debtPaid, SurplusAdded: surplusAdded},
			MetadataJSON:   metadata,
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		if err := txStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		result = PaymentResult{Account: account, Entry: entry, DebtPaid: debtPaid, SurplusAdded: surplusAdded}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationPayDebt,
		AccountID: accountID,
		Amount:    amount,
		Error:     operationError,
	})
	if operationError != nil {
		return PaymentResult{}, operationError
	}
	service.notifyMutation(ctx, operationPayDebt, accountID, []string{result.Entry.EntryID}, amount)
	return result, nil
}

// AssignCreditLimit sets the account's credit ceiling, opening the account on
// first assignment. The command moves no money: available credit shifts by the
// limit delta so debt and surplus stay untouched. Lowering the limit below
// currently used credit is rejected, never clamped.
func (service *Service) AssignCreditLimit(ctx context.Context, accountID AccountID, newLimit money.Money) (Account, error) {
	var result Account
	var entryID string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if newLimit.IsNegative() {
			return fmt.Errorf("%w: credit limit %s is negative", ErrInvalidCreditLimit, newLimit)
		}
		nowUnixUTC := service.nowFn()
		account, err := txStore.GetAccountForUpdate(ctx, accountID)
		switch {
		case err == nil:
		case isAccountNotFound(err):
			account = Account{
				AccountID:         accountID,
				CreditLimit:       money.Zero(),
				AvailableCredit:   money.Zero(),
				BalanceInFavor:    money.Zero(),
				AccumulatedProfit: money.Zero(),
				CreatedUnixUTC:    nowUnixUTC,
			}
			if err := txStore.CreateAccount(ctx, account); err != nil {
				return err
			}
		default:
			return err
		}
		previousLimit := account.CreditLimit
		newAvailable := account.AvailableCredit.Add(newLimit.Sub(previousLimit))
		if newAvailable.IsNegative() {
			return fmt.Errorf("%w: limit %s is below credit currently in use", ErrInvalidCreditLimit, newLimit)
		}
		previousAvailable := account.AvailableCredit
		account.CreditLimit = newLimit
		account.AvailableCredit = newAvailable
		account.UpdatedUnixUTC = nowUnixUTC

		entry, err := txStore.InsertEntry(ctx, Entry{
			AccountID: accountID,
			Type:      EntryAdjustment,
			Amount:    money.Zero(),
			Snapshot: Snapshot{
				PreviousAvailableCredit: previousAvailable,
				AvailableCredit:         account.AvailableCredit,
				PreviousBalanceInFavor:  account.BalanceInFavor,
				RemainingBalance:        account.BalanceInFavor,
				BalanceInFavorUsed:      money.Zero(),
				CreditUsed:              money.Zero(),
				ProfitEarned:            money.Zero(),
				CreditLimit:             newLimit,
				AccumulatedDebt:         account.Debt(),
				AccumulatedProfit:       account.AccumulatedProfit,
			},
			Detail: AdjustmentDetail{
				Kind:                AdjustmentCreditLimit,
				Reason:              reasonCreditLimitAssigned,
				PreviousCreditLimit: previousLimit,
				NewCreditLimit:      newLimit,
			},
			MetadataJSON:   MetadataJSON{},
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		if err := txStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		result = account
		entryID = entry.EntryID
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAssignLimit,
		AccountID: accountID,
		Amount:    newLimit,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	service.notifyMutation(ctx, operationAssignLimit, accountID, []string{entryID}, newLimit)
	return result, nil
}

// RecordAdjustment applies a signed manual correction. Positive amounts credit
// the balance in favor; negative amounts consume surplus then credit and are
// rejected if the account cannot cover them.
func (service *Service) RecordAdjustment(ctx context.Context, accountID AccountID, amount money.Money, reason string, metadata MetadataJSON) (AdjustmentResult, error) {
	var result AdjustmentResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if strings.TrimSpace(reason) == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidReason)
		}
		account, err := txStore.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		previousAvailable := account.AvailableCredit
		previousSurplus := account.BalanceInFavor
		fromSurplus := money.Zero()
		fromCredit := money.Zero()
		if amount.IsNegative() {
			evaluation, err := EvaluateSufficiency(previousSurplus, previousAvailable, amount.Neg(), money.Zero())
			if err != nil {
				return err
			}
			if !evaluation.Accepted {
				return InsufficientBalanceError{UnpaidDebt: evaluation.UnpaidDebt, TotalAfter: evaluation.TotalAfter}
			}
			fromSurplus = evaluation.Allocation.FromSurplus
			fromCredit = evaluation.Allocation.FromCredit
			account.BalanceInFavor = previousSurplus.Sub(fromSurplus)
			account.AvailableCredit = previousAvailable.Sub(fromCredit)
		} else {
			account.BalanceInFavor = previousSurplus.Add(amount)
		}
		nowUnixUTC := service.nowFn()
		account.UpdatedUnixUTC = nowUnixUTC

		entry, err := txStore.InsertEntry(ctx, Entry{
			AccountID: accountID,
			Type:      EntryAdjustment,
			Amount:    amount,
			Snapshot: Snapshot{
				PreviousAvailableCredit: previousAvailable,
				AvailableCredit:         account.AvailableCredit,
				PreviousBalanceInFavor:  previousSurplus,
				RemainingBalance:        account.BalanceInFavor,
				BalanceInFavorUsed:      fromSurplus,
				CreditUsed:              fromCredit,
				ProfitEarned:            money.Zero(),
				CreditLimit:             account.CreditLimit,
				AccumulatedDebt:         account.Debt(),
				AccumulatedProfit:       account.AccumulatedProfit,
			},
			Detail:         AdjustmentDetail{Kind: AdjustmentManual, Reason: strings.TrimSpace(reason)},
			MetadataJSON:   metadata,
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		if err := txStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		result = AdjustmentResult{Account: account, Entry: entry}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationAdjustment,
		AccountID: accountID,
		Amount:    amount,
		Reference: reason,
		Error:     operationError,
	})
	if operationError != nil {
		return AdjustmentResult{}, operationError
	}
	service.notifyMutation(ctx, operationAdjustment, accountID, []string{result.Entry.EntryID}, amount)
	return result, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func (service *Service) notifyMutation(ctx context.Context, operation string, accountID AccountID, entryIDs []string, amount money.Money) {
	if service.notifier == nil {
		return
	}
	service.notifier.NotifyMutation(ctx, MutationEvent{
		Operation:       operation,
		AccountID:       accountID.String(),
		EntryIDs:        entryIDs,
		Amount:          amount,
		OccurredUnixUTC: service.nowFn(),
	})
}
