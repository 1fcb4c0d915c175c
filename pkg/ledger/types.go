package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/remitops/minorista-ledger/pkg/money"
)

// AccountID identifies a reseller ledger account.
type AccountID struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates a metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// Account is the materialized projection of a reseller's transaction log.
// The log is the source of truth; the account is a cache kept in step with it.
type Account struct {
	AccountID         AccountID
	CreditLimit       money.Money
	AvailableCredit   money.Money
	BalanceInFavor    money.Money
	AccumulatedProfit money.Money
	CreatedUnixUTC    int64
	UpdatedUnixUTC    int64
}

// Debt is the derived shortfall between the credit ceiling and current liquidity.
func (account Account) Debt() money.Money {
	shortfall := account.CreditLimit.Sub(account.AvailableCredit.Add(account.BalanceInFavor))
	return shortfall.Max(money.Zero())
}

// TotalSpendable is the liquidity available to new charges.
func (account Account) TotalSpendable() money.Money {
	return account.AvailableCredit.Add(account.BalanceInFavor)
}

// EntryType enumerates transaction log entry kinds.
type EntryType string

const (
	EntryDiscount   EntryType = "discount"
	EntryProfit     EntryType = "profit"
	EntryRecharge   EntryType = "recharge"
	EntryAdjustment EntryType = "adjustment"
)

// String returns the wire form of the entry type.
func (entryType EntryType) String() string {
	return string(entryType)
}

// ParseEntryType validates a stored entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch EntryType(raw) {
	case EntryDiscount, EntryProfit, EntryRecharge, EntryAdjustment:
		return EntryType(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
}

// Snapshot captures account balances around the moment an entry was applied.
// Replay verifies each replayed state against these fields.
type Snapshot struct {
	PreviousAvailableCredit money.Money
	AvailableCredit         money.Money
	PreviousBalanceInFavor  money.Money
	RemainingBalance        money.Money
	BalanceInFavorUsed      money.Money
	CreditUsed              money.Money
	ProfitEarned            money.Money
	CreditLimit             money.Money
	AccumulatedDebt         money.Money
	AccumulatedProfit       money.Money
}

// AdjustmentKind discriminates adjustment entry variants.
type AdjustmentKind string

const (
	AdjustmentManual      AdjustmentKind = "manual"
	AdjustmentCreditLimit AdjustmentKind = "credit_limit"
)

// EntryDetail is the variant payload carried by each entry type.
// Exactly one concrete detail exists per EntryType.
type EntryDetail interface {
	EntryType() EntryType
}

// DischargeDetail annotates a discount entry.
type DischargeDetail struct {
	Reference  string
	ProfitRate money.Rate
}

func (DischargeDetail) EntryType() EntryType { return EntryDiscount }

// ProfitDetail annotates an itemized pure-surplus profit credit.
type ProfitDetail struct {
	DischargeEntryID string
}

func (ProfitDetail) EntryType() EntryType { return EntryProfit }

// RechargeDetail annotates a debt payment.
type RechargeDetail struct {
	DebtPaid     money.Money
	SurplusAdded money.Money
}

func (RechargeDetail) EntryType() EntryType { return EntryRecharge }

// AdjustmentDetail annotates a manual correction or a credit-limit assignment.
type AdjustmentDetail struct {
	Kind                AdjustmentKind
	Reason              string
	PreviousCreditLimit money.Money
	NewCreditLimit      money.Money
}

func (AdjustmentDetail) EntryType() EntryType { return EntryAdjustment }

// Entry is a single immutable line in the transaction log.
// Entries are created exactly once and never updated or deleted.
type Entry struct {
	EntryID        string
	AccountID      AccountID
	Sequence       int64
	Type           EntryType
	Amount         money.Money
	Snapshot       Snapshot
	Detail         EntryDetail
	MetadataJSON   MetadataJSON
	CreatedUnixUTC int64
}

// Store is the persistence contract used by Service and Auditor.
//
// WithTx wraps "load account for update, append entries, save account" so
// concurrent commands against one account serialize on the account row.
// GetAccountForUpdate must block or conflict with concurrent writers of the
// same account; accounts of different resellers stay independent.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetAccount(ctx context.Context, accountID AccountID) (Account, error)
	GetAccountForUpdate(ctx context.Context, accountID AccountID) (Account, error)
	CreateAccount(ctx context.Context, account Account) error
	SaveAccount(ctx context.Context, account Account) error
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	ListEntries(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error)
	ListEntriesForReplay(ctx context.Context, accountID AccountID, fromUnixUTC, toUnixUTC int64) ([]Entry, error)
}
