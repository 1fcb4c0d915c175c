package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table, the materialized ledger projection.
type Account struct {
	AccountID         string          `gorm:"primaryKey"`
	CreditLimit       decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	AvailableCredit   decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	BalanceInFavor    decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	AccumulatedProfit decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	CreatedAt         time.Time       `gorm:"not null"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// LedgerEntry mirrors the ledger_entries table. Rows are append-only; the
// unique (account_id, sequence) index pins the deterministic replay order.
type LedgerEntry struct {
	EntryID   string          `gorm:"type:uuid;primaryKey"`
	AccountID string          `gorm:"not null;index:idx_entries_account_created,priority:1;index:uniq_entries_account_sequence,unique,priority:1"`
	Sequence  int64           `gorm:"not null;index:uniq_entries_account_sequence,unique,priority:2"`
	Type      string          `gorm:"not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(18,2);not null"`

	PreviousAvailableCredit decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	AvailableCredit         decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	PreviousBalanceInFavor  decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	RemainingBalance        decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	BalanceInFavorUsed      decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	CreditUsed              decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	ProfitEarned            decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	CreditLimit             decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	AccumulatedDebt         decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	AccumulatedProfit       decimal.Decimal `gorm:"type:numeric(18,2);not null"`

	Detail    datatypes.JSON `gorm:"type:jsonb;not null"`
	Metadata  datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time      `gorm:"not null;index:idx_entries_account_created,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}
