package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/remitops/minorista-ledger/pkg/ledger"
	"github.com/remitops/minorista-ledger/pkg/money"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintAccountSequence  = "uniq_entries_account_sequence"
	defaultMetadataJSON        = "{}"
	pgUniqueViolationCode      = "23505"
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	sqliteConstraintCode       = 19
	sqliteBusyCode             = 5
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectEntry          = "entry"
	errorSubjectTransaction    = "transaction"
	errorCodeCreate            = "create"
	errorCodeConflict          = "conflict"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeRun               = "run"
	errorCodeSave              = "save"
	errorCodeSequence          = "sequence"
)

// Store implements ledger.Store using GORM. Per-account serialization comes
// from the row lock taken by GetAccountForUpdate inside WithTx.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Used for sqlite deployments and tests.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &LedgerEntry{})
}

// WithTx executes fn within a database transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	err := store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
	if isConcurrencyConflict(err) {
		return wrapStoreError(errorSubjectTransaction, errorCodeConflict, ledger.ErrConcurrencyConflict)
	}
	return err
}

func (store *Store) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.getAccount(ctx, accountID, false)
}

func (store *Store) GetAccountForUpdate(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.getAccount(ctx, accountID, true)
}

func (store *Store) getAccount(ctx context.Context, accountID ledger.AccountID, forUpdate bool) (ledger.Account, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Account
	err := query.Where("account_id = ?", accountID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapPersistence(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(model)
}

func (store *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	model := Account{
		AccountID:         account.AccountID.String(),
		CreditLimit:       account.CreditLimit.Decimal(),
		AvailableCredit:   account.AvailableCredit.Decimal(),
		BalanceInFavor:    account.BalanceInFavor.Decimal(),
		AccumulatedProfit: account.AccumulatedProfit.Decimal(),
		CreatedAt:         time.Unix(account.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:         time.Unix(account.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return wrapPersistence(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) SaveAccount(ctx context.Context, account ledger.Account) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ?", account.AccountID.String()).
		Updates(map[string]interface{}{
			"credit_limit":       account.CreditLimit.Decimal(),
			"available_credit":   account.AvailableCredit.Decimal(),
			"balance_in_favor":   account.BalanceInFavor.Decimal(),
			"accumulated_profit": account.AccumulatedProfit.Decimal(),
			"updated_at":         time.Unix(account.UpdatedUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapPersistence(errorSubjectAccount, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, ledger.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	// Safe under the account row lock held by the surrounding transaction.
	var nextSequence int64
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Select("coalesce(max(sequence),0) + 1").
		Where("account_id = ?", entry.AccountID.String()).
		Scan(&nextSequence).Error
	if err != nil {
		return ledger.Entry{}, wrapPersistence(errorSubjectEntry, errorCodeSequence, err)
	}
	detail, err := encodeDetail(entry.Detail)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	model := LedgerEntry{
		AccountID:               entry.AccountID.String(),
		Sequence:                nextSequence,
		Type:                    entry.Type.String(),
		Amount:                  entry.Amount.Decimal(),
		PreviousAvailableCredit: entry.Snapshot.PreviousAvailableCredit.Decimal(),
		AvailableCredit:         entry.Snapshot.AvailableCredit.Decimal(),
		PreviousBalanceInFavor:  entry.Snapshot.PreviousBalanceInFavor.Decimal(),
		RemainingBalance:        entry.Snapshot.RemainingBalance.Decimal(),
		BalanceInFavorUsed:      entry.Snapshot.BalanceInFavorUsed.Decimal(),
		CreditUsed:              entry.Snapshot.CreditUsed.Decimal(),
		ProfitEarned:            entry.Snapshot.ProfitEarned.Decimal(),
		CreditLimit:             entry.Snapshot.CreditLimit.Decimal(),
		AccumulatedDebt:         entry.Snapshot.AccumulatedDebt.Decimal(),
		AccumulatedProfit:       entry.Snapshot.AccumulatedProfit.Decimal(),
		Detail:                  detail,
		Metadata:                datatypesJSON(entry.MetadataJSON.String()),
		CreatedAt:               time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrConcurrencyConflict)
	}
	if err != nil {
		return ledger.Entry{}, wrapPersistence(errorSubjectEntry, errorCodeInsert, err)
	}
	entry.EntryID = model.EntryID
	entry.Sequence = model.Sequence
	return entry, nil
}

func (store *Store) ListEntries(ctx context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}
	query := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID.String(), before).
		Order("created_at DESC").
		Order("sequence DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []LedgerEntry
	err := query.Find(&rows).Error
	if err != nil {
		return nil, wrapPersistence(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

func (store *Store) ListEntriesForReplay(ctx context.Context, accountID ledger.AccountID, fromUnixUTC, toUnixUTC int64) ([]ledger.Entry, error) {
	query := store.db.WithContext(ctx).Where("account_id = ?", accountID.String())
	if fromUnixUTC > 0 {
		query = query.Where("created_at >= ?", time.Unix(fromUnixUTC, 0).UTC())
	}
	if toUnixUTC > 0 {
		query = query.Where("created_at <= ?", time.Unix(toUnixUTC, 0).UTC())
	}
	var rows []LedgerEntry
	err := query.Order("created_at ASC").Order("sequence ASC").Find(&rows).Error
	if err != nil {
		return nil, wrapPersistence(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

func mapLedgerEntries(rows []LedgerEntry) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	accountID, err := ledger.NewAccountID(row.AccountID)
	if err != nil {
		return ledger.Entry{}, err
	}
	entryType, err := ledger.ParseEntryType(row.Type)
	if err != nil {
		return ledger.Entry{}, err
	}
	detail, err := decodeDetail(entryType, row.Detail)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		EntryID:   row.EntryID,
		AccountID: accountID,
		Sequence:  row.Sequence,
		Type:      entryType,
		Amount:    money.FromDecimal(row.Amount),
		Snapshot: ledger.Snapshot{
			PreviousAvailableCredit: money.FromDecimal(row.PreviousAvailableCredit),
			AvailableCredit:         money.FromDecimal(row.AvailableCredit),
			PreviousBalanceInFavor:  money.FromDecimal(row.PreviousBalanceInFavor),
			RemainingBalance:        money.FromDecimal(row.RemainingBalance),
			BalanceInFavorUsed:      money.FromDecimal(row.BalanceInFavorUsed),
			CreditUsed:              money.FromDecimal(row.CreditUsed),
			ProfitEarned:            money.FromDecimal(row.ProfitEarned),
			CreditLimit:             money.FromDecimal(row.CreditLimit),
			AccumulatedDebt:         money.FromDecimal(row.AccumulatedDebt),
			AccumulatedProfit:       money.FromDecimal(row.AccumulatedProfit),
		},
		Detail:         detail,
		MetadataJSON:   metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapAccount(model Account) (ledger.Account, error) {
	accountID, err := ledger.NewAccountID(model.AccountID)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.Account{
		AccountID:         accountID,
		CreditLimit:       money.FromDecimal(model.CreditLimit),
		AvailableCredit:   money.FromDecimal(model.AvailableCredit),
		BalanceInFavor:    money.FromDecimal(model.BalanceInFavor),
		AccumulatedProfit: money.FromDecimal(model.AccumulatedProfit),
		CreatedUnixUTC:    model.CreatedAt.Unix(),
		UpdatedUnixUTC:    model.UpdatedAt.Unix(),
	}, nil
}

// detailPayload is the JSON shape of the per-type entry variant.
type detailPayload struct {
	Reference           string `json:"reference,omitempty"`
	ProfitRate          string `json:"profit_rate,omitempty"`
	DischargeEntryID    string `json:"discharge_entry_id,omitempty"`
	DebtPaid            string `json:"debt_paid,omitempty"`
	SurplusAdded        string `json:"surplus_added,omitempty"`
	Kind                string `json:"kind,omitempty"`
	Reason              string `json:"reason,omitempty"`
	PreviousCreditLimit string `json:"previous_credit_limit,omitempty"`
	NewCreditLimit      string `json:"new_credit_limit,omitempty"`
}

func encodeDetail(detail ledger.EntryDetail) (datatypes.JSON, error) {
	var payload detailPayload
	switch value := detail.(type) {
	case ledger.DischargeDetail:
		payload = detailPayload{Reference: value.Reference, ProfitRate: value.ProfitRate.String()}
	case ledger.ProfitDetail:
		payload = detailPayload{DischargeEntryID: value.DischargeEntryID}
	case ledger.RechargeDetail:
		payload = detailPayload{DebtPaid: value.DebtPaid.String(), SurplusAdded: value.SurplusAdded.String()}
	case ledger.AdjustmentDetail:
		payload = detailPayload{
			Kind:                string(value.Kind),
			Reason:              value.Reason,
			PreviousCreditLimit: value.PreviousCreditLimit.String(),
			NewCreditLimit:      value.NewCreditLimit.String(),
		}
	default:
		return nil, ledger.ErrInvalidEntryType
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func decodeDetail(entryType ledger.EntryType, raw datatypes.JSON) (ledger.EntryDetail, error) {
	var payload detailPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
	}
	switch entryType {
	case ledger.EntryDiscount:
		rate, err := money.NewRateFromString(orZeroRate(payload.ProfitRate))
		if err != nil {
			return nil, err
		}
		return ledger.DischargeDetail{Reference: payload.Reference, ProfitRate: rate}, nil
	case ledger.EntryProfit:
		return ledger.ProfitDetail{DischargeEntryID: payload.DischargeEntryID}, nil
	case ledger.EntryRecharge:
		debtPaid, err := money.FromString(orZeroAmount(payload.DebtPaid))
		if err != nil {
			return nil, err
		}
		surplusAdded, err := money.FromString(orZeroAmount(payload.SurplusAdded))
		if err != nil {
			return nil, err
		}
		return ledger.RechargeDetail{DebtPaid: debtPaid, SurplusAdded: surplusAdded}, nil
	case ledger.EntryAdjustment:
		previousLimit, err := money.FromString(orZeroAmount(payload.PreviousCreditLimit))
		if err != nil {
			return nil, err
		}
		newLimit, err := money.FromString(orZeroAmount(payload.NewCreditLimit))
		if err != nil {
			return nil, err
		}
		return ledger.AdjustmentDetail{
			Kind:                ledger.AdjustmentKind(payload.Kind),
			Reason:              payload.Reason,
			PreviousCreditLimit: previousLimit,
			NewCreditLimit:      newLimit,
		}, nil
	}
	return nil, ledger.ErrInvalidEntryType
}

func orZeroAmount(raw string) string {
	if raw == "" {
		return "0"
	}
	return raw
}

func orZeroRate(raw string) string {
	if raw == "" {
		return "0"
	}
	return raw
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func wrapPersistence(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, errors.Join(ledger.ErrPersistenceFailure, err))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isConcurrencyConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteBusyCode
	}
	return false
}

var _ ledger.Store = (*Store)(nil)
