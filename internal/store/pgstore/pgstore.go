package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/remitops/minorista-ledger/pkg/ledger"
	"github.com/remitops/minorista-ledger/pkg/money"
)

const (
	pgUniqueViolationCode      = "23505"
	pgSerializationFailureCode = "40001"
	pgDeadlockDetectedCode     = "40P01"
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectEntry          = "entry"
	errorSubjectTransaction    = "transaction"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeConflict          = "conflict"
	errorCodeCreate            = "create"
	errorCodeDuplicate         = "duplicate"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeSave              = "save"

	sqlSelectAccount = `
		select account_id, credit_limit::text, available_credit::text, balance_in_favor::text,
			accumulated_profit::text,
			extract(epoch from created_at)::bigint, extract(epoch from updated_at)::bigint
		from accounts
		where account_id = $1
	`

	sqlSelectAccountForUpdate = sqlSelectAccount + ` for update`

	sqlInsertAccount = `
		insert into accounts(account_id, credit_limit, available_credit, balance_in_favor, accumulated_profit, created_at, updated_at)
		values($1, $2::numeric, $3::numeric, $4::numeric, $5::numeric, to_timestamp($6), to_timestamp($6))
	`

	sqlUpdateAccount = `
		update accounts
		set credit_limit = $2::numeric, available_credit = $3::numeric, balance_in_favor = $4::numeric,
			accumulated_profit = $5::numeric, updated_at = to_timestamp($6)
		where account_id = $1
	`

	sqlInsertEntry = `
		insert into ledger_entries(
			entry_id, account_id, sequence, type, amount,
			previous_available_credit, available_credit, previous_balance_in_favor, remaining_balance,
			balance_in_favor_used, credit_used, profit_earned, credit_limit, accumulated_debt, accumulated_profit,
			detail, metadata, created_at
		)
		values(
			gen_random_uuid(), $1,
			(select coalesce(max(sequence),0) + 1 from ledger_entries where account_id = $1),
			$2, $3::numeric,
			$4::numeric, $5::numeric, $6::numeric, $7::numeric,
			$8::numeric, $9::numeric, $10::numeric, $11::numeric, $12::numeric, $13::numeric,
			coalesce(nullif($14,''),'{}')::jsonb,
			coalesce(nullif($15,''),'{}')::jsonb,
			to_timestamp($16)
		)
		returning entry_id::text, sequence
	`

	sqlSelectEntryColumns = `
		select
			entry_id::text,
			account_id,
			sequence,
			type,
			amount::text,
			previous_available_credit::text,
			available_credit::text,
			previous_balance_in_favor::text,
			remaining_balance::text,
			balance_in_favor_used::text,
			credit_used::text,
			profit_earned::text,
			credit_limit::text,
			accumulated_debt::text,
			accumulated_profit::text,
			detail::text,
			metadata::text,
			extract(epoch from created_at)::bigint
		from ledger_entries
	`

	sqlListEntriesBefore = sqlSelectEntryColumns + `
		where account_id = $1
		and ($2 = 0 or created_at < to_timestamp($2))
		order by created_at desc, sequence desc
		limit nullif($3, 0)
	`

	sqlListEntriesReplay = sqlSelectEntryColumns + `
		where account_id = $1
		and ($2 = 0 or created_at >= to_timestamp($2))
		and ($3 = 0 or created_at <= to_timestamp($3))
		order by created_at asc, sequence asc
	`
)

// querier abstracts a pgx pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapPersistence(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		if isConcurrencyConflict(err) {
			return wrapStoreError(errorSubjectTransaction, errorCodeConflict, ledger.ErrConcurrencyConflict)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if isConcurrencyConflict(err) {
			return wrapStoreError(errorSubjectTransaction, errorCodeConflict, ledger.ErrConcurrencyConflict)
		}
		return wrapPersistence(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return getAccount(ctx, store.pool, accountID, false)
}

func (store *Store) GetAccountForUpdate(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return getAccount(ctx, store.pool, accountID, true)
}

func (store *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	return createAccount(ctx, store.pool, account)
}

func (store *Store) SaveAccount(ctx context.Context, account ledger.Account) error {
	return saveAccount(ctx, store.pool, account)
}

func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	return insertEntry(ctx, store.pool, entry)
}

func (store *Store) ListEntries(ctx context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	return listEntriesBefore(ctx, store.pool, accountID, beforeUnixUTC, limit)
}

func (store *Store) ListEntriesForReplay(ctx context.Context, accountID ledger.AccountID, fromUnixUTC, toUnixUTC int64) ([]ledger.Entry, error) {
	return listEntriesReplay(ctx, store.pool, accountID, fromUnixUTC, toUnixUTC)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, store)
}

func (store *TxStore) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return getAccount(ctx, store.tx, accountID, false)
}

func (store *TxStore) GetAccountForUpdate(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return getAccount(ctx, store.tx, accountID, true)
}

func (store *TxStore) CreateAccount(ctx context.Context, account ledger.Account) error {
	return createAccount(ctx, store.tx, account)
}

func (store *TxStore) SaveAccount(ctx context.Context, account ledger.Account) error {
	return saveAccount(ctx, store.tx, account)
}

func (store *TxStore) InsertEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	return insertEntry(ctx, store.tx, entry)
}

func (store *TxStore) ListEntries(ctx context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	return listEntriesBefore(ctx, store.tx, accountID, beforeUnixUTC, limit)
}

func (store *TxStore) ListEntriesForReplay(ctx context.Context, accountID ledger.AccountID, fromUnixUTC, toUnixUTC int64) ([]ledger.Entry, error) {
	return listEntriesReplay(ctx, store.tx, accountID, fromUnixUTC, toUnixUTC)
}

func getAccount(ctx context.Context, runner querier, accountID ledger.AccountID, forUpdate bool) (ledger.Account, error) {
	query := sqlSelectAccount
	if forUpdate {
		query = sqlSelectAccountForUpdate
	}
	var (
		accountIDValue    string
		creditLimitValue  string
		availableValue    string
		balanceValue      string
		accumulatedProfit string
		createdUnixUTC    int64
		updatedUnixUTC    int64
	)
	err := runner.QueryRow(ctx, query, accountID.String()).Scan(
		&accountIDValue,
		&creditLimitValue,
		&availableValue,
		&balanceValue,
		&accumulatedProfit,
		&createdUnixUTC,
		&updatedUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapPersistence(errorSubjectAccount, errorCodeGet, err)
	}
	parsedAccountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	account := ledger.Account{
		AccountID:      parsedAccountID,
		CreatedUnixUTC: createdUnixUTC,
		UpdatedUnixUTC: updatedUnixUTC,
	}
	if account.CreditLimit, err = money.FromString(creditLimitValue); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	if account.AvailableCredit, err = money.FromString(availableValue); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	if account.BalanceInFavor, err = money.FromString(balanceValue); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	if account.AccumulatedProfit, err = money.FromString(accumulatedProfit); err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func createAccount(ctx context.Context, runner querier, account ledger.Account) error {
	_, err := runner.Exec(ctx, sqlInsertAccount,
		account.AccountID.String(),
		account.CreditLimit.String(),
		account.AvailableCredit.String(),
		account.BalanceInFavor.String(),
		account.AccumulatedProfit.String(),
		account.CreatedUnixUTC,
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return wrapPersistence(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func saveAccount(ctx context.Context, runner querier, account ledger.Account) error {
	tag, err := runner.Exec(ctx, sqlUpdateAccount,
		account.AccountID.String(),
		account.CreditLimit.String(),
		account.AvailableCredit.String(),
		account.BalanceInFavor.String(),
		account.AccumulatedProfit.String(),
		account.UpdatedUnixUTC,
	)
	if err != nil {
		return wrapPersistence(errorSubjectAccount, errorCodeSave, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, ledger.ErrAccountNotFound)
	}
	return nil
}

func insertEntry(ctx context.Context, runner querier, entry ledger.Entry) (ledger.Entry, error) {
	detail, err := encodeDetail(entry.Detail)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	err = runner.QueryRow(ctx, sqlInsertEntry,
		entry.AccountID.String(),
		entry.Type.String(),
		entry.Amount.String(),
		entry.Snapshot.PreviousAvailableCredit.String(),
		entry.Snapshot.AvailableCredit.String(),
		entry.Snapshot.PreviousBalanceInFavor.String(),
		entry.Snapshot.RemainingBalance.String(),
		entry.Snapshot.BalanceInFavorUsed.String(),
		entry.Snapshot.CreditUsed.String(),
		entry.Snapshot.ProfitEarned.String(),
		entry.Snapshot.CreditLimit.String(),
		entry.Snapshot.AccumulatedDebt.String(),
		entry.Snapshot.AccumulatedProfit.String(),
		detail,
		entry.MetadataJSON.String(),
		entry.CreatedUnixUTC,
	).Scan(&entry.EntryID, &entry.Sequence)
	if isUniqueViolation(err) {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrConcurrencyConflict)
	}
	if err != nil {
		return ledger.Entry{}, wrapPersistence(errorSubjectEntry, errorCodeInsert, err)
	}
	return entry, nil
}

func listEntriesBefore(ctx context.Context, runner querier, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	rows, err := runner.Query(ctx, sqlListEntriesBefore, accountID.String(), beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapPersistence(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func listEntriesReplay(ctx context.Context, runner querier, accountID ledger.AccountID, fromUnixUTC, toUnixUTC int64) ([]ledger.Entry, error) {
	rows, err := runner.Query(ctx, sqlListEntriesReplay, accountID.String(), fromUnixUTC, toUnixUTC)
	if err != nil {
		return nil, wrapPersistence(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, nil
}

func scanEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0, 32)
	for rows.Next() {
		var (
			entryIDValue   string
			accountIDValue string
			sequenceValue  int64
			entryTypeValue string
			amountValues   [11]string
			detailValue    string
			metadataValue  string
			createdUnixUTC int64
		)
		if err := rows.Scan(
			&entryIDValue,
			&accountIDValue,
			&sequenceValue,
			&entryTypeValue,
			&amountValues[0],
			&amountValues[1],
			&amountValues[2],
			&amountValues[3],
			&amountValues[4],
			&amountValues[5],
			&amountValues[6],
			&amountValues[7],
			&amountValues[8],
			&amountValues[9],
			&amountValues[10],
			&detailValue,
			&metadataValue,
			&createdUnixUTC,
		); err != nil {
			return nil, err
		}
		accountID, err := ledger.NewAccountID(accountIDValue)
		if err != nil {
			return nil, err
		}
		entryType, err := ledger.ParseEntryType(entryTypeValue)
		if err != nil {
			return nil, err
		}
		amounts := make([]money.Money, len(amountValues))
		for index, raw := range amountValues {
			if amounts[index], err = money.FromString(raw); err != nil {
				return nil, err
			}
		}
		detail, err := decodeDetail(entryType, detailValue)
		if err != nil {
			return nil, err
		}
		metadata, err := ledger.NewMetadataJSON(metadataValue)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ledger.Entry{
			EntryID:   entryIDValue,
			AccountID: accountID,
			Sequence:  sequenceValue,
			Type:      entryType,
			Amount:    amounts[0],
			Snapshot: ledger.Snapshot{
				PreviousAvailableCredit: amounts[1],
				AvailableCredit:         amounts[2],
				PreviousBalanceInFavor:  amounts[3],
				RemainingBalance:        amounts[4],
				BalanceInFavorUsed:      amounts[5],
				CreditUsed:              amounts[6],
				ProfitEarned:            amounts[7],
				CreditLimit:             amounts[8],
				AccumulatedDebt:         amounts[9],
				AccumulatedProfit:       amounts[10],
			},
			Detail:         detail,
			MetadataJSON:   metadata,
			CreatedUnixUTC: createdUnixUTC,
		})
	}
	return entries, rows.Err()
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func wrapPersistence(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, errors.Join(ledger.ErrPersistenceFailure, err))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}

func isConcurrencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	return false
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Store = (*TxStore)(nil)
)
