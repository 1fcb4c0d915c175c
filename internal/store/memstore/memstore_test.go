package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/remitops/minorista-ledger/pkg/ledger"
	"github.com/remitops/minorista-ledger/pkg/money"
)

func mustAccountID(test *testing.T, raw string) ledger.AccountID {
	test.Helper()
	accountID, err := ledger.NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return accountID
}

func testAccount(test *testing.T, accountID ledger.AccountID) ledger.Account {
	test.Helper()
	return ledger.Account{
		AccountID:         accountID,
		CreditLimit:       money.FromCents(100_000),
		AvailableCredit:   money.FromCents(100_000),
		BalanceInFavor:    money.Zero(),
		AccumulatedProfit: money.Zero(),
		CreatedUnixUTC:    1,
		UpdatedUnixUTC:    1,
	}
}

func TestAccountLifecycle(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	accountID := mustAccountID(test, "reseller-1")

	if _, err := store.GetAccount(ctx, accountID); !errors.Is(err, ledger.ErrAccountNotFound) {
		test.Fatalf("expected %v, got %v", ledger.ErrAccountNotFound, err)
	}
	account := testAccount(test, accountID)
	if err := store.CreateAccount(ctx, account); err != nil {
		test.Fatalf("create: %v", err)
	}
	if err := store.CreateAccount(ctx, account); !errors.Is(err, ledger.ErrAccountExists) {
		test.Fatalf("expected %v, got %v", ledger.ErrAccountExists, err)
	}
	account.AvailableCredit = money.FromCents(50_000)
	if err := store.SaveAccount(ctx, account); err != nil {
		test.Fatalf("save: %v", err)
	}
	loaded, err := store.GetAccount(ctx, accountID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	if !loaded.AvailableCredit.Equal(money.FromCents(50_000)) {
		test.Fatalf("expected saved balance, got %s", loaded.AvailableCredit)
	}
}

func TestInsertEntryAssignsSequences(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	accountID := mustAccountID(test, "reseller-1")

	for wantSequence := int64(1); wantSequence <= 3; wantSequence++ {
		entry, err := store.InsertEntry(ctx, ledger.Entry{
			AccountID:      accountID,
			Type:           ledger.EntryRecharge,
			Amount:         money.FromCents(100),
			CreatedUnixUTC: wantSequence,
		})
		if err != nil {
			test.Fatalf("insert: %v", err)
		}
		if entry.Sequence != wantSequence {
			test.Fatalf("expected sequence %d, got %d", wantSequence, entry.Sequence)
		}
		if entry.EntryID == "" {
			test.Fatalf("expected assigned entry id")
		}
	}
}

func TestListEntriesOrdering(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	accountID := mustAccountID(test, "reseller-1")
	for _, createdAt := range []int64{10, 20, 30} {
		if _, err := store.InsertEntry(ctx, ledger.Entry{
			AccountID:      accountID,
			Type:           ledger.EntryRecharge,
			Amount:         money.FromCents(100),
			CreatedUnixUTC: createdAt,
		}); err != nil {
			test.Fatalf("insert: %v", err)
		}
	}

	newestFirst, err := store.ListEntries(ctx, accountID, 0, 2)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(newestFirst) != 2 || newestFirst[0].CreatedUnixUTC != 30 || newestFirst[1].CreatedUnixUTC != 20 {
		test.Fatalf("unexpected listing: %+v", newestFirst)
	}

	replay, err := store.ListEntriesForReplay(ctx, accountID, 0, 0)
	if err != nil {
		test.Fatalf("replay list: %v", err)
	}
	if len(replay) != 3 || replay[0].CreatedUnixUTC != 10 || replay[2].CreatedUnixUTC != 30 {
		test.Fatalf("unexpected replay order: %+v", replay)
	}

	bounded, err := store.ListEntriesForReplay(ctx, accountID, 20, 20)
	if err != nil {
		test.Fatalf("bounded list: %v", err)
	}
	if len(bounded) != 1 || bounded[0].CreatedUnixUTC != 20 {
		test.Fatalf("unexpected bounded listing: %+v", bounded)
	}
}

func TestWithTxSerializesAccountWriters(test *testing.T) {
	test.Parallel()
	store := New()
	ctx := context.Background()
	accountID := mustAccountID(test, "reseller-1")
	if err := store.CreateAccount(ctx, testAccount(test, accountID)); err != nil {
		test.Fatalf("create: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	for worker := 0; worker < writers; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.WithTx(ctx, func(ctx context.Context, txStore ledger.Store) error {
				account, err := txStore.GetAccountForUpdate(ctx, accountID)
				if err != nil {
					return err
				}
				account.AvailableCredit = account.AvailableCredit.Sub(money.FromCents(100))
				return txStore.SaveAccount(ctx, account)
			})
			if err != nil {
				test.Errorf("tx: %v", err)
			}
		}()
	}
	wg.Wait()

	account, err := store.GetAccount(ctx, accountID)
	if err != nil {
		test.Fatalf("get: %v", err)
	}
	want := money.FromCents(100_000 - writers*100)
	if !account.AvailableCredit.Equal(want) {
		test.Fatalf("lost update: expected %s, got %s", want, account.AvailableCredit)
	}
}
