package ledger

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/remitops/minorista-ledger/pkg/money"
)

const (
	defaultAccountIDValue = "reseller-1"
	defaultReference      = "transfer-001"
	defaultMetadataValue  = `{"origin":"test"}`
	errorMismatchMessage  = "expected %v, got %v"
	amountMismatchMessage = "%s: expected %s, got %s"
)

// stubStore is an in-memory Store with per-call error injection.
type stubStore struct {
	accounts  map[string]Account
	entries   map[string][]Entry
	sequences map[string]int64

	getAccountError    error
	createAccountError error
	saveAccountError   error
	insertEntryError   error
	listEntriesError   error
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts:  make(map[string]Account),
		entries:   make(map[string][]Entry),
		sequences: make(map[string]int64),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetAccount(_ context.Context, accountID AccountID) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	account, exists := store.accounts[accountID.String()]
	if !exists {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) GetAccountForUpdate(ctx context.Context, accountID AccountID) (Account, error) {
	return store.GetAccount(ctx, accountID)
}

func (store *stubStore) CreateAccount(_ context.Context, account Account) error {
	if store.createAccountError != nil {
		return store.createAccountError
	}
	key := account.AccountID.String()
	if _, exists := store.accounts[key]; exists {
		return ErrAccountExists
	}
	store.accounts[key] = account
	return nil
}

func (store *stubStore) SaveAccount(_ context.Context, account Account) error {
	if store.saveAccountError != nil {
		return store.saveAccountError
	}
	key := account.AccountID.String()
	if _, exists := store.accounts[key]; !exists {
		return ErrAccountNotFound
	}
	store.accounts[key] = account
	return nil
}

func (store *stubStore) InsertEntry(_ context.Context, entry Entry) (Entry, error) {
	if store.insertEntryError != nil {
		return Entry{}, store.insertEntryError
	}
	key := entry.AccountID.String()
	store.sequences[key]++
	entry.Sequence = store.sequences[key]
	entry.EntryID = fmt.Sprintf("entry-%s-%d", key, entry.Sequence)
	store.entries[key] = append(store.entries[key], entry)
	return entry, nil
}

func (store *stubStore) ListEntries(_ context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	selected := make([]Entry, 0)
	for _, entry := range store.entries[accountID.String()] {
		if beforeUnixUTC > 0 && entry.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		selected = append(selected, entry)
	}
	sort.SliceStable(selected, func(left, right int) bool {
		if selected[left].CreatedUnixUTC != selected[right].CreatedUnixUTC {
			return selected[left].CreatedUnixUTC > selected[right].CreatedUnixUTC
		}
		return selected[left].Sequence > selected[right].Sequence
	})
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected, nil
}

func (store *stubStore) ListEntriesForReplay(_ context.Context, accountID AccountID, fromUnixUTC, toUnixUTC int64) ([]Entry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	selected := make([]Entry, 0)
	for _, entry := range store.entries[accountID.String()] {
		if fromUnixUTC > 0 && entry.CreatedUnixUTC < fromUnixUTC {
			continue
		}
		if toUnixUTC > 0 && entry.CreatedUnixUTC > toUnixUTC {
			continue
		}
		selected = append(selected, entry)
	}
	sort.SliceStable(selected, func(left, right int) bool {
		if selected[left].CreatedUnixUTC != selected[right].CreatedUnixUTC {
			return selected[left].CreatedUnixUTC < selected[right].CreatedUnixUTC
		}
		return selected[left].Sequence < selected[right].Sequence
	})
	return selected, nil
}

var _ Store = (*stubStore)(nil)

// testClock hands out strictly increasing unix timestamps.
type testClock struct {
	current int64
}

func (clock *testClock) now() int64 {
	clock.current++
	return clock.current
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	clock := &testClock{current: 1_700_000_000}
	service, err := NewService(store, clock.now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	accountID, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id %q: %v", raw, err)
	}
	return accountID
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}

func mustMoney(test *testing.T, raw string) money.Money {
	test.Helper()
	amount, err := money.FromString(raw)
	if err != nil {
		test.Fatalf("amount %q: %v", raw, err)
	}
	return amount
}

func mustRate(test *testing.T, raw string) money.Rate {
	test.Helper()
	rate, err := money.NewRateFromString(raw)
	if err != nil {
		test.Fatalf("rate %q: %v", raw, err)
	}
	return rate
}

func assertAmount(test *testing.T, label string, want, got money.Money) {
	test.Helper()
	if !want.Equal(got) {
		test.Fatalf(amountMismatchMessage, label, want, got)
	}
}

// seedAccount opens an account with the given credit limit and surplus.
func seedAccount(test *testing.T, service *Service, accountID AccountID, creditLimit, surplus string) {
	test.Helper()
	if _, err := service.AssignCreditLimit(context.Background(), accountID, mustMoney(test, creditLimit)); err != nil {
		test.Fatalf("assign credit limit: %v", err)
	}
	surplusAmount := mustMoney(test, surplus)
	if surplusAmount.IsZero() {
		return
	}
	if _, err := service.RecordAdjustment(context.Background(), accountID, surplusAmount, "seed surplus", MetadataJSON{}); err != nil {
		test.Fatalf("seed surplus: %v", err)
	}
}
