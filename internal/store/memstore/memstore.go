package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/remitops/minorista-ledger/pkg/ledger"
)

const (
	errorOperationStore = "store"
	errorSubjectAccount = "account"
	errorCodeGet        = "get"
	errorCodeCreate     = "create"
	errorCodeSave       = "save"
)

// Store is an in-memory ledger.Store for tests and single-process demos.
//
// Writers serialize per account: GetAccountForUpdate inside WithTx takes the
// account's mutex and holds it until the transaction function returns.
// Mutations apply immediately; the single-writer guarantee comes from the
// lock, not from rollback.
type Store struct {
	mu           sync.Mutex
	accountLocks map[string]*sync.Mutex
	accounts     map[string]ledger.Account
	entries      map[string][]ledger.Entry
	sequences    map[string]int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		accountLocks: make(map[string]*sync.Mutex),
		accounts:     make(map[string]ledger.Account),
		entries:      make(map[string][]ledger.Entry),
		sequences:    make(map[string]int64),
	}
}

// WithTx runs fn with a view that can take per-account write locks.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	view := &txView{store: store, held: make(map[string]*sync.Mutex)}
	defer view.releaseLocks()
	return fn(ctx, view)
}

// GetAccount returns the stored projection for an account.
func (store *Store) GetAccount(_ context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	account, exists := store.accounts[accountID.String()]
	if !exists {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
	}
	return account, nil
}

// GetAccountForUpdate outside a transaction is a plain read.
func (store *Store) GetAccountForUpdate(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.GetAccount(ctx, accountID)
}

// CreateAccount stores a new account projection.
func (store *Store) CreateAccount(_ context.Context, account ledger.Account) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	key := account.AccountID.String()
	if _, exists := store.accounts[key]; exists {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, ledger.ErrAccountExists)
	}
	store.accounts[key] = account
	return nil
}

// SaveAccount replaces the stored projection.
func (store *Store) SaveAccount(_ context.Context, account ledger.Account) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	key := account.AccountID.String()
	if _, exists := store.accounts[key]; !exists {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, ledger.ErrAccountNotFound)
	}
	store.accounts[key] = account
	return nil
}

// InsertEntry appends an immutable entry, assigning its id and sequence.
func (store *Store) InsertEntry(_ context.Context, entry ledger.Entry) (ledger.Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	key := entry.AccountID.String()
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	store.sequences[key]++
	entry.Sequence = store.sequences[key]
	store.entries[key] = append(store.entries[key], entry)
	return entry, nil
}

// ListEntries returns entries newest first, created strictly before the cutoff.
// A zero cutoff means no bound; a non-positive limit means no limit.
func (store *Store) ListEntries(_ context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	selected := make([]ledger.Entry, 0)
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

// ListEntriesForReplay returns entries in replay order: createdAt ascending,
// ties broken by sequence. Zero bounds mean an unbounded side.
func (store *Store) ListEntriesForReplay(_ context.Context, accountID ledger.AccountID, fromUnixUTC, toUnixUTC int64) ([]ledger.Entry, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	selected := make([]ledger.Entry, 0)
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

func (store *Store) accountLock(accountID string) *sync.Mutex {
	store.mu.Lock()
	defer store.mu.Unlock()
	lock, exists := store.accountLocks[accountID]
	if !exists {
		lock = &sync.Mutex{}
		store.accountLocks[accountID] = lock
	}
	return lock
}

// txView is the transactional face of Store. It takes per-account locks on
// GetAccountForUpdate and releases them when the transaction ends.
type txView struct {
	store *Store
	held  map[string]*sync.Mutex
}

func (view *txView) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return fn(ctx, view)
}

func (view *txView) GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return view.store.GetAccount(ctx, accountID)
}

func (view *txView) GetAccountForUpdate(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	view.lockAccount(accountID.String())
	return view.store.GetAccount(ctx, accountID)
}

func (view *txView) CreateAccount(ctx context.Context, account ledger.Account) error {
	view.lockAccount(account.AccountID.String())
	return view.store.CreateAccount(ctx, account)
}

func (view *txView) SaveAccount(ctx context.Context, account ledger.Account) error {
	return view.store.SaveAccount(ctx, account)
}

func (view *txView) InsertEntry(ctx context.Context, entry ledger.Entry) (ledger.Entry, error) {
	return view.store.InsertEntry(ctx, entry)
}

func (view *txView) ListEntries(ctx context.Context, accountID ledger.AccountID, beforeUnixUTC int64, limit int) ([]ledger.Entry, error) {
	return view.store.ListEntries(ctx, accountID, beforeUnixUTC, limit)
}

func (view *txView) ListEntriesForReplay(ctx context.Context, accountID ledger.AccountID, fromUnixUTC, toUnixUTC int64) ([]ledger.Entry, error) {
	return view.store.ListEntriesForReplay(ctx, accountID, fromUnixUTC, toUnixUTC)
}

func (view *txView) lockAccount(accountID string) {
	if _, alreadyHeld := view.held[accountID]; alreadyHeld {
		return
	}
	lock := view.store.accountLock(accountID)
	lock.Lock()
	view.held[accountID] = lock
}

func (view *txView) releaseLocks() {
	for _, lock := range view.held {
		lock.Unlock()
	}
	view.held = make(map[string]*sync.Mutex)
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

var _ ledger.Store = (*Store)(nil)
