package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/remitops/minorista-ledger/pkg/money"
)

func mustNewAuditor(test *testing.T, store Store) *Auditor {
	test.Helper()
	auditor, err := NewAuditor(store)
	if err != nil {
		test.Fatalf("new auditor: %v", err)
	}
	return auditor
}

func buildAuditedHistory(test *testing.T, store *stubStore) AccountID {
	test.Helper()
	service := mustNewService(test, store)
	accountID := mustAccountID(test, defaultAccountIDValue)
	seedAccount(test, service, accountID, "1000.00", "200.00")
	ctx := context.Background()
	if _, err := service.ApplyDischarge(ctx, accountID,
		mustMoney(test, "600.00"), mustRate(test, "0.05"), defaultReference, mustMetadata(test, defaultMetadataValue)); err != nil {
		test.Fatalf("discharge: %v", err)
	}
	if _, err := service.PayDebt(ctx, accountID, mustMoney(test, "250.00"), mustMetadata(test, defaultMetadataValue)); err != nil {
		test.Fatalf("pay debt: %v", err)
	}
	if _, err := service.ApplyDischarge(ctx, accountID,
		mustMoney(test, "100.00"), mustRate(test, "0.05"), defaultReference, mustMetadata(test, defaultMetadataValue)); err != nil {
		test.Fatalf("second discharge: %v", err)
	}
	return accountID
}

func TestAuditAccountMatchesLiveState(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	accountID := buildAuditedHistory(test, store)
	auditor := mustNewAuditor(test, store)

	report, err := auditor.AuditAccount(context.Background(), accountID, AuditOptions{})
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if report.Status != AuditStatusOK {
		test.Fatalf("expected %s, got %s\n%s", AuditStatusOK, report.Status, strings.Join(report.Trace, "\n"))
	}
	assertAmount(test, "available credit difference", money.Zero(), report.AvailableCreditDifference)
	assertAmount(test, "balance in favor difference", money.Zero(), report.BalanceInFavorDifference)
	assertAmount(test, "accumulated profit difference", money.Zero(), report.AccumulatedProfitDifference)
	if report.EntriesReplayed == 0 {
		test.Fatalf("expected replayed entries")
	}
}

func TestAuditAccountIsIdempotent(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	accountID := buildAuditedHistory(test, store)
	auditor := mustNewAuditor(test, store)

	first, err := auditor.AuditAccount(context.Background(), accountID, AuditOptions{})
	if err != nil {
		test.Fatalf("first audit: %v", err)
	}
	second, err := auditor.AuditAccount(context.Background(), accountID, AuditOptions{})
	if err != nil {
		test.Fatalf("second audit: %v", err)
	}
	if first.Status != second.Status || first.EntriesReplayed != second.EntriesReplayed {
		test.Fatalf("replay is not idempotent: %+v vs %+v", first, second)
	}
	assertAmount(test, "calculated credit", first.CalculatedAvailableCredit, second.CalculatedAvailableCredit)
	assertAmount(test, "calculated surplus", first.CalculatedBalanceInFavor, second.CalculatedBalanceInFavor)
}

func TestAuditAccountDetectsDriftedProjection(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	accountID := buildAuditedHistory(test, store)
	auditor := mustNewAuditor(test, store)

	// Corrupt the materialized projection behind the ledger's back.
	account := store.accounts[accountID.String()]
	account.AvailableCredit = account.AvailableCredit.Add(mustMoney(test, "100.00"))
	store.accounts[accountID.String()] = account

	report, err := auditor.AuditAccount(context.Background(), accountID, AuditOptions{})
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if report.Status != AuditStatusInconsistent {
		test.Fatalf("expected %s, got %s", AuditStatusInconsistent, report.Status)
	}
	assertAmount(test, "available credit difference", mustMoney(test, "100.00"), report.AvailableCreditDifference)
}

func TestAuditAccountDetectsCorruptedEntryAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	accountID := buildAuditedHistory(test, store)
	auditor := mustNewAuditor(test, store)

	// Inflate the recorded amount of the first discharge entry.
	entries := store.entries[accountID.String()]
	entries[2].Amount = entries[2].Amount.Add(mustMoney(test, "50.00"))

	report, err := auditor.AuditAccount(context.Background(), accountID, AuditOptions{})
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if report.Status != AuditStatusInconsistent {
		test.Fatalf("expected %s, got %s\n%s", AuditStatusInconsistent, report.Status, strings.Join(report.Trace, "\n"))
	}
	assertAmount(test, "available credit difference", mustMoney(test, "50.00"), report.AvailableCreditDifference)
	flagged := false
	for _, line := range report.Trace {
		if strings.Contains(line, "MISMATCH") {
			flagged = true
		}
	}
	if !flagged {
		test.Fatalf("expected a MISMATCH trace line:\n%s", strings.Join(report.Trace, "\n"))
	}
}

func TestAuditAccountDetectsDriftedAccumulatedProfit(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	accountID := buildAuditedHistory(test, store)
	auditor := mustNewAuditor(test, store)

	account := store.accounts[accountID.String()]
	account.AccumulatedProfit = account.AccumulatedProfit.Add(mustMoney(test, "10.00"))
	store.accounts[accountID.String()] = account

	report, err := auditor.AuditAccount(context.Background(), accountID, AuditOptions{})
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	if report.Status != AuditStatusInconsistent {
		test.Fatalf("expected %s, got %s", AuditStatusInconsistent, report.Status)
	}
	assertAmount(test, "accumulated profit difference", mustMoney(test, "10.00"), report.AccumulatedProfitDifference)
	assertAmount(test, "available credit difference", money.Zero(), report.AvailableCreditDifference)
}

func TestAuditAccountFlagsTamperedSnapshot(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	accountID := buildAuditedHistory(test, store)
	auditor := mustNewAuditor(test, store)

	entries := store.entries[accountID.String()]
	entries[2].Snapshot.AvailableCredit = entries[2].Snapshot.AvailableCredit.Add(mustMoney(test, "1.00"))

	report, err := auditor.AuditAccount(context.Background(), accountID, AuditOptions{})
	if err != nil {
		test.Fatalf("audit: %v", err)
	}
	flagged := false
	for _, line := range report.Trace {
		if strings.Contains(line, "MISMATCH") {
			flagged = true
		}
	}
	if !flagged {
		test.Fatalf("expected a MISMATCH trace line:\n%s", strings.Join(report.Trace, "\n"))
	}
}

func TestAuditAccountPartialRangeSeedsFromSnapshot(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	accountID := buildAuditedHistory(test, store)
	auditor := mustNewAuditor(test, store)

	entries, err := store.ListEntriesForReplay(context.Background(), accountID, 0, 0)
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(entries) < 3 {
		test.Fatalf("expected at least 3 entries, got %d", len(entries))
	}
	from := entries[len(entries)-2].CreatedUnixUTC

	report, err := auditor.AuditAccount(context.Background(), accountID, AuditOptions{FromUnixUTC: from})
	if err != nil {
		test.Fatalf("partial audit: %v", err)
	}
	if report.Status != AuditStatusOK {
		test.Fatalf("expected %s, got %s\n%s", AuditStatusOK, report.Status, strings.Join(report.Trace, "\n"))
	}
	if report.EntriesReplayed >= len(entries) {
		test.Fatalf("expected a bounded replay, replayed %d of %d", report.EntriesReplayed, len(entries))
	}
}

func TestAuditAccountUnknownAccount(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	auditor := mustNewAuditor(test, store)

	_, err := auditor.AuditAccount(context.Background(), mustAccountID(test, "missing"), AuditOptions{})
	if !errors.Is(err, ErrAccountNotFound) {
		test.Fatalf(errorMismatchMessage, ErrAccountNotFound, err)
	}
}

func TestNewAuditorRequiresStore(test *testing.T) {
	test.Parallel()
	if _, err := NewAuditor(nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf(errorMismatchMessage, ErrInvalidServiceConfig, err)
	}
}
