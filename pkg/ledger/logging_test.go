package ledger

import (
	"context"
	"errors"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

type recorderNotifier struct {
	events []MutationEvent
}

func (notifier *recorderNotifier) NotifyMutation(_ context.Context, event MutationEvent) {
	notifier.events = append(notifier.events, event)
}

func TestServiceLogsDischargeOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	accountID := mustAccountID(test, defaultAccountIDValue)
	seedAccount(test, service, accountID, "1000.00", "0.00")
	logger.entries = nil

	if _, err := service.ApplyDischarge(context.Background(), accountID,
		mustMoney(test, "100.00"), mustRate(test, "0.05"), defaultReference, MetadataJSON{}); err != nil {
		test.Fatalf("discharge: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationDischarge || entry.Reference != defaultReference {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Error != nil || entry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", entry)
	}
}

func TestServiceLogsRejectionsWithErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	accountID := mustAccountID(test, defaultAccountIDValue)
	seedAccount(test, service, accountID, "100.00", "0.00")
	logger.entries = nil

	_, err := service.ApplyDischarge(context.Background(), accountID,
		mustMoney(test, "5000.00"), mustRate(test, "0"), defaultReference, MetadataJSON{})
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf(errorMismatchMessage, ErrInsufficientBalance, err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Status != operationStatusError || !errors.Is(entry.Error, ErrInsufficientBalance) {
		test.Fatalf("expected error log entry, got %+v", entry)
	}
}

func TestServiceNotifiesCommittedMutations(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	notifier := &recorderNotifier{}
	service := mustNewService(test, store, WithMutationNotifier(notifier))
	accountID := mustAccountID(test, defaultAccountIDValue)
	seedAccount(test, service, accountID, "1000.00", "500.00")
	notifier.events = nil

	result, err := service.ApplyDischarge(context.Background(), accountID,
		mustMoney(test, "300.00"), mustRate(test, "0.05"), defaultReference, MetadataJSON{})
	if err != nil {
		test.Fatalf("discharge: %v", err)
	}
	if len(notifier.events) != 1 {
		test.Fatalf("expected one event, got %d", len(notifier.events))
	}
	event := notifier.events[0]
	if event.Operation != operationDischarge || event.AccountID != accountID.String() {
		test.Fatalf("unexpected event: %+v", event)
	}
	// The pure-surplus discharge carries both the discount and profit entries.
	if len(event.EntryIDs) != 2 || event.EntryIDs[0] != result.Entry.EntryID {
		test.Fatalf("unexpected entry ids: %+v", event.EntryIDs)
	}
}

func TestServiceSkipsNotificationOnFailure(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	notifier := &recorderNotifier{}
	service := mustNewService(test, store, WithMutationNotifier(notifier))
	accountID := mustAccountID(test, defaultAccountIDValue)
	seedAccount(test, service, accountID, "100.00", "0.00")
	notifier.events = nil

	_, err := service.ApplyDischarge(context.Background(), accountID,
		mustMoney(test, "5000.00"), mustRate(test, "0"), defaultReference, MetadataJSON{})
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf(errorMismatchMessage, ErrInsufficientBalance, err)
	}
	if len(notifier.events) != 0 {
		test.Fatalf("expected no events for a rejected charge, got %d", len(notifier.events))
	}
}
