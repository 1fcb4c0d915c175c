package pgstore

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/remitops/minorista-ledger/pkg/ledger"
)

func TestWrapPersistenceJoinsSentinel(test *testing.T) {
	test.Parallel()
	driverError := errors.New("connection reset by peer")
	wrapped := wrapPersistence(errorSubjectAccount, errorCodeGet, driverError)
	if !errors.Is(wrapped, ledger.ErrPersistenceFailure) {
		test.Fatalf("expected %v, got %v", ledger.ErrPersistenceFailure, wrapped)
	}
	if !errors.Is(wrapped, driverError) {
		test.Fatalf("expected the driver error to stay reachable, got %v", wrapped)
	}
}

func TestWrapStoreErrorKeepsDomainSentinel(test *testing.T) {
	test.Parallel()
	wrapped := wrapStoreError(errorSubjectAccount, errorCodeGet, ledger.ErrAccountNotFound)
	if !errors.Is(wrapped, ledger.ErrAccountNotFound) {
		test.Fatalf("expected %v, got %v", ledger.ErrAccountNotFound, wrapped)
	}
	if errors.Is(wrapped, ledger.ErrPersistenceFailure) {
		test.Fatalf("domain sentinel must not read as a persistence failure: %v", wrapped)
	}
}

func TestPostgresErrorTranslation(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name             string
		err              error
		uniqueViolation  bool
		concurrencyError bool
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: pgUniqueViolationCode}, uniqueViolation: true},
		{name: "serialization failure", err: &pgconn.PgError{Code: pgSerializationFailureCode}, concurrencyError: true},
		{name: "deadlock detected", err: &pgconn.PgError{Code: pgDeadlockDetectedCode}, concurrencyError: true},
		{name: "unrelated pg error", err: &pgconn.PgError{Code: "42P01"}},
		{name: "plain error", err: errors.New("broken pipe")},
		{name: "nil error", err: nil},
	}
	for _, testCase := range cases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := isUniqueViolation(testCase.err); got != testCase.uniqueViolation {
				test.Fatalf("isUniqueViolation(%v) = %v, want %v", testCase.err, got, testCase.uniqueViolation)
			}
			if got := isConcurrencyConflict(testCase.err); got != testCase.concurrencyError {
				test.Fatalf("isConcurrencyConflict(%v) = %v, want %v", testCase.err, got, testCase.concurrencyError)
			}
		})
	}
}
