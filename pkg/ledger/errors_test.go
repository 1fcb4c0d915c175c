package ledger

import (
	"errors"
	"testing"
)

const (
	operationName    = "ledger"
	subjectName      = "entry"
	codeName         = "invalid"
	baseErrorMessage = "base error"
)

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	baseError := errors.New(baseErrorMessage)
	wrappedError := WrapError(operationName, subjectName, codeName, baseError)
	if wrappedError == nil {
		test.Fatalf("expected wrapped error")
	}
	expected := operationName + "." + subjectName + "." + codeName + ": " + baseErrorMessage
	if wrappedError.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, wrappedError.Error())
	}
	if !errors.Is(wrappedError, baseError) {
		test.Fatalf("expected wrapped error to unwrap to base error")
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestInsufficientBalanceErrorUnwrapsToSentinel(test *testing.T) {
	test.Parallel()
	err := InsufficientBalanceError{
		UnpaidDebt: mustMoney(test, "175.00"),
		TotalAfter: mustMoney(test, "0.00"),
	}
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected errors.Is match with %v", ErrInsufficientBalance)
	}
	var detailed InsufficientBalanceError
	if !errors.As(error(err), &detailed) {
		test.Fatalf("expected errors.As match")
	}
	assertAmount(test, "unpaid debt", mustMoney(test, "175.00"), detailed.UnpaidDebt)
}
