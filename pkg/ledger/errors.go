package ledger

import (
	"errors"
	"fmt"

	"github.com/remitops/minorista-ledger/pkg/money"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountExists        = errors.New("account already exists")
	ErrConcurrencyConflict  = errors.New("concurrency conflict")
	ErrPersistenceFailure   = errors.New("persistence failure")
	ErrInvalidAccountID     = errors.New("invalid account id")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidCreditLimit   = errors.New("invalid credit limit")
	ErrInvalidReason        = errors.New("invalid adjustment reason")
	ErrInvalidEntryType     = errors.New("invalid entry type")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// InsufficientBalanceError carries the sufficiency computation that rejected a
// charge, so callers can explain the rejection to an end user.
type InsufficientBalanceError struct {
	UnpaidDebt money.Money
	TotalAfter money.Money
}

// Error returns the formatted error message.
func (insufficiencyError InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%v: unpaid debt %s, total after %s", ErrInsufficientBalance, insufficiencyError.UnpaidDebt, insufficiencyError.TotalAfter)
}

// Unwrap links the detailed error to the ErrInsufficientBalance sentinel.
func (insufficiencyError InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
