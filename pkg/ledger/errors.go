package ledger

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the ledger service.
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrUnbalancedTransaction   = errors.New("unbalanced transaction")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrAccountNotFound         = errors.New("account not found")
	ErrAccountExists           = errors.New("account already exists")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrInvalidAccountID        = errors.New("invalid account id")
	ErrInvalidUserID           = errors.New("invalid user id")
	ErrInvalidTransactionID    = errors.New("invalid transaction id")
	ErrInvalidSystemName       = errors.New("invalid system account name")
	ErrInvalidServiceName      = errors.New("invalid service name")
	ErrInvalidIdempotencyKey   = errors.New("invalid idempotency key")
	ErrInvalidReason           = errors.New("invalid reason")
	ErrInvalidSource           = errors.New("invalid source")
	ErrInvalidMetadataJSON     = errors.New("invalid metadata json")
	ErrInvalidParticipant      = errors.New("invalid participant")
	ErrInvalidListLimit        = errors.New("invalid list limit")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
	ErrUnauthorized            = errors.New("unauthorized")
)

// ErrorCode is the stable, caller-facing failure kind.
type ErrorCode string

const (
	ErrorCodeBadRequest            ErrorCode = "BAD_REQUEST"
	ErrorCodeInvalidAmount         ErrorCode = "INVALID_AMOUNT"
	ErrorCodeUnbalancedTransaction ErrorCode = "UNBALANCED_TRANSACTION"
	ErrorCodeAccountNotFound       ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrorCodeInsufficientFunds     ErrorCode = "INSUFFICIENT_FUNDS"
	ErrorCodeUnauthorized          ErrorCode = "UNAUTHORIZED"
	ErrorCodeNotFound              ErrorCode = "NOT_FOUND"
	ErrorCodeInternal              ErrorCode = "INTERNAL_ERROR"
)

// String returns the wire representation of the code.
func (code ErrorCode) String() string {
	return string(code)
}

var badRequestErrors = []error{
	ErrInvalidAccountID,
	ErrInvalidUserID,
	ErrInvalidTransactionID,
	ErrInvalidSystemName,
	ErrInvalidServiceName,
	ErrInvalidIdempotencyKey,
	ErrInvalidReason,
	ErrInvalidSource,
	ErrInvalidMetadataJSON,
	ErrInvalidParticipant,
	ErrInvalidListLimit,
}

// ErrorCodeOf classifies an error chain into the caller-facing taxonomy.
// Anything unrecognized is an internal error.
func ErrorCodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientFunds):
		return ErrorCodeInsufficientFunds
	case errors.Is(err, ErrUnbalancedTransaction):
		return ErrorCodeUnbalancedTransaction
	case errors.Is(err, ErrInvalidAmount):
		return ErrorCodeInvalidAmount
	case errors.Is(err, ErrAccountNotFound):
		return ErrorCodeAccountNotFound
	case errors.Is(err, ErrTransactionNotFound):
		return ErrorCodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return ErrorCodeUnauthorized
	}
	for _, target := range badRequestErrors {
		if errors.Is(err, target) {
			return ErrorCodeBadRequest
		}
	}
	return ErrorCodeInternal
}

// InsufficientFundsError reports the account whose balance would have gone negative.
type InsufficientFundsError struct {
	AccountID AccountID
	Balance   int64
	Delta     int64
}

// Error returns the formatted error message.
func (insufficientFunds InsufficientFundsError) Error() string {
	return fmt.Sprintf("%v: account %d has balance %d, net change %d", ErrInsufficientFunds, insufficientFunds.AccountID.Int64(), insufficientFunds.Balance, insufficientFunds.Delta)
}

// Unwrap returns ErrInsufficientFunds.
func (insufficientFunds InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// AccountNotFoundError names the reference that failed to resolve.
type AccountNotFoundError struct {
	Reference string
}

// Error returns the formatted error message.
func (notFound AccountNotFoundError) Error() string {
	return notFound.Reference
}

// Unwrap returns ErrAccountNotFound.
func (notFound AccountNotFoundError) Unwrap() error {
	return ErrAccountNotFound
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
