package client

import (
	"errors"
	"fmt"
)

// Error codes returned by the service.
const (
	CodeBadRequest            = "BAD_REQUEST"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeAccountNotFound       = "ACCOUNT_NOT_FOUND"
	CodeNotFound              = "NOT_FOUND"
	CodeInsufficientFunds     = "INSUFFICIENT_FUNDS"
	CodeInvalidAmount         = "INVALID_AMOUNT"
	CodeUnbalancedTransaction = "UNBALANCED_TRANSACTION"
	CodeInternal              = "INTERNAL_ERROR"
	CodeUnknown               = "UNKNOWN_ERROR"
)

var (
	ErrBadRequest            = errors.New("blertbank: bad request")
	ErrUnauthorized          = errors.New("blertbank: unauthorized")
	ErrAccountNotFound       = errors.New("blertbank: account not found")
	ErrNotFound              = errors.New("blertbank: not found")
	ErrInsufficientFunds     = errors.New("blertbank: insufficient funds")
	ErrInvalidAmount         = errors.New("blertbank: invalid amount")
	ErrUnbalancedTransaction = errors.New("blertbank: unbalanced transaction")
)

var sentinelByCode = map[string]error{
	CodeBadRequest:            ErrBadRequest,
	CodeUnauthorized:          ErrUnauthorized,
	CodeAccountNotFound:       ErrAccountNotFound,
	CodeNotFound:              ErrNotFound,
	CodeInsufficientFunds:     ErrInsufficientFunds,
	CodeInvalidAmount:         ErrInvalidAmount,
	CodeUnbalancedTransaction: ErrUnbalancedTransaction,
}

// Error reports a client-side failure: bad configuration or an unreachable service.
type Error struct {
	Message string
	Err     error
}

func (err *Error) Error() string {
	return err.Message
}

func (err *Error) Unwrap() error {
	return err.Err
}

// APIError is a non-2xx response decoded from the service's error envelope.
// errors.Is matches it against the sentinel for its code.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
	Details    map[string]any
}

func (err *APIError) Error() string {
	return fmt.Sprintf("blertbank: %s (%d): %s", err.ErrorCode, err.StatusCode, err.Message)
}

func (err *APIError) Unwrap() error {
	return sentinelByCode[err.ErrorCode]
}

// UnauthorizedError is returned when the service rejects the service token.
type UnauthorizedError struct {
	Message string
}

func (err *UnauthorizedError) Error() string {
	if err.Message == "" {
		return "Unauthorized service request"
	}
	return err.Message
}

func (err *UnauthorizedError) Unwrap() error {
	return ErrUnauthorized
}

// AccountNotFoundError is returned by user account lookups when the user has no account.
type AccountNotFoundError struct {
	UserID int64
}

func (err *AccountNotFoundError) Error() string {
	return fmt.Sprintf("Account not found for user %d", err.UserID)
}

func (err *AccountNotFoundError) Unwrap() error {
	return ErrAccountNotFound
}
