package ledger

import (
	"errors"
	"fmt"
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
	var operationError OperationError
	if !errors.As(wrappedError, &operationError) || operationError.Code() != codeName || operationError.Subject() != subjectName || operationError.Operation() != operationName {
		test.Fatalf("unexpected operation error %+v", operationError)
	}
}

func TestWrapErrorNil(test *testing.T) {
	test.Parallel()
	if WrapError(operationName, subjectName, codeName, nil) != nil {
		test.Fatalf("expected nil wrapped error")
	}
}

func TestErrorCodeOf(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "nil", err: nil, want: ""},
		{name: "insufficient funds detail", err: InsufficientFundsError{AccountID: 1, Balance: 5, Delta: -10}, want: ErrorCodeInsufficientFunds},
		{name: "wrapped unbalanced", err: fmt.Errorf("post: %w", ErrUnbalancedTransaction), want: ErrorCodeUnbalancedTransaction},
		{name: "invalid amount", err: ErrInvalidAmount, want: ErrorCodeInvalidAmount},
		{name: "account not found detail", err: AccountNotFoundError{Reference: "Account 3 not found"}, want: ErrorCodeAccountNotFound},
		{name: "store wrapped not found", err: WrapError("store", "account", "not_found", ErrAccountNotFound), want: ErrorCodeAccountNotFound},
		{name: "transaction not found", err: ErrTransactionNotFound, want: ErrorCodeNotFound},
		{name: "unauthorized", err: ErrUnauthorized, want: ErrorCodeUnauthorized},
		{name: "invalid reason", err: fmt.Errorf("%w: reason is required", ErrInvalidReason), want: ErrorCodeBadRequest},
		{name: "invalid participant", err: ErrInvalidParticipant, want: ErrorCodeBadRequest},
		{name: "unknown", err: errors.New("connection reset"), want: ErrorCodeInternal},
		{name: "store failure", err: WrapError("store", "transaction", "insert", errors.New("boom")), want: ErrorCodeInternal},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := ErrorCodeOf(testCase.err); got != testCase.want {
				test.Fatalf(errorMismatchMessage, testCase.want, got)
			}
		})
	}
}

func TestInsufficientFundsErrorMessage(test *testing.T) {
	test.Parallel()
	err := InsufficientFundsError{AccountID: 4, Balance: 50, Delta: -100}
	expected := "insufficient funds: account 4 has balance 50, net change -100"
	if err.Error() != expected {
		test.Fatalf("expected %q, got %q", expected, err.Error())
	}
}
