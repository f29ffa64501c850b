package ledger

import (
	"errors"
	"testing"
	"time"
)

const (
	errorMismatchMessage = "expected %v, got %v"
	testServiceName      = "challenge-server"
	testReason           = "challenge reward"
)

var errStoreFailure = errors.New("store error")

var fixedNow = time.Date(2025, time.November, 15, 20, 47, 7, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, fixedClock, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustServiceName(test *testing.T, raw string) ServiceName {
	test.Helper()
	name, err := NewServiceName(raw)
	if err != nil {
		test.Fatalf("service name: %v", err)
	}
	return name
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func mustReason(test *testing.T, raw string) Reason {
	test.Helper()
	reason, err := NewReason(raw)
	if err != nil {
		test.Fatalf("reason: %v", err)
	}
	return reason
}

func mustSystemName(test *testing.T, raw string) SystemAccountName {
	test.Helper()
	name, err := NewSystemAccountName(raw)
	if err != nil {
		test.Fatalf("system account name: %v", err)
	}
	return name
}

func testCaller(test *testing.T) Caller {
	test.Helper()
	return Caller{Service: mustServiceName(test, testServiceName), RequestID: "req-1"}
}

func postRequest(test *testing.T, entries ...EntryInput) PostTransactionRequest {
	test.Helper()
	return PostTransactionRequest{
		CreatedBy: 0,
		Reason:    mustReason(test, testReason),
		Entries:   entries,
	}
}

func entry(accountID AccountID, amount int64) EntryInput {
	return EntryInput{AccountID: accountID, Amount: amount}
}
