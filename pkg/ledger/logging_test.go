package ledger

import (
	"context"
	"sync"
	"testing"
)

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsPostOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	payer := store.seedUserAccount(test, 1, 100)
	payee := store.seedUserAccount(test, 2, 0)
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	request := postRequest(test, entry(payer.ID, -10), entry(payee.ID, 10))
	request.IdempotencyKey = mustIdempotencyKey(test, "post-1")
	request.CreatedBy = 456

	result, err := service.PostTransaction(context.Background(), testCaller(test), request)
	if err != nil {
		test.Fatalf("post failed: %v", err)
	}
	if _, err := service.PostTransaction(context.Background(), testCaller(test), request); err != nil {
		test.Fatalf("replay failed: %v", err)
	}
	if len(logger.entries) != 2 {
		test.Fatalf("expected two log entries, got %d", len(logger.entries))
	}
	logEntry := logger.entries[0]
	if logEntry.Operation != operationPostTransaction || logEntry.Service.String() != testServiceName || logEntry.RequestID != "req-1" || logEntry.CreatedBy != 456 || logEntry.TransactionID != result.TransactionID || logEntry.EntryCount != 2 {
		test.Fatalf("unexpected log entry: %+v", logEntry)
	}
	if logEntry.Error != nil || logEntry.Status != operationStatusOK {
		test.Fatalf("expected successful log entry, got %+v", logEntry)
	}
	if logger.entries[1].Status != operationStatusReplayed {
		test.Fatalf("expected replayed status, got %+v", logger.entries[1])
	}
}

func TestServiceLogsErrorStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	payer := store.seedUserAccount(test, 1, 0)
	payee := store.seedUserAccount(test, 2, 0)
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))

	_, err := service.PostTransaction(context.Background(), testCaller(test), postRequest(test, entry(payer.ID, -10), entry(payee.ID, 10)))
	if err == nil {
		test.Fatalf("expected error")
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if logger.entries[0].Status != operationStatusError || logger.entries[0].Error == nil {
		test.Fatalf("expected error log entry, got %+v", logger.entries[0])
	}
}

func TestServiceLogsAccountCreationOnlyWhenCreated(test *testing.T) {
	test.Parallel()
	logger := &recorderLogger{}
	service := mustNewService(test, newStubStore(test), WithOperationLogger(logger))
	for index := 0; index < 3; index++ {
		if _, _, err := service.GetOrCreateUserAccount(context.Background(), UserID(12)); err != nil {
			test.Fatalf("get or create: %v", err)
		}
	}
	if len(logger.entries) != 1 || logger.entries[0].Operation != operationGetOrCreateAccount || logger.entries[0].UserID != 12 {
		test.Fatalf("unexpected log entries %+v", logger.entries)
	}
}
