package replaycache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"github.com/go-redis/redismock/v8"
)

const testTTL = time.Hour

func testPair(test *testing.T) (ledger.ServiceName, ledger.IdempotencyKey) {
	test.Helper()
	service, err := ledger.NewServiceName("challenge-server")
	if err != nil {
		test.Fatalf("service name: %v", err)
	}
	key, err := ledger.NewIdempotencyKey("award:1")
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return service, key
}

func sampleResult() ledger.PostResult {
	return ledger.PostResult{
		TransactionID: 17,
		CreatedAt:     time.Date(2024, time.March, 1, 12, 0, 0, 123000000, time.UTC),
		Entries: []ledger.PostedEntry{
			{AccountID: 1, Delta: -25, BalanceAfter: 75},
			{AccountID: 2, Delta: 25, BalanceAfter: 25},
		},
	}
}

func TestKeyFormat(test *testing.T) {
	test.Parallel()
	service, key := testPair(test)
	if got := Key(service, key); got != "blertbank:replay:16:challenge-server:award:1" {
		test.Fatalf("unexpected key %q", got)
	}
}

func TestKeyKeepsServicesApart(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name          string
		firstService  string
		firstKey      string
		secondService string
		secondKey     string
	}{
		{name: "colon moves between parts", firstService: "a:b", firstKey: "c", secondService: "a", secondKey: "b:c"},
		{name: "numeric service prefix", firstService: "1", firstKey: "x:y", secondService: "1:x", secondKey: "y"},
		{name: "same key different service", firstService: "web-app", firstKey: "k1", secondService: "event-server", secondKey: "k1"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			first := Key(mustServiceName(test, testCase.firstService), mustIdempotencyKey(test, testCase.firstKey))
			second := Key(mustServiceName(test, testCase.secondService), mustIdempotencyKey(test, testCase.secondKey))
			if first == second {
				test.Fatalf("pairs collide on %q", first)
			}
		})
	}
}

func mustServiceName(test *testing.T, raw string) ledger.ServiceName {
	test.Helper()
	service, err := ledger.NewServiceName(raw)
	if err != nil {
		test.Fatalf("service name: %v", err)
	}
	return service
}

func mustIdempotencyKey(test *testing.T, raw string) ledger.IdempotencyKey {
	test.Helper()
	key, err := ledger.NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return key
}

func TestStoreWritesWithTTL(test *testing.T) {
	test.Parallel()
	client, mock := redismock.NewClientMock()
	cache, err := New(client, testTTL)
	if err != nil {
		test.Fatalf("new cache: %v", err)
	}
	service, key := testPair(test)
	payload, err := encode(sampleResult())
	if err != nil {
		test.Fatalf("encode: %v", err)
	}
	mock.ExpectSet(Key(service, key), payload, testTTL).SetVal("OK")
	if err := cache.Store(context.Background(), service, key, sampleResult()); err != nil {
		test.Fatalf("store: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		test.Fatalf("expectations: %v", err)
	}
}

func TestLoadHitDecodesResult(test *testing.T) {
	test.Parallel()
	client, mock := redismock.NewClientMock()
	cache, err := New(client, testTTL)
	if err != nil {
		test.Fatalf("new cache: %v", err)
	}
	service, key := testPair(test)
	payload, err := encode(sampleResult())
	if err != nil {
		test.Fatalf("encode: %v", err)
	}
	mock.ExpectGet(Key(service, key)).SetVal(payload)
	result, found, err := cache.Load(context.Background(), service, key)
	if err != nil || !found {
		test.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	expected := sampleResult()
	if result.TransactionID != expected.TransactionID || !result.CreatedAt.Equal(expected.CreatedAt) {
		test.Fatalf("unexpected result %+v", result)
	}
	if len(result.Entries) != 2 || result.Entries[0] != expected.Entries[0] || result.Entries[1] != expected.Entries[1] {
		test.Fatalf("unexpected entries %+v", result.Entries)
	}
}

func TestLoadMissAndFailure(test *testing.T) {
	test.Parallel()
	client, mock := redismock.NewClientMock()
	cache, err := New(client, testTTL)
	if err != nil {
		test.Fatalf("new cache: %v", err)
	}
	service, key := testPair(test)

	mock.ExpectGet(Key(service, key)).RedisNil()
	if _, found, err := cache.Load(context.Background(), service, key); found || err != nil {
		test.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}

	mock.ExpectGet(Key(service, key)).SetErr(errors.New("connection refused"))
	if _, found, err := cache.Load(context.Background(), service, key); found || err == nil {
		test.Fatalf("expected error, got found=%v err=%v", found, err)
	}

	mock.ExpectGet(Key(service, key)).SetVal("not-json")
	if _, found, err := cache.Load(context.Background(), service, key); found || err == nil {
		test.Fatalf("expected decode error, got found=%v err=%v", found, err)
	}
}

func TestNewRejectsInvalidArguments(test *testing.T) {
	test.Parallel()
	if _, err := New(nil, testTTL); err == nil {
		test.Fatalf("expected nil client to be rejected")
	}
	client, _ := redismock.NewClientMock()
	if _, err := New(client, 0); err == nil {
		test.Fatalf("expected zero ttl to be rejected")
	}
}
