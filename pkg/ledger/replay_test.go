package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type memoryReplayCache struct {
	mutex     sync.Mutex
	results   map[string]PostResult
	loadError error
}

func newMemoryReplayCache() *memoryReplayCache {
	return &memoryReplayCache{results: map[string]PostResult{}}
}

func (cache *memoryReplayCache) Load(_ context.Context, service ServiceName, key IdempotencyKey) (PostResult, bool, error) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.loadError != nil {
		return PostResult{}, false, cache.loadError
	}
	result, found := cache.results[service.String()+"/"+key.String()]
	return result, found, nil
}

func (cache *memoryReplayCache) Store(_ context.Context, service ServiceName, key IdempotencyKey, result PostResult) error {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.results[service.String()+"/"+key.String()] = result
	return nil
}

func TestReplayCacheServesRepeatedKeys(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	payer := store.seedUserAccount(test, 1, 100)
	payee := store.seedUserAccount(test, 2, 0)
	cache := newMemoryReplayCache()
	service := mustNewService(test, store, WithReplayCache(cache))
	request := postRequest(test, entry(payer.ID, -10), entry(payee.ID, 10))
	request.IdempotencyKey = mustIdempotencyKey(test, "cached")

	first, err := service.PostTransaction(context.Background(), testCaller(test), request)
	if err != nil {
		test.Fatalf("post: %v", err)
	}
	if len(cache.results) != 1 {
		test.Fatalf("expected the committed result to be cached")
	}
	// The store lookup would fail; the cache answers first.
	store.faults.findTransactionError = errStoreFailure
	second, err := service.PostTransaction(context.Background(), testCaller(test), request)
	if err != nil {
		test.Fatalf("replay: %v", err)
	}
	if !second.Idempotent || second.TransactionID != first.TransactionID {
		test.Fatalf("unexpected replay %+v", second)
	}
	assertPostedEntries(test, first.Entries, second.Entries)
}

func TestReplayCacheFailureFallsBackToStore(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	payer := store.seedUserAccount(test, 1, 100)
	payee := store.seedUserAccount(test, 2, 0)
	cache := newMemoryReplayCache()
	cache.loadError = errors.New("redis unavailable")
	service := mustNewService(test, store, WithReplayCache(cache))
	request := postRequest(test, entry(payer.ID, -10), entry(payee.ID, 10))
	request.IdempotencyKey = mustIdempotencyKey(test, "fallback")

	first, err := service.PostTransaction(context.Background(), testCaller(test), request)
	if err != nil {
		test.Fatalf("post: %v", err)
	}
	second, err := service.PostTransaction(context.Background(), testCaller(test), request)
	if err != nil {
		test.Fatalf("replay: %v", err)
	}
	if !second.Idempotent || second.TransactionID != first.TransactionID {
		test.Fatalf("unexpected replay %+v", second)
	}
	if store.balanceOf(test, payer.ID) != 90 {
		test.Fatalf(errorMismatchMessage, 90, store.balanceOf(test, payer.ID))
	}
}

func TestReplayCacheSkipsRequestsWithoutKey(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	payer := store.seedUserAccount(test, 1, 100)
	payee := store.seedUserAccount(test, 2, 0)
	cache := newMemoryReplayCache()
	service := mustNewService(test, store, WithReplayCache(cache))

	if _, err := service.PostTransaction(context.Background(), testCaller(test), postRequest(test, entry(payer.ID, -10), entry(payee.ID, 10))); err != nil {
		test.Fatalf("post: %v", err)
	}
	if len(cache.results) != 0 {
		test.Fatalf("expected nothing cached without an idempotency key")
	}
}
