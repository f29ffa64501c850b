package replaycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"github.com/go-redis/redis/v8"
)

const keyPrefix = "blertbank:replay:"

// Cache keeps committed posting results in Redis, keyed by (service, idempotency key).
type Cache struct {
	client redis.Cmdable
	ttl    time.Duration
}

type cachedEntry struct {
	AccountID    int64 `json:"accountId"`
	Delta        int64 `json:"delta"`
	BalanceAfter int64 `json:"balanceAfter"`
}

type cachedResult struct {
	TransactionID int64         `json:"transactionId"`
	CreatedAt     time.Time     `json:"createdAt"`
	Entries       []cachedEntry `json:"entries"`
}

// New constructs a cache; ttl bounds how long a replay is served from Redis.
func New(client redis.Cmdable, ttl time.Duration) (*Cache, error) {
	if client == nil {
		return nil, errors.New("replay cache requires a redis client")
	}
	if ttl <= 0 {
		return nil, errors.New("replay cache ttl must be positive")
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Key returns the Redis key for a (service, idempotency key) pair.
// The service name is length-prefixed so a ':' in either part cannot make two pairs collide.
func Key(service ledger.ServiceName, key ledger.IdempotencyKey) string {
	serviceName := service.String()
	return keyPrefix + strconv.Itoa(len(serviceName)) + ":" + serviceName + ":" + key.String()
}

// Load returns the cached result, or false when Redis has none.
func (cache *Cache) Load(ctx context.Context, service ledger.ServiceName, key ledger.IdempotencyKey) (ledger.PostResult, bool, error) {
	payload, err := cache.client.Get(ctx, Key(service, key)).Result()
	if errors.Is(err, redis.Nil) {
		return ledger.PostResult{}, false, nil
	}
	if err != nil {
		return ledger.PostResult{}, false, fmt.Errorf("replay cache get: %w", err)
	}
	result, err := decode(payload)
	if err != nil {
		return ledger.PostResult{}, false, err
	}
	return result, true, nil
}

// Store saves a committed result under the pair's key with the configured TTL.
func (cache *Cache) Store(ctx context.Context, service ledger.ServiceName, key ledger.IdempotencyKey, result ledger.PostResult) error {
	payload, err := encode(result)
	if err != nil {
		return err
	}
	if err := cache.client.Set(ctx, Key(service, key), payload, cache.ttl).Err(); err != nil {
		return fmt.Errorf("replay cache set: %w", err)
	}
	return nil
}

func encode(result ledger.PostResult) (string, error) {
	cached := cachedResult{
		TransactionID: result.TransactionID.Int64(),
		CreatedAt:     result.CreatedAt.UTC(),
		Entries:       make([]cachedEntry, 0, len(result.Entries)),
	}
	for _, entry := range result.Entries {
		cached.Entries = append(cached.Entries, cachedEntry{
			AccountID:    entry.AccountID.Int64(),
			Delta:        entry.Delta,
			BalanceAfter: entry.BalanceAfter,
		})
	}
	payload, err := json.Marshal(cached)
	if err != nil {
		return "", fmt.Errorf("replay cache encode: %w", err)
	}
	return string(payload), nil
}

func decode(payload string) (ledger.PostResult, error) {
	var cached cachedResult
	if err := json.Unmarshal([]byte(payload), &cached); err != nil {
		return ledger.PostResult{}, fmt.Errorf("replay cache decode: %w", err)
	}
	result := ledger.PostResult{
		TransactionID: ledger.TransactionID(cached.TransactionID),
		CreatedAt:     cached.CreatedAt,
		Entries:       make([]ledger.PostedEntry, 0, len(cached.Entries)),
	}
	for _, entry := range cached.Entries {
		result.Entries = append(result.Entries, ledger.PostedEntry{
			AccountID:    ledger.AccountID(entry.AccountID),
			Delta:        entry.Delta,
			BalanceAfter: entry.BalanceAfter,
		})
	}
	return result, nil
}

var _ ledger.ReplayCache = (*Cache)(nil)
