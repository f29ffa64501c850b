package ledger

import "context"

// ReplayCache short-circuits idempotent replays before the store lookup.
// The store stays authoritative; a miss or error falls through to it.
type ReplayCache interface {
	Load(ctx context.Context, service ServiceName, key IdempotencyKey) (PostResult, bool, error)
	Store(ctx context.Context, service ServiceName, key IdempotencyKey, result PostResult) error
}

func (service *Service) loadReplay(ctx context.Context, serviceName ServiceName, key IdempotencyKey) (PostResult, bool) {
	if service.replayCache == nil {
		return PostResult{}, false
	}
	result, found, err := service.replayCache.Load(ctx, serviceName, key)
	if err != nil || !found {
		return PostResult{}, false
	}
	result.Idempotent = true
	return result, true
}

func (service *Service) storeReplay(ctx context.Context, serviceName ServiceName, key IdempotencyKey, result PostResult) {
	if service.replayCache == nil || key.IsZero() {
		return
	}
	result.Idempotent = false
	_ = service.replayCache.Store(ctx, serviceName, key, result)
}

func replayResult(transaction PostedTransaction) PostResult {
	entries := make([]PostedEntry, len(transaction.Entries))
	copy(entries, transaction.Entries)
	return PostResult{
		TransactionID: transaction.Record.ID,
		CreatedAt:     transaction.Record.CreatedAt,
		Idempotent:    true,
		Entries:       entries,
	}
}
