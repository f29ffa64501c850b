package ledger

import (
	"context"
	"errors"
	"fmt"
)

// GetTransaction returns a committed transaction with its entries.
func (service *Service) GetTransaction(requestContext context.Context, transactionID TransactionID) (PostedTransaction, error) {
	return service.store.GetTransaction(requestContext, transactionID)
}

// ListAccountEntries lists an account's history newest first, starting below
// beforeTransactionID when it is non-zero. A zero limit selects the default.
func (service *Service) ListAccountEntries(requestContext context.Context, accountID AccountID, beforeTransactionID TransactionID, limit int) ([]AccountEntry, error) {
	normalizedLimit, err := normalizeListLimit(limit)
	if err != nil {
		return nil, err
	}
	if _, err := service.GetAccount(requestContext, accountID); err != nil {
		return nil, err
	}
	entries, err := service.store.ListAccountEntries(requestContext, accountID, beforeTransactionID, normalizedLimit)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, AccountNotFoundError{Reference: fmt.Sprintf("Account %d not found", accountID.Int64())}
	}
	return entries, err
}

func normalizeListLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidListLimit)
	case limit == 0:
		return defaultListEntriesLimit, nil
	case limit > maxListEntriesLimit:
		return maxListEntriesLimit, nil
	default:
		return limit, nil
	}
}
