package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// ApplyEntries locks every referenced account, computes the running balance
// for each entry in order, enforces the balance policy on the netted result
// and persists the balances of accounts whose net change is non-zero.
// It must run inside Store.WithTx.
func ApplyEntries(ctx context.Context, txStore Store, policy BalancePolicy, entries []EntryInput, at time.Time) ([]PostedEntry, error) {
	accountIDs := distinctAccountIDs(entries)
	accounts, err := txStore.LockAccounts(ctx, accountIDs)
	if err != nil {
		return nil, err
	}
	accountsByID := make(map[AccountID]Account, len(accounts))
	for _, account := range accounts {
		accountsByID[account.ID] = account
	}

	balances := make(map[AccountID]int64, len(accountIDs))
	for _, accountID := range accountIDs {
		account, found := accountsByID[accountID]
		if !found {
			return nil, AccountNotFoundError{Reference: fmt.Sprintf("Account %d not found", accountID.Int64())}
		}
		balances[accountID] = account.Balance
	}

	posted := make([]PostedEntry, 0, len(entries))
	for _, entry := range entries {
		next, ok := addInt64(balances[entry.AccountID], entry.Amount)
		if !ok {
			return nil, fmt.Errorf("%w: balance of account %d out of range", ErrInvalidAmount, entry.AccountID.Int64())
		}
		balances[entry.AccountID] = next
		posted = append(posted, PostedEntry{
			AccountID:    entry.AccountID,
			Delta:        entry.Amount,
			BalanceAfter: next,
		})
	}

	for _, accountID := range accountIDs {
		account := accountsByID[accountID]
		final := balances[accountID]
		if final < 0 && !policy.AllowsNegative(account) {
			return nil, InsufficientFundsError{
				AccountID: accountID,
				Balance:   account.Balance,
				Delta:     final - account.Balance,
			}
		}
	}

	for _, accountID := range accountIDs {
		if balances[accountID] == accountsByID[accountID].Balance {
			continue
		}
		if err := txStore.UpdateBalance(ctx, accountID, balances[accountID], at); err != nil {
			return nil, err
		}
	}
	return posted, nil
}

// distinctAccountIDs returns the referenced ids in ascending order, the lock order shared by every posting.
func distinctAccountIDs(entries []EntryInput) []AccountID {
	seen := make(map[AccountID]struct{}, len(entries))
	accountIDs := make([]AccountID, 0, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.AccountID]; ok {
			continue
		}
		seen[entry.AccountID] = struct{}{}
		accountIDs = append(accountIDs, entry.AccountID)
	}
	sort.Slice(accountIDs, func(left, right int) bool {
		return accountIDs[left] < accountIDs[right]
	})
	return accountIDs
}

func addInt64(left int64, right int64) (int64, bool) {
	if right > 0 && left > math.MaxInt64-right {
		return 0, false
	}
	if right < 0 && left < math.MinInt64-right {
		return 0, false
	}
	return left + right, true
}
