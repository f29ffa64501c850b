package ledger

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

type stubFaults struct {
	findUserAccountError   error
	createUserAccountError error
	findTransactionError   error
	insertTransactionError error
	insertEntriesError     error
	updateBalanceError     error
	lockAccountsError      error
	createAccountRace      bool
	transactionRaceWinner  *PostedTransaction
}

type stubState struct {
	nextAccountID     int64
	nextTransactionID int64
	accounts          map[AccountID]Account
	transactions      map[TransactionID]PostedTransaction
}

func (state *stubState) clone() *stubState {
	cloned := &stubState{
		nextAccountID:     state.nextAccountID,
		nextTransactionID: state.nextTransactionID,
		accounts:          make(map[AccountID]Account, len(state.accounts)),
		transactions:      make(map[TransactionID]PostedTransaction, len(state.transactions)),
	}
	for id, account := range state.accounts {
		cloned.accounts[id] = account
	}
	for id, transaction := range state.transactions {
		entries := make([]PostedEntry, len(transaction.Entries))
		copy(entries, transaction.Entries)
		transaction.Entries = entries
		cloned.transactions[id] = transaction
	}
	return cloned
}

// stubStore is an in-memory Store; WithTx works on a snapshot that is only
// published on success, so failed units of work leave no trace.
type stubStore struct {
	root      *stubStore
	state     *stubState
	faults    *stubFaults
	dataMutex *sync.Mutex
	txMutex   *sync.Mutex
	lockCalls *[][]AccountID
	updates   *[]AccountID
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	store := &stubStore{
		state: &stubState{
			accounts:     map[AccountID]Account{},
			transactions: map[TransactionID]PostedTransaction{},
		},
		faults:    &stubFaults{},
		dataMutex: &sync.Mutex{},
		txMutex:   &sync.Mutex{},
		lockCalls: &[][]AccountID{},
		updates:   &[]AccountID{},
	}
	store.root = store
	return store
}

func (store *stubStore) seedUserAccount(test *testing.T, userID int64, balance int64) Account {
	test.Helper()
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	return store.insertAccountLocked(Account{Kind: AccountKindUser, OwnerUserID: UserID(userID), Balance: balance})
}

func (store *stubStore) seedSystemAccount(test *testing.T, name string, balance int64) Account {
	test.Helper()
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	return store.insertAccountLocked(Account{Kind: AccountKindSystem, SystemName: name, Balance: balance})
}

func (store *stubStore) insertAccountLocked(account Account) Account {
	store.state.nextAccountID++
	account.ID = AccountID(store.state.nextAccountID)
	store.state.accounts[account.ID] = account
	return account
}

func (store *stubStore) balanceOf(test *testing.T, accountID AccountID) int64 {
	test.Helper()
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	account, found := store.state.accounts[accountID]
	if !found {
		test.Fatalf("account %d not found", accountID)
	}
	return account.Balance
}

func (store *stubStore) transactionCount() int {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	return len(store.state.transactions)
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()
	store.dataMutex.Lock()
	snapshot := store.state.clone()
	store.dataMutex.Unlock()

	txStore := *store
	txStore.state = snapshot
	if err := fn(ctx, &txStore); err != nil {
		return err
	}
	store.dataMutex.Lock()
	*store.state = *snapshot
	store.dataMutex.Unlock()
	return nil
}

func (store *stubStore) CreateUserAccount(_ context.Context, userID UserID, at time.Time) (Account, error) {
	if store.faults.createUserAccountError != nil {
		return Account{}, store.faults.createUserAccountError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if store.faults.createAccountRace {
		store.faults.createAccountRace = false
		store.root.insertAccountLocked(Account{Kind: AccountKindUser, OwnerUserID: userID, CreatedAt: at, UpdatedAt: at})
		return Account{}, WrapError("store", "account", "duplicate", ErrAccountExists)
	}
	for _, account := range store.state.accounts {
		if account.Kind == AccountKindUser && account.OwnerUserID == userID {
			return Account{}, WrapError("store", "account", "duplicate", ErrAccountExists)
		}
	}
	return store.insertAccountLocked(Account{Kind: AccountKindUser, OwnerUserID: userID, CreatedAt: at, UpdatedAt: at}), nil
}

func (store *stubStore) CreateSystemAccount(_ context.Context, name SystemAccountName, at time.Time) (Account, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	for _, account := range store.state.accounts {
		if account.Kind == AccountKindSystem && account.SystemName == name.String() {
			return Account{}, WrapError("store", "account", "duplicate", ErrAccountExists)
		}
	}
	return store.insertAccountLocked(Account{Kind: AccountKindSystem, SystemName: name.String(), CreatedAt: at, UpdatedAt: at}), nil
}

func (store *stubStore) FindUserAccount(_ context.Context, userID UserID) (Account, error) {
	if store.faults.findUserAccountError != nil {
		return Account{}, store.faults.findUserAccountError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	for _, account := range store.state.accounts {
		if account.Kind == AccountKindUser && account.OwnerUserID == userID {
			return account, nil
		}
	}
	return Account{}, WrapError("store", "account", "not_found", ErrAccountNotFound)
}

func (store *stubStore) FindSystemAccount(_ context.Context, name SystemAccountName) (Account, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	for _, account := range store.state.accounts {
		if account.Kind == AccountKindSystem && account.SystemName == name.String() {
			return account, nil
		}
	}
	return Account{}, WrapError("store", "account", "not_found", ErrAccountNotFound)
}

func (store *stubStore) FindAccount(_ context.Context, accountID AccountID) (Account, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	account, found := store.state.accounts[accountID]
	if !found {
		return Account{}, WrapError("store", "account", "not_found", ErrAccountNotFound)
	}
	return account, nil
}

func (store *stubStore) LockAccounts(_ context.Context, accountIDs []AccountID) ([]Account, error) {
	if store.faults.lockAccountsError != nil {
		return nil, store.faults.lockAccountsError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	requested := make([]AccountID, len(accountIDs))
	copy(requested, accountIDs)
	*store.lockCalls = append(*store.lockCalls, requested)
	accounts := make([]Account, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		account, found := store.state.accounts[accountID]
		if !found {
			continue
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (store *stubStore) UpdateBalance(_ context.Context, accountID AccountID, balance int64, at time.Time) error {
	if store.faults.updateBalanceError != nil {
		return store.faults.updateBalanceError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	account := store.state.accounts[accountID]
	account.Balance = balance
	account.UpdatedAt = at
	store.state.accounts[accountID] = account
	*store.updates = append(*store.updates, accountID)
	return nil
}

func (store *stubStore) InsertTransaction(_ context.Context, record TransactionRecord) (TransactionRecord, error) {
	if store.faults.insertTransactionError != nil {
		return TransactionRecord{}, store.faults.insertTransactionError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	if winner := store.faults.transactionRaceWinner; winner != nil {
		store.faults.transactionRaceWinner = nil
		store.root.state.transactions[winner.Record.ID] = *winner
		return TransactionRecord{}, WrapError("store", "transaction", "duplicate", ErrDuplicateIdempotencyKey)
	}
	if !record.IdempotencyKey.IsZero() {
		for _, existing := range store.state.transactions {
			if existing.Record.Service == record.Service && existing.Record.IdempotencyKey == record.IdempotencyKey {
				return TransactionRecord{}, WrapError("store", "transaction", "duplicate", ErrDuplicateIdempotencyKey)
			}
		}
	}
	store.state.nextTransactionID++
	record.ID = TransactionID(store.state.nextTransactionID)
	store.state.transactions[record.ID] = PostedTransaction{Record: record}
	return record, nil
}

func (store *stubStore) InsertEntries(_ context.Context, transactionID TransactionID, entries []PostedEntry, _ time.Time) error {
	if store.faults.insertEntriesError != nil {
		return store.faults.insertEntriesError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	transaction := store.state.transactions[transactionID]
	transaction.Entries = append(transaction.Entries, entries...)
	store.state.transactions[transactionID] = transaction
	return nil
}

func (store *stubStore) FindTransactionByIdempotencyKey(_ context.Context, service ServiceName, key IdempotencyKey) (PostedTransaction, error) {
	if store.faults.findTransactionError != nil {
		return PostedTransaction{}, store.faults.findTransactionError
	}
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	for _, transaction := range store.state.transactions {
		if transaction.Record.Service == service && transaction.Record.IdempotencyKey == key {
			return transaction, nil
		}
	}
	return PostedTransaction{}, WrapError("store", "transaction", "not_found", ErrTransactionNotFound)
}

func (store *stubStore) GetTransaction(_ context.Context, transactionID TransactionID) (PostedTransaction, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	transaction, found := store.state.transactions[transactionID]
	if !found {
		return PostedTransaction{}, WrapError("store", "transaction", "not_found", ErrTransactionNotFound)
	}
	return transaction, nil
}

func (store *stubStore) ListAccountEntries(_ context.Context, accountID AccountID, beforeTransactionID TransactionID, limit int) ([]AccountEntry, error) {
	store.dataMutex.Lock()
	defer store.dataMutex.Unlock()
	transactionIDs := make([]TransactionID, 0, len(store.state.transactions))
	for id := range store.state.transactions {
		if beforeTransactionID > 0 && id >= beforeTransactionID {
			continue
		}
		transactionIDs = append(transactionIDs, id)
	}
	sort.Slice(transactionIDs, func(left, right int) bool {
		return transactionIDs[left] > transactionIDs[right]
	})
	history := make([]AccountEntry, 0, limit)
	for _, id := range transactionIDs {
		transaction := store.state.transactions[id]
		for _, entry := range transaction.Entries {
			if entry.AccountID != accountID {
				continue
			}
			if len(history) == limit {
				return history, nil
			}
			history = append(history, AccountEntry{
				TransactionID: id,
				Reason:        transaction.Record.Reason.String(),
				Delta:         entry.Delta,
				BalanceAfter:  entry.BalanceAfter,
				CreatedAt:     transaction.Record.CreatedAt,
			})
		}
	}
	return history, nil
}
