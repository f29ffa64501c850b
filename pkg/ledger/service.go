package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service contains the domain logic over a Store.
type Service struct {
	store       Store
	nowFn       func() time.Time
	logger      OperationLogger
	policy      BalancePolicy
	replayCache ReplayCache
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, policy: NewBalancePolicy()}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// GetOrCreateUserAccount returns the user's account, creating it with a zero
// balance on first reference. The boolean reports whether this call created it.
func (service *Service) GetOrCreateUserAccount(ctx context.Context, userID UserID) (Account, bool, error) {
	account, created, err := service.getOrCreateUserAccount(ctx, userID)
	if created || err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationGetOrCreateAccount,
			UserID:    userID,
			AccountID: account.ID,
			Error:     err,
		})
	}
	return account, created, err
}

func (service *Service) getOrCreateUserAccount(ctx context.Context, userID UserID) (Account, bool, error) {
	account, err := service.store.FindUserAccount(ctx, userID)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, err
	}
	account, err = service.store.CreateUserAccount(ctx, userID, service.nowFn().UTC())
	if err == nil {
		return account, true, nil
	}
	if !errors.Is(err, ErrAccountExists) {
		return Account{}, false, err
	}
	// Lost a concurrent creation; the winner's row is authoritative.
	account, err = service.store.FindUserAccount(ctx, userID)
	if err != nil {
		return Account{}, false, err
	}
	return account, false, nil
}

// EnsureSystemAccount returns the named system account, creating it when missing.
func (service *Service) EnsureSystemAccount(ctx context.Context, name SystemAccountName) (Account, bool, error) {
	account, created, err := service.ensureSystemAccount(ctx, name)
	if created || err != nil {
		service.logOperation(ctx, OperationLog{
			Operation:  operationEnsureSystemAccount,
			SystemName: name.String(),
			AccountID:  account.ID,
			Error:      err,
		})
	}
	return account, created, err
}

func (service *Service) ensureSystemAccount(ctx context.Context, name SystemAccountName) (Account, bool, error) {
	account, err := service.store.FindSystemAccount(ctx, name)
	if err == nil {
		return account, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, err
	}
	account, err = service.store.CreateSystemAccount(ctx, name, service.nowFn().UTC())
	if err == nil {
		return account, true, nil
	}
	if !errors.Is(err, ErrAccountExists) {
		return Account{}, false, err
	}
	account, err = service.store.FindSystemAccount(ctx, name)
	if err != nil {
		return Account{}, false, err
	}
	return account, false, nil
}

// GetUserAccount looks up a user's account without creating it.
func (service *Service) GetUserAccount(ctx context.Context, userID UserID) (Account, error) {
	account, err := service.store.FindUserAccount(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, AccountNotFoundError{Reference: fmt.Sprintf("User %d does not have an account", userID.Int64())}
	}
	return account, err
}

// GetAccount looks up an account of any kind by id.
func (service *Service) GetAccount(ctx context.Context, accountID AccountID) (Account, error) {
	account, err := service.store.FindAccount(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, AccountNotFoundError{Reference: fmt.Sprintf("Account %d not found", accountID.Int64())}
	}
	return account, err
}

// GetSystemAccount looks up a system account by name.
func (service *Service) GetSystemAccount(ctx context.Context, name SystemAccountName) (Account, error) {
	account, err := service.store.FindSystemAccount(ctx, name)
	if errors.Is(err, ErrAccountNotFound) {
		return Account{}, AccountNotFoundError{Reference: fmt.Sprintf("System account '%s' not found", name.String())}
	}
	return account, err
}

// PostTransaction validates and atomically commits a zero-sum set of entries.
// A request carrying an idempotency key already committed by the same caller
// service returns the original result marked Idempotent without re-validation.
func (service *Service) PostTransaction(ctx context.Context, caller Caller, request PostTransactionRequest) (PostResult, error) {
	result, err := service.postTransaction(ctx, caller, request)
	status := ""
	if err == nil && result.Idempotent {
		status = operationStatusReplayed
	}
	service.logOperation(ctx, OperationLog{
		Operation:      operationPostTransaction,
		Service:        caller.Service,
		RequestID:      caller.RequestID,
		CreatedBy:      request.CreatedBy,
		IdempotencyKey: request.IdempotencyKey,
		TransactionID:  result.TransactionID,
		EntryCount:     len(request.Entries),
		Status:         status,
		Error:          err,
	})
	return result, err
}

func (service *Service) postTransaction(ctx context.Context, caller Caller, request PostTransactionRequest) (PostResult, error) {
	key := request.IdempotencyKey
	if !key.IsZero() {
		if cached, found := service.loadReplay(ctx, caller.Service, key); found {
			return cached, nil
		}
		existing, err := service.store.FindTransactionByIdempotencyKey(ctx, caller.Service, key)
		if err == nil {
			return replayResult(existing), nil
		}
		if !errors.Is(err, ErrTransactionNotFound) {
			return PostResult{}, err
		}
	}

	if err := validateEntries(request.Entries); err != nil {
		return PostResult{}, err
	}

	createdAt := service.nowFn().UTC()
	var result PostResult
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		record, err := txStore.InsertTransaction(ctx, TransactionRecord{
			CreatedAt:      createdAt,
			CreatedBy:      request.CreatedBy,
			Service:        caller.Service,
			Reason:         request.Reason,
			Source:         request.Source,
			IdempotencyKey: key,
			Metadata:       request.Metadata,
		})
		if err != nil {
			return err
		}
		posted, err := ApplyEntries(ctx, txStore, service.policy, request.Entries, createdAt)
		if err != nil {
			return err
		}
		if err := txStore.InsertEntries(ctx, record.ID, posted, createdAt); err != nil {
			return err
		}
		result = PostResult{
			TransactionID: record.ID,
			CreatedAt:     record.CreatedAt,
			Entries:       posted,
		}
		return nil
	})
	if err != nil {
		if key.IsZero() || !errors.Is(err, ErrDuplicateIdempotencyKey) {
			return PostResult{}, err
		}
		// A concurrent request with the same key committed first.
		existing, findErr := service.store.FindTransactionByIdempotencyKey(ctx, caller.Service, key)
		if findErr != nil {
			return PostResult{}, findErr
		}
		return replayResult(existing), nil
	}
	service.storeReplay(ctx, caller.Service, key, result)
	return result, nil
}

func validateEntries(entries []EntryInput) error {
	if len(entries) < minimumEntryCount {
		return fmt.Errorf("%w: a transaction requires at least two entries", ErrUnbalancedTransaction)
	}
	for _, entry := range entries {
		if _, err := NewEntryAmount(entry.Amount); err != nil {
			return err
		}
	}
	var sum int64
	for _, entry := range entries {
		next, ok := addInt64(sum, entry.Amount)
		if !ok {
			return fmt.Errorf("%w: entry amounts out of range", ErrInvalidAmount)
		}
		sum = next
	}
	if sum != 0 {
		return fmt.Errorf("%w: transaction entries do not sum to zero", ErrUnbalancedTransaction)
	}
	return nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
