package gormstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
)

const parallelCallers = 25

func runParallel(count int, fn func(index int) error) []error {
	errs := make([]error, count)
	var waitGroup sync.WaitGroup
	start := make(chan struct{})
	for index := 0; index < count; index++ {
		waitGroup.Add(1)
		go func(index int) {
			defer waitGroup.Done()
			<-start
			errs[index] = fn(index)
		}(index)
	}
	close(start)
	waitGroup.Wait()
	return errs
}

func TestConcurrentDebitsNeverOverdraw(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	service := openTestService(test, store)
	ctx := context.Background()
	payer, _, err := service.GetOrCreateUserAccount(ctx, ledger.UserID(1))
	if err != nil {
		test.Fatalf("payer: %v", err)
	}
	payee, _, err := service.GetOrCreateUserAccount(ctx, ledger.UserID(2))
	if err != nil {
		test.Fatalf("payee: %v", err)
	}
	fund(test, service, payer, 100)

	caller := ledger.Caller{Service: mustServiceName(test, "shop")}
	reason := mustReason(test, "purchase")
	errs := runParallel(parallelCallers, func(int) error {
		_, err := service.PostTransaction(ctx, caller, ledger.PostTransactionRequest{
			Reason: reason,
			Entries: []ledger.EntryInput{
				{AccountID: payer.ID, Amount: -10},
				{AccountID: payee.ID, Amount: 10},
			},
		})
		return err
	})

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ledger.ErrInsufficientFunds):
			rejected++
		default:
			test.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 10 || rejected != parallelCallers-10 {
		test.Fatalf("expected 10 successes and %d rejections, got %d and %d", parallelCallers-10, succeeded, rejected)
	}
	payerAfter, _ := store.FindAccount(ctx, payer.ID)
	payeeAfter, _ := store.FindAccount(ctx, payee.ID)
	if payerAfter.Balance != 0 || payeeAfter.Balance != 100 {
		test.Fatalf("expected balances 0 and 100, got %d and %d", payerAfter.Balance, payeeAfter.Balance)
	}
	var entryCount int64
	if err := store.db.Model(&TransactionEntry{}).Where("account_id = ?", payer.ID.Int64()).Count(&entryCount).Error; err != nil {
		test.Fatalf("count: %v", err)
	}
	if entryCount != 11 {
		test.Fatalf("expected funding plus 10 debit entries, got %d", entryCount)
	}
}

func TestConcurrentGetOrCreateConverges(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	service := openTestService(test, store)
	ctx := context.Background()

	accountIDs := make([]ledger.AccountID, parallelCallers)
	createdFlags := make([]bool, parallelCallers)
	errs := runParallel(parallelCallers, func(index int) error {
		account, created, err := service.GetOrCreateUserAccount(ctx, ledger.UserID(999))
		accountIDs[index] = account.ID
		createdFlags[index] = created
		return err
	})

	createdCount := 0
	for index, err := range errs {
		if err != nil {
			test.Fatalf("caller %d: %v", index, err)
		}
		if accountIDs[index] != accountIDs[0] {
			test.Fatalf("expected one account id, got %d and %d", accountIDs[0], accountIDs[index])
		}
		if createdFlags[index] {
			createdCount++
		}
	}
	if createdCount != 1 {
		test.Fatalf("expected exactly one creation, got %d", createdCount)
	}
	var rows int64
	if err := store.db.Model(&Account{}).Where("owner_user_id = ?", 999).Count(&rows).Error; err != nil {
		test.Fatalf("count: %v", err)
	}
	if rows != 1 {
		test.Fatalf("expected one account row, got %d", rows)
	}
}

func TestConcurrentIdempotentPostsApplyOnce(test *testing.T) {
	test.Parallel()
	store := openTestStore(test)
	service := openTestService(test, store)
	ctx := context.Background()
	payer, _, _ := service.GetOrCreateUserAccount(ctx, ledger.UserID(1))
	payee, _, _ := service.GetOrCreateUserAccount(ctx, ledger.UserID(2))
	fund(test, service, payer, 100)

	caller := ledger.Caller{Service: mustServiceName(test, "challenge-server")}
	reason := mustReason(test, "reward")
	key := mustKey(test, "reward:7")
	results := make([]ledger.PostResult, parallelCallers)
	errs := runParallel(parallelCallers, func(index int) error {
		result, err := service.PostTransaction(ctx, caller, ledger.PostTransactionRequest{
			Reason:         reason,
			IdempotencyKey: key,
			Entries: []ledger.EntryInput{
				{AccountID: payer.ID, Amount: -30},
				{AccountID: payee.ID, Amount: 30},
			},
		})
		results[index] = result
		return err
	})

	fresh := 0
	for index, err := range errs {
		if err != nil {
			test.Fatalf("caller %d: %v", index, err)
		}
		if results[index].TransactionID != results[0].TransactionID {
			test.Fatalf("expected one transaction id, got %d and %d", results[0].TransactionID, results[index].TransactionID)
		}
		if !results[index].Idempotent {
			fresh++
		}
	}
	if fresh != 1 {
		test.Fatalf("expected exactly one non-replayed result, got %d", fresh)
	}
	payerAfter, _ := store.FindAccount(ctx, payer.ID)
	payeeAfter, _ := store.FindAccount(ctx, payee.ID)
	if payerAfter.Balance != 70 || payeeAfter.Balance != 30 {
		test.Fatalf("expected deltas applied once (70/30), got %d/%d", payerAfter.Balance, payeeAfter.Balance)
	}
	var transactions int64
	if err := store.db.Model(&Transaction{}).Where("idempotency_key = ?", "reward:7").Count(&transactions).Error; err != nil {
		test.Fatalf("count: %v", err)
	}
	if transactions != 1 {
		test.Fatalf("expected one persisted transaction, got %d", transactions)
	}
}
