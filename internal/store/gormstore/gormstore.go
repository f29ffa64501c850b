package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON     = "{}"
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectTransaction = "transaction"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLock           = "lock"
	errorCodeLookup         = "lookup"
	errorCodeUpdate         = "update"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateUserAccount(ctx context.Context, userID ledger.UserID, at time.Time) (ledger.Account, error) {
	owner := userID.Int64()
	model := Account{Kind: string(ledger.AccountKindUser), OwnerUserID: &owner, CreatedAt: at, UpdatedAt: at}
	return store.createAccount(ctx, &model)
}

func (store *Store) CreateSystemAccount(ctx context.Context, name ledger.SystemAccountName, at time.Time) (ledger.Account, error) {
	systemName := name.String()
	model := Account{Kind: string(ledger.AccountKindSystem), SystemName: &systemName, CreatedAt: at, UpdatedAt: at}
	return store.createAccount(ctx, &model)
}

func (store *Store) createAccount(ctx context.Context, model *Account) (ledger.Account, error) {
	err := store.db.WithContext(ctx).Create(model).Error
	if isUniqueViolation(err) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return mapAccount(*model), nil
}

func (store *Store) FindUserAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return store.findAccount(ctx, "kind = ? AND owner_user_id = ?", string(ledger.AccountKindUser), userID.Int64())
}

func (store *Store) FindSystemAccount(ctx context.Context, name ledger.SystemAccountName) (ledger.Account, error) {
	return store.findAccount(ctx, "kind = ? AND system_name = ?", string(ledger.AccountKindSystem), name.String())
}

func (store *Store) FindAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return store.findAccount(ctx, "id = ?", accountID.Int64())
}

func (store *Store) findAccount(ctx context.Context, query string, args ...any) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).Where(query, args...).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return mapAccount(model), nil
}

// LockAccounts takes row locks in ascending id order. Missing ids are omitted from the result.
func (store *Store) LockAccounts(ctx context.Context, accountIDs []ledger.AccountID) ([]ledger.Account, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		ids = append(ids, accountID.Int64())
	}
	var rows []Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	accounts := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, mapAccount(row))
	}
	return accounts, nil
}

func (store *Store) UpdateBalance(ctx context.Context, accountID ledger.AccountID, balance int64, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", accountID.Int64()).
		UpdateColumns(map[string]any{"balance": balance, "updated_at": at})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, record ledger.TransactionRecord) (ledger.TransactionRecord, error) {
	model := Transaction{
		CreatedAt:        record.CreatedAt,
		CreatedBy:        record.CreatedBy.Int64(),
		CreatedByService: record.Service.String(),
		Reason:           record.Reason.String(),
		Metadata:         datatypesJSON(record.Metadata.String()),
	}
	if record.Source != nil {
		table := record.Source.Table
		sourceID := record.Source.RecordID
		model.SourceTable = &table
		model.SourceID = &sourceID
	}
	if !record.IdempotencyKey.IsZero() {
		key := record.IdempotencyKey.String()
		model.IdempotencyKey = &key
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return ledger.TransactionRecord{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.TransactionRecord{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	record.ID = ledger.TransactionID(model.ID)
	return record, nil
}

func (store *Store) InsertEntries(ctx context.Context, transactionID ledger.TransactionID, entries []ledger.PostedEntry, at time.Time) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]TransactionEntry, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, TransactionEntry{
			TransactionID: transactionID.Int64(),
			AccountID:     entry.AccountID.Int64(),
			Amount:        entry.Delta,
			BalanceAfter:  entry.BalanceAfter,
			CreatedAt:     at,
		})
	}
	if err := store.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) FindTransactionByIdempotencyKey(ctx context.Context, service ledger.ServiceName, key ledger.IdempotencyKey) (ledger.PostedTransaction, error) {
	return store.findTransaction(ctx, "created_by_service = ? AND idempotency_key = ?", service.String(), key.String())
}

func (store *Store) GetTransaction(ctx context.Context, transactionID ledger.TransactionID) (ledger.PostedTransaction, error) {
	return store.findTransaction(ctx, "id = ?", transactionID.Int64())
}

func (store *Store) findTransaction(ctx context.Context, query string, args ...any) (ledger.PostedTransaction, error) {
	db := store.db.WithContext(ctx)
	var model Transaction
	if err := db.Where(query, args...).Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.PostedTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, ledger.ErrTransactionNotFound)
		}
		return ledger.PostedTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	var rows []TransactionEntry
	if err := db.Where("transaction_id = ?", model.ID).Order("id ASC").Find(&rows).Error; err != nil {
		return ledger.PostedTransaction{}, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	record, err := mapTransaction(model)
	if err != nil {
		return ledger.PostedTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	entries := make([]ledger.PostedEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, ledger.PostedEntry{
			AccountID:    ledger.AccountID(row.AccountID),
			Delta:        row.Amount,
			BalanceAfter: row.BalanceAfter,
		})
	}
	return ledger.PostedTransaction{Record: record, Entries: entries}, nil
}

func (store *Store) ListAccountEntries(ctx context.Context, accountID ledger.AccountID, beforeTransactionID ledger.TransactionID, limit int) ([]ledger.AccountEntry, error) {
	query := store.db.WithContext(ctx).
		Table("transaction_entries AS e").
		Select("e.transaction_id, t.reason, e.amount, e.balance_after, e.created_at").
		Joins("JOIN transactions AS t ON t.id = e.transaction_id").
		Where("e.account_id = ?", accountID.Int64())
	if beforeTransactionID > 0 {
		query = query.Where("e.transaction_id < ?", beforeTransactionID.Int64())
	}
	var rows []accountEntryRow
	err := query.Order("e.transaction_id DESC").Order("e.id ASC").Limit(limit).Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	entries := make([]ledger.AccountEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, ledger.AccountEntry{
			TransactionID: ledger.TransactionID(row.TransactionID),
			Reason:        row.Reason,
			Delta:         row.Amount,
			BalanceAfter:  row.BalanceAfter,
			CreatedAt:     row.CreatedAt.UTC(),
		})
	}
	return entries, nil
}

type accountEntryRow struct {
	TransactionID int64
	Reason        string
	Amount        int64
	BalanceAfter  int64
	CreatedAt     time.Time
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(model Account) ledger.Account {
	account := ledger.Account{
		ID:        ledger.AccountID(model.ID),
		Kind:      ledger.AccountKind(model.Kind),
		Balance:   model.Balance,
		CreatedAt: model.CreatedAt.UTC(),
		UpdatedAt: model.UpdatedAt.UTC(),
	}
	if model.OwnerUserID != nil {
		account.OwnerUserID = ledger.UserID(*model.OwnerUserID)
	}
	if model.SystemName != nil {
		account.SystemName = *model.SystemName
	}
	return account
}

func mapTransaction(model Transaction) (ledger.TransactionRecord, error) {
	service, err := ledger.NewServiceName(model.CreatedByService)
	if err != nil {
		return ledger.TransactionRecord{}, err
	}
	reason, err := ledger.NewReason(model.Reason)
	if err != nil {
		return ledger.TransactionRecord{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(model.Metadata))
	if err != nil {
		return ledger.TransactionRecord{}, err
	}
	record := ledger.TransactionRecord{
		ID:        ledger.TransactionID(model.ID),
		CreatedAt: model.CreatedAt.UTC(),
		CreatedBy: ledger.ActorID(model.CreatedBy),
		Service:   service,
		Reason:    reason,
		Metadata:  metadata,
	}
	if model.IdempotencyKey != nil {
		key, err := ledger.NewIdempotencyKey(*model.IdempotencyKey)
		if err != nil {
			return ledger.TransactionRecord{}, err
		}
		record.IdempotencyKey = key
	}
	if model.SourceTable != nil {
		var sourceID int64
		if model.SourceID != nil {
			sourceID = *model.SourceID
		}
		source, err := ledger.NewSource(*model.SourceTable, sourceID)
		if err != nil {
			return ledger.TransactionRecord{}, err
		}
		record.Source = source
	}
	return record, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

var _ ledger.Store = (*Store)(nil)
