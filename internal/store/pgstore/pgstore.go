package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolationCode   = "23505"
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectBalance     = "balance"
	errorSubjectEntry       = "entry"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLock           = "lock"
	errorCodeLookup         = "lookup"
	errorCodeUpdate         = "update"

	accountColumns = `id, kind, owner_user_id, system_name, balance, created_at, updated_at`

	sqlInsertAccount = `
		insert into accounts(kind, owner_user_id, system_name, balance, created_at, updated_at)
		values ($1, $2, $3, 0, $4, $4)
		returning ` + accountColumns

	sqlSelectUserAccount = `select ` + accountColumns + ` from accounts where kind = 'user' and owner_user_id = $1`

	sqlSelectSystemAccount = `select ` + accountColumns + ` from accounts where kind = 'system' and system_name = $1`

	sqlSelectAccount = `select ` + accountColumns + ` from accounts where id = $1`

	sqlLockAccounts = `select ` + accountColumns + ` from accounts where id = any($1) order by id for update`

	sqlUpdateBalance = `update accounts set balance = $2, updated_at = $3 where id = $1`

	sqlInsertTransaction = `
		insert into transactions(
			created_at, created_by, created_by_service, reason, source_table, source_id, idempotency_key, metadata
		)
		values ($1, $2, $3, $4, $5, $6, $7, coalesce(nullif($8,''),'{}')::jsonb)
		returning id
	`

	sqlInsertEntry = `
		insert into transaction_entries(transaction_id, account_id, amount, balance_after, created_at)
		values ($1, $2, $3, $4, $5)
	`

	transactionColumns = `id, created_at, created_by, created_by_service, reason, source_table, source_id, idempotency_key, coalesce(metadata::text,'{}')`

	sqlSelectTransactionByKey = `select ` + transactionColumns + ` from transactions where created_by_service = $1 and idempotency_key = $2`

	sqlSelectTransaction = `select ` + transactionColumns + ` from transactions where id = $1`

	sqlSelectTransactionEntries = `
		select account_id, amount, balance_after
		from transaction_entries
		where transaction_id = $1
		order by id
	`

	sqlListAccountEntries = `
		select e.transaction_id, t.reason, e.amount, e.balance_after, e.created_at
		from transaction_entries e
		join transactions t on t.id = e.transaction_id
		where e.account_id = $1 and ($2::bigint = 0 or e.transaction_id < $2::bigint)
		order by e.transaction_id desc, e.id
		limit $3
	`
)

// dbtx is the subset of pgx shared by the pool and an open transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

// TxStore implements ledger.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
	db dbtx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	return runInTx(ctx, tx, fn)
}

// WithTx nests through a savepoint.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	nested, err := store.tx.Begin(ctx)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	return runInTx(ctx, nested, fn)
}

func runInTx(ctx context.Context, tx pgx.Tx, fn func(ctx context.Context, txStore ledger.Store) error) error {
	transactionStore := &TxStore{tx: tx, db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CreateUserAccount(ctx context.Context, userID ledger.UserID, at time.Time) (ledger.Account, error) {
	return createUserAccount(ctx, store.db, userID, at)
}

func (store *TxStore) CreateUserAccount(ctx context.Context, userID ledger.UserID, at time.Time) (ledger.Account, error) {
	return createUserAccount(ctx, store.db, userID, at)
}

func (store *Store) CreateSystemAccount(ctx context.Context, name ledger.SystemAccountName, at time.Time) (ledger.Account, error) {
	return createSystemAccount(ctx, store.db, name, at)
}

func (store *TxStore) CreateSystemAccount(ctx context.Context, name ledger.SystemAccountName, at time.Time) (ledger.Account, error) {
	return createSystemAccount(ctx, store.db, name, at)
}

func (store *Store) FindUserAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return selectAccount(ctx, store.db, sqlSelectUserAccount, userID.Int64())
}

func (store *TxStore) FindUserAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error) {
	return selectAccount(ctx, store.db, sqlSelectUserAccount, userID.Int64())
}

func (store *Store) FindSystemAccount(ctx context.Context, name ledger.SystemAccountName) (ledger.Account, error) {
	return selectAccount(ctx, store.db, sqlSelectSystemAccount, name.String())
}

func (store *TxStore) FindSystemAccount(ctx context.Context, name ledger.SystemAccountName) (ledger.Account, error) {
	return selectAccount(ctx, store.db, sqlSelectSystemAccount, name.String())
}

func (store *Store) FindAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return selectAccount(ctx, store.db, sqlSelectAccount, accountID.Int64())
}

func (store *TxStore) FindAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error) {
	return selectAccount(ctx, store.db, sqlSelectAccount, accountID.Int64())
}

func (store *Store) LockAccounts(ctx context.Context, accountIDs []ledger.AccountID) ([]ledger.Account, error) {
	return lockAccounts(ctx, store.db, accountIDs)
}

func (store *TxStore) LockAccounts(ctx context.Context, accountIDs []ledger.AccountID) ([]ledger.Account, error) {
	return lockAccounts(ctx, store.db, accountIDs)
}

func (store *Store) UpdateBalance(ctx context.Context, accountID ledger.AccountID, balance int64, at time.Time) error {
	return updateBalance(ctx, store.db, accountID, balance, at)
}

func (store *TxStore) UpdateBalance(ctx context.Context, accountID ledger.AccountID, balance int64, at time.Time) error {
	return updateBalance(ctx, store.db, accountID, balance, at)
}

func (store *Store) InsertTransaction(ctx context.Context, record ledger.TransactionRecord) (ledger.TransactionRecord, error) {
	return insertTransaction(ctx, store.db, record)
}

func (store *TxStore) InsertTransaction(ctx context.Context, record ledger.TransactionRecord) (ledger.TransactionRecord, error) {
	return insertTransaction(ctx, store.db, record)
}

func (store *Store) InsertEntries(ctx context.Context, transactionID ledger.TransactionID, entries []ledger.PostedEntry, at time.Time) error {
	return insertEntries(ctx, store.db, transactionID, entries, at)
}

func (store *TxStore) InsertEntries(ctx context.Context, transactionID ledger.TransactionID, entries []ledger.PostedEntry, at time.Time) error {
	return insertEntries(ctx, store.db, transactionID, entries, at)
}

func (store *Store) FindTransactionByIdempotencyKey(ctx context.Context, service ledger.ServiceName, key ledger.IdempotencyKey) (ledger.PostedTransaction, error) {
	return selectTransaction(ctx, store.db, sqlSelectTransactionByKey, service.String(), key.String())
}

func (store *TxStore) FindTransactionByIdempotencyKey(ctx context.Context, service ledger.ServiceName, key ledger.IdempotencyKey) (ledger.PostedTransaction, error) {
	return selectTransaction(ctx, store.db, sqlSelectTransactionByKey, service.String(), key.String())
}

func (store *Store) GetTransaction(ctx context.Context, transactionID ledger.TransactionID) (ledger.PostedTransaction, error) {
	return selectTransaction(ctx, store.db, sqlSelectTransaction, transactionID.Int64())
}

func (store *TxStore) GetTransaction(ctx context.Context, transactionID ledger.TransactionID) (ledger.PostedTransaction, error) {
	return selectTransaction(ctx, store.db, sqlSelectTransaction, transactionID.Int64())
}

func (store *Store) ListAccountEntries(ctx context.Context, accountID ledger.AccountID, beforeTransactionID ledger.TransactionID, limit int) ([]ledger.AccountEntry, error) {
	return listAccountEntries(ctx, store.db, accountID, beforeTransactionID, limit)
}

func (store *TxStore) ListAccountEntries(ctx context.Context, accountID ledger.AccountID, beforeTransactionID ledger.TransactionID, limit int) ([]ledger.AccountEntry, error) {
	return listAccountEntries(ctx, store.db, accountID, beforeTransactionID, limit)
}

func createUserAccount(ctx context.Context, db dbtx, userID ledger.UserID, at time.Time) (ledger.Account, error) {
	owner := userID.Int64()
	return insertAccount(ctx, db, ledger.AccountKindUser, &owner, nil, at)
}

func createSystemAccount(ctx context.Context, db dbtx, name ledger.SystemAccountName, at time.Time) (ledger.Account, error) {
	systemName := name.String()
	return insertAccount(ctx, db, ledger.AccountKindSystem, nil, &systemName, at)
}

func insertAccount(ctx context.Context, db dbtx, kind ledger.AccountKind, owner *int64, systemName *string, at time.Time) (ledger.Account, error) {
	account, err := scanAccount(db.QueryRow(ctx, sqlInsertAccount, string(kind), owner, systemName, at))
	if isUniqueViolation(err) {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return account, nil
}

func selectAccount(ctx context.Context, db dbtx, query string, args ...any) (ledger.Account, error) {
	account, err := scanAccount(db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, ledger.ErrAccountNotFound)
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account, nil
}

func lockAccounts(ctx context.Context, db dbtx, accountIDs []ledger.AccountID) ([]ledger.Account, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(accountIDs))
	for _, accountID := range accountIDs {
		ids = append(ids, accountID.Int64())
	}
	rows, err := db.Query(ctx, sqlLockAccounts, ids)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	defer rows.Close()
	accounts := make([]ledger.Account, 0, len(ids))
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return accounts, nil
}

func updateBalance(ctx context.Context, db dbtx, accountID ledger.AccountID, balance int64, at time.Time) error {
	tag, err := db.Exec(ctx, sqlUpdateBalance, accountID.Int64(), balance, at)
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, ledger.ErrAccountNotFound)
	}
	return nil
}

func insertTransaction(ctx context.Context, db dbtx, record ledger.TransactionRecord) (ledger.TransactionRecord, error) {
	var sourceTable *string
	var sourceID *int64
	if record.Source != nil {
		table := record.Source.Table
		recordID := record.Source.RecordID
		sourceTable = &table
		sourceID = &recordID
	}
	var idempotencyKey *string
	if !record.IdempotencyKey.IsZero() {
		key := record.IdempotencyKey.String()
		idempotencyKey = &key
	}
	var transactionID int64
	err := db.QueryRow(ctx, sqlInsertTransaction,
		record.CreatedAt,
		record.CreatedBy.Int64(),
		record.Service.String(),
		record.Reason.String(),
		sourceTable,
		sourceID,
		idempotencyKey,
		record.Metadata.String(),
	).Scan(&transactionID)
	if isUniqueViolation(err) {
		return ledger.TransactionRecord{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return ledger.TransactionRecord{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	record.ID = ledger.TransactionID(transactionID)
	return record, nil
}

func insertEntries(ctx context.Context, db dbtx, transactionID ledger.TransactionID, entries []ledger.PostedEntry, at time.Time) error {
	for _, entry := range entries {
		if _, err := db.Exec(ctx, sqlInsertEntry, transactionID.Int64(), entry.AccountID.Int64(), entry.Delta, entry.BalanceAfter, at); err != nil {
			return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
		}
	}
	return nil
}

func selectTransaction(ctx context.Context, db dbtx, query string, args ...any) (ledger.PostedTransaction, error) {
	var (
		transactionID  int64
		createdAt      time.Time
		createdBy      int64
		serviceName    string
		reasonText     string
		sourceTable    *string
		sourceID       *int64
		idempotencyKey *string
		metadataText   string
	)
	err := db.QueryRow(ctx, query, args...).Scan(
		&transactionID,
		&createdAt,
		&createdBy,
		&serviceName,
		&reasonText,
		&sourceTable,
		&sourceID,
		&idempotencyKey,
		&metadataText,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.PostedTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, ledger.ErrTransactionNotFound)
		}
		return ledger.PostedTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeGet, err)
	}
	record, err := buildRecord(transactionID, createdAt, createdBy, serviceName, reasonText, sourceTable, sourceID, idempotencyKey, metadataText)
	if err != nil {
		return ledger.PostedTransaction{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}

	rows, err := db.Query(ctx, sqlSelectTransactionEntries, transactionID)
	if err != nil {
		return ledger.PostedTransaction{}, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]ledger.PostedEntry, 0, 2)
	for rows.Next() {
		var accountID, amount, balanceAfter int64
		if err := rows.Scan(&accountID, &amount, &balanceAfter); err != nil {
			return ledger.PostedTransaction{}, wrapStoreError(errorSubjectEntry, errorCodeList, err)
		}
		entries = append(entries, ledger.PostedEntry{
			AccountID:    ledger.AccountID(accountID),
			Delta:        amount,
			BalanceAfter: balanceAfter,
		})
	}
	if err := rows.Err(); err != nil {
		return ledger.PostedTransaction{}, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return ledger.PostedTransaction{Record: record, Entries: entries}, nil
}

func listAccountEntries(ctx context.Context, db dbtx, accountID ledger.AccountID, beforeTransactionID ledger.TransactionID, limit int) ([]ledger.AccountEntry, error) {
	rows, err := db.Query(ctx, sqlListAccountEntries, accountID.Int64(), beforeTransactionID.Int64(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]ledger.AccountEntry, 0, limit)
	for rows.Next() {
		var (
			transactionID int64
			entry         ledger.AccountEntry
		)
		if err := rows.Scan(&transactionID, &entry.Reason, &entry.Delta, &entry.BalanceAfter, &entry.CreatedAt); err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
		}
		entry.TransactionID = ledger.TransactionID(transactionID)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var (
		id          int64
		kind        string
		ownerUserID *int64
		systemName  *string
		account     ledger.Account
	)
	if err := row.Scan(&id, &kind, &ownerUserID, &systemName, &account.Balance, &account.CreatedAt, &account.UpdatedAt); err != nil {
		return ledger.Account{}, err
	}
	account.ID = ledger.AccountID(id)
	account.Kind = ledger.AccountKind(kind)
	if ownerUserID != nil {
		account.OwnerUserID = ledger.UserID(*ownerUserID)
	}
	if systemName != nil {
		account.SystemName = *systemName
	}
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

func buildRecord(transactionID int64, createdAt time.Time, createdBy int64, serviceName string, reasonText string, sourceTable *string, sourceID *int64, idempotencyKey *string, metadataText string) (ledger.TransactionRecord, error) {
	service, err := ledger.NewServiceName(serviceName)
	if err != nil {
		return ledger.TransactionRecord{}, err
	}
	reason, err := ledger.NewReason(reasonText)
	if err != nil {
		return ledger.TransactionRecord{}, err
	}
	metadata, err := ledger.NewMetadataJSON(metadataText)
	if err != nil {
		return ledger.TransactionRecord{}, err
	}
	record := ledger.TransactionRecord{
		ID:        ledger.TransactionID(transactionID),
		CreatedAt: createdAt.UTC(),
		CreatedBy: ledger.ActorID(createdBy),
		Service:   service,
		Reason:    reason,
		Metadata:  metadata,
	}
	if idempotencyKey != nil {
		key, err := ledger.NewIdempotencyKey(*idempotencyKey)
		if err != nil {
			return ledger.TransactionRecord{}, err
		}
		record.IdempotencyKey = key
	}
	if sourceTable != nil {
		var recordID int64
		if sourceID != nil {
			recordID = *sourceID
		}
		source, err := ledger.NewSource(*sourceTable, recordID)
		if err != nil {
			return ledger.TransactionRecord{}, err
		}
		record.Source = source
	}
	return record, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Store = (*TxStore)(nil)
)
