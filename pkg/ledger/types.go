package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AccountID identifies a ledger account.
type AccountID int64

// UserID identifies the external user owning a user account.
type UserID int64

// ActorID identifies who created a transaction. Zero is the system actor.
type ActorID int64

// TransactionID identifies a committed transaction.
type TransactionID int64

// EntryAmount is a non-zero signed amount in the smallest currency unit.
type EntryAmount int64

// SystemAccountName names a system pool such as "treasury" or "purchases".
type SystemAccountName struct {
	value string
}

// ServiceName identifies the calling service that scopes idempotency keys.
type ServiceName struct {
	value string
}

// IdempotencyKey scopes duplicate detection. The zero value means no key.
type IdempotencyKey struct {
	value string
}

// Reason describes why a transaction was posted.
type Reason struct {
	value string
}

// MetadataJSON stores arbitrary request metadata as a JSON object.
type MetadataJSON struct {
	value string
}

// Source points at the database record that caused a transaction.
type Source struct {
	Table    string
	RecordID int64
}

// AccountKind distinguishes user-owned accounts from named system pools.
type AccountKind string

const (
	AccountKindUser   AccountKind = "user"
	AccountKindSystem AccountKind = "system"
)

// NewAccountID validates an account id.
func NewAccountID(raw int64) (AccountID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidAccountID)
	}
	return AccountID(raw), nil
}

// Int64 exposes the raw value.
func (id AccountID) Int64() int64 {
	return int64(id)
}

// NewUserID validates a user id.
func NewUserID(raw int64) (UserID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidUserID)
	}
	return UserID(raw), nil
}

// Int64 exposes the raw value.
func (id UserID) Int64() int64 {
	return int64(id)
}

// Int64 exposes the raw value.
func (id ActorID) Int64() int64 {
	return int64(id)
}

// NewTransactionID validates a transaction id.
func NewTransactionID(raw int64) (TransactionID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be positive", ErrInvalidTransactionID)
	}
	return TransactionID(raw), nil
}

// Int64 exposes the raw value.
func (id TransactionID) Int64() int64 {
	return int64(id)
}

// NewEntryAmount rejects zero amounts.
func NewEntryAmount(raw int64) (EntryAmount, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: zero-amount entries are not allowed", ErrInvalidAmount)
	}
	return EntryAmount(raw), nil
}

// Int64 exposes the raw value.
func (amount EntryAmount) Int64() int64 {
	return int64(amount)
}

// NewSystemAccountName validates and normalizes a system account name.
func NewSystemAccountName(raw string) (SystemAccountName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SystemAccountName{}, fmt.Errorf("%w: empty value", ErrInvalidSystemName)
	}
	return SystemAccountName{value: trimmed}, nil
}

// String returns the normalized name.
func (name SystemAccountName) String() string {
	return name.value
}

// NewServiceName validates a caller name, falling back to UnknownServiceName when empty.
func NewServiceName(raw string) (ServiceName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = UnknownServiceName
	}
	if strings.ContainsAny(trimmed, "\r\n\t") {
		return ServiceName{}, fmt.Errorf("%w: contains control characters", ErrInvalidServiceName)
	}
	return ServiceName{value: trimmed}, nil
}

// String returns the normalized name.
func (name ServiceName) String() string {
	if name.value == "" {
		return UnknownServiceName
	}
	return name.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// IsZero reports whether no key was supplied.
func (key IdempotencyKey) IsZero() bool {
	return key.value == ""
}

// NewReason validates a transaction reason.
func NewReason(raw string) (Reason, error) {
	if strings.TrimSpace(raw) == "" {
		return Reason{}, fmt.Errorf("%w: reason is required", ErrInvalidReason)
	}
	return Reason{value: raw}, nil
}

// String returns the reason text.
func (reason Reason) String() string {
	return reason.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" || normalized == "null" {
		normalized = "{}"
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(normalized), &object); err != nil {
		return MetadataJSON{}, fmt.Errorf("%w: must be a json object", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// NewSource validates an optional transaction source.
func NewSource(table string, recordID int64) (*Source, error) {
	trimmed := strings.TrimSpace(table)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: table is required", ErrInvalidSource)
	}
	return &Source{Table: trimmed, RecordID: recordID}, nil
}

// Account is a ledger balance holder.
type Account struct {
	ID          AccountID
	Kind        AccountKind
	OwnerUserID UserID
	SystemName  string
	Balance     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EntryInput is one requested line of a transaction before posting.
type EntryInput struct {
	AccountID AccountID
	Amount    int64
}

// PostedEntry is an entry annotated with the balance it produced.
type PostedEntry struct {
	AccountID    AccountID
	Delta        int64
	BalanceAfter int64
}

// TransactionRecord is the immutable header of a committed transaction.
type TransactionRecord struct {
	ID             TransactionID
	CreatedAt      time.Time
	CreatedBy      ActorID
	Service        ServiceName
	Reason         Reason
	Source         *Source
	IdempotencyKey IdempotencyKey
	Metadata       MetadataJSON
}

// PostedTransaction is a stored transaction with its entries in insertion order.
type PostedTransaction struct {
	Record  TransactionRecord
	Entries []PostedEntry
}

// PostTransactionRequest is the validated-shape input to PostTransaction.
type PostTransactionRequest struct {
	CreatedBy      ActorID
	Reason         Reason
	IdempotencyKey IdempotencyKey
	Source         *Source
	Metadata       MetadataJSON
	Entries        []EntryInput
}

// PostResult is returned by PostTransaction.
type PostResult struct {
	TransactionID TransactionID
	CreatedAt     time.Time
	Idempotent    bool
	Entries       []PostedEntry
}

// AccountEntry is one line of an account's history.
type AccountEntry struct {
	TransactionID TransactionID
	Reason        string
	Delta         int64
	BalanceAfter  int64
	CreatedAt     time.Time
}

// Caller carries the per-call identity used for idempotency scoping and log correlation.
type Caller struct {
	Service   ServiceName
	RequestID string
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateUserAccount(ctx context.Context, userID UserID, at time.Time) (Account, error)
	CreateSystemAccount(ctx context.Context, name SystemAccountName, at time.Time) (Account, error)
	FindUserAccount(ctx context.Context, userID UserID) (Account, error)
	FindSystemAccount(ctx context.Context, name SystemAccountName) (Account, error)
	FindAccount(ctx context.Context, accountID AccountID) (Account, error)
	LockAccounts(ctx context.Context, accountIDs []AccountID) ([]Account, error)
	UpdateBalance(ctx context.Context, accountID AccountID, balance int64, at time.Time) error
	InsertTransaction(ctx context.Context, record TransactionRecord) (TransactionRecord, error)
	InsertEntries(ctx context.Context, transactionID TransactionID, entries []PostedEntry, at time.Time) error
	FindTransactionByIdempotencyKey(ctx context.Context, service ServiceName, key IdempotencyKey) (PostedTransaction, error)
	GetTransaction(ctx context.Context, transactionID TransactionID) (PostedTransaction, error)
	ListAccountEntries(ctx context.Context, accountID AccountID, beforeTransactionID TransactionID, limit int) ([]AccountEntry, error)
}
