package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// Account represents the accounts table. Exactly one of OwnerUserID and
// SystemName is set, matching Kind.
type Account struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Kind        string    `gorm:"not null"`
	OwnerUserID *int64    `gorm:"uniqueIndex:uix_accounts_owner_user_id"`
	SystemName  *string   `gorm:"uniqueIndex:uix_accounts_system_name"`
	Balance     int64     `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// Transaction mirrors the transactions table.
type Transaction struct {
	ID               int64          `gorm:"primaryKey;autoIncrement"`
	CreatedAt        time.Time      `gorm:"not null;index:idx_transactions_created_at"`
	CreatedBy        int64          `gorm:"not null;index:idx_transactions_created_by"`
	CreatedByService string         `gorm:"not null;uniqueIndex:uix_transactions_idempotency,priority:1"`
	Reason           string         `gorm:"not null"`
	SourceTable      *string        `gorm:"index:idx_transactions_source,priority:1"`
	SourceID         *int64         `gorm:"index:idx_transactions_source,priority:2"`
	IdempotencyKey   *string        `gorm:"uniqueIndex:uix_transactions_idempotency,priority:2"`
	Metadata         datatypes.JSON `gorm:"not null"`
}

func (Transaction) TableName() string { return "transactions" }

// TransactionEntry mirrors the transaction_entries table.
type TransactionEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement"`
	TransactionID int64     `gorm:"not null;index:idx_transaction_entries_transaction"`
	AccountID     int64     `gorm:"not null;index:idx_transaction_entries_account,priority:1"`
	Amount        int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
}

func (TransactionEntry) TableName() string { return "transaction_entries" }

// Models lists every table owned by the ledger, in creation order.
func Models() []any {
	return []any{&Account{}, &Transaction{}, &TransactionEntry{}}
}
