package grpcserver

import "encoding/json"

type Entry struct {
	AccountID int64 `json:"accountId"`
	Amount    int64 `json:"amount"`
}

type Participant struct {
	Kind      string `json:"kind"`
	UserID    int64  `json:"userId,omitempty"`
	Name      string `json:"name,omitempty"`
	AccountID int64  `json:"accountId,omitempty"`
	Amount    int64  `json:"amount"`
}

type Source struct {
	Table string `json:"table"`
	ID    int64  `json:"id"`
}

type PostTransactionRequest struct {
	CreatedBy      int64           `json:"createdBy"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Source         *Source         `json:"source,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Entries        []Entry         `json:"entries,omitempty"`
	Participants   []Participant   `json:"participants,omitempty"`
}

type PostedEntry struct {
	AccountID    int64 `json:"accountId"`
	Amount       int64 `json:"amount"`
	BalanceAfter int64 `json:"balanceAfter"`
}

type PostedParticipant struct {
	Participant
	BalanceAfter int64 `json:"balanceAfter"`
}

type PostTransactionResponse struct {
	TransactionID int64               `json:"transactionId"`
	CreatedAt     string              `json:"createdAt"`
	Idempotent    bool                `json:"idempotent"`
	Entries       []PostedEntry       `json:"entries,omitempty"`
	Participants  []PostedParticipant `json:"participants,omitempty"`
}

type UserAccountRequest struct {
	UserID int64 `json:"userId"`
}

type AccountResponse struct {
	AccountID int64  `json:"accountId"`
	Kind      string `json:"kind"`
	UserID    int64  `json:"userId,omitempty"`
	Name      string `json:"name,omitempty"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
	Created   bool   `json:"created"`
}

type TransactionRequest struct {
	TransactionID int64 `json:"transactionId"`
}

type TransactionResponse struct {
	TransactionID  int64           `json:"transactionId"`
	CreatedAt      string          `json:"createdAt"`
	CreatedBy      int64           `json:"createdBy"`
	Service        string          `json:"service"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Source         *Source         `json:"source,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Entries        []PostedEntry   `json:"entries"`
}
