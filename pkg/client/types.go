package client

import "time"

// UserAccount is a user's ledger account as reported by the service.
type UserAccount struct {
	AccountID int64     `json:"accountId"`
	Kind      string    `json:"kind"`
	UserID    int64     `json:"userId"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	ParticipantKindUser    = "user"
	ParticipantKindSystem  = "system"
	ParticipantKindAccount = "account"
)

// Participant names one side of a transfer by user id, system account name or account id.
type Participant struct {
	Kind      string `json:"kind"`
	UserID    int64  `json:"userId,omitempty"`
	Name      string `json:"name,omitempty"`
	AccountID int64  `json:"accountId,omitempty"`
	Amount    int64  `json:"amount"`
}

func UserParticipant(userID int64, amount int64) Participant {
	return Participant{Kind: ParticipantKindUser, UserID: userID, Amount: amount}
}

func SystemParticipant(name string, amount int64) Participant {
	return Participant{Kind: ParticipantKindSystem, Name: name, Amount: amount}
}

func AccountParticipant(accountID int64, amount int64) Participant {
	return Participant{Kind: ParticipantKindAccount, AccountID: accountID, Amount: amount}
}

// Entry is a raw account delta.
type Entry struct {
	AccountID int64 `json:"accountId"`
	Amount    int64 `json:"amount"`
}

// Source links a transaction to the record that caused it.
type Source struct {
	Table string `json:"table"`
	ID    int64  `json:"id"`
}

// CreateTransactionRequest carries either Entries or Participants, never both.
type CreateTransactionRequest struct {
	CreatedBy      int64          `json:"createdBy"`
	Reason         string         `json:"reason"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Source         *Source        `json:"source,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Entries        []Entry        `json:"entries,omitempty"`
	Participants   []Participant  `json:"participants,omitempty"`
}

type TransactionResultEntry struct {
	AccountID    int64 `json:"accountId"`
	Amount       int64 `json:"amount"`
	BalanceAfter int64 `json:"balanceAfter"`
}

type TransactionResultParticipant struct {
	Participant
	BalanceAfter int64 `json:"balanceAfter"`
}

// TransactionResult mirrors the shape of the request: Entries for entry requests,
// Participants for participant requests.
type TransactionResult struct {
	TransactionID int64                          `json:"transactionId"`
	CreatedAt     time.Time                      `json:"createdAt"`
	Idempotent    bool                           `json:"idempotent"`
	Entries       []TransactionResultEntry       `json:"entries,omitempty"`
	Participants  []TransactionResultParticipant `json:"participants,omitempty"`
}

type errorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}
