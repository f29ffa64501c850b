package httpapi

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
)

// maxExactInteger is the largest integer a JSON number carries without loss in common clients.
const maxExactInteger = 1<<53 - 1

type createAccountBody struct {
	UserID json.RawMessage `json:"userId"`
}

type createTransactionBody struct {
	CreatedBy      json.RawMessage `json:"createdBy"`
	Reason         json.RawMessage `json:"reason"`
	IdempotencyKey json.RawMessage `json:"idempotencyKey"`
	Source         json.RawMessage `json:"source"`
	Metadata       json.RawMessage `json:"metadata"`
	Entries        json.RawMessage `json:"entries"`
	Participants   json.RawMessage `json:"participants"`
}

type entryBody struct {
	AccountID json.RawMessage `json:"accountId"`
	Amount    json.RawMessage `json:"amount"`
}

type participantBody struct {
	Kind      json.RawMessage `json:"kind"`
	UserID    json.RawMessage `json:"userId"`
	Name      json.RawMessage `json:"name"`
	AccountID json.RawMessage `json:"accountId"`
	Amount    json.RawMessage `json:"amount"`
}

type sourceBody struct {
	Table json.RawMessage `json:"table"`
	ID    json.RawMessage `json:"id"`
}

type sourcePayload struct {
	Table string `json:"table"`
	ID    int64  `json:"id"`
}

type accountResponse struct {
	AccountID int64  `json:"accountId"`
	Kind      string `json:"kind"`
	UserID    *int64 `json:"userId,omitempty"`
	Name      string `json:"name,omitempty"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type entryResponse struct {
	AccountID    int64 `json:"accountId"`
	Amount       int64 `json:"amount"`
	BalanceAfter int64 `json:"balanceAfter"`
}

type participantResponse struct {
	Kind         string `json:"kind"`
	UserID       *int64 `json:"userId,omitempty"`
	Name         string `json:"name,omitempty"`
	AccountID    *int64 `json:"accountId,omitempty"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balanceAfter"`
}

type postResponse struct {
	TransactionID int64                 `json:"transactionId"`
	CreatedAt     string                `json:"createdAt"`
	Idempotent    bool                  `json:"idempotent"`
	Entries       []entryResponse       `json:"entries,omitempty"`
	Participants  []participantResponse `json:"participants,omitempty"`
}

type transactionResponse struct {
	TransactionID  int64           `json:"transactionId"`
	CreatedAt      string          `json:"createdAt"`
	CreatedBy      int64           `json:"createdBy"`
	Service        string          `json:"service"`
	Reason         string          `json:"reason"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Source         *sourcePayload  `json:"source,omitempty"`
	Metadata       json.RawMessage `json:"metadata"`
	Entries        []entryResponse `json:"entries"`
}

type accountEntryResponse struct {
	TransactionID int64  `json:"transactionId"`
	Reason        string `json:"reason"`
	Amount        int64  `json:"amount"`
	BalanceAfter  int64  `json:"balanceAfter"`
	CreatedAt     string `json:"createdAt"`
}

type accountEntriesResponse struct {
	AccountID int64                  `json:"accountId"`
	Entries   []accountEntryResponse `json:"entries"`
}

// parseInteger accepts a JSON number with no fractional part.
func parseInteger(raw json.RawMessage) (int64, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0, false
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return 0, false
	}
	number, ok := value.(json.Number)
	if !ok {
		return 0, false
	}
	if integer, err := number.Int64(); err == nil {
		return integer, true
	}
	float, err := number.Float64()
	if err != nil || float != math.Trunc(float) || math.Abs(float) > maxExactInteger {
		return 0, false
	}
	return int64(float), true
}

// parseString accepts a JSON string.
func parseString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var value string
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return "", false
	}
	return value, true
}

// parseArray returns the elements of a JSON array; anything else reports false.
func parseArray(raw json.RawMessage) ([]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var values []json.RawMessage
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return nil, false
	}
	return values, true
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func formatTime(value time.Time) string {
	return value.UTC().Format(TimestampLayout)
}

func toAccountResponse(account ledger.Account) accountResponse {
	response := accountResponse{
		AccountID: account.ID.Int64(),
		Kind:      string(account.Kind),
		Balance:   account.Balance,
		CreatedAt: formatTime(account.CreatedAt),
		UpdatedAt: formatTime(account.UpdatedAt),
	}
	switch account.Kind {
	case ledger.AccountKindUser:
		userID := account.OwnerUserID.Int64()
		response.UserID = &userID
	case ledger.AccountKindSystem:
		response.Name = account.SystemName
	}
	return response
}

func toEntryResponses(entries []ledger.PostedEntry) []entryResponse {
	responses := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, entryResponse{
			AccountID:    entry.AccountID.Int64(),
			Amount:       entry.Delta,
			BalanceAfter: entry.BalanceAfter,
		})
	}
	return responses
}

// toPostResponse renders a posting result. When the request spoke in
// participants, each entry is reported as the participant that produced it.
func toPostResponse(result ledger.PostResult, resolved *ledger.ResolvedParticipants) postResponse {
	response := postResponse{
		TransactionID: result.TransactionID.Int64(),
		CreatedAt:     formatTime(result.CreatedAt),
		Idempotent:    result.Idempotent,
	}
	if resolved == nil {
		response.Entries = toEntryResponses(result.Entries)
		return response
	}
	response.Participants = make([]participantResponse, 0, len(result.Entries))
	for index, entry := range result.Entries {
		participant, found := resolved.ParticipantFor(index, entry)
		if !found {
			participant = ledger.NewAccountParticipant(entry.AccountID, entry.Delta)
		}
		response.Participants = append(response.Participants, toParticipantResponse(participant, entry.BalanceAfter))
	}
	return response
}

func toParticipantResponse(participant ledger.Participant, balanceAfter int64) participantResponse {
	response := participantResponse{
		Kind:         string(participant.Kind),
		Amount:       participant.Amount,
		BalanceAfter: balanceAfter,
	}
	switch participant.Kind {
	case ledger.ParticipantKindUser:
		userID := participant.UserID.Int64()
		response.UserID = &userID
	case ledger.ParticipantKindSystem:
		response.Name = participant.SystemName.String()
	case ledger.ParticipantKindAccount:
		accountID := participant.AccountID.Int64()
		response.AccountID = &accountID
	}
	return response
}

func toTransactionResponse(transaction ledger.PostedTransaction) transactionResponse {
	record := transaction.Record
	response := transactionResponse{
		TransactionID:  record.ID.Int64(),
		CreatedAt:      formatTime(record.CreatedAt),
		CreatedBy:      record.CreatedBy.Int64(),
		Service:        record.Service.String(),
		Reason:         record.Reason.String(),
		IdempotencyKey: record.IdempotencyKey.String(),
		Metadata:       json.RawMessage(record.Metadata.String()),
		Entries:        toEntryResponses(transaction.Entries),
	}
	if record.Source != nil {
		response.Source = &sourcePayload{Table: record.Source.Table, ID: record.Source.RecordID}
	}
	return response
}

func toAccountEntriesResponse(accountID ledger.AccountID, entries []ledger.AccountEntry) accountEntriesResponse {
	response := accountEntriesResponse{
		AccountID: accountID.Int64(),
		Entries:   make([]accountEntryResponse, 0, len(entries)),
	}
	for _, entry := range entries {
		response.Entries = append(response.Entries, accountEntryResponse{
			TransactionID: entry.TransactionID.Int64(),
			Reason:        entry.Reason,
			Amount:        entry.Delta,
			BalanceAfter:  entry.BalanceAfter,
			CreatedAt:     formatTime(entry.CreatedAt),
		})
	}
	return response
}
