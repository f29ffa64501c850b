package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"github.com/gin-gonic/gin"
)

const (
	messageCreatedByInteger  = "createdBy must be an integer"
	messageReasonRequired    = "reason is required"
	messageBothForms         = "Provide either entries or participants, not both"
	messageNeitherForm       = "Either entries or participants is required"
	messageAccountIDsInteger = "Account IDs must be integers"
	messageAmountsInteger    = "Transaction amounts must be integers"
)

// postingInput is a validated transaction request; participants is set only
// when the caller spoke in participant terms.
type postingInput struct {
	request      ledger.PostTransactionRequest
	participants []ledger.Participant
}

func (handler *httpHandler) handleCreateTransaction(ctx *gin.Context) {
	caller, _ := callerFrom(ctx)
	var body createTransactionBody
	if err := ctx.ShouldBindJSON(&body); err != nil {
		handler.respondError(ctx, badRequest(messageInvalidBody))
		return
	}
	input, err := parseCreateTransaction(body)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	var resolved *ledger.ResolvedParticipants
	if input.participants != nil {
		resolution, err := handler.service.ResolveParticipants(requestCtx, input.participants)
		if err != nil {
			handler.respondError(ctx, err)
			return
		}
		resolved = &resolution
		input.request.Entries = resolution.Entries
	}

	result, err := handler.service.PostTransaction(requestCtx, caller, input.request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	status := http.StatusCreated
	if result.Idempotent {
		status = http.StatusOK
	}
	ctx.JSON(status, toPostResponse(result, resolved))
}

func (handler *httpHandler) handleGetTransaction(ctx *gin.Context) {
	raw, err := strconv.ParseInt(ctx.Param("transactionId"), 10, 64)
	if err != nil {
		handler.respondError(ctx, badRequest("transactionId must be an integer"))
		return
	}
	transactionID, err := ledger.NewTransactionID(raw)
	if err != nil {
		handler.respondError(ctx, badRequest("transactionId must be a positive integer"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transaction, err := handler.service.GetTransaction(requestCtx, transactionID)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		handler.respondError(ctx, &apiError{code: ledger.ErrorCodeNotFound, message: fmt.Sprintf("Transaction %d not found", raw)})
		return
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toTransactionResponse(transaction))
}

// parseCreateTransaction validates the request shape without touching storage.
func parseCreateTransaction(body createTransactionBody) (postingInput, error) {
	createdBy, ok := parseInteger(body.CreatedBy)
	if !ok {
		return postingInput{}, badRequest(messageCreatedByInteger)
	}
	rawReason, ok := parseString(body.Reason)
	if !ok || rawReason == "" {
		return postingInput{}, badRequest(messageReasonRequired)
	}
	reason, err := ledger.NewReason(rawReason)
	if err != nil {
		return postingInput{}, badRequest(messageReasonRequired)
	}
	request := ledger.PostTransactionRequest{
		CreatedBy: ledger.ActorID(createdBy),
		Reason:    reason,
	}

	if !isAbsent(body.IdempotencyKey) {
		rawKey, ok := parseString(body.IdempotencyKey)
		if !ok {
			return postingInput{}, badRequest("idempotencyKey must be a string")
		}
		if strings.TrimSpace(rawKey) != "" {
			key, err := ledger.NewIdempotencyKey(rawKey)
			if err != nil {
				return postingInput{}, badRequest("idempotencyKey must be a string")
			}
			request.IdempotencyKey = key
		}
	}
	if !isAbsent(body.Source) {
		source, err := parseSource(body.Source)
		if err != nil {
			return postingInput{}, err
		}
		request.Source = source
	}
	if !isAbsent(body.Metadata) {
		if !isObject(body.Metadata) {
			return postingInput{}, badRequest("metadata must be an object")
		}
		metadata, err := ledger.NewMetadataJSON(string(body.Metadata))
		if err != nil {
			return postingInput{}, badRequest("metadata must be an object")
		}
		request.Metadata = metadata
	}

	entries, _ := parseArray(body.Entries)
	participants, _ := parseArray(body.Participants)
	hasEntries := len(entries) > 0
	hasParticipants := len(participants) > 0
	if hasEntries && hasParticipants {
		return postingInput{}, badRequest(messageBothForms)
	}
	if !hasEntries && !hasParticipants {
		return postingInput{}, badRequest(messageNeitherForm)
	}

	if hasEntries {
		parsed, err := parseEntries(entries)
		if err != nil {
			return postingInput{}, err
		}
		request.Entries = parsed
		return postingInput{request: request}, nil
	}
	parsed, err := parseParticipants(participants)
	if err != nil {
		return postingInput{}, err
	}
	return postingInput{request: request, participants: parsed}, nil
}

func parseEntries(rawEntries []json.RawMessage) ([]ledger.EntryInput, error) {
	entries := make([]ledger.EntryInput, 0, len(rawEntries))
	for index, rawEntry := range rawEntries {
		var body entryBody
		if !isObject(rawEntry) || json.Unmarshal(rawEntry, &body) != nil {
			return nil, badRequest(fmt.Sprintf("Invalid entry at index %d", index))
		}
		accountID, ok := parseInteger(body.AccountID)
		if !ok {
			return nil, badRequest(messageAccountIDsInteger)
		}
		amount, ok := parseInteger(body.Amount)
		if !ok {
			return nil, badRequest(messageAmountsInteger)
		}
		entries = append(entries, ledger.EntryInput{AccountID: ledger.AccountID(accountID), Amount: amount})
	}
	return entries, nil
}

func parseParticipants(rawParticipants []json.RawMessage) ([]ledger.Participant, error) {
	participants := make([]ledger.Participant, 0, len(rawParticipants))
	for index, rawParticipant := range rawParticipants {
		participant, ok := parseParticipantShape(rawParticipant)
		if !ok {
			return nil, badRequest(fmt.Sprintf("Invalid participant at index %d", index))
		}
		participants = append(participants, participant)
	}
	for index, rawParticipant := range rawParticipants {
		var body participantBody
		_ = json.Unmarshal(rawParticipant, &body)
		amount, ok := parseInteger(body.Amount)
		if !ok {
			return nil, badRequest(messageAmountsInteger)
		}
		participants[index].Amount = amount
	}
	return participants, nil
}

func parseParticipantShape(raw json.RawMessage) (ledger.Participant, bool) {
	var body participantBody
	if !isObject(raw) || json.Unmarshal(raw, &body) != nil {
		return ledger.Participant{}, false
	}
	kind, ok := parseString(body.Kind)
	if !ok {
		return ledger.Participant{}, false
	}
	switch ledger.ParticipantKind(kind) {
	case ledger.ParticipantKindUser:
		rawUserID, ok := parseInteger(body.UserID)
		if !ok {
			return ledger.Participant{}, false
		}
		userID, err := ledger.NewUserID(rawUserID)
		if err != nil {
			return ledger.Participant{}, false
		}
		return ledger.NewUserParticipant(userID, 0), true
	case ledger.ParticipantKindSystem:
		rawName, ok := parseString(body.Name)
		if !ok {
			return ledger.Participant{}, false
		}
		name, err := ledger.NewSystemAccountName(rawName)
		if err != nil {
			return ledger.Participant{}, false
		}
		return ledger.NewSystemParticipant(name, 0), true
	case ledger.ParticipantKindAccount:
		rawAccountID, ok := parseInteger(body.AccountID)
		if !ok {
			return ledger.Participant{}, false
		}
		accountID, err := ledger.NewAccountID(rawAccountID)
		if err != nil {
			return ledger.Participant{}, false
		}
		return ledger.NewAccountParticipant(accountID, 0), true
	default:
		return ledger.Participant{}, false
	}
}

func parseSource(raw json.RawMessage) (*ledger.Source, error) {
	invalid := badRequest("source must be an object with a table name and an integer id")
	var body sourceBody
	if !isObject(raw) || json.Unmarshal(raw, &body) != nil {
		return nil, invalid
	}
	table, ok := parseString(body.Table)
	if !ok {
		return nil, invalid
	}
	recordID, ok := parseInteger(body.ID)
	if !ok {
		return nil, invalid
	}
	source, err := ledger.NewSource(table, recordID)
	if err != nil {
		return nil, invalid
	}
	return source, nil
}
