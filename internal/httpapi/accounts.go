package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"github.com/gin-gonic/gin"
)

const (
	messageUserIDInteger    = "userId must be an integer"
	messageAccountIDInteger = "accountId must be an integer"
	messageInvalidBody      = "Request body must be a JSON object"
)

func (handler *httpHandler) handleGetOrCreateAccount(ctx *gin.Context) {
	var body createAccountBody
	if err := ctx.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		handler.respondError(ctx, badRequest(messageInvalidBody))
		return
	}
	rawUserID, ok := parseInteger(body.UserID)
	if !ok {
		handler.respondError(ctx, badRequest(messageUserIDInteger))
		return
	}
	userID, err := ledger.NewUserID(rawUserID)
	if err != nil {
		handler.respondError(ctx, badRequest("userId must be a positive integer"))
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, created, err := handler.service.GetOrCreateUserAccount(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ctx.JSON(status, toAccountResponse(account))
}

func (handler *httpHandler) handleGetUserAccount(ctx *gin.Context) {
	rawUserID, err := strconv.ParseInt(ctx.Param("userId"), 10, 64)
	if err != nil {
		handler.respondError(ctx, badRequest(messageUserIDInteger))
		return
	}
	userID, err := ledger.NewUserID(rawUserID)
	if err != nil {
		handler.respondError(ctx, badRequest("userId must be a positive integer"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, err := handler.service.GetUserAccount(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toAccountResponse(account))
}

func (handler *httpHandler) handleGetAccount(ctx *gin.Context) {
	accountID, ok := handler.accountIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, err := handler.service.GetAccount(requestCtx, accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toAccountResponse(account))
}

func (handler *httpHandler) handleListAccountEntries(ctx *gin.Context) {
	accountID, ok := handler.accountIDParam(ctx)
	if !ok {
		return
	}
	var before ledger.TransactionID
	if raw := ctx.Query("before"); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || value <= 0 {
			handler.respondError(ctx, badRequest("before must be a positive integer"))
			return
		}
		before = ledger.TransactionID(value)
	}
	limit := 0
	if raw := ctx.Query("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			handler.respondError(ctx, badRequest("limit must be a positive integer"))
			return
		}
		limit = value
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.service.ListAccountEntries(requestCtx, accountID, before, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toAccountEntriesResponse(accountID, entries))
}

func (handler *httpHandler) handleGetSystemAccount(ctx *gin.Context) {
	name, err := ledger.NewSystemAccountName(ctx.Param("name"))
	if err != nil {
		handler.respondError(ctx, badRequest("name is required"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, err := handler.service.GetSystemAccount(requestCtx, name)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toAccountResponse(account))
}

func (handler *httpHandler) accountIDParam(ctx *gin.Context) (ledger.AccountID, bool) {
	raw, err := strconv.ParseInt(ctx.Param("accountId"), 10, 64)
	if err != nil {
		handler.respondError(ctx, badRequest(messageAccountIDInteger))
		return 0, false
	}
	accountID, err := ledger.NewAccountID(raw)
	if err != nil {
		handler.respondError(ctx, badRequest("accountId must be a positive integer"))
		return 0, false
	}
	return accountID, true
}
