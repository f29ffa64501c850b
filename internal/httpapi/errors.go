package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// TimestampLayout renders ISO-8601 UTC timestamps with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const internalErrorMessage = "Internal server error"

// apiError is a failure already shaped for the wire.
type apiError struct {
	code    ledger.ErrorCode
	message string
	details map[string]any
}

func (err *apiError) Error() string {
	return string(err.code) + ": " + err.message
}

func badRequest(message string) *apiError {
	return &apiError{code: ledger.ErrorCodeBadRequest, message: message}
}

type errorBody struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// StatusForCode maps an error code to its HTTP status.
func StatusForCode(code ledger.ErrorCode) int {
	switch code {
	case ledger.ErrorCodeBadRequest, ledger.ErrorCodeInvalidAmount, ledger.ErrorCodeUnbalancedTransaction:
		return http.StatusBadRequest
	case ledger.ErrorCodeAccountNotFound, ledger.ErrorCodeNotFound:
		return http.StatusNotFound
	case ledger.ErrorCodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case ledger.ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	shaped := handler.shapeError(ctx, err)
	ctx.JSON(StatusForCode(shaped.code), handler.errorBody(shaped))
}

func (handler *httpHandler) abortWithError(ctx *gin.Context, err error) {
	shaped := handler.shapeError(ctx, err)
	ctx.AbortWithStatusJSON(StatusForCode(shaped.code), handler.errorBody(shaped))
}

func (handler *httpHandler) errorBody(shaped *apiError) errorBody {
	return errorBody{
		Error:     string(shaped.code),
		Message:   shaped.message,
		Details:   shaped.details,
		Timestamp: handler.nowFn().UTC().Format(TimestampLayout),
	}
}

func (handler *httpHandler) shapeError(ctx *gin.Context, err error) *apiError {
	var shaped *apiError
	if errors.As(err, &shaped) {
		return shaped
	}
	code := ledger.ErrorCodeOf(err)
	switch code {
	case ledger.ErrorCodeInternal:
		handler.logger.Error("request failed",
			zap.String("request_id", ctx.GetString(contextKeyRequestID)),
			zap.String("path", ctx.FullPath()),
			zap.Error(err),
		)
		return &apiError{code: code, message: internalErrorMessage}
	case ledger.ErrorCodeInsufficientFunds:
		shaped = &apiError{code: code, message: publicMessage(err)}
		var insufficient ledger.InsufficientFundsError
		if errors.As(err, &insufficient) {
			shaped.details = map[string]any{
				"accountId": insufficient.AccountID.Int64(),
				"balance":   insufficient.Balance,
				"delta":     insufficient.Delta,
			}
		}
		return shaped
	default:
		return &apiError{code: code, message: publicMessage(err)}
	}
}

// publicMessage drops store operation prefixes so only the caller-facing reason reaches the wire.
func publicMessage(err error) string {
	var notFound ledger.AccountNotFoundError
	if errors.As(err, &notFound) && notFound.Reference != "" {
		return notFound.Reference
	}
	var operationError ledger.OperationError
	for errors.As(err, &operationError) {
		err = operationError.Unwrap()
	}
	switch err {
	case ledger.ErrAccountNotFound:
		return "Account not found"
	case ledger.ErrTransactionNotFound:
		return "Transaction not found"
	case ledger.ErrUnauthorized:
		return "Unauthorized"
	}
	return err.Error()
}
