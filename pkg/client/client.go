// Package client talks to the blertbank HTTP API on behalf of a named service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	headerServiceToken = "X-Service-Token"
	headerServiceName  = "X-Service-Name"
	headerRequestID    = "X-Request-ID"
)

// Config configures a Client.
type Config struct {
	// BaseURL of the service, e.g. http://localhost:3013.
	BaseURL      string
	ServiceToken string
	// ServiceName identifies the caller and scopes its idempotency keys.
	ServiceName string
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// RequestIDProvider supplies X-Request-ID values; a blank value falls back to a random uuid.
	RequestIDProvider func() string
}

// Client is safe for concurrent use.
type Client struct {
	baseURL           string
	serviceToken      string
	serviceName       string
	httpClient        *http.Client
	requestIDProvider func() string
}

// New validates the configuration and returns a client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ServiceToken) == "" {
		return nil, &Error{Message: "Service token is required"}
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:           strings.TrimSuffix(cfg.BaseURL, "/"),
		serviceToken:      cfg.ServiceToken,
		serviceName:       cfg.ServiceName,
		httpClient:        httpClient,
		requestIDProvider: cfg.RequestIDProvider,
	}, nil
}

type requestIDKey struct{}

// WithRequestID overrides the X-Request-ID of calls made with the returned context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetOrCreateAccountForUser returns the user's account, creating it with a zero balance when absent.
func (client *Client) GetOrCreateAccountForUser(ctx context.Context, userID int64) (UserAccount, error) {
	var account UserAccount
	err := client.do(ctx, http.MethodPost, "/accounts", map[string]int64{"userId": userID}, &account)
	return account, err
}

// GetAccountByUserID returns *AccountNotFoundError when the user has no account.
func (client *Client) GetAccountByUserID(ctx context.Context, userID int64) (UserAccount, error) {
	var account UserAccount
	err := client.do(ctx, http.MethodGet, "/accounts/user/"+strconv.FormatInt(userID, 10), nil, &account)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == CodeAccountNotFound {
		return UserAccount{}, &AccountNotFoundError{UserID: userID}
	}
	return account, err
}

func (client *Client) GetBalance(ctx context.Context, userID int64) (int64, error) {
	account, err := client.GetAccountByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (client *Client) GetOrCreateBalance(ctx context.Context, userID int64) (int64, error) {
	account, err := client.GetOrCreateAccountForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// CreateTransaction posts a transaction. Replays of an idempotency key report Idempotent.
func (client *Client) CreateTransaction(ctx context.Context, request CreateTransactionRequest) (TransactionResult, error) {
	var result TransactionResult
	err := client.do(ctx, http.MethodPost, "/transactions", request, &result)
	return result, err
}

// Ping reports whether the service answered its health check.
func (client *Client) Ping(ctx context.Context) bool {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/ping", nil)
	if err != nil {
		return false
	}
	response, err := client.httpClient.Do(request)
	if err != nil {
		return false
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)
	return response.StatusCode >= 200 && response.StatusCode < 300
}

func (client *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Message: fmt.Sprintf("Failed to encode request: %v", err), Err: err}
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, reader)
	if err != nil {
		return &Error{Message: fmt.Sprintf("Failed to build request: %v", err), Err: err}
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(headerServiceToken, client.serviceToken)
	request.Header.Set(headerServiceName, client.serviceName)
	request.Header.Set(headerRequestID, client.requestID(ctx))

	response, err := client.httpClient.Do(request)
	if err != nil {
		return &Error{Message: fmt.Sprintf("Failed to connect to Blertbank: %v", err), Err: err}
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return &Error{Message: fmt.Sprintf("Failed to connect to Blertbank: %v", err), Err: err}
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return decodeError(response.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Message: fmt.Sprintf("Failed to decode Blertbank response: %v", err), Err: err}
	}
	return nil
}

func (client *Client) requestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok && requestID != "" {
		return requestID
	}
	if client.requestIDProvider != nil {
		if requestID := client.requestIDProvider(); requestID != "" {
			return requestID
		}
	}
	return uuid.NewString()
}

func decodeError(statusCode int, raw []byte) error {
	var envelope errorResponse
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == "" {
		return &APIError{
			StatusCode: statusCode,
			ErrorCode:  CodeUnknown,
			Message:    fmt.Sprintf("Request failed with status %d", statusCode),
		}
	}
	if envelope.Error == CodeUnauthorized {
		return &UnauthorizedError{Message: envelope.Message}
	}
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  envelope.Error,
		Message:    envelope.Message,
		Details:    envelope.Details,
	}
}
