package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	HeaderServiceToken = "X-Service-Token"
	HeaderServiceName  = "X-Service-Name"
	HeaderRequestID    = "X-Request-ID"
)

// LedgerService is the engine surface the HTTP handlers drive.
type LedgerService interface {
	GetOrCreateUserAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, bool, error)
	GetUserAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error)
	GetAccount(ctx context.Context, accountID ledger.AccountID) (ledger.Account, error)
	GetSystemAccount(ctx context.Context, name ledger.SystemAccountName) (ledger.Account, error)
	ResolveParticipants(ctx context.Context, participants []ledger.Participant) (ledger.ResolvedParticipants, error)
	PostTransaction(ctx context.Context, caller ledger.Caller, request ledger.PostTransactionRequest) (ledger.PostResult, error)
	GetTransaction(ctx context.Context, transactionID ledger.TransactionID) (ledger.PostedTransaction, error)
	ListAccountEntries(ctx context.Context, accountID ledger.AccountID, beforeTransactionID ledger.TransactionID, limit int) ([]ledger.AccountEntry, error)
}

// Config carries the settings the router needs; the token is required.
type Config struct {
	ServiceToken   string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type httpHandler struct {
	logger  *zap.Logger
	service LedgerService
	cfg     Config
	nowFn   func() time.Time
}

// NewRouter builds the gin engine serving the ledger API.
func NewRouter(service LedgerService, cfg Config, logger *zap.Logger) (*gin.Engine, error) {
	if service == nil {
		return nil, errors.New("ledger service is required")
	}
	if strings.TrimSpace(cfg.ServiceToken) == "" {
		return nil, errors.New("service token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
		nowFn:   time.Now,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(requestLogger(logger))
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Content-Type", "Origin", "Accept", HeaderServiceToken, HeaderServiceName, HeaderRequestID},
			ExposeHeaders: []string{HeaderRequestID},
			MaxAge:        12 * time.Hour,
		}))
	}

	router.GET("/ping", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/")
	api.Use(handler.serviceAuth())

	api.POST("/accounts", handler.handleGetOrCreateAccount)
	api.GET("/accounts/user/:userId", handler.handleGetUserAccount)
	api.GET("/accounts/:accountId", handler.handleGetAccount)
	api.GET("/accounts/:accountId/entries", handler.handleListAccountEntries)
	api.GET("/system-accounts/:name", handler.handleGetSystemAccount)
	api.POST("/transactions", handler.handleCreateTransaction)
	api.GET("/transactions/:transactionId", handler.handleGetTransaction)

	router.NoRoute(func(ctx *gin.Context) {
		handler.respondError(ctx, &apiError{code: ledger.ErrorCodeNotFound, message: "Route not found"})
	})

	return router, nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	if handler.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx.Request.Context())
	}
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}
