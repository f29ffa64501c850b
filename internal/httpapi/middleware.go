package httpapi

import (
	"crypto/subtle"
	"time"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	contextKeyRequestID = "request_id"
	contextKeyCaller    = "ledger_caller"

	maxRequestIDLength = 128
)

func requestIDMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := ctx.GetHeader(HeaderRequestID)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		ctx.Set(contextKeyRequestID, requestID)
		ctx.Header(HeaderRequestID, requestID)
		ctx.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		fields := []zap.Field{
			zap.String("request_id", ctx.GetString(contextKeyRequestID)),
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
		}
		if caller, ok := callerFrom(ctx); ok {
			fields = append(fields, zap.String("service", caller.Service.String()))
		}
		logger.Info("http request", fields...)
	}
}

// serviceAuth admits requests carrying the shared service token and records the caller.
func (handler *httpHandler) serviceAuth() gin.HandlerFunc {
	expected := []byte(handler.cfg.ServiceToken)
	return func(ctx *gin.Context) {
		provided := []byte(ctx.GetHeader(HeaderServiceToken))
		if len(provided) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
			handler.abortWithError(ctx, &apiError{code: ledger.ErrorCodeUnauthorized, message: "Invalid or missing service token"})
			return
		}
		serviceName, err := ledger.NewServiceName(ctx.GetHeader(HeaderServiceName))
		if err != nil {
			handler.abortWithError(ctx, badRequest("X-Service-Name contains invalid characters"))
			return
		}
		ctx.Set(contextKeyCaller, ledger.Caller{
			Service:   serviceName,
			RequestID: ctx.GetString(contextKeyRequestID),
		})
		ctx.Next()
	}
}

func callerFrom(ctx *gin.Context) (ledger.Caller, bool) {
	value, ok := ctx.Get(contextKeyCaller)
	if !ok {
		return ledger.Caller{}, false
	}
	caller, ok := value.(ledger.Caller)
	return caller, ok
}
