package oplog

import (
	"context"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const operationMessage = "ledger operation"

// Logger writes ledger operation events as structured zap records.
type Logger struct {
	logger *zap.Logger
}

// New wraps a zap logger; a nil logger discards events.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger.Named("ledger")}
}

// LogOperation implements ledger.OperationLogger.
func (operationLogger *Logger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
		zap.String("service", entry.Service.String()),
	}
	if entry.RequestID != "" {
		fields = append(fields, zap.String("request_id", entry.RequestID))
	}
	if entry.CreatedBy != 0 {
		fields = append(fields, zap.Int64("created_by", entry.CreatedBy.Int64()))
	}
	if entry.UserID != 0 {
		fields = append(fields, zap.Int64("user_id", entry.UserID.Int64()))
	}
	if entry.SystemName != "" {
		fields = append(fields, zap.String("system_name", entry.SystemName))
	}
	if entry.AccountID != 0 {
		fields = append(fields, zap.Int64("account_id", entry.AccountID.Int64()))
	}
	if !entry.IdempotencyKey.IsZero() {
		fields = append(fields, zap.String("idempotency_key", entry.IdempotencyKey.String()))
	}
	if entry.TransactionID != 0 {
		fields = append(fields, zap.Int64("transaction_id", entry.TransactionID.Int64()))
	}
	if entry.EntryCount > 0 {
		fields = append(fields, zap.Int("entry_count", entry.EntryCount))
	}
	level := zapcore.InfoLevel
	if entry.Error != nil {
		code := ledger.ErrorCodeOf(entry.Error)
		fields = append(fields, zap.String("error_code", string(code)), zap.Error(entry.Error))
		level = zapcore.WarnLevel
		if code == ledger.ErrorCodeInternal {
			level = zapcore.ErrorLevel
		}
	}
	if checked := operationLogger.logger.Check(level, operationMessage); checked != nil {
		checked.Write(fields...)
	}
}

var _ ledger.OperationLogger = (*Logger)(nil)
