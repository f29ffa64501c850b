package ledger

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing ledger operation.
type OperationLog struct {
	Operation      string
	Service        ServiceName
	RequestID      string
	CreatedBy      ActorID
	UserID         UserID
	SystemName     string
	AccountID      AccountID
	IdempotencyKey IdempotencyKey
	TransactionID  TransactionID
	EntryCount     int
	Status         string
	Error          error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithBalancePolicy replaces the default balance policy.
func WithBalancePolicy(policy BalancePolicy) ServiceOption {
	return func(service *Service) {
		service.policy = policy
	}
}

// WithReplayCache wires a cache consulted before the idempotency lookup.
func WithReplayCache(cache ReplayCache) ServiceOption {
	return func(service *Service) {
		service.replayCache = cache
	}
}
