package grpcserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/blertbank/pkg/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "blertbank.ledger.v1.Ledger"

	MetadataServiceToken = "x-service-token"
	MetadataServiceName  = "x-service-name"
	MetadataRequestID    = "x-request-id"

	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// LedgerService is the engine surface exposed over gRPC.
type LedgerService interface {
	GetOrCreateUserAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, bool, error)
	GetUserAccount(ctx context.Context, userID ledger.UserID) (ledger.Account, error)
	ResolveParticipants(ctx context.Context, participants []ledger.Participant) (ledger.ResolvedParticipants, error)
	PostTransaction(ctx context.Context, caller ledger.Caller, request ledger.PostTransactionRequest) (ledger.PostResult, error)
	GetTransaction(ctx context.Context, transactionID ledger.TransactionID) (ledger.PostedTransaction, error)
}

// LedgerServiceServer is the server API for the blertbank.ledger.v1.Ledger service.
type LedgerServiceServer interface {
	PostTransaction(ctx context.Context, request *PostTransactionRequest) (*PostTransactionResponse, error)
	GetOrCreateUserAccount(ctx context.Context, request *UserAccountRequest) (*AccountResponse, error)
	GetUserAccount(ctx context.Context, request *UserAccountRequest) (*AccountResponse, error)
	GetTransaction(ctx context.Context, request *TransactionRequest) (*TransactionResponse, error)
}

// LedgerServer exposes the ledger over gRPC.
type LedgerServer struct {
	ledgerService LedgerService
}

// NewLedgerServer constructs a gRPC server for the ledger service.
func NewLedgerServer(ledgerService LedgerService) *LedgerServer {
	return &LedgerServer{ledgerService: ledgerService}
}

// NewServer builds a grpc.Server speaking the JSON codec, guarded by the service token.
func NewServer(ledgerService LedgerService, serviceToken string, logger *zap.Logger, options ...grpc.ServerOption) (*grpc.Server, error) {
	if ledgerService == nil {
		return nil, errors.New("ledger service is required")
	}
	if strings.TrimSpace(serviceToken) == "" {
		return nil, errors.New("service token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	serverOptions := append([]grpc.ServerOption{
		grpc.ForceServerCodec(Codec{}),
		grpc.UnaryInterceptor(authInterceptor(serviceToken, logger)),
	}, options...)
	server := grpc.NewServer(serverOptions...)
	RegisterLedgerServer(server, NewLedgerServer(ledgerService))
	return server, nil
}

// RegisterLedgerServer attaches the ledger service to a gRPC registrar.
func RegisterLedgerServer(registrar grpc.ServiceRegistrar, server LedgerServiceServer) {
	registrar.RegisterService(&serviceDesc, server)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PostTransaction", Handler: unaryHandler("PostTransaction", LedgerServiceServer.PostTransaction)},
		{MethodName: "GetOrCreateUserAccount", Handler: unaryHandler("GetOrCreateUserAccount", LedgerServiceServer.GetOrCreateUserAccount)},
		{MethodName: "GetUserAccount", Handler: unaryHandler("GetUserAccount", LedgerServiceServer.GetUserAccount)},
		{MethodName: "GetTransaction", Handler: unaryHandler("GetTransaction", LedgerServiceServer.GetTransaction)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "blertbank/ledger/v1/ledger.json",
}

func unaryHandler[Request any, Response any](method string, call func(LedgerServiceServer, context.Context, *Request) (*Response, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		ledgerServer := server.(LedgerServiceServer)
		if interceptor == nil {
			return call(ledgerServer, ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod}
		return interceptor(ctx, request, info, func(ctx context.Context, request any) (any, error) {
			return call(ledgerServer, ctx, request.(*Request))
		})
	}
}

type callerContextKey struct{}

func authInterceptor(serviceToken string, logger *zap.Logger) grpc.UnaryServerInterceptor {
	expected := []byte(serviceToken)
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		incoming, _ := metadata.FromIncomingContext(ctx)
		provided := []byte(firstValue(incoming, MetadataServiceToken))
		if len(provided) == 0 || subtle.ConstantTimeCompare(provided, expected) != 1 {
			return nil, status.Error(codes.Unauthenticated, string(ledger.ErrorCodeUnauthorized))
		}
		serviceName, err := ledger.NewServiceName(firstValue(incoming, MetadataServiceName))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, string(ledger.ErrorCodeBadRequest))
		}
		requestID := firstValue(incoming, MetadataRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		caller := ledger.Caller{Service: serviceName, RequestID: requestID}

		started := time.Now()
		response, err := handler(context.WithValue(ctx, callerContextKey{}, caller), request)
		statusErr := toStatusError(err)
		code := status.Code(statusErr)
		logger.Info("grpc request",
			zap.String("request_id", requestID),
			zap.String("method", info.FullMethod),
			zap.String("service", serviceName.String()),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(started)),
		)
		if code == codes.Internal {
			logger.Error("grpc request failed", zap.String("request_id", requestID), zap.Error(err))
		}
		return response, statusErr
	}
}

func callerFromContext(ctx context.Context) ledger.Caller {
	caller, _ := ctx.Value(callerContextKey{}).(ledger.Caller)
	return caller
}

func firstValue(incoming metadata.MD, key string) string {
	values := incoming.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (server *LedgerServer) PostTransaction(ctx context.Context, request *PostTransactionRequest) (*PostTransactionResponse, error) {
	postRequest, participants, err := toPostRequest(request)
	if err != nil {
		return nil, err
	}
	var resolved *ledger.ResolvedParticipants
	if participants != nil {
		resolution, err := server.ledgerService.ResolveParticipants(ctx, participants)
		if err != nil {
			return nil, err
		}
		resolved = &resolution
		postRequest.Entries = resolution.Entries
	}
	result, err := server.ledgerService.PostTransaction(ctx, callerFromContext(ctx), postRequest)
	if err != nil {
		return nil, err
	}
	return toPostResponse(result, resolved), nil
}

func (server *LedgerServer) GetOrCreateUserAccount(ctx context.Context, request *UserAccountRequest) (*AccountResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, err
	}
	account, created, err := server.ledgerService.GetOrCreateUserAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	response := toAccountResponse(account)
	response.Created = created
	return response, nil
}

func (server *LedgerServer) GetUserAccount(ctx context.Context, request *UserAccountRequest) (*AccountResponse, error) {
	userID, err := ledger.NewUserID(request.UserID)
	if err != nil {
		return nil, err
	}
	account, err := server.ledgerService.GetUserAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toAccountResponse(account), nil
}

func (server *LedgerServer) GetTransaction(ctx context.Context, request *TransactionRequest) (*TransactionResponse, error) {
	transactionID, err := ledger.NewTransactionID(request.TransactionID)
	if err != nil {
		return nil, err
	}
	transaction, err := server.ledgerService.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return toTransactionResponse(transaction), nil
}

func toPostRequest(request *PostTransactionRequest) (ledger.PostTransactionRequest, []ledger.Participant, error) {
	reason, err := ledger.NewReason(request.Reason)
	if err != nil {
		return ledger.PostTransactionRequest{}, nil, err
	}
	postRequest := ledger.PostTransactionRequest{
		CreatedBy: ledger.ActorID(request.CreatedBy),
		Reason:    reason,
	}
	if strings.TrimSpace(request.IdempotencyKey) != "" {
		key, err := ledger.NewIdempotencyKey(request.IdempotencyKey)
		if err != nil {
			return ledger.PostTransactionRequest{}, nil, err
		}
		postRequest.IdempotencyKey = key
	}
	if request.Source != nil {
		source, err := ledger.NewSource(request.Source.Table, request.Source.ID)
		if err != nil {
			return ledger.PostTransactionRequest{}, nil, err
		}
		postRequest.Source = source
	}
	if len(request.Metadata) > 0 {
		metadataJSON, err := ledger.NewMetadataJSON(string(request.Metadata))
		if err != nil {
			return ledger.PostTransactionRequest{}, nil, err
		}
		postRequest.Metadata = metadataJSON
	}

	hasEntries := len(request.Entries) > 0
	hasParticipants := len(request.Participants) > 0
	if hasEntries == hasParticipants {
		return ledger.PostTransactionRequest{}, nil, ledger.ErrInvalidParticipant
	}
	if hasEntries {
		postRequest.Entries = make([]ledger.EntryInput, 0, len(request.Entries))
		for _, entry := range request.Entries {
			postRequest.Entries = append(postRequest.Entries, ledger.EntryInput{AccountID: ledger.AccountID(entry.AccountID), Amount: entry.Amount})
		}
		return postRequest, nil, nil
	}
	participants := make([]ledger.Participant, 0, len(request.Participants))
	for _, participant := range request.Participants {
		converted, err := toLedgerParticipant(participant)
		if err != nil {
			return ledger.PostTransactionRequest{}, nil, err
		}
		participants = append(participants, converted)
	}
	return postRequest, participants, nil
}

func toLedgerParticipant(participant Participant) (ledger.Participant, error) {
	switch ledger.ParticipantKind(participant.Kind) {
	case ledger.ParticipantKindUser:
		userID, err := ledger.NewUserID(participant.UserID)
		if err != nil {
			return ledger.Participant{}, err
		}
		return ledger.NewUserParticipant(userID, participant.Amount), nil
	case ledger.ParticipantKindSystem:
		name, err := ledger.NewSystemAccountName(participant.Name)
		if err != nil {
			return ledger.Participant{}, err
		}
		return ledger.NewSystemParticipant(name, participant.Amount), nil
	case ledger.ParticipantKindAccount:
		accountID, err := ledger.NewAccountID(participant.AccountID)
		if err != nil {
			return ledger.Participant{}, err
		}
		return ledger.NewAccountParticipant(accountID, participant.Amount), nil
	default:
		return ledger.Participant{}, ledger.ErrInvalidParticipant
	}
}

func toPostResponse(result ledger.PostResult, resolved *ledger.ResolvedParticipants) *PostTransactionResponse {
	response := &PostTransactionResponse{
		TransactionID: result.TransactionID.Int64(),
		CreatedAt:     formatTime(result.CreatedAt),
		Idempotent:    result.Idempotent,
	}
	if resolved == nil {
		response.Entries = toPostedEntries(result.Entries)
		return response
	}
	response.Participants = make([]PostedParticipant, 0, len(result.Entries))
	for index, entry := range result.Entries {
		participant, found := resolved.ParticipantFor(index, entry)
		if !found {
			participant = ledger.NewAccountParticipant(entry.AccountID, entry.Delta)
		}
		participant.Amount = entry.Delta
		response.Participants = append(response.Participants, PostedParticipant{
			Participant:  fromLedgerParticipant(participant),
			BalanceAfter: entry.BalanceAfter,
		})
	}
	return response
}

func fromLedgerParticipant(participant ledger.Participant) Participant {
	converted := Participant{Kind: string(participant.Kind), Amount: participant.Amount}
	switch participant.Kind {
	case ledger.ParticipantKindUser:
		converted.UserID = participant.UserID.Int64()
	case ledger.ParticipantKindSystem:
		converted.Name = participant.SystemName.String()
	case ledger.ParticipantKindAccount:
		converted.AccountID = participant.AccountID.Int64()
	}
	return converted
}

func toPostedEntries(entries []ledger.PostedEntry) []PostedEntry {
	converted := make([]PostedEntry, 0, len(entries))
	for _, entry := range entries {
		converted = append(converted, PostedEntry{AccountID: entry.AccountID.Int64(), Amount: entry.Delta, BalanceAfter: entry.BalanceAfter})
	}
	return converted
}

func toAccountResponse(account ledger.Account) *AccountResponse {
	response := &AccountResponse{
		AccountID: account.ID.Int64(),
		Kind:      string(account.Kind),
		Balance:   account.Balance,
		CreatedAt: formatTime(account.CreatedAt),
		UpdatedAt: formatTime(account.UpdatedAt),
	}
	if account.Kind == ledger.AccountKindUser {
		response.UserID = account.OwnerUserID.Int64()
	} else {
		response.Name = account.SystemName
	}
	return response
}

func toTransactionResponse(transaction ledger.PostedTransaction) *TransactionResponse {
	record := transaction.Record
	response := &TransactionResponse{
		TransactionID:  record.ID.Int64(),
		CreatedAt:      formatTime(record.CreatedAt),
		CreatedBy:      record.CreatedBy.Int64(),
		Service:        record.Service.String(),
		Reason:         record.Reason.String(),
		IdempotencyKey: record.IdempotencyKey.String(),
		Metadata:       []byte(record.Metadata.String()),
		Entries:        toPostedEntries(transaction.Entries),
	}
	if record.Source != nil {
		response.Source = &Source{Table: record.Source.Table, ID: record.Source.RecordID}
	}
	return response
}

func formatTime(value time.Time) string {
	return value.UTC().Format(timestampLayout)
}

// toStatusError maps ledger failures onto gRPC codes; the status message is the error code.
func toStatusError(source error) error {
	if source == nil {
		return nil
	}
	if _, ok := status.FromError(source); ok {
		return source
	}
	errorCode := ledger.ErrorCodeOf(source)
	switch errorCode {
	case ledger.ErrorCodeBadRequest, ledger.ErrorCodeInvalidAmount, ledger.ErrorCodeUnbalancedTransaction:
		return status.Error(codes.InvalidArgument, string(errorCode))
	case ledger.ErrorCodeAccountNotFound, ledger.ErrorCodeNotFound:
		return status.Error(codes.NotFound, string(errorCode))
	case ledger.ErrorCodeInsufficientFunds:
		return status.Error(codes.FailedPrecondition, string(errorCode))
	case ledger.ErrorCodeUnauthorized:
		return status.Error(codes.Unauthenticated, string(errorCode))
	default:
		return status.Error(codes.Internal, string(ledger.ErrorCodeInternal))
	}
}

var _ LedgerServiceServer = (*LedgerServer)(nil)
