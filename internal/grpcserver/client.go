package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Client calls the ledger gRPC service with the JSON codec.
type Client struct {
	conn         grpc.ClientConnInterface
	serviceToken string
	serviceName  string
}

// NewClient wraps a connection; every call carries the service credentials.
func NewClient(conn grpc.ClientConnInterface, serviceToken string, serviceName string) *Client {
	return &Client{conn: conn, serviceToken: serviceToken, serviceName: serviceName}
}

func (client *Client) PostTransaction(ctx context.Context, request *PostTransactionRequest) (*PostTransactionResponse, error) {
	response := new(PostTransactionResponse)
	if err := client.invoke(ctx, "PostTransaction", request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) GetOrCreateUserAccount(ctx context.Context, request *UserAccountRequest) (*AccountResponse, error) {
	response := new(AccountResponse)
	if err := client.invoke(ctx, "GetOrCreateUserAccount", request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) GetUserAccount(ctx context.Context, request *UserAccountRequest) (*AccountResponse, error) {
	response := new(AccountResponse)
	if err := client.invoke(ctx, "GetUserAccount", request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) GetTransaction(ctx context.Context, request *TransactionRequest) (*TransactionResponse, error) {
	response := new(TransactionResponse)
	if err := client.invoke(ctx, "GetTransaction", request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) invoke(ctx context.Context, method string, request any, response any) error {
	pairs := []string{MetadataServiceToken, client.serviceToken}
	if client.serviceName != "" {
		pairs = append(pairs, MetadataServiceName, client.serviceName)
	}
	outgoing := metadata.AppendToOutgoingContext(ctx, pairs...)
	return client.conn.Invoke(outgoing, "/"+ServiceName+"/"+method, request, response, grpc.ForceCodec(Codec{}))
}

var _ LedgerServiceServer = (*Client)(nil)
