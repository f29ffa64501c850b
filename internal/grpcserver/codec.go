package grpcserver

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype carried on the wire.
const CodecName = "json"

// Codec marshals ledger messages as JSON so no generated stubs are needed.
type Codec struct{}

func (Codec) Marshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (Codec) Unmarshal(data []byte, value any) error {
	return json.Unmarshal(data, value)
}

func (Codec) Name() string {
	return CodecName
}

var _ encoding.Codec = Codec{}
