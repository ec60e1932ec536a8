package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the Ledger service speak plain Go structs over gRPC.
// Clients select it with grpc.CallContentSubtype(CodecName).
type jsonCodec struct{}

// CodecName is the gRPC content subtype ("application/grpc+json").
const CodecName = "json"

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
