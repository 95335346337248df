package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "json"

// jsonCodec is a grpc/encoding.Codec that marshals messages as JSON
// instead of protobuf, standing in for the teacher's protoc-generated
// codec since the underlying .proto definitions live in a sibling module
// this core doesn't vendor. Registered once via init so any
// grpc.ClientConn/grpc.Server in the process can select it with
// grpc.CallContentSubtype(jsonCodecName).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
