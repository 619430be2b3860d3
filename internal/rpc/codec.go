// Package rpc wires kvfabric's internal shard-to-shard Lookup service and
// the v2 direct-gRPC surface onto plain JSON messages instead of
// protoc-generated protobuf types (spec §6 "internal.Lookup.GetValues
// (encrypted_payload) -> encrypted_payload", "v2.GetValues: direct gRPC").
// grpc.ServiceDesc and grpc.MethodDesc are hand-authored the way a
// protoc-gen-go-grpc file would generate them, but the codec substitutes
// encoding/json for protobuf wire encoding, matching the domain-stack
// choice of shipping gRPC without a protoc build step.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements encoding.Codec by delegating to encoding/json,
// registered under the "json" content-subtype so grpc.CallContentSubtype
// and grpc.ForceServerCodec can select it in place of protobuf.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return jsonCodecName }
