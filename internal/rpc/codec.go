// Package rpc exposes the meeting workflow over gRPC.
//
// Messages are plain Go structs carried by a JSON codec, registered under
// the "json" content-subtype. Clients select it with
// grpc.CallContentSubtype(rpc.CodecName). The standard health service keeps
// using protobuf on the same server.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const CodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
