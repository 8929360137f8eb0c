// Package rpcwire registers OJP's gRPC services and wire messages. Wire
// messages are carried with a small JSON codec registered against
// google.golang.org/grpc's encoding registry (grounded on the teacher's
// real grpc.go/frpc gRPC machinery) rather than protobuf-generated code:
// this workspace cannot run protoc, so service methods are hand-written
// against google.golang.org/grpc's low-level StreamDesc/ServiceDesc APIs
// with a JSON payload instead of generated marshal/unmarshal code. This is
// a deliberate, documented simplification (see DESIGN.md) — the RPC
// surface, codecs, and streaming semantics are all real grpc-go, only the
// wire encoding differs from a protoc-generated one.
package rpcwire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const CodecName = "ojp-json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// CallContentSubtype is passed via grpc.CallContentSubtype / the server's
// content-subtype negotiation so every OJP RPC uses the JSON codec instead
// of grpc-go's proto default.
func CallContentSubtype() string {
	return CodecName
}

func errInvalidMessageType(v interface{}) error {
	return fmt.Errorf("rpcwire: unexpected message type %T", v)
}
