package controlapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered as a gRPC wire codec (google.golang.org/grpc
// dispatches Marshal/Unmarshal through encoding.Codec implementations
// looked up by name) so the control surface's messages can be plain Go
// structs instead of protoc-gen-go output.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
