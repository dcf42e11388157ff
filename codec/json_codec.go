package codec

import (
	"encoding/json"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// Pros: human-readable, easy to debug with a websocket inspector.
// Cons: the payload is JSON already, so it gets escaped-free but re-scanned.
type JSONCodec struct{}

func (c *JSONCodec) Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

func (c *JSONCodec) Decode(data []byte, f *Frame) error {
	return json.Unmarshal(data, f)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
