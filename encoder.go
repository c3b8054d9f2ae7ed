package fetchq

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Encoder defines the interface for document payload serialization.
type Encoder interface {
	// Encode serializes a value to bytes.
	Encode(any) ([]byte, error)
	// Decode deserializes bytes to a value.
	Decode([]byte, any) error
}

// JSONEncoder is the default implementation of Encoder using JSON.
// It uses standard library for encoding and sonic for decoding.
type JSONEncoder struct{}

// Encode serializes a value to JSON using standard library.
// json.RawMessage and []byte holding JSON are passed through untouched.
func (*JSONEncoder) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case json.RawMessage:
		if len(b) == 0 {
			return []byte("null"), nil
		}
		return b, nil
	case nil:
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// Decode deserializes JSON bytes using sonic.
func (*JSONEncoder) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

var defaultEncoder Encoder = &JSONEncoder{}
