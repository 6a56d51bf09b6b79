package codec

import (
	"errors"
	"mime"
	"strings"

	"github.com/goccy/go-json"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Codec encodes and decodes message bodies
type Codec interface {
	// Encode encodes a value to bytes
	Encode(v any) ([]byte, error)

	// Decode decodes bytes to a value
	Decode(data []byte, v any) error

	// Name returns the codec name
	Name() string

	// ContentType returns the media type written with encoded bodies
	ContentType() string
}

// Shared codec instances
var (
	JSON     Codec = &JSONCodec{}
	Protobuf Codec = &ProtobufCodec{}
)

// ByName returns a codec by its name
func ByName(name string) (Codec, error) {
	switch name {
	case "json":
		return JSON, nil
	case "protobuf", "proto":
		return Protobuf, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

// ForAccept picks the first codec named by an Accept header, falling back to JSON.
func ForAccept(accept string) Codec {
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case "application/json", "application/*", "*/*":
			return JSON
		case "application/x-protobuf", "application/protobuf", "application/vnd.google.protobuf":
			return Protobuf
		}
	}
	return JSON
}

// JSONCodec implements JSON encoding/decoding
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return "json"
}

func (c *JSONCodec) ContentType() string {
	return "application/json; charset=utf-8"
}
