package broker

import (
	"encoding/json"
	"fmt"
)

// Codec converts message values to and from wire bytes. Callers pick the
// codec explicitly; a codec rejects values it cannot carry rather than
// switching formats.
type Codec interface {
	ContentType() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// Codecs shared by publishers and pullers.
var (
	JSON Codec = jsonCodec{}
	Raw  Codec = rawCodec{}
	Text Codec = textCodec{}
)

// jsonCodec relies on camelCase struct tags on the message types so that
// producers and consumers agree on field names.
type jsonCodec struct{}

func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}

type rawCodec struct{}

func (rawCodec) ContentType() string { return "application/octet-stream" }

func (rawCodec) Encode(v any) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case *[]byte:
		if b == nil {
			return nil, nil
		}
		return *b, nil
	default:
		return nil, fmt.Errorf("raw codec cannot encode %T", v)
	}
}

func (rawCodec) Decode(data []byte, v any) error {
	dst, ok := v.(*[]byte)
	if !ok || dst == nil {
		return fmt.Errorf("raw codec cannot decode into %T", v)
	}
	*dst = append([]byte(nil), data...)
	return nil
}

type textCodec struct{}

func (textCodec) ContentType() string { return "text/plain; charset=utf-8" }

func (textCodec) Encode(v any) ([]byte, error) {
	switch s := v.(type) {
	case string:
		return []byte(s), nil
	case *string:
		if s == nil {
			return nil, nil
		}
		return []byte(*s), nil
	default:
		return nil, fmt.Errorf("text codec cannot encode %T", v)
	}
}

func (textCodec) Decode(data []byte, v any) error {
	dst, ok := v.(*string)
	if !ok || dst == nil {
		return fmt.Errorf("text codec cannot decode into %T", v)
	}
	*dst = string(data)
	return nil
}
