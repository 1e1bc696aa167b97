package transform

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

// ParseBody accepts an already decoded object, JSON text, or UTF-8 JSON bytes.
// Decoded objects are returned as-is.
func ParseBody(body any) (map[string]any, error) {
	switch b := body.(type) {
	case nil:
		return nil, newValidationError("body", "required", "message body is empty")
	case map[string]any:
		return b, nil
	case string:
		return parseJSON([]byte(b))
	case []byte:
		return parseJSON(b)
	case json.RawMessage:
		return parseJSON(b)
	default:
		return nil, newValidationError("body", "unsupported_type", "unsupported body type %T", body)
	}
}

func parseJSON(data []byte) (map[string]any, error) {
	if !utf8.Valid(data) {
		return nil, newValidationError("body", "invalid_encoding", "body is not valid UTF-8")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, newValidationError("body", "required", "message body is empty")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, newValidationError("body", "invalid_json", "body is not valid JSON: %v", err)
	}
	if dec.More() {
		return nil, newValidationError("body", "invalid_json", "body contains trailing data")
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return nil, newValidationError("body", "invalid_type", "body must be a JSON object, got %s", jsonType(v))
	}
	return obj, nil
}
