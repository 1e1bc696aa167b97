package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// hasValueSuffix names the companion flag that says whether a field was
// explicitly set by the sender.
const hasValueSuffix = "_hasvalue"

type ValueState int

const (
	Absent ValueState = iota
	ExplicitNull
	Present
)

func (s ValueState) String() string {
	switch s {
	case Present:
		return "present"
	case ExplicitNull:
		return "null"
	default:
		return "absent"
	}
}

// Value is a field decoded once from the raw payload together with its
// "has value" indicator.
type Value struct {
	State ValueState
	Str   string
}

func PresentValue(s string) Value { return Value{State: Present, Str: s} }
func NullValue() Value            { return Value{State: ExplicitNull} }

func (v Value) IsPresent() bool { return v.State == Present }

// decodeValue resolves field from raw. The value is considered set when the
// indicator is true, or when there is no indicator and inferPresent is set.
// Strings are trimmed and empty strings are absent.
func decodeValue(raw map[string]any, field string, inferPresent bool) (Value, error) {
	set, hasIndicator, err := indicator(raw, field)
	if err != nil {
		return Value{}, err
	}
	if hasIndicator && !set {
		return Value{}, nil
	}
	if !hasIndicator && !inferPresent {
		return Value{}, nil
	}

	v, ok := raw[field]
	if !ok {
		return Value{}, nil
	}
	if v == nil {
		return NullValue(), nil
	}

	s, err := scalarString(v)
	if err != nil {
		return Value{}, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, nil
	}
	return PresentValue(s), nil
}

func indicator(raw map[string]any, field string) (set, exists bool, err error) {
	v, ok := raw[field+hasValueSuffix]
	if !ok || v == nil {
		return false, false, nil
	}
	switch b := v.(type) {
	case bool:
		return b, true, nil
	case string:
		parsed, perr := strconv.ParseBool(strings.TrimSpace(b))
		if perr != nil {
			return false, true, fmt.Errorf("indicator must be a boolean")
		}
		return parsed, true, nil
	default:
		return false, true, fmt.Errorf("indicator must be a boolean")
	}
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return "", fmt.Errorf("must be a string, got %s", jsonType(v))
	}
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case json.Number, float64, int, int64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
