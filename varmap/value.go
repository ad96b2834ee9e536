package varmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/c360/semstreams-plc/errors"
)

// Value is a compact JSON scalar kept as text: true, false, null, a number
// exactly as it was written, or a string literal. Nothing is re-rendered, so
// number formatting never depends on the platform.
type Value string

// Bool returns the JSON boolean value.
func Bool(b bool) Value {
	if b {
		return "true"
	}
	return "false"
}

// Int returns the JSON number value of i.
func Int(i int64) Value {
	return Value(strconv.FormatInt(i, 10))
}

// Text returns the JSON string literal for s.
func Text(s string) Value {
	return Value(quote(s))
}

// ParseValue validates raw as a single JSON scalar and returns its compact form.
func ParseValue(raw []byte) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%w: empty value", errors.ErrMalformedDocument)
	}
	switch trimmed[0] {
	case '{', '[':
		return "", fmt.Errorf("%w: value must be a scalar, got %s", errors.ErrMalformedDocument, kindOf(trimmed[0]))
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrMalformedDocument, err)
	}
	return Value(buf.String()), nil
}

// AsBool reports the boolean held by v; ok is false for non-booleans.
func (v Value) AsBool() (value bool, ok bool) {
	switch v {
	case "true":
		return true, true
	case "false":
		return false, true
	default:
		return false, false
	}
}

// IsNull reports whether v is the JSON null literal.
func (v Value) IsNull() bool {
	return v == "null"
}

func (v Value) String() string {
	return string(v)
}

func kindOf(b byte) string {
	if b == '{' {
		return "object"
	}
	return "array"
}

// quote renders s as a JSON string without HTML escaping.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	return string(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))
}
