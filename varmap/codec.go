package varmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"unicode/utf8"

	"github.com/c360/semstreams-plc/errors"
)

// Map is a flat document of variable addresses to scalar values.
type Map map[Key]Value

// Encode renders m in canonical form: a compact JSON object with keys in
// ascending byte order and no insignificant whitespace. Equal maps always
// produce identical bytes. A nil map encodes as {}.
func Encode(m Map) []byte {
	keys := m.Keys()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(quote(string(k)))
		buf.WriteByte(':')
		buf.WriteString(string(m[k]))
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// Decode parses a document that must already be canonical in shape: a JSON
// object of prefixed keys to scalar values. Duplicate keys, nested values and
// trailing data are errors.ErrMalformedDocument; an unprefixed key is
// errors.ErrInvalidKey.
func Decode(data []byte) (Map, error) {
	m := make(Map)
	err := walk(data, func(raw string, v Value) error {
		k, err := ParseKey(raw)
		if err != nil {
			return err
		}
		if _, dup := m[k]; dup {
			return fmt.Errorf("%w: duplicate key %q", errors.ErrMalformedDocument, k)
		}
		m[k] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeLenient parses an inbound message. Keys missing the prefix are
// repaired and returned in offenders so the caller can warn about them; empty
// keys are dropped and also reported. Repeated keys keep the last value.
// Any structural problem is errors.ErrSchemaViolation.
func DecodeLenient(data []byte) (m Map, offenders []string, err error) {
	if !utf8.Valid(data) {
		return nil, nil, fmt.Errorf("%w: payload is not valid UTF-8", errors.ErrSchemaViolation)
	}

	m = make(Map)
	err = walk(data, func(raw string, v Value) error {
		k, repaired, kerr := NormalizeKey(raw)
		if kerr != nil {
			offenders = append(offenders, raw)
			return nil
		}
		if repaired {
			offenders = append(offenders, raw)
		}
		m[k] = v
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errors.ErrSchemaViolation, err)
	}
	return m, offenders, nil
}

// walk streams the top-level object in data, calling fn for every member in
// document order.
func walk(data []byte, fn func(key string, v Value) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedDocument, describe(err))
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: document must be an object, got %v", errors.ErrMalformedDocument, tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrMalformedDocument, describe(err))
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: unexpected token %v", errors.ErrMalformedDocument, tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("%w: value for %q: %v", errors.ErrMalformedDocument, key, describe(err))
		}
		v, err := ParseValue(raw)
		if err != nil {
			return fmt.Errorf("value for %q: %w", key, err)
		}
		if err := fn(key, v); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrMalformedDocument, describe(err))
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after document", errors.ErrMalformedDocument)
	}
	return nil
}

func describe(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Keys returns the keys of m in canonical order.
func (m Map) Keys() []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
