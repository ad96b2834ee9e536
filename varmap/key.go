package varmap

import (
	"fmt"
	"strings"

	"github.com/c360/semstreams-plc/errors"
)

// Prefix marks a document key as a PLC variable address ("%IX0.0", "%QX0.1").
const Prefix = "%"

// Key is a canonical variable address: trimmed, upper-cased, prefixed.
type Key string

// ParseKey returns the canonical form of s. Keys without the address prefix
// are rejected with errors.ErrInvalidKey.
func ParseKey(s string) (Key, error) {
	k := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasPrefix(k, Prefix) || len(k) == len(Prefix) {
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidKey, s)
	}
	return Key(k), nil
}

// NormalizeKey is the lenient form of ParseKey used for inbound messages. A
// missing prefix is added and repaired reports that it happened. Only empty
// keys are rejected.
func NormalizeKey(s string) (k Key, repaired bool, err error) {
	k, err = ParseKey(s)
	if err == nil {
		return k, false, nil
	}

	bare := strings.ToUpper(strings.TrimSpace(s))
	bare = strings.TrimLeft(bare, Prefix)
	if bare == "" {
		return "", false, fmt.Errorf("%w: empty key", errors.ErrInvalidKey)
	}
	return Key(Prefix + bare), true, nil
}

// ParseKeys parses a list of configured keys, failing on the first bad one.
func ParseKeys(raw []string) ([]Key, error) {
	keys := make([]Key, 0, len(raw))
	for _, s := range raw {
		k, err := ParseKey(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Address returns the key without the prefix, the form the PLC runtime API uses.
func (k Key) Address() string {
	return strings.TrimPrefix(string(k), Prefix)
}

func (k Key) String() string {
	return string(k)
}
