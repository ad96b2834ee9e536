package varmap

import (
	"bytes"
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// Snapshot is an immutable view of a map together with its canonical bytes
// and digest. Two snapshots are equal exactly when their canonical bytes are.
type Snapshot struct {
	vars      Map
	canonical []byte
	digest    [32]byte
	takenAt   time.Time
}

// NewSnapshot captures m. Later changes to m do not affect the snapshot.
func NewSnapshot(m Map) Snapshot {
	vars := Clone(m)
	canonical := Encode(vars)
	return Snapshot{
		vars:      vars,
		canonical: canonical,
		digest:    blake3.Sum256(canonical),
		takenAt:   time.Now(),
	}
}

// EmptySnapshot is the state before anything has been observed.
func EmptySnapshot() Snapshot {
	return NewSnapshot(nil)
}

// Map returns a copy of the captured variables.
func (s Snapshot) Map() Map {
	return Clone(s.vars)
}

// Bytes returns a copy of the canonical encoding.
func (s Snapshot) Bytes() []byte {
	if s.canonical == nil {
		return []byte("{}")
	}
	return bytes.Clone(s.canonical)
}

// Digest is the hex BLAKE3 digest of the canonical encoding.
func (s Snapshot) Digest() string {
	return hex.EncodeToString(s.digest[:])
}

// Len is the number of captured variables.
func (s Snapshot) Len() int {
	return len(s.vars)
}

// TakenAt is when the snapshot was captured.
func (s Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// Equal compares canonical encodings.
func (s Snapshot) Equal(other Snapshot) bool {
	return bytes.Equal(s.Bytes(), other.Bytes())
}
