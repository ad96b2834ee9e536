package varstore

import (
	"context"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/varmap"
)

// DefaultMirrorKey is the KV key the mirrored document is stored under.
const DefaultMirrorKey = "state"

// Bucket is the subset of a key/value bucket the mirror needs.
// natsclient.KVStore satisfies it.
type Bucket interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// KVMirror is a Writer that keeps the last document in a KV bucket, so
// late subscribers can fetch the current state without waiting for a change.
type KVMirror struct {
	bucket   Bucket
	key      string
	revision uint64
}

// NewKVMirror returns a mirror writing under key (DefaultMirrorKey if empty).
func NewKVMirror(bucket Bucket, key string) *KVMirror {
	if key == "" {
		key = DefaultMirrorKey
	}
	return &KVMirror{bucket: bucket, key: key}
}

// Write puts the canonical encoding of m.
func (m *KVMirror) Write(ctx context.Context, vars varmap.Map) error {
	rev, err := m.bucket.Put(ctx, m.key, varmap.Encode(vars))
	if err != nil {
		return errors.WrapTransient(err, "KVMirror", "Write", "put "+m.key)
	}
	m.revision = rev
	return nil
}

// Revision is the bucket revision of the last successful write.
func (m *KVMirror) Revision() uint64 {
	return m.revision
}

// Key is the KV key written to.
func (m *KVMirror) Key() string {
	return m.key
}
