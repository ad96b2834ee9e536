package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/pkg/retry"
)

// KV errors
var (
	ErrKVValueTooBig  = stderrors.New("kv: value exceeds maximum size")
	ErrKVBucketNotSet = stderrors.New("kv: bucket not set")
)

// KVOptions configures KV operations behavior
type KVOptions struct {
	Timeout      time.Duration // per-operation timeout
	MaxValueSize int           // values above this are rejected
	Retry        retry.Config  // applied to transient Put failures
}

// DefaultKVOptions returns the defaults used for state mirroring
func DefaultKVOptions() KVOptions {
	return KVOptions{
		Timeout:      5 * time.Second,
		MaxValueSize: 1024 * 1024,
		Retry:        retry.Quick(),
	}
}

// KVStore provides KV operations on a single bucket
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  Logger
}

// NewKVStore creates a KV store for bucket
func (m *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  m.logger,
	}
}

// OpenKVStore creates or opens the named bucket and wraps it in a KVStore
func (m *Client) OpenKVStore(ctx context.Context, bucket string, opts ...func(*KVOptions)) (*KVStore, error) {
	kv, err := m.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
	})
	if err != nil {
		return nil, err
	}
	return m.NewKVStore(kv, opts...), nil
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Bucket returns the bucket name
func (kv *KVStore) Bucket() string {
	if kv.bucket == nil {
		return ""
	}
	return kv.bucket.Bucket()
}

// Put stores value under key unconditionally and returns the new revision.
// Transient failures are retried per the store's retry config.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if kv.bucket == nil {
		return 0, ErrKVBucketNotSet
	}
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: %d > %d bytes", ErrKVValueTooBig, len(value), kv.options.MaxValueSize),
			"KVStore", "Put", "validate value size")
	}

	return retry.DoWithResult(ctx, kv.options.Retry, func() (uint64, error) {
		opCtx, cancel := kv.applyTimeout(ctx)
		defer cancel()

		rev, err := kv.bucket.Put(opCtx, key, value)
		if err != nil {
			kv.logger.Debugf("KV put %s failed: %v", key, err)
			return 0, errors.WrapTransient(err, "KVStore", "Put", "put "+key)
		}
		return rev, nil
	})
}
