package varstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/varmap"
)

// MemoryStore is an in-process Store. It keeps the encoded bytes rather than
// the map so reads go through the same decoder as FileStore.
type MemoryStore struct {
	mu       sync.Mutex
	data     []byte
	readErr  error
	writeErr error
	reads    int
	writes   int
}

// NewMemoryStore returns an empty store; Read reports ErrDocumentMissing until
// the first Write.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Read decodes the stored bytes.
func (s *MemoryStore) Read(_ context.Context) (varmap.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads++
	if s.readErr != nil {
		return nil, s.readErr
	}
	return decodeDocument("memory", s.data)
}

// Write stores the canonical encoding of m.
func (s *MemoryStore) Write(_ context.Context, m varmap.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes++
	s.data = varmap.Encode(m)
	return nil
}

// SetRaw replaces the stored bytes verbatim, including invalid documents.
func (s *MemoryStore) SetRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
}

// Raw returns the stored bytes.
func (s *MemoryStore) Raw() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// FailReads makes every Read return err until cleared with nil.
func (s *MemoryStore) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailWrites makes every Write return err until cleared with nil. When err
// does not already carry a store error it is wrapped as ErrWriteFailure.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && !stderrors.Is(err, errors.ErrWriteFailure) {
		err = fmt.Errorf("%w: %v", errors.ErrWriteFailure, err)
	}
	s.writeErr = err
}

// Reads is the number of Read calls.
func (s *MemoryStore) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Writes is the number of successful Write calls.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
