package varstore

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/c360/semstreams-plc/errors"
	"github.com/c360/semstreams-plc/varmap"
)

// Reader loads the current document.
type Reader interface {
	Read(ctx context.Context) (varmap.Map, error)
}

// Writer replaces the current document.
type Writer interface {
	Write(ctx context.Context, m varmap.Map) error
}

// Store is a document that can be read and replaced.
type Store interface {
	Reader
	Writer
}

// FileStore is a document kept in a single JSON file on the local filesystem.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store for path. Nothing is touched until Prepare,
// Read or Write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path is the document file.
func (s *FileStore) Path() string {
	return s.path
}

// Prepare creates the parent directory and, when createIfMissing is set,
// writes an empty document so readers find a valid file on first run.
func (s *FileStore) Prepare(createIfMissing bool) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.WrapFatal(err, "FileStore", "Prepare", "create directory")
	}
	if !createIfMissing {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !stderrors.Is(err, fs.ErrNotExist) {
		return errors.WrapFatal(err, "FileStore", "Prepare", "stat document")
	}
	if err := WriteAtomic(s.path, varmap.Encode(nil)); err != nil {
		return errors.WrapFatal(err, "FileStore", "Prepare", "create empty document")
	}
	return nil
}

// Read loads and strictly decodes the document. A missing or empty file is
// errors.ErrDocumentMissing: the writer has not produced anything yet.
func (s *FileStore) Read(_ context.Context) (varmap.Map, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", errors.ErrDocumentMissing, s.path)
		}
		return nil, errors.WrapTransient(err, "FileStore", "Read", "read document")
	}
	return decodeDocument(s.path, data)
}

// Write encodes m canonically and replaces the file atomically. Concurrent
// writers within the process are serialized.
func (s *FileStore) Write(_ context.Context, m varmap.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return WriteAtomic(s.path, varmap.Encode(m))
}

func decodeDocument(name string, data []byte) (varmap.Map, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", errors.ErrDocumentMissing, name)
	}
	m, err := varmap.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return m, nil
}
