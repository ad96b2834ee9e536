package varstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/c360/semstreams-plc/errors"
)

// FileMode is the mode of committed documents. The scan-cycle process usually
// runs as a different user and must be able to read them.
const FileMode os.FileMode = 0o644

// PendingWrite owns a fully written and synced temporary file next to its
// target until Commit renames it into place or Discard removes it.
type PendingWrite struct {
	target  string
	tmpPath string
	done    bool
}

// NewPendingWrite writes data to a temporary file in the target's directory
// and syncs it. The target is not touched until Commit.
func NewPendingWrite(target string, data []byte) (*PendingWrite, error) {
	dir := filepath.Dir(target)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(target)+"-*.tmp")
	if err != nil {
		return nil, writeFailure("create temp file", err)
	}
	pw := &PendingWrite{target: target, tmpPath: tmpFile.Name()}

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		pw.Discard()
		return nil, writeFailure("write temp file", err)
	}
	if err := tmpFile.Chmod(FileMode); err != nil {
		tmpFile.Close()
		pw.Discard()
		return nil, writeFailure("chmod temp file", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		pw.Discard()
		return nil, writeFailure("sync temp file", err)
	}
	if err := tmpFile.Close(); err != nil {
		pw.Discard()
		return nil, writeFailure("close temp file", err)
	}
	return pw, nil
}

// TempPath is the path of the staged file.
func (pw *PendingWrite) TempPath() string {
	return pw.tmpPath
}

// Commit atomically replaces the target with the staged file. Readers see
// either the previous document or the new one, never a partial file.
func (pw *PendingWrite) Commit() error {
	if pw.done {
		return writeFailure("commit", fmt.Errorf("pending write for %s already finished", pw.target))
	}
	if err := os.Rename(pw.tmpPath, pw.target); err != nil {
		pw.Discard()
		return writeFailure("rename into place", err)
	}
	pw.done = true

	// Make the rename durable. Failure here does not undo the replacement.
	if dir, err := os.Open(filepath.Dir(pw.target)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}

// Discard removes the staged file. It is a no-op after Commit, so it is safe
// to defer.
func (pw *PendingWrite) Discard() {
	if pw.done {
		return
	}
	pw.done = true
	os.Remove(pw.tmpPath)
}

// WriteAtomic replaces path with data using a same-directory temporary file
// and rename. On failure the original file is left untouched and the
// returned error wraps errors.ErrWriteFailure.
func WriteAtomic(path string, data []byte) error {
	pw, err := NewPendingWrite(path, data)
	if err != nil {
		return err
	}
	defer pw.Discard()
	return pw.Commit()
}

func writeFailure(action string, err error) error {
	return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrWriteFailure, err), "varstore", "WriteAtomic", action)
}
